package global

import (
	"os"
	"path/filepath"
	"testing"
)

func stubWorkingDir(t *testing.T, dir string) {
	t.Helper()
	old := getwd
	getwd = func() (string, error) { return dir, nil }
	t.Cleanup(func() { getwd = old })
}

func TestDefaultConfigDir_UsesOverride(t *testing.T) {
	t.Setenv("DUET_CONFIG_DIR", "/tmp/duet-e2e-config-test")
	got, err := DefaultConfigDir()
	if err != nil {
		t.Fatalf("DefaultConfigDir returned error: %v", err)
	}
	if got != "/tmp/duet-e2e-config-test" {
		t.Fatalf("expected override path, got %q", got)
	}
}

func TestDefaultConfigDir_FindsProjectDirAbove(t *testing.T) {
	root := t.TempDir()
	project := filepath.Join(root, ProjectDirName)
	nested := filepath.Join(root, "src", "pkg")
	for _, dir := range []string{project, nested} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatalf("mkdir failed: %v", err)
		}
	}
	t.Setenv("DUET_CONFIG_DIR", "")
	stubWorkingDir(t, nested)

	got, err := DefaultConfigDir()
	if err != nil {
		t.Fatalf("DefaultConfigDir returned error: %v", err)
	}
	if got != project {
		t.Fatalf("expected project dir %q, got %q", project, got)
	}
}

func TestDefaultConfigDir_IgnoresProjectMarkerFile(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, ProjectDirName), []byte("x"), 0o644); err != nil {
		t.Fatalf("write marker failed: %v", err)
	}
	xdg := t.TempDir()
	t.Setenv("DUET_CONFIG_DIR", "")
	t.Setenv("XDG_CONFIG_HOME", xdg)
	stubWorkingDir(t, root)

	got, err := DefaultConfigDir()
	if err != nil {
		t.Fatalf("DefaultConfigDir returned error: %v", err)
	}
	if got != filepath.Join(xdg, "duet") {
		t.Fatalf("expected XDG dir, got %q", got)
	}
}

func TestDefaultConfigDir_UnderHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("DUET_CONFIG_DIR", "")
	t.Setenv("XDG_CONFIG_HOME", "")
	t.Setenv("HOME", home)
	stubWorkingDir(t, t.TempDir())
	got, err := DefaultConfigDir()
	if err != nil {
		t.Fatalf("DefaultConfigDir returned error: %v", err)
	}
	if got != filepath.Join(home, ".config", "duet") {
		t.Fatalf("unexpected default dir: %q", got)
	}
}
