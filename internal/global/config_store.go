package global

import (
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
)

const (
	configTOMLFileName = "config.toml"

	defaultLocalPort     = 4731
	defaultBusyTimeoutMS = 5000
	defaultPageSize      = 50
	maxPageSize          = 500
)

type GlobalConfig struct {
	ProjectID       string `json:"project_id,omitempty" toml:"project_id,omitempty"`
	LocalPort       int    `json:"local_port" toml:"local_port"`
	BusyTimeoutMS   int    `json:"busy_timeout_ms" toml:"busy_timeout_ms"`
	DefaultPageSize int    `json:"default_page_size" toml:"default_page_size"`
}

type ConfigStore struct {
	dir string
}

func NewConfigStore(dir string) *ConfigStore {
	return &ConfigStore{dir: dir}
}

func (s *ConfigStore) Path() string {
	return filepath.Join(s.dir, configTOMLFileName)
}

// LoadOrInit reads config.toml, writing the defaults first if it does not exist.
func (s *ConfigStore) LoadOrInit() (GlobalConfig, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return GlobalConfig{}, err
	}

	path := s.Path()
	if b, err := os.ReadFile(path); err == nil {
		var cfg GlobalConfig
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return GlobalConfig{}, err
		}
		return normalizeConfig(cfg), nil
	} else if !os.IsNotExist(err) {
		return GlobalConfig{}, err
	}

	cfg := normalizeConfig(GlobalConfig{})
	if err := writeTOMLAtomically(path, cfg); err != nil {
		return GlobalConfig{}, err
	}
	return cfg, nil
}

func (s *ConfigStore) Save(cfg GlobalConfig) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return err
	}
	return writeTOMLAtomically(s.Path(), normalizeConfig(cfg))
}

func normalizeConfig(cfg GlobalConfig) GlobalConfig {
	cfg.ProjectID = strings.TrimSpace(cfg.ProjectID)
	if cfg.LocalPort <= 0 || cfg.LocalPort > 65535 {
		cfg.LocalPort = defaultLocalPort
	}
	if cfg.BusyTimeoutMS <= 0 {
		cfg.BusyTimeoutMS = defaultBusyTimeoutMS
	}
	if cfg.DefaultPageSize <= 0 {
		cfg.DefaultPageSize = defaultPageSize
	}
	if cfg.DefaultPageSize > maxPageSize {
		cfg.DefaultPageSize = maxPageSize
	}
	return cfg
}

func writeTOMLAtomically(path string, v any) error {
	b, err := toml.Marshal(v)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
