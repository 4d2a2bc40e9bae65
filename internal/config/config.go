package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"
)

type Config struct {
	DBPath        string
	ProjectID     string
	LogLevel      string
	LocalHost     string
	LocalPort     int
	BusyTimeoutMS int
	ConfigDir     string
	DefaultPage   int
}

var (
	defaultLocalPort = "4731"
	getwd            = os.Getwd
)

// LoadConfig reads the environment layer. Unset values stay zero; see Merge.
func LoadConfig() Config {
	return loadFromEnv()
}

// loadFromEnv reads DUET_* variables. Zero values mean "not set" so the
// config file layer can fill them in; see Merge.
func loadFromEnv() Config {
	level := strings.TrimSpace(os.Getenv("DUET_LOG_LEVEL"))
	if level == "" {
		level = "info"
	}
	localHost := strings.TrimSpace(os.Getenv("DUET_LOCAL_HOST"))
	if localHost == "" {
		localHost = "127.0.0.1"
	}
	return Config{
		DBPath:        strings.TrimSpace(os.Getenv("DUET_DB_PATH")),
		ProjectID:     strings.TrimSpace(os.Getenv("DUET_PROJECT_ID")),
		LogLevel:      level,
		LocalHost:     localHost,
		LocalPort:     atoiOrDefault(os.Getenv("DUET_LOCAL_PORT"), 0),
		BusyTimeoutMS: atoiOrDefault(os.Getenv("DUET_BUSY_TIMEOUT_MS"), 0),
		ConfigDir:     strings.TrimSpace(os.Getenv("DUET_CONFIG_DIR")),
		DefaultPage:   atoiOrDefault(os.Getenv("DUET_DEFAULT_PAGE_SIZE"), 0),
	}
}

// FileDefaults are the values the config file may supply.
type FileDefaults struct {
	ProjectID       string
	LocalPort       int
	BusyTimeoutMS   int
	DefaultPageSize int
}

// Merge fills unset environment values from the file, then from built-in
// defaults. The project id falls back to the working directory name and the
// database to duet.db in the config dir.
func Merge(cfg Config, file FileDefaults) Config {
	if cfg.ProjectID == "" {
		cfg.ProjectID = strings.TrimSpace(file.ProjectID)
	}
	if cfg.ProjectID == "" {
		cfg.ProjectID = defaultProjectID()
	}
	if cfg.LocalPort <= 0 {
		cfg.LocalPort = file.LocalPort
	}
	if cfg.LocalPort <= 0 {
		cfg.LocalPort = atoiOrDefault(defaultLocalPort, 4731)
	}
	if cfg.BusyTimeoutMS <= 0 {
		cfg.BusyTimeoutMS = file.BusyTimeoutMS
	}
	if cfg.BusyTimeoutMS <= 0 {
		cfg.BusyTimeoutMS = 5000
	}
	if cfg.DefaultPage <= 0 {
		cfg.DefaultPage = file.DefaultPageSize
	}
	if cfg.DefaultPage <= 0 {
		cfg.DefaultPage = 50
	}
	if cfg.DBPath == "" && cfg.ConfigDir != "" {
		cfg.DBPath = filepath.Join(cfg.ConfigDir, "duet.db")
	}
	return cfg
}

func defaultProjectID() string {
	wd, err := getwd()
	if err != nil || wd == "" {
		return "default"
	}
	name := filepath.Base(filepath.Clean(wd))
	if name == "" || name == "." || name == string(filepath.Separator) {
		return "default"
	}
	return name
}

func (c Config) BusyTimeout() time.Duration {
	return time.Duration(c.BusyTimeoutMS) * time.Millisecond
}

func atoiOrDefault(v string, fallback int) int {
	v = strings.TrimSpace(v)
	n := 0
	for i := 0; i < len(v); i++ {
		if v[i] < '0' || v[i] > '9' {
			return fallback
		}
		n = n*10 + int(v[i]-'0')
	}
	if n == 0 {
		return fallback
	}
	return n
}
