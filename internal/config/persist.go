package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// LoadFile reads a TOML config file from path. A parse failure is not fatal
// (spec.md §6/§7): the broken file is renamed to
// <orig>.<YYYY-MM-DD_HH_MM_SS>.corrupt and a fresh default is written and
// returned in its place, mirroring pynicotine's configparser recovery
// behavior (original_source/) translated onto a typed struct.
func LoadFile(path string, log *slog.Logger) (Config, error) {
	if log == nil {
		log = slog.Default()
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		cfg := Default()
		if werr := SaveFile(path, cfg); werr != nil {
			return Config{}, fmt.Errorf("config: writing fresh default: %w", werr)
		}
		return cfg, nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("config: reading %s: %w", path, err)
	}

	var cfg Config
	if _, err := toml.Decode(string(data), &cfg); err != nil {
		log.Warn("config file corrupt, quarantining and regenerating",
			"component", "config", "path", path, "error", err)

		quarantined := quarantineName(path, time.Now())
		if rerr := os.Rename(path, quarantined); rerr != nil {
			return Config{}, fmt.Errorf("config: quarantining corrupt file: %w", rerr)
		}

		cfg = Default()
		if werr := SaveFile(path, cfg); werr != nil {
			return Config{}, fmt.Errorf("config: writing fresh default: %w", werr)
		}
		return cfg, nil
	}

	return cfg, nil
}

// SaveFile persists cfg as TOML, creating parent directories as needed.
func SaveFile(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("config: creating parent dir: %w", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("config: opening %s: %w", path, err)
	}
	defer f.Close()

	enc := toml.NewEncoder(f)
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("config: encoding: %w", err)
	}

	return nil
}

func quarantineName(path string, at time.Time) string {
	return fmt.Sprintf("%s.%s.corrupt", path, at.Format("2006-01-02_15_04_05"))
}
