package config

import (
	"errors"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// EnvPrefix starts every environment override.
const EnvPrefix = "REMINDERD_"

// LoadDotenv loads key=value pairs from path into the process environment.
// Variables that are already set win. A missing file is not an error.
func LoadDotenv(path string) error {
	if strings.TrimSpace(path) == "" {
		path = ".env"
	}
	err := godotenv.Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// envOverrides maps variable suffixes to the field they replace.
var envOverrides = map[string]func(c *Config, v string){
	"LOG_LEVEL":        func(c *Config, v string) { c.Logging.Level = v },
	"STORAGE_DRIVER":   func(c *Config, v string) { c.Storage.Driver = v },
	"STORAGE_PATH":     func(c *Config, v string) { c.Storage.Path = v },
	"STORAGE_DSN":      func(c *Config, v string) { c.Storage.DSN = v },
	"PLATFORM_PROFILE": func(c *Config, v string) { c.Platform.Profile = v },
	"TIMEZONE":         func(c *Config, v string) { c.Platform.Timezone = v },
	"INBOX_DIR":        func(c *Config, v string) { c.Daemon.InboxDir = v },
}

// ApplyEnv overwrites cfg fields from REMINDERD_* variables read through
// lookup (os.LookupEnv when nil). It returns the names that were applied.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) []string {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	var applied []string
	for suffix, set := range envOverrides {
		v, ok := lookup(EnvPrefix + suffix)
		if !ok || strings.TrimSpace(v) == "" {
			continue
		}
		set(cfg, strings.TrimSpace(v))
		applied = append(applied, EnvPrefix+suffix)
	}
	return applied
}
