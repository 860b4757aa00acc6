package config

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const maxConfigFileSize = 1024 * 1024 // 1MB

// sections are the top-level config keys, used to map environment variables
// onto nested fields: CORPUSD_EMBEDDINGS_BASE_URL -> embeddings.base_url.
var sections = []string{
	"server", "store", "index", "embeddings", "ingest", "logging", "telemetry",
}

// Load reads configuration with the precedence (highest to lowest):
//
//  1. CORPUSD_* environment variables
//  2. YAML config file, if configPath is non-empty and the file exists
//  3. Built-in defaults
//
// The config file must not be group- or world-readable: it can carry the
// embedding API key.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if configPath != "" {
		if err := loadFile(k, configPath); err != nil {
			return nil, err
		}
	}

	if err := k.Load(env.Provider("CORPUSD_", ".", envTransform), nil); err != nil {
		return nil, fmt.Errorf("loading environment: %w", err)
	}

	cfg := NewDefaultConfig()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// loadFile reads and parses a YAML config file, checking size and
// permissions on the already-open descriptor to avoid a stat/open race.
func loadFile(k *koanf.Koanf, path string) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("opening config file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat config file: %w", err)
	}
	if info.Size() > maxConfigFileSize {
		return fmt.Errorf("config file %s exceeds %d bytes", path, maxConfigFileSize)
	}
	// Windows has no usable Unix permission bits.
	if runtime.GOOS != "windows" && info.Mode().Perm()&0o077 != 0 {
		return fmt.Errorf("config file %s must not be group/world accessible (have %04o, want 0600)",
			path, info.Mode().Perm())
	}

	content, err := io.ReadAll(io.LimitReader(f, maxConfigFileSize))
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}
	if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
		return fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return nil
}

// envTransform maps CORPUSD_SECTION_FIELD_NAME to section.field_name. The
// section list disambiguates the first underscore from underscores inside
// field names.
func envTransform(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, "CORPUSD_"))
	for _, section := range sections {
		if strings.HasPrefix(s, section+"_") {
			return section + "." + strings.TrimPrefix(s, section+"_")
		}
	}
	return s
}
