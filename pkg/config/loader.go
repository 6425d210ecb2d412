package config

import (
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/soclabs/caserisk/pkg/errors"
)

// EnvPrefix is the prefix on configuration environment variables.
const EnvPrefix = "CASERISK_"

// EnvConfigFile names the config file when no -config flag is given.
const EnvConfigFile = "CASERISK_CONFIG"

// Load builds a Config by layering, in order of increasing precedence:
//
//  1. built-in defaults (New)
//  2. YAML file, from path or $CASERISK_CONFIG when path is empty
//  3. environment variables with the CASERISK_ prefix
//
// Nested keys in the environment use a double underscore:
// CASERISK_CASESTORE__API_KEY maps to casestore.api_key.
func Load(path string) (*Config, error) {
	const op = "config.Load"

	k := koanf.New(".")

	if path == "" {
		path = os.Getenv(EnvConfigFile)
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, errors.E(errors.KindInvalidInput, op, "reading config file "+path, err)
		}
	}

	envProvider := env.Provider(EnvPrefix, ".", func(s string) string {
		s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
		return strings.ReplaceAll(s, "__", ".")
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, errors.E(errors.KindInvalidInput, op, "reading environment", err)
	}

	cfg := New()
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, errors.E(errors.KindInvalidInput, op, "unmarshaling config", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
