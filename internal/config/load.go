package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/picklr-io/eksstack/internal/eval"
)

// EnvPrefix prefixes environment overrides, e.g. EKSSTACK_CLUSTER_NAME.
const EnvPrefix = "EKSSTACK"

// Options selects the sources Load reads besides the defaults.
type Options struct {
	// File is an optional settings file (.yaml, .yml, .json, .toml or .pkl).
	File string
	// EnvFile is an optional .env file loaded into the process environment first.
	EnvFile string
	// Overrides are applied last, e.g. from --set flags.
	Overrides map[string]string
}

// Load builds validated Settings. Any error is returned before a graph is built.
func Load(ctx context.Context, opts Options) (*Settings, error) {
	if opts.EnvFile != "" {
		if err := godotenv.Load(opts.EnvFile); err != nil {
			return nil, &ConfigurationError{Field: "env-file", Reason: err.Error()}
		}
	}

	v := viper.New()
	for k, val := range Defaults() {
		v.SetDefault(k, val)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if opts.File != "" {
		if err := readFile(ctx, v, opts.File); err != nil {
			return nil, err
		}
	}

	for k, val := range opts.Overrides {
		v.Set(strings.ToLower(k), val)
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, &ConfigurationError{Field: "config", Reason: fmt.Sprintf("failed to decode settings: %v", err)}
	}
	s.fillZones()

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

func readFile(ctx context.Context, v *viper.Viper, path string) error {
	if _, err := os.Stat(path); err != nil {
		return &ConfigurationError{Field: "config", Reason: fmt.Sprintf("cannot read %s: %v", path, err)}
	}

	if strings.EqualFold(filepath.Ext(path), ".pkl") {
		abs, err := filepath.Abs(path)
		if err != nil {
			return &ConfigurationError{Field: "config", Reason: err.Error()}
		}
		out, err := eval.NewEvaluator(filepath.Dir(abs)).RenderJSON(ctx, filepath.Base(abs))
		if err != nil {
			return &ConfigurationError{Field: "config", Reason: err.Error()}
		}
		v.SetConfigType("json")
		if err := v.ReadConfig(strings.NewReader(out)); err != nil {
			return &ConfigurationError{Field: "config", Reason: fmt.Sprintf("invalid rendered pkl: %v", err)}
		}
		return nil
	}

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return &ConfigurationError{Field: "config", Reason: fmt.Sprintf("failed to parse %s: %v", path, err)}
	}
	return nil
}

// fillZones assigns availability_zones by position to subnets without an explicit zone.
func (s *Settings) fillZones() {
	if len(s.AvailabilityZones) == 0 {
		return
	}
	for i := range s.PublicSubnets {
		if s.PublicSubnets[i].Zone == "" {
			s.PublicSubnets[i].Zone = s.AvailabilityZones[i%len(s.AvailabilityZones)]
		}
	}
	for i := range s.PrivateSubnets {
		if s.PrivateSubnets[i].Zone == "" {
			s.PrivateSubnets[i].Zone = s.AvailabilityZones[i%len(s.AvailabilityZones)]
		}
	}
}
