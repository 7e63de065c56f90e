package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"reflect"
	"strconv"
	"strings"

	"github.com/caarlos0/env/v10"
	"gopkg.in/yaml.v3"
)

// LoadBuyerConfig reads the yaml file (a missing file is not an error), applies
// environment overrides and fills defaults.
func LoadBuyerConfig(filename string) (BuyerConfig, error) {
	return loadBuyerConfig(filename, nil)
}

func loadBuyerConfig(filename string, environ map[string]string) (BuyerConfig, error) {
	var cfg BuyerConfig

	data, err := os.ReadFile(filename)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return BuyerConfig{}, fmt.Errorf("%w: can't read config file %s", err, filename)
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return BuyerConfig{}, fmt.Errorf("%w: can't unmarshal config file %s", err, filename)
		}
	}

	opts := env.Options{
		Environment: environ,
		FuncMap: map[reflect.Type]env.ParserFunc{
			reflect.TypeOf(true): parseBool,
		},
	}
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return BuyerConfig{}, fmt.Errorf("%w: can't parse env overrides", err)
	}

	if err := cfg.ValidateAndSetup(); err != nil {
		return BuyerConfig{}, fmt.Errorf("%w: invalid config", err)
	}

	return cfg, nil
}

// parseBool also accepts yes/no and on/off, the way the flags were documented.
func parseBool(v string) (interface{}, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "y", "on":
		return true, nil
	case "0", "false", "no", "n", "off", "":
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return nil, fmt.Errorf("%w: bad bool %q", err, v)
	}
	return b, nil
}
