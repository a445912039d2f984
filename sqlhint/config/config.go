// Package config holds the settings that shape hint resolution and hash
// table recycling, loaded from YAML.
package config

import (
	"bytes"
	"io"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/wbrown/janus-recycler/sqlhint"
	"github.com/wbrown/janus-recycler/sqlhint/executor"
	"gopkg.in/yaml.v3"
)

// Config is the full configuration
type Config struct {
	Session  Session  `yaml:"session"`
	Recycler Recycler `yaml:"recycler"`
	Executor Executor `yaml:"executor"`
}

// Session holds the ambient defaults hints are compared against
type Session struct {
	// DefaultLayout is "rowwise" or "columnar"
	DefaultLayout string `yaml:"default_layout"`
}

// Recycler controls hash table caching
type Recycler struct {
	EnableDataRecycler bool `yaml:"enable_data_recycler"`
	UseHashtableCache  bool `yaml:"use_hashtable_cache"`
	// GenerationsPath is where table generations persist. Empty keeps them
	// in memory.
	GenerationsPath string `yaml:"generations_path"`
}

// Executor controls join site execution
type Executor struct {
	Workers     int `yaml:"workers"`
	GPUsPresent int `yaml:"gpus_present"`
}

// Default returns the configuration used when no file is given
func Default() Config {
	return Config{
		Session: Session{DefaultLayout: sqlhint.Rowwise.String()},
		Recycler: Recycler{
			EnableDataRecycler: true,
			UseHashtableCache:  true,
		},
	}
}

// Load reads a YAML file over the defaults. Unknown keys are rejected.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrapf(err, "reading config %q", path)
	}
	cfg, err := Parse(data)
	if err != nil {
		return Config{}, errors.Wrapf(err, "loading config %q", path)
	}
	return cfg, nil
}

// Parse decodes YAML over the defaults and validates the result
func Parse(data []byte) (Config, error) {
	cfg := Default()

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, errors.Wrap(err, "decoding config")
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks field values
func (c Config) Validate() error {
	if _, err := sqlhint.ParseLayout(c.Session.DefaultLayout); err != nil {
		return errors.Wrap(err, "session.default_layout")
	}
	if c.Executor.Workers < 0 {
		return errors.Newf("executor.workers must not be negative, got %d", c.Executor.Workers)
	}
	if c.Executor.GPUsPresent < 0 {
		return errors.Newf("executor.gpus_present must not be negative, got %d", c.Executor.GPUsPresent)
	}
	return nil
}

// Defaults returns the session defaults for the resolver
func (c Config) Defaults() sqlhint.Defaults {
	layout, _ := sqlhint.ParseLayout(c.Session.DefaultLayout)
	return sqlhint.Defaults{Layout: layout}
}

// ExecutorOptions returns the executor settings
func (c Config) ExecutorOptions() executor.Options {
	return executor.Options{
		EnableDataRecycler: c.Recycler.EnableDataRecycler,
		UseHashtableCache:  c.Recycler.UseHashtableCache,
		Workers:            c.Executor.Workers,
	}
}
