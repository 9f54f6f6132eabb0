package main

import (
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
)

type config struct {
	Title string

	// Upstream resolver feeding the registry, host:port
	Resolver string

	// Refresh interval, e.g. "30s"
	Interval string

	// Hostnames to track
	Hosts []string

	// Registry tuning, 0 for the defaults
	Partitions   int
	LockPoolSize int `toml:"lock-pool-size"`
}

// loadConfig reads a config file and returns the decoded structure.
func loadConfig(name string) (config, error) {
	var c config
	f, err := os.Open(name)
	if err != nil {
		return c, err
	}
	defer f.Close()
	if _, err := toml.NewDecoder(f).Decode(&c); err != nil {
		return c, errors.Wrapf(err, "failed to parse config %q", name)
	}
	if c.Resolver == "" {
		return c, errors.New("config defines no resolver")
	}
	if len(c.Hosts) == 0 {
		return c, errors.New("config defines no hosts")
	}
	return c, nil
}

func (c config) interval() (time.Duration, error) {
	if c.Interval == "" {
		return 30 * time.Second, nil
	}
	d, err := time.ParseDuration(c.Interval)
	if err != nil {
		return 0, errors.Wrap(err, "invalid interval")
	}
	return d, nil
}
