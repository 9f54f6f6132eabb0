package main

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	nhdb "github.com/folbricht/nexthopdb"
	"github.com/miekg/dns"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var logLevel uint32

func main() {
	cmd := &cobra.Command{
		Use:   "nexthopdb",
		Short: "Next-hop host/address registry",
		Long: `Next-hop host/address registry.

Tracks which IP addresses belong to which hostname for
connection routing. Reads a list of hostnames from the
config, refreshes them periodically against an upstream
DNS resolver and keeps the registry current. Intended as
a standalone driver for the nexthopdb library; a caching
proxy would embed the registry directly.
`,
		Example: `  nexthopdb config.toml`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return start(args)
		},
		SilenceUsage: true,
	}
	cmd.Flags().Uint32Var(&logLevel, "log-level", 4, "log level; 3=error, 4=info, 5=debug, 6=trace")
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func start(args []string) error {
	config, err := loadConfig(args[0])
	if err != nil {
		return err
	}
	interval, err := config.interval()
	if err != nil {
		return err
	}
	nhdb.Log.SetLevel(logrus.Level(logLevel))

	registry := nhdb.NewRegistry("main", nhdb.RegistryOptions{
		Partitions:   config.Partitions,
		LockPoolSize: config.LockPoolSize,
	})
	client := new(dns.Client)

	sweep := func() {
		for _, host := range config.Hosts {
			if err := refresh(registry, client, config.Resolver, host); err != nil {
				nhdb.Log.WithError(err).WithField("host", host).Error("refresh failed")
			}
		}
		nhdb.Log.WithFields(logrus.Fields{
			"hosts": registry.Hosts(),
			"addrs": registry.Addrs(),
		}).Info("refresh sweep complete")
	}
	sweep()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	for {
		select {
		case <-ticker.C:
			sweep()
		case s := <-sig:
			nhdb.Log.WithField("signal", s).Info("shutting down")
			return nil
		}
	}
}
