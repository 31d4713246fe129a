// SPDX-License-Identifier: Apache-2.0
// Command l3fwdmgrd runs the L3 forwarding object manager agent.
package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/switchfabric/l3fwdmgr/internal/config"
	"github.com/switchfabric/l3fwdmgr/pkg/logging"
)

var cfgFile string

func newRootCmd() *cobra.Command {
	v := viper.New()

	root := &cobra.Command{
		Use:   "l3fwdmgrd",
		Short: "L3 forwarding object manager agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(v)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "path to a config file (yaml/json/toml)")
	flags.String("metrics-addr", config.Default().MetricsAddr, "listen address for the Prometheus metrics endpoint")
	flags.String("log-level", config.Default().LogLevel, "log level (debug, info, warn, error)")
	flags.Bool("log-json", config.Default().LogJSON, "emit JSON-formatted logs")
	flags.Bool("host-table-capable", config.Default().HostTableCapable, "platform can serve host routes directly out of the Host Table")
	flags.Duration("ndp-solicit-timeout", config.Default().NdpSolicitTimeout, "deadline recorded on each pending Neighbor Solicitation entry")
	flags.Bool("warm-boot", config.Default().WarmBoot, "reconcile against a warm-boot cache instead of a cold start")

	if err := v.BindPFlags(flags); err != nil {
		panic(err)
	}
	v.SetEnvPrefix("l3fwdmgr")
	v.AutomaticEnv()

	cobra.OnInitialize(func() { initConfig(v) })

	return root
}

func initConfig(v *viper.Viper) {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			logging.DefaultLogger().WithError(err).Fatal("failed to read config file")
		}
	}
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func applyLogConfig(cfg config.Config) {
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logging.SetLevel(level)
	logging.SetJSON(cfg.LogJSON)
}
