package main

import (
	"fmt"
	"os"

	"github.com/opd-ai/pcmlink/config"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var (
	configFile string
	v          = viper.New()
	options    config.Options
)

var rootCmd = &cobra.Command{
	Use:           "pcmlink",
	Short:         "Low-latency PCM audio over UDP",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		opts, err := config.Load(v, configFile)
		if err != nil {
			return err
		}
		options = opts
		return setupLogging(opts.LogLevel, opts.LogFormat)
	},
}

// Execute runs the command line and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Execute",
			"error":    err.Error(),
		}).Error("Command failed")
		os.Exit(1)
	}
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configFile, "config", "", fmt.Sprintf("config file (default %s)", config.DefaultFile()))
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.String("log-format", "text", "log format (text or json)")

	mustBind("log_level", flags.Lookup("log-level"))
	mustBind("log_format", flags.Lookup("log-format"))
}

// mustBind makes a flag override the config key. It only fails for a nil
// flag, which is a programming error.
func mustBind(key string, flag *pflag.Flag) {
	if err := v.BindPFlag(key, flag); err != nil {
		panic(err)
	}
}

func setupLogging(level, format string) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return err
	}
	logrus.SetLevel(lvl)

	if format == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return nil
}
