// Package config loads pcmlink settings from defaults, a TOML file, the
// environment and command-line flags, in increasing order of precedence.
package config

import (
	"bytes"
	_ "embed" // default configuration file
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/opd-ai/pcmlink/protocol"
	"github.com/opd-ai/pcmlink/session"
	"github.com/opd-ai/pcmlink/transport"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

//go:embed pcmlink.toml
var defaultConfigFile []byte

const (
	appName     = "pcmlink"
	envPrefix   = "pcmlink"
	configType  = "toml"
	DefaultPort = 6910
)

// Options is the full configuration surface.
type Options struct {
	ListenAddr string `mapstructure:"listen_addr"`
	DSCP       int    `mapstructure:"dscp"`

	SampleRate      uint32 `mapstructure:"sample_rate"`
	SampleFormat    string `mapstructure:"sample_format"`
	ChannelsIn      uint16 `mapstructure:"channels_in"`
	ChannelsOut     uint16 `mapstructure:"channels_out"`
	FramesPerPacket int    `mapstructure:"frames_per_packet"`
	RingCapacity    int    `mapstructure:"ring_capacity"`

	MaxSessions       int           `mapstructure:"max_sessions"`
	Timeout           time.Duration `mapstructure:"timeout"`
	StartTimeout      time.Duration `mapstructure:"start_timeout"`
	TickInterval      time.Duration `mapstructure:"tick_interval"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`

	Advertise   bool   `mapstructure:"advertise"`
	ServiceName string `mapstructure:"service_name"`

	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`
}

// Default returns the built-in configuration.
func Default() Options {
	sc := session.DefaultConfig()
	return Options{
		ListenAddr:        fmt.Sprintf("0.0.0.0:%d", DefaultPort),
		DSCP:              transport.DSCPExpedited,
		SampleRate:        sc.SampleRate,
		SampleFormat:      sc.Format.String(),
		ChannelsIn:        sc.ChannelsIn,
		ChannelsOut:       sc.ChannelsOut,
		FramesPerPacket:   sc.FramesPerPacket,
		RingCapacity:      sc.RingCapacity,
		MaxSessions:       sc.MaxSessions,
		Timeout:           sc.Timeout,
		StartTimeout:      sc.Timeout,
		TickInterval:      sc.TickInterval,
		HeartbeatInterval: sc.HeartbeatInterval,
		ServiceName:       appName,
		LogLevel:          logrus.InfoLevel.String(),
		LogFormat:         "text",
	}
}

// SessionConfig converts the options into the registry configuration.
func (o Options) SessionConfig() (session.Config, error) {
	format, err := protocol.ParseSampleFormat(o.SampleFormat)
	if err != nil {
		return session.Config{}, err
	}
	return session.Config{
		SampleRate:        o.SampleRate,
		Format:            format,
		ChannelsIn:        o.ChannelsIn,
		ChannelsOut:       o.ChannelsOut,
		RingCapacity:      o.RingCapacity,
		FramesPerPacket:   o.FramesPerPacket,
		MaxSessions:       o.MaxSessions,
		Timeout:           o.Timeout,
		StartTimeout:      o.StartTimeout,
		TickInterval:      o.TickInterval,
		HeartbeatInterval: o.HeartbeatInterval,
	}, nil
}

// Validate reports the first unusable option.
func (o Options) Validate() error {
	if _, _, err := net.SplitHostPort(o.ListenAddr); err != nil {
		return fmt.Errorf("listen_addr: %w", err)
	}
	if o.DSCP < 0 || o.DSCP > 63 {
		return fmt.Errorf("dscp: %w", transport.ErrInvalidDSCP)
	}
	if _, err := logrus.ParseLevel(o.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}
	if o.LogFormat != "text" && o.LogFormat != "json" {
		return fmt.Errorf("log_format: %q is neither text nor json", o.LogFormat)
	}
	if o.Advertise && o.ServiceName == "" {
		return errors.New("service_name must be set when advertising")
	}

	sc, err := o.SessionConfig()
	if err != nil {
		return fmt.Errorf("sample_format: %w", err)
	}
	return sc.Validate()
}

// SetDefaults registers every option's default with v so environment
// variables are honoured even for keys absent from the file.
func SetDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("listen_addr", d.ListenAddr)
	v.SetDefault("dscp", d.DSCP)
	v.SetDefault("sample_rate", d.SampleRate)
	v.SetDefault("sample_format", d.SampleFormat)
	v.SetDefault("channels_in", d.ChannelsIn)
	v.SetDefault("channels_out", d.ChannelsOut)
	v.SetDefault("frames_per_packet", d.FramesPerPacket)
	v.SetDefault("ring_capacity", d.RingCapacity)
	v.SetDefault("max_sessions", d.MaxSessions)
	v.SetDefault("timeout", d.Timeout)
	v.SetDefault("start_timeout", d.StartTimeout)
	v.SetDefault("tick_interval", d.TickInterval)
	v.SetDefault("heartbeat_interval", d.HeartbeatInterval)
	v.SetDefault("advertise", d.Advertise)
	v.SetDefault("service_name", d.ServiceName)
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("log_format", d.LogFormat)
}

// Load reads the configuration into v and decodes it. An explicit file must
// exist. Without one, the file in the XDG config directory is used; if that
// is missing too, the built-in defaults apply and are written there for the
// user to edit.
func Load(v *viper.Viper, file string) (Options, error) {
	SetDefaults(v)
	v.SetConfigType(configType)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName(appName)
		v.AddConfigPath(ConfigDir())
	}

	err := v.ReadInConfig()
	var notFound viper.ConfigFileNotFoundError
	switch {
	case err == nil:
		logrus.WithFields(logrus.Fields{
			"function": "Load",
			"file":     v.ConfigFileUsed(),
		}).Debug("Loaded configuration file")
	case file == "" && errors.As(err, &notFound):
		if err := v.ReadConfig(bytes.NewReader(defaultConfigFile)); err != nil {
			return Options{}, fmt.Errorf("reading built-in config: %w", err)
		}
		writeDefaultFile()
	default:
		return Options{}, fmt.Errorf("reading config file: %w", err)
	}

	var opts Options
	if err := v.Unmarshal(&opts); err != nil {
		return Options{}, fmt.Errorf("decoding config: %w", err)
	}
	if err := opts.Validate(); err != nil {
		return Options{}, fmt.Errorf("invalid config: %w", err)
	}
	return opts, nil
}

// ConfigDir returns the pcmlink directory under the XDG config home.
func ConfigDir() string {
	return filepath.Join(xdg.ConfigHome, appName)
}

// DefaultFile returns the path Load looks at when no file is given.
func DefaultFile() string {
	return filepath.Join(ConfigDir(), appName+"."+configType)
}

func writeDefaultFile() {
	path := DefaultFile()
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err == nil {
		err = os.WriteFile(path, defaultConfigFile, 0o600)
		if err == nil {
			logrus.WithFields(logrus.Fields{
				"function": "Load",
				"file":     path,
			}).Info("Wrote default configuration")
			return
		}
	}
	logrus.WithFields(logrus.Fields{
		"function": "Load",
		"file":     path,
	}).Warn("Could not write default configuration, using built-in defaults")
}
