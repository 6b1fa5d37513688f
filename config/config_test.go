package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/adrg/xdg"
	"github.com/opd-ai/pcmlink/protocol"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	opts := Default()
	require.NoError(t, opts.Validate())

	sc, err := opts.SessionConfig()
	require.NoError(t, err)
	assert.Equal(t, protocol.FormatF32, sc.Format)
	assert.Equal(t, uint32(48000), sc.SampleRate)
	assert.Equal(t, 600*time.Millisecond, sc.Timeout)
	assert.Equal(t, 16384, sc.RingCapacity)
}

func TestLoadExplicitFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "custom.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
listen_addr = "127.0.0.1:7000"
sample_rate = 96000
channels_in = 8
timeout = "1s"
`), 0o600))

	opts, err := Load(viper.New(), path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:7000", opts.ListenAddr)
	assert.Equal(t, uint32(96000), opts.SampleRate)
	assert.Equal(t, uint16(8), opts.ChannelsIn)
	assert.Equal(t, uint16(2), opts.ChannelsOut, "unset keys keep defaults")
	assert.Equal(t, time.Second, opts.Timeout)
	assert.Equal(t, 10*time.Millisecond, opts.TickInterval)
}

func TestEnvironmentOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "custom.toml")
	require.NoError(t, os.WriteFile(path, []byte(`sample_rate = 96000`), 0o600))
	t.Setenv("PCMLINK_SAMPLE_RATE", "44100")
	t.Setenv("PCMLINK_MAX_SESSIONS", "4")

	opts, err := Load(viper.New(), path)
	require.NoError(t, err)
	assert.Equal(t, uint32(44100), opts.SampleRate)
	assert.Equal(t, 4, opts.MaxSessions)
}

func TestLoadWritesDefaultFileToXDG(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	xdg.Reload()
	t.Cleanup(xdg.Reload)

	opts, err := Load(viper.New(), "")
	require.NoError(t, err)
	assert.Equal(t, Default(), opts)

	data, err := os.ReadFile(DefaultFile())
	require.NoError(t, err)
	assert.Equal(t, defaultConfigFile, data)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(viper.New(), filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err, "an explicit file must exist")

	path := filepath.Join(t.TempDir(), "bad.toml")
	require.NoError(t, os.WriteFile(path, []byte(`ring_capacity = 1000`), 0o600))
	_, err = Load(viper.New(), path)
	assert.ErrorContains(t, err, "power of two")
}

func TestValidate(t *testing.T) {
	mutations := map[string]func(*Options){
		"listen addr":   func(o *Options) { o.ListenAddr = "nonsense" },
		"dscp":          func(o *Options) { o.DSCP = 64 },
		"log level":     func(o *Options) { o.LogLevel = "loud" },
		"log format":    func(o *Options) { o.LogFormat = "xml" },
		"sample format": func(o *Options) { o.SampleFormat = "f16" },
		"unsupported":   func(o *Options) { o.SampleFormat = "i16" },
		"service name":  func(o *Options) { o.Advertise, o.ServiceName = true, "" },
	}
	for name, mutate := range mutations {
		opts := Default()
		mutate(&opts)
		assert.Error(t, opts.Validate(), name)
	}
}
