package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	dir := t.TempDir()

	cfg, err := LoadConfig(dir)

	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "data/linkeye.db", cfg.Database.Path)
	assert.Equal(t, "BOA", cfg.Cards.OriginPrefix)
	assert.Equal(t, "PRA", cfg.Cards.TargetPrefix)
	assert.Equal(t, time.Hour, cfg.Alert.RapidCooldown)
	assert.Equal(t, 4*time.Hour, cfg.Alert.DriftCooldown)
	assert.Equal(t, 24*time.Hour, cfg.Alert.AckDuration)
	assert.Equal(t, 8080, cfg.Server.Port)

	_, err = os.Stat(filepath.Join(dir, "config.yaml"))
	assert.NoError(t, err, "starter config should be written")
}

func TestLoadConfig_FromFile(t *testing.T) {
	dir := t.TempDir()
	content := `
database:
  driver: postgres
  dsn: postgres://linkeye@localhost/linkeye
nms:
  baseurl: https://nms.example.net
  username: poller
  timeout: 10s
cards:
  originprefix: LA
  targetprefix: RA
alert:
  strictpairing: true
  driftcooldown: 2h
  email:
    toreceivers: [noc@example.net, oncall@example.net]
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(content), 0644))

	cfg, err := LoadConfig(dir)

	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "https://nms.example.net", cfg.NMS.BaseURL)
	assert.Equal(t, 10*time.Second, cfg.NMS.Timeout)
	assert.True(t, cfg.Alert.StrictPairing)
	assert.Equal(t, 2*time.Hour, cfg.Alert.DriftCooldown)
	assert.Equal(t, []string{"noc@example.net", "oncall@example.net"}, cfg.Alert.Email.ToReceivers)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg := &Config{}
		cfg.Database.Driver = "sqlite"
		cfg.Database.Path = "x.db"
		cfg.Cards.OriginPrefix = "BOA"
		cfg.Cards.TargetPrefix = "PRA"
		return cfg
	}

	t.Run("valid", func(t *testing.T) {
		assert.NoError(t, base().Validate())
	})

	t.Run("unknown driver", func(t *testing.T) {
		cfg := base()
		cfg.Database.Driver = "oracle"
		assert.Error(t, cfg.Validate())
	})

	t.Run("postgres without dsn", func(t *testing.T) {
		cfg := base()
		cfg.Database.Driver = "postgres"
		assert.Error(t, cfg.Validate())
	})

	t.Run("overlapping prefixes", func(t *testing.T) {
		cfg := base()
		cfg.Cards.TargetPrefix = "BO"
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "overlap")
	})
}
