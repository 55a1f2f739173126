package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func validConfig() Config {
	cfg := Config{
		NodeID:        1,
		ListenAddress: ":3000",
	}
	cfg.Key[0] = 1 // non-zero key
	return cfg
}

func TestValidateAcceptsWellFormedConfig(t *testing.T) {
	assert.NoError(t, validConfig().Validate())
}

func TestValidateRejectsEmptyListenAddress(t *testing.T) {
	cfg := validConfig()
	cfg.ListenAddress = ""
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsZeroKey(t *testing.T) {
	cfg := validConfig()
	cfg.Key = [32]byte{}
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsEmptyBootstrapAddress(t *testing.T) {
	cfg := validConfig()
	cfg.BootstrapPeers = []string{""}
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsSelfAsBootstrapPeer(t *testing.T) {
	cfg := validConfig()
	cfg.BootstrapPeers = []string{cfg.ListenAddress}
	assert.Error(t, cfg.Validate())
}

func TestRootDefaultsWhenUnset(t *testing.T) {
	cfg := validConfig()
	assert.Equal(t, DefaultStorageRoot, cfg.Root())

	cfg.StorageRoot = "/data"
	assert.Equal(t, "/data", cfg.Root())
}
