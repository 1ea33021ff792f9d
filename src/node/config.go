package node

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/halonetworks/halo/src/common"
)

// Config holds the node-level tunables.
type Config struct {
	HeartbeatTimeout time.Duration `mapstructure:"heartbeat"`
	TCPTimeout       time.Duration `mapstructure:"timeout"`
	CacheSize        int           `mapstructure:"cache-size"`
	SyncLimit        int           `mapstructure:"sync-limit"`
	ConsensusTimeout time.Duration `mapstructure:"consensus-timeout"`
	DisputeWindow    time.Duration `mapstructure:"dispute-window"`
	Suspended        bool          `mapstructure:"suspended"`
	Logger           *logrus.Logger
}

// NewConfig builds a Config.
func NewConfig(
	heartbeat time.Duration,
	timeout time.Duration,
	cacheSize int,
	syncLimit int,
	consensusTimeout time.Duration,
	disputeWindow time.Duration,
	logger *logrus.Logger,
) *Config {

	return &Config{
		HeartbeatTimeout: heartbeat,
		TCPTimeout:       timeout,
		CacheSize:        cacheSize,
		SyncLimit:        syncLimit,
		ConsensusTimeout: consensusTimeout,
		DisputeWindow:    disputeWindow,
		Logger:           logger,
	}
}

// DefaultConfig returns the defaults.
func DefaultConfig() *Config {
	logger := logrus.New()
	logger.Level = logrus.DebugLevel

	return &Config{
		HeartbeatTimeout: 200 * time.Millisecond,
		TCPTimeout:       1000 * time.Millisecond,
		CacheSize:        5000,
		SyncLimit:        1000,
		ConsensusTimeout: 10 * time.Second,
		DisputeWindow:    24 * time.Hour,
		Logger:           logger,
	}
}

// TestConfig returns a config for tests, with a short dispute window.
func TestConfig(t *testing.T) *Config {
	config := DefaultConfig()
	config.HeartbeatTimeout = 10 * time.Millisecond
	config.DisputeWindow = 100 * time.Millisecond
	config.Logger = common.NewTestLogger(t, logrus.DebugLevel)
	return config
}
