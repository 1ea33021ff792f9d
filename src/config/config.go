package config

import (
	"crypto/ecdsa"
	"os"
	"os/user"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/rifflock/lfshook"
	"github.com/sirupsen/logrus"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"

	"github.com/halonetworks/halo/src/common"
	"github.com/halonetworks/halo/src/node"
)

// Default filenames.
const (
	// DefaultKeyfile is the default name of the file containing the device's
	// private key
	DefaultKeyfile = "priv_key"

	// DefaultBadgerFile is the default name of the folder containing the
	// Badger database
	DefaultBadgerFile = "badger_db"

	// DefaultShareFile is the default name of the file containing the
	// device's threshold key share.
	DefaultShareFile = "frost.json"
)

// Default configuration values.
const (
	DefaultLogLevel         = "debug"
	DefaultBindAddr         = "127.0.0.1:1337"
	DefaultServiceAddr      = "127.0.0.1:8000"
	DefaultHeartbeatTimeout = 200 * time.Millisecond
	DefaultTCPTimeout       = 1000 * time.Millisecond
	DefaultCacheSize        = 10000
	DefaultSyncLimit        = 1000
	DefaultMaxPool          = 2
	DefaultConsensusTimeout = 10 * time.Second
	DefaultDisputeWindow    = 24 * time.Hour
	DefaultStore            = false
	DefaultMaintenanceMode  = false
)

// Config contains all the configuration properties of a Halo node.
type Config struct {
	// DataDir is the top-level directory containing Halo configuration and
	// data
	DataDir string `mapstructure:"datadir"`

	// LogLevel determines the chattiness of the log output.
	LogLevel string `mapstructure:"log"`

	// BindAddr is the local address:port where this node gossips with other
	// devices. In some cases, there may be a routable address that cannot be
	// bound. Use AdvertiseAddr to advertise a different address to support
	// this.
	BindAddr string `mapstructure:"listen"`

	// AdvertiseAddr is used to change the address that we advertise to other
	// devices.
	AdvertiseAddr string `mapstructure:"advertise"`

	// NoService disables the HTTP API service.
	NoService bool `mapstructure:"no-service"`

	// ServiceAddr is the address:port of the optional HTTP service. If not
	// specified, and "no-service" is not set, the API handlers are registered
	// with the DefaultServerMux of the http package. It is possible that
	// another server in the same process is simultaneously using the
	// DefaultServerMux. In which case, the handlers will be accessible from
	// both servers. This is usefull when Halo is used in-memory and expected
	// to use the same endpoint (address:port) as the application's API.
	ServiceAddr string `mapstructure:"service-listen"`

	// HeartbeatTimeout is the frequency of the gossip timer.
	HeartbeatTimeout time.Duration `mapstructure:"heartbeat"`

	// MaxPool controls how many connections are pooled per target in the
	// gossip routines.
	MaxPool int `mapstructure:"max-pool"`

	// TCPTimeout is the timeout of gossip RPC connections.
	TCPTimeout time.Duration `mapstructure:"timeout"`

	// SyncLimit defines the max number of journal ops to include in a
	// SyncResponse.
	SyncLimit int `mapstructure:"sync-limit"`

	// ConsensusTimeout bounds how long a signing instance may stay active
	// before it fails with a timeout.
	ConsensusTimeout time.Duration `mapstructure:"consensus-timeout"`

	// DisputeWindow is how long a guardian recovery ceremony must remain
	// open, and disputable, before it can finalize.
	DisputeWindow time.Duration `mapstructure:"dispute-window"`

	// Store activates persistant storage.
	Store bool `mapstructure:"store"`

	// DatabaseDir is the directory containing database files.
	DatabaseDir string `mapstructure:"db"`

	// CacheSize is the max number of items in in-memory caches.
	CacheSize int `mapstructure:"cache-size"`

	// Bootstrap determines whether or not to load Halo from an existing
	// database file. Forces Store, ie. bootstrap only works with a persistant
	// database store.
	Bootstrap bool `mapstructure:"bootstrap"`

	// MaintenanceMode when set to true causes Halo to initialise in a
	// suspended state. I.e. it serves journal reads but does not gossip or
	// sign. Forces Bootstrap, which itself forces Store.
	MaintenanceMode bool `mapstructure:"maintenance-mode"`

	// Moniker defines the friendly name of this node
	Moniker string `mapstructure:"moniker"`

	// Key is the private key of the device.
	Key *ecdsa.PrivateKey

	logger *logrus.Logger
}

// NewDefaultConfig returns a config object with default values.
func NewDefaultConfig() *Config {
	config := &Config{
		DataDir:          DefaultDataDir(),
		LogLevel:         DefaultLogLevel,
		BindAddr:         DefaultBindAddr,
		ServiceAddr:      DefaultServiceAddr,
		HeartbeatTimeout: DefaultHeartbeatTimeout,
		TCPTimeout:       DefaultTCPTimeout,
		CacheSize:        DefaultCacheSize,
		SyncLimit:        DefaultSyncLimit,
		MaxPool:          DefaultMaxPool,
		ConsensusTimeout: DefaultConsensusTimeout,
		DisputeWindow:    DefaultDisputeWindow,
		Store:            DefaultStore,
		MaintenanceMode:  DefaultMaintenanceMode,
		DatabaseDir:      DefaultDatabaseDir(),
	}

	return config
}

// NewTestConfig returns a config object with default values and a special
// logger for debugging tests.
func NewTestConfig(t testing.TB, level logrus.Level) *Config {
	config := NewDefaultConfig()
	config.logger = common.NewTestLogger(t, level)
	return config
}

// SetDataDir sets the top-level Halo directory, and updates the database
// directory if it is currently set to the default value. If the database
// directory is not currently the default, it means the user has explicitely
// set it to something else, so avoid changing it again here.
func (c *Config) SetDataDir(dataDir string) {
	c.DataDir = dataDir
	if c.DatabaseDir == DefaultDatabaseDir() {
		c.DatabaseDir = filepath.Join(dataDir, DefaultBadgerFile)
	}
}

// Keyfile returns the full path of the file containing the private key.
func (c *Config) Keyfile() string {
	return filepath.Join(c.DataDir, DefaultKeyfile)
}

// ShareFile returns the full path of the file containing the device's
// threshold key share.
func (c *Config) ShareFile() string {
	return filepath.Join(c.DataDir, DefaultShareFile)
}

// NodeConfig returns the node-level configuration derived from this object.
func (c *Config) NodeConfig() *node.Config {
	nodeConfig := node.NewConfig(
		c.HeartbeatTimeout,
		c.TCPTimeout,
		c.CacheSize,
		c.SyncLimit,
		c.ConsensusTimeout,
		c.DisputeWindow,
		c.logrusLogger(),
	)
	nodeConfig.Suspended = c.MaintenanceMode
	return nodeConfig
}

// Logger returns a formatted logrus Entry, with prefix set to "halo".
func (c *Config) Logger() *logrus.Entry {
	return c.logrusLogger().WithField("prefix", "halo")
}

func (c *Config) logrusLogger() *logrus.Logger {
	if c.logger == nil {
		c.logger = logrus.New()
		c.logger.Level = LogLevel(c.LogLevel)
		c.logger.Formatter = new(prefixed.TextFormatter)
		c.addLogFileHook()
	}
	return c.logger
}

// addLogFileHook tees info-and-above log lines to [datadir]/halo.log. When
// the file cannot be opened, logging stays on stderr only.
func (c *Config) addLogFileHook() {
	if c.DataDir == "" {
		return
	}

	logPath := filepath.Join(c.DataDir, "halo.log")

	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err != nil {
		return
	}
	f.Close()

	c.logger.Hooks.Add(lfshook.NewHook(
		lfshook.PathMap{
			logrus.InfoLevel:  logPath,
			logrus.WarnLevel:  logPath,
			logrus.ErrorLevel: logPath,
			logrus.FatalLevel: logPath,
		},
		&logrus.TextFormatter{},
	))
}

// DefaultDatabaseDir returns the default path for the badger database files.
func DefaultDatabaseDir() string {
	return filepath.Join(DefaultDataDir(), DefaultBadgerFile)
}

// DefaultDataDir return the default directory name for top-level Halo config
// based on the underlying OS, attempting to respect conventions.
func DefaultDataDir() string {
	// Try to place the data folder in the user's home dir
	home := HomeDir()
	if home != "" {
		if runtime.GOOS == "darwin" {
			return filepath.Join(home, ".Halo")
		} else if runtime.GOOS == "windows" {
			return filepath.Join(home, "AppData", "Roaming", "Halo")
		} else {
			return filepath.Join(home, ".halo")
		}
	}
	// As we cannot guess a stable location, return empty and handle later
	return ""
}

// HomeDir returns the user's home directory.
func HomeDir() string {
	if home := os.Getenv("HOME"); home != "" {
		return home
	}
	if usr, err := user.Current(); err == nil {
		return usr.HomeDir
	}
	return ""
}

// LogLevel parses a string into a Logrus log level.
func LogLevel(l string) logrus.Level {
	switch l {
	case "debug":
		return logrus.DebugLevel
	case "info":
		return logrus.InfoLevel
	case "warn":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	case "fatal":
		return logrus.FatalLevel
	case "panic":
		return logrus.PanicLevel
	default:
		return logrus.DebugLevel
	}
}
