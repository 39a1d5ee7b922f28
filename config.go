package tollgate

import (
	"fmt"
	"os"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/goccy/go-yaml"
	"github.com/ilyakaznacheev/cleanenv"
	"github.com/lightninglabs/tollgate/proxy"
	"github.com/lightninglabs/tollgate/secrets"
)

var (
	tollgateDataDir       = btcutil.AppDataDir("tollgate", false)
	defaultConfigFilename = "tollgate.yaml"
	defaultListenAddr     = "127.0.0.1:8081"
	defaultMintLocation   = "tollgate"
	defaultLndHost        = "localhost:10009"
	defaultLogLevel       = "info"
	defaultLogFilename    = "tollgate.log"
	defaultMaxLogFiles    = 3
	defaultMaxLogFileSize = 10

	// configPathEnv overrides the config file location, a positional
	// argument takes precedence over it.
	configPathEnv = "TOLLGATE_CONFIG"
)

// LndConfig describes the connection to the lnd node that issues and settles
// the payment challenges.
type LndConfig struct {
	// Host is the host:port of lnd's RPC interface.
	Host string `yaml:"host" env:"TOLLGATE_LND_HOST"`

	// TLSPath is the path to lnd's TLS certificate.
	TLSPath string `yaml:"tlspath" env:"TOLLGATE_LND_TLSPATH"`

	// MacDir is the directory holding lnd's macaroon files.
	MacDir string `yaml:"macdir" env:"TOLLGATE_LND_MACDIR"`

	// Network is the bitcoin network the node runs on.
	Network string `yaml:"network" env:"TOLLGATE_LND_NETWORK"`
}

// Config is the top level configuration of the proxy, read from a YAML file
// and overridden by TOLLGATE_ environment variables.
type Config struct {
	// ListenAddr is the interface we should listen on for client requests.
	ListenAddr string `yaml:"listenaddr" env:"TOLLGATE_LISTENADDR"`

	// UpstreamTimeout bounds a single call to a backend's upstream
	// service.
	UpstreamTimeout time.Duration `yaml:"upstreamtimeout" env:"TOLLGATE_UPSTREAMTIMEOUT"`

	// DBFile is the path of the bolt database holding the credential
	// ledger.
	DBFile string `yaml:"dbfile" env:"TOLLGATE_DBFILE"`

	// MintLocation is embedded as the location of every minted credential.
	MintLocation string `yaml:"mintlocation" env:"TOLLGATE_MINTLOCATION"`

	// DebugLevel is a string defining the log level for the service either
	// for all subsystems the same or individual level by subsystem.
	DebugLevel string `yaml:"debuglevel" env:"TOLLGATE_DEBUGLEVEL"`

	// Lnd holds the connection settings of the backing lnd node.
	Lnd *LndConfig `yaml:"lnd"`

	// Prometheus enables and configures the metrics exporter.
	Prometheus *PrometheusConfig `yaml:"prometheus"`

	// Backends is the list of paid backends the proxy fronts.
	Backends []*proxy.Backend `yaml:"backends"`
}

// DefaultConfig returns the configuration used when the file or the
// environment doesn't say otherwise.
func DefaultConfig() *Config {
	return &Config{
		ListenAddr:      defaultListenAddr,
		UpstreamTimeout: proxy.DefaultUpstreamTimeout,
		DBFile:          secrets.DefaultDBFilename,
		MintLocation:    defaultMintLocation,
		DebugLevel:      defaultLogLevel,
		Lnd: &LndConfig{
			Host:    defaultLndHost,
			Network: "mainnet",
		},
		Prometheus: &PrometheusConfig{
			ListenAddr: "localhost:9090",
		},
	}
}

// configPath resolves the config file location from the positional argument,
// the environment or the default, in that order.
func configPath(args []string) string {
	if len(args) > 1 {
		return args[1]
	}
	if path := os.Getenv(configPathEnv); path != "" {
		return path
	}
	return defaultConfigFilename
}

// loadConfig reads and parses the configuration file, applies the environment
// overlay and checks the result for valid content.
func loadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return nil, err
	}

	// Environment variables override what the file says.
	if err := cleanenv.ReadEnv(cfg); err != nil {
		return nil, err
	}

	// All required values need to be set at this point.
	if cfg.ListenAddr == "" {
		return nil, fmt.Errorf("missing listen address for server")
	}
	if cfg.Lnd == nil || cfg.Lnd.Host == "" {
		return nil, fmt.Errorf("missing lnd connection settings")
	}
	if len(cfg.Backends) == 0 {
		return nil, fmt.Errorf("no backends configured")
	}

	return cfg, nil
}
