// Package config loads the wallet configuration from mw.toml, MW_*
// environment variables and command line flags, in increasing precedence.
package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/mitchellh/go-homedir"
	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/olegabu/go-mimblewimble/chain"
)

const (
	FileName  = "mw.toml"
	envPrefix = "MW"

	KeyDataDir              = "data_dir"
	KeyNetwork              = "network"
	KeyNodeAddress          = "node_address"
	KeyMinimumConfirmations = "minimum_confirmations"
	KeyAccount              = "account"
	KeyLogLevel             = "log.level"
	KeyLogJSON              = "log.json"
	KeyLogFile              = "log.file"
)

type Log struct {
	Level string `mapstructure:"level"`
	JSON  bool   `mapstructure:"json"`
	File  string `mapstructure:"file"`
}

type Config struct {
	DataDir              string `mapstructure:"data_dir"`
	Network              string `mapstructure:"network"`
	NodeAddress          string `mapstructure:"node_address"`
	MinimumConfirmations uint64 `mapstructure:"minimum_confirmations"`
	Account              string `mapstructure:"account"`
	Log                  Log    `mapstructure:"log"`
}

// DefaultDataDir is ~/.mw.
func DefaultDataDir() (string, error) {
	dir, err := homedir.Dir()
	if err != nil {
		return "", errors.Wrap(err, "cannot get homedir")
	}
	return filepath.Join(dir, ".mw"), nil
}

func setDefaults(v *viper.Viper) error {
	dataDir, err := DefaultDataDir()
	if err != nil {
		return err
	}
	v.SetDefault(KeyDataDir, dataDir)
	v.SetDefault(KeyNetwork, chain.Mainnet.Name)
	v.SetDefault(KeyNodeAddress, "tcp://127.0.0.1:26657")
	v.SetDefault(KeyMinimumConfirmations, 10)
	v.SetDefault(KeyAccount, "default")
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyLogJSON, false)
	v.SetDefault(KeyLogFile, "")
	return nil
}

// Load reads configFile, or mw.toml in the data directory when configFile
// is empty. A missing default file is not an error. flags may be nil.
func Load(configFile string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	err := setDefaults(v)
	if err != nil {
		return nil, err
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		err = v.BindPFlags(flags)
		if err != nil {
			return nil, errors.Wrap(err, "cannot bind flags")
		}
	}

	explicit := configFile != ""
	if !explicit {
		dataDir, err := homedir.Expand(v.GetString(KeyDataDir))
		if err != nil {
			return nil, errors.Wrap(err, "cannot expand data dir")
		}
		configFile = filepath.Join(dataDir, FileName)
	}

	v.SetConfigFile(configFile)
	v.SetConfigType("toml")
	err = v.ReadInConfig()
	if err != nil {
		_, statErr := os.Stat(configFile)
		if explicit || !os.IsNotExist(statErr) {
			return nil, errors.Wrapf(err, "viper failed to read config file %v", configFile)
		}
	}

	config := &Config{}
	err = v.Unmarshal(config)
	if err != nil {
		return nil, errors.Wrap(err, "viper failed to unmarshal config")
	}

	config.DataDir, err = homedir.Expand(config.DataDir)
	if err != nil {
		return nil, errors.Wrap(err, "cannot expand data dir")
	}

	err = config.Validate()
	if err != nil {
		return nil, err
	}
	return config, nil
}

func (t *Config) Validate() error {
	if t.DataDir == "" {
		return errors.New("data dir is not set")
	}
	if _, err := chain.ForNetwork(t.Network); err != nil {
		return err
	}
	if t.NodeAddress == "" {
		return errors.New("node address is not set")
	}
	return nil
}

// ChainParams returns the parameters of the configured network.
func (t *Config) ChainParams() (*chain.Params, error) {
	return chain.ForNetwork(t.Network)
}

// WalletDir is where the seed and the ledger live for the configured
// network.
func (t *Config) WalletDir() string {
	return filepath.Join(t.DataDir, t.Network)
}
