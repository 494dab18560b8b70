package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("MW_DATA_DIR", dir)

	config, err := Load("", nil)
	require.NoError(t, err)
	assert.Equal(t, dir, config.DataDir)
	assert.Equal(t, "mainnet", config.Network)
	assert.Equal(t, "tcp://127.0.0.1:26657", config.NodeAddress)
	assert.Equal(t, uint64(10), config.MinimumConfirmations)
	assert.Equal(t, "info", config.Log.Level)
	assert.Equal(t, filepath.Join(dir, "mainnet"), config.WalletDir())
}

func TestLoadFileEnvAndFlags(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, FileName)
	err := os.WriteFile(file, []byte(`
data_dir = "`+dir+`"
network = "usernet"
minimum_confirmations = 1

[log]
level = "debug"
`), 0600)
	require.NoError(t, err)

	t.Setenv("MW_NODE_ADDRESS", "tcp://node:26657")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String(KeyAccount, "default", "")
	require.NoError(t, flags.Parse([]string{"--account", "savings"}))

	config, err := Load(file, flags)
	require.NoError(t, err)
	assert.Equal(t, "usernet", config.Network)
	assert.Equal(t, uint64(1), config.MinimumConfirmations)
	assert.Equal(t, "debug", config.Log.Level)
	assert.Equal(t, "tcp://node:26657", config.NodeAddress)
	assert.Equal(t, "savings", config.Account)

	params, err := config.ChainParams()
	require.NoError(t, err)
	assert.Equal(t, uint64(3), params.CoinbaseMaturity)
}

func TestLoadRejects(t *testing.T) {
	dir := t.TempDir()

	_, err := Load(filepath.Join(dir, "missing.toml"), nil)
	assert.Error(t, err)

	t.Setenv("MW_DATA_DIR", dir)
	t.Setenv("MW_NETWORK", "testnet3")
	_, err = Load("", nil)
	assert.Error(t, err)
}
