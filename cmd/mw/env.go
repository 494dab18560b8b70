package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/olegabu/go-mimblewimble/chain"
	"github.com/olegabu/go-mimblewimble/internal/config"
	"github.com/olegabu/go-mimblewimble/internal/log"
	"github.com/olegabu/go-mimblewimble/keychain"
	"github.com/olegabu/go-mimblewimble/nodeclient"
	"github.com/olegabu/go-mimblewimble/wallet"
	"github.com/olegabu/go-mimblewimble/wallet/slateversions"
)

var configFile string

type env struct {
	config  *config.Config
	params  *chain.Params
	node    *nodeclient.Client
	wallet  *wallet.Wallet
	account keychain.Identifier
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(configFile, cmd.Flags())
	if err != nil {
		return nil, err
	}
	err = log.Init(cfg.Log.Level, cfg.Log.JSON, cfg.Log.File)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// openWallet opens the seed and ledger of the configured network. The
// caller closes the wallet.
func openWallet(cmd *cobra.Command) (*env, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	params, err := cfg.ChainParams()
	if err != nil {
		return nil, err
	}

	keys, err := keychain.Open(cfg.WalletDir())
	if err != nil {
		return nil, err
	}

	store, err := wallet.NewLeveldbStore(cfg.WalletDir())
	if err != nil {
		return nil, err
	}

	node := nodeclient.NewClient(cfg.NodeAddress)
	w := wallet.New(store, keys, node, params)

	account, err := w.Account(cfg.Account)
	if err != nil {
		_ = w.Close()
		return nil, err
	}

	return &env{config: cfg, params: params, node: node, wallet: w, account: account}, nil
}

func parseAmount(s string) (uint64, error) {
	amount, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "cannot parse amount %q", s)
	}
	return amount, nil
}

func writeJSON(fileName string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.Wrap(err, "cannot marshal")
	}
	err = os.WriteFile(fileName, data, 0644)
	if err != nil {
		return errors.Wrap(err, "cannot write file "+fileName)
	}
	return nil
}

func readSlate(fileName string) (slateversions.VersionedSlate, error) {
	var vs slateversions.VersionedSlate
	data, err := os.ReadFile(fileName)
	if err != nil {
		return vs, errors.Wrap(err, "cannot read slate file "+fileName)
	}
	err = json.Unmarshal(data, &vs)
	if err != nil {
		return vs, errors.Wrap(err, "cannot parse slate file "+fileName)
	}
	return vs, nil
}

// writeSlate writes slate in the given version to <prefix>-<id>.json in the
// current directory and returns the file name.
func writeSlate(prefix string, slate *wallet.Slate, version slateversions.Version) (string, error) {
	vs, err := slateversions.FromSlate(slate, version)
	if err != nil {
		return "", err
	}
	fileName := filepath.Clean(fmt.Sprintf("%s-%s.json", prefix, slate.ID))
	return fileName, writeJSON(fileName, vs)
}
