// Package wallet keeps the wallet's ledger of outputs and transactions,
// reconciles it against the node, builds reward outputs and runs the slate
// protocol with other wallets.
package wallet

import (
	"context"

	"github.com/pkg/errors"

	"github.com/olegabu/go-mimblewimble/chain"
	"github.com/olegabu/go-mimblewimble/keychain"
	"github.com/olegabu/go-mimblewimble/nodeclient"
	"github.com/olegabu/go-mimblewimble/secp"
)

// Keychain derives blinding keys.
type Keychain interface {
	DeriveKey(id keychain.Identifier) (secp.SecretKey, error)
	Commit(value uint64, id keychain.Identifier) (secp.Commitment, error)
}

type NodeClient interface {
	GetChainTip(ctx context.Context) (nodeclient.ChainTip, error)
	GetOutputsFromNode(ctx context.Context, commits []string) (map[string]nodeclient.OutputInfo, error)
}

type Wallet struct {
	store  Store
	keys   Keychain
	node   NodeClient
	params *chain.Params
}

func New(store Store, keys Keychain, node NodeClient, params *chain.Params) *Wallet {
	return &Wallet{
		store:  store,
		keys:   keys,
		node:   node,
		params: params,
	}
}

func (t *Wallet) Store() Store {
	return t.store
}

func (t *Wallet) Params() *chain.Params {
	return t.params
}

func (t *Wallet) Close() error {
	return t.store.Close()
}

// ResolveCommitment returns the stored commitment of out, or derives it from
// its value and key.
func (t *Wallet) ResolveCommitment(out OutputData) (string, error) {
	if out.Commit != nil {
		return *out.Commit, nil
	}
	if out.KeyID.Depth() == 0 || out.KeyID.Parent() != out.RootKeyID {
		return "", errors.Wrapf(ErrDerivation, "key %v is not a child of account %v", out.KeyID, out.RootKeyID)
	}
	commit, err := t.keys.Commit(out.Value, out.KeyID)
	if err != nil {
		return "", errors.Wrapf(ErrDerivation, "cannot commit to output %v: %v", out.KeyID, err)
	}
	return commit.String(), nil
}

func (t *Wallet) deriveKey(id keychain.Identifier) (secp.SecretKey, error) {
	key, err := t.keys.DeriveKey(id)
	if err != nil {
		return secp.SecretKey{}, errors.Wrapf(ErrDerivation, "cannot derive key %v: %v", id, err)
	}
	return key, nil
}

func (t *Wallet) Accounts() ([]AcctPathMapping, error) {
	return t.store.Accounts()
}

func (t *Wallet) CreateAccount(label string) (keychain.Identifier, error) {
	return t.store.CreateAccount(label)
}

// Account resolves an account label, the empty label being the default
// account.
func (t *Wallet) Account(label string) (keychain.Identifier, error) {
	if label == "" {
		label = defaultAccountLabel
	}
	return t.store.GetAccount(label)
}

// RetrieveOutputs lists the outputs of an account for display.
func (t *Wallet) RetrieveOutputs(account keychain.Identifier, includeSpent bool, txLogID *uint32) ([]OutputData, error) {
	filter := OutputFilter{TxLogID: txLogID, DisplayOrder: true}
	if !includeSpent {
		filter.Statuses = []OutputStatus{OutputUnconfirmed, OutputUnspent, OutputLocked}
	}
	return t.store.ListOutputs(account, filter)
}
