package wallet

import (
	"github.com/blockcypher/libgrin/core"
	"github.com/pkg/errors"

	"github.com/olegabu/go-mimblewimble/internal/log"
	"github.com/olegabu/go-mimblewimble/keychain"
	"github.com/olegabu/go-mimblewimble/ledger"
	"github.com/olegabu/go-mimblewimble/secp"
)

// BuildCoinbase records a reward output for the block at fees.Height and
// returns it with its kernel. Replaying the request with the returned key id
// before the output confirms yields the same output.
func (t *Wallet) BuildCoinbase(account keychain.Identifier, fees BlockFees) (*CbData, error) {
	amount := t.params.Reward(fees.Fees, fees.Height)
	log.Wallet.Debug().Uint64("amount", amount).Uint64("height", fees.Height).Msg("building coinbase")
	return t.buildReward(account, fees, amount, false)
}

// BuildFoundation is BuildCoinbase for the foundation output, paying the
// foundation levy accrued up to fees.Height. Fees are ignored.
func (t *Wallet) BuildFoundation(account keychain.Identifier, fees BlockFees) (*CbData, error) {
	amount := t.params.CumulativeFoundationReward(fees.Height)
	log.Wallet.Debug().Uint64("amount", amount).Uint64("height", fees.Height).Msg("building foundation output")
	return t.buildReward(account, fees, amount, true)
}

func (t *Wallet) buildReward(account keychain.Identifier, fees BlockFees, amount uint64, foundation bool) (*CbData, error) {
	keyID, err := t.saveRewardOutput(account, fees, amount, foundation)
	if err != nil {
		return nil, err
	}

	output, kernel, err := t.rewardOutput(keyID, amount)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot build reward output for key %v", keyID)
	}

	return &CbData{Output: output, Kernel: kernel, KeyID: keyID}, nil
}

// saveRewardOutput picks the key and commits the provisional output before
// any proof is built.
func (t *Wallet) saveRewardOutput(account keychain.Identifier, fees BlockFees, amount uint64, foundation bool) (keychain.Identifier, error) {
	batch, err := t.store.Batch(account)
	if err != nil {
		return keychain.Identifier{}, err
	}
	defer batch.Discard()

	var keyID keychain.Identifier
	reuse := false
	if fees.KeyID != nil {
		existing, err := retrieveExistingKey(batch, account, *fees.KeyID)
		switch {
		case err == nil:
			reuse = existing.Status == OutputUnconfirmed && existing.IsCoinbase && existing.Value == amount
		case !errors.Is(err, ErrNotFound):
			return keychain.Identifier{}, err
		}
		keyID = *fees.KeyID
	}
	if !reuse {
		keyID, err = nextAvailableKey(batch)
		if err != nil {
			return keychain.Identifier{}, err
		}
	}

	commit, err := t.keys.Commit(amount, keyID)
	if err != nil {
		return keychain.Identifier{}, errors.Wrapf(ErrDerivation, "cannot commit to reward key %v: %v", keyID, err)
	}

	out := newOutput(account, keyID, amount, commit.String())
	out.Height = fees.Height
	out.LockHeight = fees.Height + t.params.CoinbaseMaturity
	out.IsCoinbase = true
	out.IsFoundation = foundation

	err = batch.Save(out)
	if err != nil {
		return keychain.Identifier{}, err
	}

	err = batch.Commit()
	if err != nil {
		return keychain.Identifier{}, err
	}

	log.Wallet.Debug().Str("key_id", keyID.String()).Bool("reused", reuse).Msg("saved reward output")

	return keyID, nil
}

// rewardOutput builds the coinbase output and its kernel. The kernel is
// signed with a deterministic nonce so the pair only depends on the key and
// amount.
func (t *Wallet) rewardOutput(keyID keychain.Identifier, amount uint64) (output core.Output, kernel core.TxKernel, err error) {
	blind, err := t.deriveKey(keyID)
	if err != nil {
		return
	}

	commit, err := secp.Commit(amount, blind)
	if err != nil {
		err = errors.Wrap(err, "cannot commit to reward")
		return
	}

	proof, err := secp.CreateOpeningProof(blind, commit)
	if err != nil {
		err = errors.Wrap(err, "cannot create reward proof")
		return
	}

	excess, err := secp.Commit(0, blind)
	if err != nil {
		err = errors.Wrap(err, "cannot calculate reward excess")
		return
	}

	kernel = core.TxKernel{
		Features:   core.CoinbaseKernel,
		Fee:        0,
		LockHeight: 0,
		Excess:     excess.String(),
	}

	sig, err := secp.SignSingle(blind, ledger.KernelSignatureMessage(kernel))
	if err != nil {
		err = errors.Wrap(err, "cannot sign reward kernel")
		return
	}
	kernel.ExcessSig = sig.String()

	output = core.Output{
		Features: core.CoinbaseOutput,
		Commit:   commit.String(),
		Proof:    proof.String(),
	}
	return
}
