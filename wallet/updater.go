package wallet

import (
	"context"
	"sort"

	"github.com/pkg/errors"

	"github.com/olegabu/go-mimblewimble/internal/log"
	"github.com/olegabu/go-mimblewimble/keychain"
	"github.com/olegabu/go-mimblewimble/nodeclient"
	"github.com/olegabu/go-mimblewimble/secp"
)

// abandoned unconfirmed coinbase outputs are dropped after this many blocks
const unconfirmedCoinbaseHorizon = 50

// RefreshOutputs reconciles the outputs of account with the node. With
// updateAll false only outputs tied to outstanding transactions, and those
// tied to none, are checked. It returns false without touching the ledger
// when the node's tip is below the last confirmed height.
func (t *Wallet) RefreshOutputs(ctx context.Context, account keychain.Identifier, updateAll bool) (bool, error) {
	tip, err := t.node.GetChainTip(ctx)
	if err != nil {
		return false, errors.Wrap(err, "cannot get chain tip")
	}

	candidates, err := t.mapWalletOutputs(account, updateAll)
	if err != nil {
		return false, errors.Wrap(err, "cannot collect wallet outputs")
	}

	commits := make([]string, 0, len(candidates))
	for commit := range candidates {
		commits = append(commits, commit)
	}
	sort.Strings(commits)

	apiOutputs, err := t.node.GetOutputsFromNode(ctx, commits)
	if err != nil {
		return false, errors.Wrap(err, "cannot get outputs from node")
	}

	lastConfirmed, err := t.store.LastConfirmedHeight(account)
	if err != nil {
		return false, err
	}
	if tip.Height < lastConfirmed {
		log.Updater.Warn().
			Err(ErrStaleChain).
			Uint64("tip", tip.Height).
			Uint64("last_confirmed_height", lastConfirmed).
			Str("account", account.String()).
			Msg("node is behind, skipping refresh")
		return false, nil
	}

	err = t.applyAPIOutputs(account, commits, candidates, apiOutputs, tip.Height)
	if err != nil {
		return false, errors.Wrap(err, "cannot apply node outputs")
	}

	err = t.cleanOldUnconfirmed(account, tip.Height)
	if err != nil {
		return false, errors.Wrap(err, "cannot clean old unconfirmed outputs")
	}

	log.Updater.Debug().
		Uint64("tip", tip.Height).
		Int("checked", len(commits)).
		Int("found", len(apiOutputs)).
		Msg("refreshed outputs")

	return true, nil
}

// mapWalletOutputs pairs every live output to check with its commitment.
func (t *Wallet) mapWalletOutputs(account keychain.Identifier, updateAll bool) (map[string]OutputData, error) {
	var outstanding map[uint32]bool
	if !updateAll {
		entries, err := t.store.TxLog(account, TxLogFilter{OutstandingOnly: true})
		if err != nil {
			return nil, err
		}
		outstanding = make(map[uint32]bool, len(entries))
		for _, entry := range entries {
			outstanding[entry.ID] = true
		}
	}

	it := t.store.Iter(account, OutputFilter{Statuses: []OutputStatus{OutputUnspent, OutputUnconfirmed, OutputLocked}})
	defer it.Release()

	candidates := make(map[string]OutputData)
	for ok := it.First(); ok; ok = it.Next() {
		out := it.Output()
		if !updateAll && out.TxLogEntry != nil && !outstanding[*out.TxLogEntry] {
			continue
		}
		commit, err := t.ResolveCommitment(out)
		if err != nil {
			return nil, err
		}
		candidates[commit] = out
	}
	if err := it.Error(); err != nil {
		return nil, err
	}
	return candidates, nil
}

func (t *Wallet) applyAPIOutputs(
	account keychain.Identifier,
	commits []string,
	candidates map[string]OutputData,
	apiOutputs map[string]nodeclient.OutputInfo,
	height uint64,
) error {
	batch, err := t.store.Batch(account)
	if err != nil {
		return err
	}
	defer batch.Discard()

	for _, commit := range commits {
		output, err := batch.Get(candidates[commit].KeyID)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return err
		}

		info, found := apiOutputs[commit]
		if !found {
			output.MarkSpent()
			err = batch.Save(output)
			if err != nil {
				return err
			}
			continue
		}

		if output.Status == OutputUnconfirmed {
			if output.IsCoinbase {
				err = t.logConfirmedCoinbase(batch, account, &output, commit, info)
			} else {
				err = confirmTxLogEntry(batch, output)
			}
			if err != nil {
				return err
			}
		}

		output.Height = info.Height
		mmrIndex := info.MMRIndex
		output.MMRIndex = &mmrIndex
		if output.Commit == nil {
			c := commit
			output.Commit = &c
		}
		output.MarkUnspent()

		err = batch.Save(output)
		if err != nil {
			return err
		}
	}

	err = batch.SaveLastConfirmedHeight(height)
	if err != nil {
		return err
	}

	return batch.Commit()
}

// logConfirmedCoinbase records the first confirmation of a reward output.
func (t *Wallet) logConfirmedCoinbase(batch Batch, account keychain.Identifier, output *OutputData, commit string, info nodeclient.OutputInfo) error {
	logID, err := batch.NextTxLogID()
	if err != nil {
		return err
	}

	txType := ConfirmedCoinbase
	if output.IsFoundation {
		txType = ConfirmedFoundation
	}

	entry := NewTxLogEntry(account, txType, logID)
	entry.Confirmed = true
	entry.AmountCredited = output.Value
	entry.NumOutputs = 1

	excess, err := coinbaseExcess(commit, output.Value)
	if err != nil {
		return err
	}
	entry.KernelExcess = &excess
	lookupHeight := info.Height
	entry.KernelLookupMinHeight = &lookupHeight
	entry.UpdateConfirmationTs()

	output.TxLogEntry = &logID

	return batch.SaveTxLogEntry(entry)
}

// coinbaseExcess is commit - value*H.
func coinbaseExcess(commit string, value uint64) (string, error) {
	c, err := secp.CommitmentFromString(commit)
	if err != nil {
		return "", errors.Wrap(err, "cannot parse coinbase commitment")
	}
	overCommit, err := secp.CommitValue(value)
	if err != nil {
		return "", err
	}
	excess, err := secp.CommitSum([]secp.Commitment{c}, []secp.Commitment{overCommit})
	if err != nil {
		return "", errors.Wrap(err, "cannot calculate coinbase excess")
	}
	return excess.String(), nil
}

func confirmTxLogEntry(batch Batch, output OutputData) error {
	if output.TxLogEntry == nil {
		return nil
	}
	entries, err := batch.TxLogEntries(TxLogFilter{ID: output.TxLogEntry})
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if entry.Confirmed {
			continue
		}
		entry.Confirmed = true
		entry.UpdateConfirmationTs()
		err = batch.SaveTxLogEntry(entry)
		if err != nil {
			return err
		}
	}
	return nil
}

func (t *Wallet) cleanOldUnconfirmed(account keychain.Identifier, height uint64) error {
	batch, err := t.store.Batch(account)
	if err != nil {
		return err
	}
	defer batch.Discard()

	outputs, err := batch.Outputs(OutputFilter{Statuses: []OutputStatus{OutputUnconfirmed}})
	if err != nil {
		return err
	}

	purged := 0
	for _, out := range outputs {
		if out.IsCoinbase && out.Height > 0 && out.Height+unconfirmedCoinbaseHorizon <= height {
			err = batch.Delete(out.KeyID, nil)
			if err != nil {
				return err
			}
			purged++
		}
	}

	if purged == 0 {
		return nil
	}

	log.Updater.Debug().Int("purged", purged).Uint64("height", height).Msg("purged abandoned coinbase outputs")

	return batch.Commit()
}

// RetrieveSummaryInfo totals the outputs of account by spendability at the
// last confirmed height.
func (t *Wallet) RetrieveSummaryInfo(account keychain.Identifier, minimumConfirmations uint64) (*WalletInfo, error) {
	currentHeight, err := t.store.LastConfirmedHeight(account)
	if err != nil {
		return nil, err
	}

	var unspentTotal, immatureTotal, awaitingFinalizationTotal, unconfirmedTotal, lockedTotal uint64

	it := t.store.Iter(account, OutputFilter{})
	defer it.Release()

	for ok := it.First(); ok; ok = it.Next() {
		out := it.Output()
		switch out.Status {
		case OutputUnspent:
			if out.IsImmature(t.params, currentHeight) {
				immatureTotal += out.Value
			} else if out.NumConfirmations(currentHeight) < minimumConfirmations {
				unconfirmedTotal += out.Value
			} else {
				unspentTotal += out.Value
			}
		case OutputUnconfirmed:
			// unconfirmed coinbase outputs are not counted
			if !out.IsCoinbase {
				if minimumConfirmations == 0 {
					unconfirmedTotal += out.Value
				} else {
					awaitingFinalizationTotal += out.Value
				}
			}
		case OutputLocked:
			lockedTotal += out.Value
		}
	}
	if err := it.Error(); err != nil {
		return nil, err
	}

	return &WalletInfo{
		LastConfirmedHeight:        currentHeight,
		MinimumConfirmations:       minimumConfirmations,
		Total:                      unspentTotal + unconfirmedTotal + immatureTotal,
		AmountAwaitingFinalization: awaitingFinalizationTotal,
		AmountAwaitingConfirmation: unconfirmedTotal,
		AmountImmature:             immatureTotal,
		AmountLocked:               lockedTotal,
		AmountCurrentlySpendable:   unspentTotal,
	}, nil
}
