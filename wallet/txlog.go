package wallet

import (
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/olegabu/go-mimblewimble/internal/log"
	"github.com/olegabu/go-mimblewimble/keychain"
	"github.com/olegabu/go-mimblewimble/ledger"
)

// RetrieveTxs lists the tx log of account, optionally narrowed to one entry
// by id or slate id.
func (t *Wallet) RetrieveTxs(account keychain.Identifier, id *uint32, slateID *uuid.UUID, outstandingOnly bool) ([]TxLogEntry, error) {
	return t.store.TxLog(account, TxLogFilter{ID: id, SlateID: slateID, OutstandingOnly: outstandingOnly})
}

// GetStoredTx returns the finalized transaction recorded by entry.
func (t *Wallet) GetStoredTx(entry TxLogEntry) (*ledger.Transaction, error) {
	if entry.StoredTx == nil {
		return nil, errors.Wrapf(ErrNotFound, "tx log entry %d has no stored transaction", entry.ID)
	}
	return t.store.GetStoredTx(*entry.StoredTx)
}

// CancelTx cancels an unconfirmed send or receive found by id or slate id.
func (t *Wallet) CancelTx(account keychain.Identifier, id *uint32, slateID *uuid.UUID) error {
	if id == nil && slateID == nil {
		return errors.New("cannot cancel without a tx id or slate id")
	}

	entries, err := t.RetrieveTxs(account, id, slateID, false)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return errors.Wrap(ErrNotFound, "no such transaction")
	}
	entry := entries[0]

	if entry.Confirmed {
		return errors.Wrapf(ErrNotCancellable, "transaction %d is confirmed", entry.ID)
	}
	if _, ok := entry.TxType.Cancelled(); !ok {
		return errors.Wrapf(ErrNotCancellable, "transaction %d is %v", entry.ID, entry.TxType)
	}

	outputs, err := t.store.ListOutputs(account, OutputFilter{TxLogID: &entry.ID})
	if err != nil {
		return err
	}

	return t.CancelTxAndOutputs(account, entry, outputs)
}

// CancelTxAndOutputs reverts a transaction in one batch: its unconfirmed
// outputs are deleted, its locked inputs unlocked and the entry marked
// cancelled. The entry and outputs are re-read inside the batch, so a
// refresh committed in between wins over the caller's copies.
func (t *Wallet) CancelTxAndOutputs(account keychain.Identifier, entry TxLogEntry, outputs []OutputData) error {
	batch, err := t.store.Batch(account)
	if err != nil {
		return err
	}
	defer batch.Discard()

	current, err := batch.TxLogEntries(TxLogFilter{ID: &entry.ID})
	if err != nil {
		return err
	}
	if len(current) > 0 {
		entry = current[0]
	}
	if entry.Confirmed {
		return errors.Wrapf(ErrNotCancellable, "transaction %d is confirmed", entry.ID)
	}
	cancelled, ok := entry.TxType.Cancelled()
	if !ok {
		return errors.Wrapf(ErrNotCancellable, "transaction %d is %v", entry.ID, entry.TxType)
	}

	for _, stale := range outputs {
		out, err := batch.Get(stale.KeyID)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		switch out.Status {
		case OutputUnconfirmed:
			err = batch.Delete(out.KeyID, &entry.ID)
		case OutputLocked:
			out.Status = OutputUnspent
			err = batch.Save(out)
		}
		if err != nil {
			return err
		}
	}

	entry.TxType = cancelled
	err = batch.SaveTxLogEntry(entry)
	if err != nil {
		return err
	}

	if entry.TxSlateID != nil {
		err = batch.DeleteContext(*entry.TxSlateID)
		if err != nil {
			return err
		}
	}

	err = batch.Commit()
	if err != nil {
		return err
	}

	log.Wallet.Info().Uint32("tx_id", entry.ID).Str("type", cancelled.String()).Msg("cancelled transaction")
	return nil
}
