package wallet

import (
	"github.com/google/uuid"

	"github.com/olegabu/go-mimblewimble/keychain"
	"github.com/olegabu/go-mimblewimble/ledger"
)

type OutputFilter struct {
	// empty means any status
	Statuses []OutputStatus
	TxLogID  *uint32
	// also yield outputs archived as Deleted
	IncludeHistory bool
	// order by derivation index then tx log id; honored by ListOutputs only
	DisplayOrder bool
}

type TxLogFilter struct {
	ID              *uint32
	SlateID         *uuid.UUID
	OutstandingOnly bool
}

// OutputIterator walks outputs of one account in insertion order over a
// snapshot of committed state.
type OutputIterator interface {
	// First rewinds and positions at the first match.
	First() bool
	Next() bool
	Output() OutputData
	Error() error
	Release()
}

// Store is the persisted wallet state. Every write goes through a Batch.
type Store interface {
	Iter(account keychain.Identifier, filter OutputFilter) OutputIterator
	ListOutputs(account keychain.Identifier, filter OutputFilter) ([]OutputData, error)
	GetOutput(account keychain.Identifier, keyID keychain.Identifier) (OutputData, error)
	TxLog(account keychain.Identifier, filter TxLogFilter) ([]TxLogEntry, error)
	LastConfirmedHeight(account keychain.Identifier) (uint64, error)
	GetContext(account keychain.Identifier, slateID uuid.UUID) (*Context, error)
	GetStoredTx(name string) (*ledger.Transaction, error)

	Accounts() ([]AcctPathMapping, error)
	GetAccount(label string) (keychain.Identifier, error)
	CreateAccount(label string) (keychain.Identifier, error)

	// Batch opens the exclusive write batch of an account, failing with
	// ErrLedgerLocked while another one is open.
	Batch(account keychain.Identifier) (Batch, error)
	Close() error
}

// Batch is an atomic set of writes to one account. Reads through the batch
// see its own writes. Nothing is visible to others until Commit; Discard
// drops everything.
type Batch interface {
	Save(out OutputData) error
	Get(keyID keychain.Identifier) (OutputData, error)
	// Delete removes an output. With a tx log id, a copy marked Deleted is
	// kept in history.
	Delete(keyID keychain.Identifier, txLogID *uint32) error
	Outputs(filter OutputFilter) ([]OutputData, error)

	NextTxLogID() (uint32, error)
	NextChild() (keychain.Identifier, error)
	SaveTxLogEntry(entry TxLogEntry) error
	TxLogEntries(filter TxLogFilter) ([]TxLogEntry, error)
	SaveLastConfirmedHeight(height uint64) error

	SaveContext(ctx Context) error
	DeleteContext(slateID uuid.UUID) error
	SaveStoredTx(name string, tx *ledger.Transaction) error

	Commit() error
	Discard()
}
