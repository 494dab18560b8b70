package wallet

import (
	"fmt"
	"time"

	"github.com/blockcypher/libgrin/core"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/olegabu/go-mimblewimble/chain"
	"github.com/olegabu/go-mimblewimble/keychain"
	"github.com/olegabu/go-mimblewimble/secp"
)

type OutputStatus int

const (
	OutputUnconfirmed OutputStatus = iota
	OutputUnspent
	OutputLocked
	OutputSpent
	OutputDeleted
)

var outputStatusNames = []string{"Unconfirmed", "Unspent", "Locked", "Spent", "Deleted"}

func (t OutputStatus) String() string {
	if int(t) >= 0 && int(t) < len(outputStatusNames) {
		return outputStatusNames[t]
	}
	return fmt.Sprintf("%d", int(t))
}

func (t OutputStatus) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *OutputStatus) UnmarshalText(text []byte) error {
	for i, name := range outputStatusNames {
		if name == string(text) {
			*t = OutputStatus(i)
			return nil
		}
	}
	return errors.Errorf("unknown output status %q", text)
}

// OutputData is an output tracked by the wallet.
type OutputData struct {
	RootKeyID  keychain.Identifier `json:"root_key_id"`
	KeyID      keychain.Identifier `json:"key_id"`
	NChild     uint32              `json:"n_child"`
	Commit     *string             `json:"commit"`
	MMRIndex   *uint64             `json:"mmr_index"`
	Value      uint64              `json:"value"`
	Status     OutputStatus        `json:"status"`
	Height     uint64              `json:"height"`
	LockHeight uint64              `json:"lock_height"`
	IsCoinbase bool                `json:"is_coinbase"`
	// coinbase outputs paying the foundation
	IsFoundation bool    `json:"is_foundation,omitempty"`
	TxLogEntry   *uint32 `json:"tx_log_entry"`
	// insertion sequence, assigned by the store
	Seq uint64 `json:"seq"`
}

// MarkUnspent confirms an output. Only Unconfirmed outputs move.
func (t *OutputData) MarkUnspent() {
	if t.Status == OutputUnconfirmed {
		t.Status = OutputUnspent
	}
}

// MarkSpent records that the node no longer has the output. Only Unspent
// and Locked outputs move.
func (t *OutputData) MarkSpent() {
	if t.Status == OutputUnspent || t.Status == OutputLocked {
		t.Status = OutputSpent
	}
}

func (t *OutputData) Lock() {
	if t.Status == OutputUnspent {
		t.Status = OutputLocked
	}
}

func (t *OutputData) NumConfirmations(currentHeight uint64) uint64 {
	if t.Height > currentHeight || t.Status == OutputUnconfirmed {
		return 0
	}
	return 1 + (currentHeight - t.Height)
}

// IsImmature reports whether a coinbase output is still below its lock
// height or the network's maturity at currentHeight.
func (t *OutputData) IsImmature(params *chain.Params, currentHeight uint64) bool {
	if !t.IsCoinbase {
		return false
	}
	return t.LockHeight > currentHeight || !params.IsMature(t.Height, currentHeight)
}

func (t *OutputData) EligibleToSpend(params *chain.Params, currentHeight uint64, minimumConfirmations uint64) bool {
	if t.Status != OutputUnspent {
		return false
	}
	if t.IsImmature(params, currentHeight) {
		return false
	}
	return t.NumConfirmations(currentHeight) >= minimumConfirmations
}

type TxLogEntryType int

const (
	ConfirmedCoinbase TxLogEntryType = iota
	TxReceived
	TxSent
	TxReceivedCancelled
	TxSentCancelled
	ConfirmedFoundation
)

var txLogEntryTypeNames = []string{
	"ConfirmedCoinbase",
	"TxReceived",
	"TxSent",
	"TxReceivedCancelled",
	"TxSentCancelled",
	"ConfirmedFoundation",
}

func (t TxLogEntryType) String() string {
	if int(t) >= 0 && int(t) < len(txLogEntryTypeNames) {
		return txLogEntryTypeNames[t]
	}
	return fmt.Sprintf("%d", int(t))
}

func (t TxLogEntryType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *TxLogEntryType) UnmarshalText(text []byte) error {
	for i, name := range txLogEntryTypeNames {
		if name == string(text) {
			*t = TxLogEntryType(i)
			return nil
		}
	}
	return errors.Errorf("unknown tx log entry type %q", text)
}

// Cancelled returns the type an entry takes when it is cancelled.
func (t TxLogEntryType) Cancelled() (TxLogEntryType, bool) {
	switch t {
	case TxReceived:
		return TxReceivedCancelled, true
	case TxSent:
		return TxSentCancelled, true
	}
	return t, false
}

type TxLogEntry struct {
	ParentKeyID           keychain.Identifier `json:"parent_key_id"`
	ID                    uint32              `json:"id"`
	TxSlateID             *uuid.UUID          `json:"tx_slate_id"`
	TxType                TxLogEntryType      `json:"tx_type"`
	CreationTs            time.Time           `json:"creation_ts"`
	ConfirmationTs        *time.Time          `json:"confirmation_ts"`
	Confirmed             bool                `json:"confirmed"`
	NumInputs             int                 `json:"num_inputs"`
	NumOutputs            int                 `json:"num_outputs"`
	AmountCredited        uint64              `json:"amount_credited"`
	AmountDebited         uint64              `json:"amount_debited"`
	Fee                   *uint64             `json:"fee"`
	TTLCutoffHeight       *uint64             `json:"ttl_cutoff_height"`
	Messages              []string            `json:"messages,omitempty"`
	StoredTx              *string             `json:"stored_tx"`
	KernelExcess          *string             `json:"kernel_excess"`
	KernelLookupMinHeight *uint64             `json:"kernel_lookup_min_height"`
}

func NewTxLogEntry(parentKeyID keychain.Identifier, txType TxLogEntryType, id uint32) TxLogEntry {
	return TxLogEntry{
		ParentKeyID: parentKeyID,
		ID:          id,
		TxType:      txType,
		CreationTs:  time.Now().UTC(),
	}
}

func (t *TxLogEntry) UpdateConfirmationTs() {
	now := time.Now().UTC()
	t.ConfirmationTs = &now
}

func (t *TxLogEntry) IsOutstanding() bool {
	return !t.Confirmed && (t.TxType == TxSent || t.TxType == TxReceived)
}

type BlockFees struct {
	Fees   uint64               `json:"fees"`
	Height uint64               `json:"height"`
	KeyID  *keychain.Identifier `json:"key_id"`
}

type CbData struct {
	Output core.Output         `json:"output"`
	Kernel core.TxKernel       `json:"kernel"`
	KeyID  keychain.Identifier `json:"key_id"`
}

type WalletInfo struct {
	LastConfirmedHeight        uint64 `json:"last_confirmed_height"`
	MinimumConfirmations       uint64 `json:"minimum_confirmations"`
	Total                      uint64 `json:"total"`
	AmountAwaitingFinalization uint64 `json:"amount_awaiting_finalization"`
	AmountAwaitingConfirmation uint64 `json:"amount_awaiting_confirmation"`
	AmountImmature             uint64 `json:"amount_immature"`
	AmountLocked               uint64 `json:"amount_locked"`
	AmountCurrentlySpendable   uint64 `json:"amount_currently_spendable"`
}

// Context is the secret half of this wallet's participation in a slate,
// kept until the slate is finalized or cancelled.
type Context struct {
	SlateID       uuid.UUID             `json:"slate_id"`
	ParticipantID int                   `json:"participant_id"`
	ParentKeyID   keychain.Identifier   `json:"parent_key_id"`
	SecKey        secp.SecretKey        `json:"sec_key"`
	SecNonce      secp.SecretKey        `json:"sec_nonce"`
	Inputs        []keychain.Identifier `json:"inputs"`
	Outputs       []keychain.Identifier `json:"outputs"`
	Fee           uint64                `json:"fee"`
	IsInvoice     bool                  `json:"is_invoice"`
	TxLogID       uint32                `json:"tx_log_id"`
}

type AcctPathMapping struct {
	Label string              `json:"label"`
	Path  keychain.Identifier `json:"path"`
}

// InitTxArgs parameterizes building a new send.
type InitTxArgs struct {
	Amount                    uint64
	MinimumConfirmations      uint64
	MaxOutputs                int
	NumChangeOutputs          int
	SelectionStrategyIsUseAll bool
	Message                   string
	TTLBlocks                 *uint64
	NumParticipants           int
}
