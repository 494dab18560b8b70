package wallet

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/olegabu/go-mimblewimble/nodeclient"
)

var (
	ErrDerivation                = errors.New("key derivation error")
	ErrTransport                 = nodeclient.ErrTransport
	ErrLedgerLocked              = errors.New("wallet ledger is locked by another batch")
	ErrInvalidSignature          = errors.New("invalid signature")
	ErrIncompleteParticipantData = errors.New("incomplete participant data")
	ErrKernelMismatch            = errors.New("kernel excess does not match the transaction")
	ErrStaleChain                = errors.New("node is behind the last confirmed height")
	ErrNotFound                  = errors.New("not found")
	ErrUnsupportedSlate          = errors.New("unsupported slate")
	ErrNotEnoughFunds            = errors.New("not enough funds")
	ErrNotCancellable            = errors.New("transaction cannot be cancelled")
	ErrAlreadyReceived           = errors.New("slate already received")
)

// InvalidSignatureError lists the participants whose message signature does
// not verify.
type InvalidSignatureError struct {
	Participants []int
}

func (t *InvalidSignatureError) Error() string {
	ids := make([]string, len(t.Participants))
	for i, p := range t.Participants {
		ids[i] = fmt.Sprintf("%d", p)
	}
	return fmt.Sprintf("invalid message signature from participants [%s]", strings.Join(ids, ", "))
}

func (t *InvalidSignatureError) Is(target error) bool {
	return target == ErrInvalidSignature
}
