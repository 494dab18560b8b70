package ledger

import (
	"github.com/blockcypher/libgrin/core"
	"github.com/google/uuid"
)

// Transaction is a finalized transaction as it is stored by the wallet and
// posted to the node, tagged with the id of the slate that built it.
type Transaction struct {
	core.Transaction
	ID uuid.UUID `json:"id,omitempty"`
}
