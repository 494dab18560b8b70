package wallet

import (
	"github.com/pkg/errors"

	"github.com/olegabu/go-mimblewimble/keychain"
)

// nextAvailableKey allocates a fresh child of the batch's account.
func nextAvailableKey(batch Batch) (keychain.Identifier, error) {
	return batch.NextChild()
}

// retrieveExistingKey returns the tracked output of keyID in the batch's
// account.
func retrieveExistingKey(batch Batch, account keychain.Identifier, keyID keychain.Identifier) (OutputData, error) {
	if keyID.Parent() != account {
		return OutputData{}, errors.Wrapf(ErrNotFound, "key %v is not in account %v", keyID, account)
	}
	return batch.Get(keyID)
}

func newOutput(account keychain.Identifier, keyID keychain.Identifier, value uint64, commit string) OutputData {
	return OutputData{
		RootKeyID: account,
		KeyID:     keyID,
		NChild:    keyID.LastPathIndex(),
		Commit:    &commit,
		Value:     value,
		Status:    OutputUnconfirmed,
	}
}
