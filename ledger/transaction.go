package ledger

import (
	"encoding/binary"

	"github.com/blockcypher/libgrin/core"
	"github.com/pkg/errors"
	"golang.org/x/crypto/blake2b"

	"github.com/olegabu/go-mimblewimble/secp"
)

// msg = hash(features)                       for coinbase kernels
//       hash(features || fee)                for plain kernels
//       hash(features || fee || lock_height) for height locked kernels
func KernelSignatureMessage(kernel core.TxKernel) []byte {
	featuresBytes := []byte{byte(kernel.Features)}
	feeBytes := make([]byte, 8)
	lockHeightBytes := make([]byte, 8)
	binary.BigEndian.PutUint64(feeBytes, uint64(kernel.Fee))
	binary.BigEndian.PutUint64(lockHeightBytes, uint64(kernel.LockHeight))

	hash, _ := blake2b.New256(nil)
	hash.Write(featuresBytes)
	if kernel.Features == core.PlainKernel {
		hash.Write(feeBytes)
	} else if kernel.Features == core.HeightLockedKernel {
		hash.Write(feeBytes)
		hash.Write(lockHeightBytes)
	}
	return hash.Sum(nil)
}

// CalculateExcess sums the body commitments the kernel excess has to match:
// outputs + fee*H - inputs - offset*G.
func CalculateExcess(tx *core.Transaction, fee uint64) (secp.Commitment, error) {
	var positive, negative []secp.Commitment

	for i, input := range tx.Body.Inputs {
		com, err := secp.CommitmentFromString(input.Commit)
		if err != nil {
			return secp.Commitment{}, errors.Wrapf(err, "cannot parse input commitment %d", i)
		}
		negative = append(negative, com)
	}

	for i, output := range tx.Body.Outputs {
		com, err := secp.CommitmentFromString(output.Commit)
		if err != nil {
			return secp.Commitment{}, errors.Wrapf(err, "cannot parse output commitment %d", i)
		}
		positive = append(positive, com)
	}

	if fee != 0 {
		feeCommitment, err := secp.CommitValue(fee)
		if err != nil {
			return secp.Commitment{}, errors.Wrap(err, "cannot calculate fee commitment")
		}
		positive = append(positive, feeCommitment)
	}

	if tx.Offset != "" {
		offset, err := secp.SecretKeyFromString(tx.Offset)
		if err != nil {
			return secp.Commitment{}, errors.Wrap(err, "cannot decode offset")
		}
		if !offset.IsZero() {
			offsetCommitment, err := secp.Commit(0, offset)
			if err != nil {
				return secp.Commitment{}, errors.Wrap(err, "cannot calculate offset commitment")
			}
			negative = append(negative, offsetCommitment)
		}
	}

	excess, err := secp.CommitSum(positive, negative)
	if err != nil {
		return secp.Commitment{}, errors.Wrap(err, "cannot sum commitments")
	}
	return excess, nil
}
