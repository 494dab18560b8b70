package ledger

import (
	"encoding/json"
	"strings"

	"github.com/blockcypher/libgrin/core"
	"github.com/pkg/errors"

	"github.com/olegabu/go-mimblewimble/secp"
)

func ValidateTransaction(tx *core.Transaction) error {
	errSig := validateSignature(tx)
	errPrf := validateProofs(tx.Body.Outputs)
	errSum := validateCommitmentsSum(tx)

	var errs []string
	if errSig != nil {
		errs = append(errs, "validateSignature: "+errSig.Error())
	}
	if errSum != nil {
		errs = append(errs, "validateCommitmentsSum: "+errSum.Error())
	}
	if errPrf != nil {
		errs = append(errs, "validateProofs: "+errPrf.Error())
	}

	if len(errs) > 0 {
		return errors.Errorf("transaction validation failed [%s]", strings.Join(errs, ", "))
	}

	return nil
}

func ValidateTransactionBytes(txBytes []byte) (ledgerTx *Transaction, err error) {
	ledgerTx = &Transaction{}

	err = json.Unmarshal(txBytes, ledgerTx)
	if err != nil {
		return nil, errors.Wrap(err, "cannot unmarshal json to Transaction")
	}

	err = ValidateTransaction(&ledgerTx.Transaction)

	return
}

// ValidateCoinbase checks a reward output and kernel: the kernel signs for the
// output's blinding factor and the output opens to value.
func ValidateCoinbase(output core.Output, kernel core.TxKernel, value uint64) error {
	if output.Features != core.CoinbaseOutput {
		return errors.New("output is not a coinbase output")
	}
	if kernel.Features != core.CoinbaseKernel || kernel.Fee != 0 {
		return errors.New("kernel is not a coinbase kernel")
	}

	commit, err := secp.CommitmentFromString(output.Commit)
	if err != nil {
		return errors.Wrap(err, "cannot decode output commitment")
	}
	proof, err := secp.SignatureFromString(output.Proof)
	if err != nil {
		return errors.Wrap(err, "cannot decode output proof")
	}
	err = secp.VerifyOpeningProof(proof, commit, value)
	if err != nil {
		return errors.Wrap(err, "output does not open to the reward")
	}

	excess, err := secp.CommitmentFromString(kernel.Excess)
	if err != nil {
		return errors.Wrap(err, "cannot decode kernel excess")
	}
	valueCommit, err := secp.CommitValue(value)
	if err != nil {
		return err
	}
	expected, err := secp.CommitSum([]secp.Commitment{commit}, []secp.Commitment{valueCommit})
	if err != nil {
		return errors.Wrap(err, "cannot calculate expected excess")
	}
	if expected != excess {
		return errors.New("kernel excess does not match the output")
	}

	return verifyKernel(kernel)
}

func verifyKernel(kernel core.TxKernel) error {
	excessSig, err := secp.SignatureFromString(kernel.ExcessSig)
	if err != nil {
		return errors.Wrap(err, "cannot decode ExcessSig")
	}
	excess, err := secp.CommitmentFromString(kernel.Excess)
	if err != nil {
		return errors.Wrap(err, "cannot decode Excess")
	}
	publicKey, err := secp.CommitmentToPublicKey(excess)
	if err != nil {
		return errors.Wrap(err, "CommitmentToPublicKey failed")
	}

	err = secp.VerifySingle(excessSig, KernelSignatureMessage(kernel), publicKey)
	if err != nil {
		return errors.Wrap(err, "VerifySingle failed")
	}

	return nil
}

func validateSignature(tx *core.Transaction) error {
	if len(tx.Body.Kernels) < 1 {
		return errors.New("no entries in Kernels")
	}
	for i, kernel := range tx.Body.Kernels {
		if err := verifyKernel(kernel); err != nil {
			return errors.Wrapf(err, "kernel %d", i)
		}
	}
	return nil
}

func validateCommitmentsSum(tx *core.Transaction) error {
	if len(tx.Body.Kernels) != 1 {
		return errors.New("expected one kernel in the transaction")
	}
	kernel := tx.Body.Kernels[0]

	kernelExcess, err := CalculateExcess(tx, uint64(kernel.Fee))
	if err != nil {
		return errors.Wrap(err, "cannot calculate kernel excess")
	}

	if kernelExcess.String() != kernel.Excess {
		return errors.New("kernel excess verification failed")
	}

	return nil
}

// Range proofs are not produced by this wallet; outputs carry an opening
// proof, which only the owner can check against the value. Here it is only
// decoded.
func validateProofs(outputs []core.Output) error {
	for i, output := range outputs {
		if _, err := secp.CommitmentFromString(output.Commit); err != nil {
			return errors.Wrapf(err, "cannot decode commitment of output #%d", i)
		}
		if _, err := secp.SignatureFromString(output.Proof); err != nil {
			return errors.Wrapf(err, "cannot decode proof of output #%d", i)
		}
	}
	return nil
}
