package wallet

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/olegabu/go-mimblewimble/chain"
	"github.com/olegabu/go-mimblewimble/keychain"
	"github.com/olegabu/go-mimblewimble/ledger"
	"github.com/olegabu/go-mimblewimble/secp"
)

var account = keychain.DefaultAccount

func sendArgs(amount uint64) InitTxArgs {
	return InitTxArgs{Amount: amount, MinimumConfirmations: 1, Message: "for the coffee"}
}

func TestSendReceiveFinalize(t *testing.T) {
	sender, senderNode := newTestWallet(t, senderMnemonic)
	receiver, receiverNode := newTestWallet(t, receiverMnemonic)
	fund(t, sender, senderNode, 1, 10)

	amount := uint64(10 * chain.Base)
	slate, err := sender.InitSend(account, sendArgs(amount))
	require.NoError(t, err)
	assert.Equal(t, chain.Usernet.TxFee(1, 2, 1), slate.Fee)
	require.Len(t, slate.ParticipantData, 1)

	locked, err := sender.RetrieveOutputs(account, false, nil)
	require.NoError(t, err)
	statuses := map[OutputStatus]int{}
	for _, out := range locked {
		statuses[out.Status]++
	}
	assert.Equal(t, map[OutputStatus]int{OutputLocked: 1, OutputUnconfirmed: 1}, statuses)

	reply := "thanks"
	received, err := receiver.Receive(account, slate, &reply)
	require.NoError(t, err)
	require.Len(t, received.ParticipantData, 2)
	assert.Len(t, slate.ParticipantData, 1, "receive must not modify its argument")

	_, err = receiver.Receive(account, slate, nil)
	assert.ErrorIs(t, err, ErrAlreadyReceived)

	final, err := sender.Finalize(account, received)
	require.NoError(t, err)
	require.NoError(t, ledger.ValidateTransaction(&final.Transaction))

	keySum, err := final.PubBlindSum()
	require.NoError(t, err)
	excess, err := secp.PublicKeyToCommitment(keySum)
	require.NoError(t, err)
	bodyExcess, err := ledger.CalculateExcess(&final.Transaction, final.Fee)
	require.NoError(t, err)
	assert.Equal(t, excess, bodyExcess)
	assert.Equal(t, excess.String(), final.Transaction.Body.Kernels[0].Excess)

	txs, err := sender.RetrieveTxs(account, nil, &slate.ID, false)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, TxSent, txs[0].TxType)
	assert.Equal(t, []string{"for the coffee", "thanks"}, txs[0].Messages)
	stored, err := sender.GetStoredTx(txs[0])
	require.NoError(t, err)
	assert.Equal(t, final.Transaction.Body.Kernels[0].Excess, stored.Body.Kernels[0].Excess)
	assert.Len(t, stored.Body.Outputs, 2)
	assert.Equal(t, slate.ID, stored.ID)

	_, err = sender.Store().GetContext(account, slate.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	// the node includes the transaction
	for _, out := range final.Transaction.Body.Outputs {
		receiverNode.confirm(out.Commit, 11)
	}
	refresh(t, receiver)

	rtxs, err := receiver.RetrieveTxs(account, nil, &slate.ID, false)
	require.NoError(t, err)
	require.Len(t, rtxs, 1)
	assert.Equal(t, TxReceived, rtxs[0].TxType)
	assert.True(t, rtxs[0].Confirmed)
	assert.Equal(t, amount, rtxs[0].AmountCredited)

	info, err := receiver.RetrieveSummaryInfo(account, 1)
	require.NoError(t, err)
	assert.Equal(t, amount, info.AmountCurrentlySpendable)
}

func TestInvoiceFlow(t *testing.T) {
	payer, payerNode := newTestWallet(t, senderMnemonic)
	payee, _ := newTestWallet(t, receiverMnemonic)
	fund(t, payer, payerNode, 1, 10)

	amount := uint64(3 * chain.Base)
	message := "invoice 42"
	invoice, err := payee.IssueInvoice(account, amount, &message)
	require.NoError(t, err)
	assert.Zero(t, invoice.Fee)

	paid, err := payer.ProcessInvoice(account, invoice, InitTxArgs{MinimumConfirmations: 1})
	require.NoError(t, err)
	assert.Equal(t, amount, paid.Amount)
	assert.NotZero(t, paid.Fee)
	require.NotNil(t, paid.ParticipantData[1].PartSig)

	final, err := payee.Finalize(account, paid)
	require.NoError(t, err)
	require.NoError(t, ledger.ValidateTransaction(&final.Transaction))

	txs, err := payee.RetrieveTxs(account, nil, &invoice.ID, false)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, TxReceived, txs[0].TxType)
	require.NotNil(t, txs[0].KernelExcess)

	ptxs, err := payer.RetrieveTxs(account, nil, &invoice.ID, false)
	require.NoError(t, err)
	require.Len(t, ptxs, 1)
	assert.Equal(t, TxSent, ptxs[0].TxType)
}

func TestFinalizeRejectsIncompleteSlate(t *testing.T) {
	sender, node := newTestWallet(t, senderMnemonic)
	fund(t, sender, node, 1, 10)

	slate, err := sender.InitSend(account, sendArgs(chain.Base))
	require.NoError(t, err)

	_, err = sender.Finalize(account, slate)
	assert.ErrorIs(t, err, ErrIncompleteParticipantData)
}

func TestFinalizeRejectsKernelMismatch(t *testing.T) {
	sender, node := newTestWallet(t, senderMnemonic)
	receiver, _ := newTestWallet(t, receiverMnemonic)
	fund(t, sender, node, 1, 10)

	amount := uint64(2 * chain.Base)
	slate, err := sender.InitSend(account, sendArgs(amount))
	require.NoError(t, err)
	received, err := receiver.Receive(account, slate, nil)
	require.NoError(t, err)

	blind, err := secp.RandomSecret()
	require.NoError(t, err)
	forged, err := secp.Commit(amount+1, blind)
	require.NoError(t, err)
	tampered := received.Copy()
	tampered.Transaction.Body.Outputs[0].Commit = forged.String()

	_, err = sender.Finalize(account, tampered)
	assert.ErrorIs(t, err, ErrKernelMismatch)
	assert.False(t, errors.Is(err, ErrIncompleteParticipantData))

	// nothing is consumed by the failed attempt
	_, err = sender.Store().GetContext(account, slate.ID)
	require.NoError(t, err)
	txs, err := sender.RetrieveTxs(account, nil, &slate.ID, false)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Nil(t, txs[0].StoredTx)

	_, err = sender.Finalize(account, received)
	assert.NoError(t, err)
}

func TestReceiveRejectsTakenParticipantID(t *testing.T) {
	sender, node := newTestWallet(t, senderMnemonic)
	receiver, _ := newTestWallet(t, receiverMnemonic)
	fund(t, sender, node, 1, 10)

	slate, err := sender.InitSend(account, InitTxArgs{Amount: chain.Base, MinimumConfirmations: 1})
	require.NoError(t, err)
	slate.ParticipantData[0].ID = 1

	_, err = receiver.Receive(account, slate, nil)
	assert.ErrorIs(t, err, ErrIncompleteParticipantData)

	txs, err := receiver.RetrieveTxs(account, nil, nil, false)
	require.NoError(t, err)
	assert.Empty(t, txs)
	outputs, err := receiver.RetrieveOutputs(account, true, nil)
	require.NoError(t, err)
	assert.Empty(t, outputs)
}

func TestCheckNotProcessedSeesBatchWrites(t *testing.T) {
	w, _ := newTestWallet(t, receiverMnemonic)
	slate := NewSlate(2, chain.Usernet.BlockHeaderVersion)

	batch, err := w.Store().Batch(account)
	require.NoError(t, err)
	defer batch.Discard()

	require.NoError(t, checkNotProcessed(batch, slate))

	id, err := batch.NextTxLogID()
	require.NoError(t, err)
	entry := NewTxLogEntry(account, TxReceived, id)
	entry.TxSlateID = &slate.ID
	require.NoError(t, batch.SaveTxLogEntry(entry))

	err = checkNotProcessed(batch, slate)
	assert.ErrorIs(t, err, ErrAlreadyReceived)
}

func TestReceiveChecksSlate(t *testing.T) {
	sender, node := newTestWallet(t, senderMnemonic)
	receiver, _ := newTestWallet(t, receiverMnemonic)
	fund(t, sender, node, 1, 10)

	slate, err := sender.InitSend(account, sendArgs(chain.Base))
	require.NoError(t, err)

	old := slate.Copy()
	old.VersionInfo.Version = 1
	_, err = receiver.Receive(account, old, nil)
	assert.ErrorIs(t, err, ErrUnsupportedSlate)

	tampered := slate.Copy()
	other := "pay to someone else"
	tampered.ParticipantData[0].Message = &other
	err = receiver.VerifySlateMessages(tampered)
	assert.ErrorIs(t, err, ErrInvalidSignature)
	var sigErr *InvalidSignatureError
	require.True(t, errors.As(err, &sigErr))
	assert.Equal(t, []int{0}, sigErr.Participants)

	_, err = receiver.Receive(account, tampered, nil)
	assert.ErrorIs(t, err, ErrInvalidSignature)

	txs, err := receiver.RetrieveTxs(account, nil, nil, false)
	require.NoError(t, err)
	assert.Empty(t, txs)
}

func TestInitSendNotEnoughFunds(t *testing.T) {
	sender, node := newTestWallet(t, senderMnemonic)
	fund(t, sender, node, 1, 10)

	_, err := sender.InitSend(account, sendArgs(1000*chain.Base))
	assert.ErrorIs(t, err, ErrNotEnoughFunds)

	// nothing was locked
	outputs, err := sender.RetrieveOutputs(account, false, nil)
	require.NoError(t, err)
	require.Len(t, outputs, 1)
	assert.Equal(t, OutputUnspent, outputs[0].Status)
}

func TestInitSendSkipsImmatureCoinbase(t *testing.T) {
	sender, node := newTestWallet(t, senderMnemonic)
	fund(t, sender, node, 9, 10)

	_, err := sender.InitSend(account, sendArgs(chain.Base))
	assert.ErrorIs(t, err, ErrNotEnoughFunds)
}

func TestSelectCoins(t *testing.T) {
	w, _ := newTestWallet(t, senderMnemonic)
	fee := w.Params().TxFee

	outputs := []OutputData{{Value: 50}, {Value: 10 * chain.Base}, {Value: 1 * chain.Base}, {Value: 5 * chain.Base}}

	selected, total, f, err := w.selectCoins(append([]OutputData{}, outputs...), 2*chain.Base, 1, 10, false)
	require.NoError(t, err)
	assert.Len(t, selected, 3)
	assert.Equal(t, uint64(50+6*chain.Base), total)
	assert.Equal(t, fee(3, 2, 1), f)

	selected, _, _, err = w.selectCoins(append([]OutputData{}, outputs...), 2*chain.Base, 1, 10, true)
	require.NoError(t, err)
	assert.Len(t, selected, 4)

	_, _, _, err = w.selectCoins(append([]OutputData{}, outputs...), 2*chain.Base, 1, 2, false)
	assert.ErrorIs(t, err, ErrNotEnoughFunds)
}

func TestSplitChange(t *testing.T) {
	assert.Nil(t, splitChange(0, 3))
	assert.Equal(t, []uint64{3, 3, 4}, splitChange(10, 3))
	assert.Equal(t, []uint64{2}, splitChange(2, 3))
}
