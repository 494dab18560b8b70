package wallet

import (
	"sort"

	"github.com/blockcypher/libgrin/core"
	"github.com/pkg/errors"

	"github.com/olegabu/go-mimblewimble/internal/log"
	"github.com/olegabu/go-mimblewimble/keychain"
	"github.com/olegabu/go-mimblewimble/ledger"
	"github.com/olegabu/go-mimblewimble/secp"
)

const (
	defaultNumParticipants = 2
	defaultChangeOutputs   = 1
	defaultMaxOutputs      = 500
)

func checkSlateVersion(slate *Slate) error {
	v := slate.VersionInfo.Version
	if v < MinSlateVersion || v > CurrentSlateVersion {
		return errors.Wrapf(ErrUnsupportedSlate, "slate version %d", v)
	}
	return nil
}

// checkJoinable requires this wallet to be the last participant to join.
func checkJoinable(slate *Slate) error {
	if slate.NumParticipants < 2 {
		return errors.Wrapf(ErrIncompleteParticipantData, "slate %v declares %d participants", slate.ID, slate.NumParticipants)
	}
	if len(slate.ParticipantData) != slate.NumParticipants-1 {
		return errors.Wrapf(ErrIncompleteParticipantData, "slate %v has %d of %d participants, expected all but one",
			slate.ID, len(slate.ParticipantData), slate.NumParticipants)
	}
	return nil
}

func optionalMessage(message string) *string {
	if message == "" {
		return nil
	}
	return &message
}

func slateMessages(slate *Slate) []string {
	var messages []string
	for _, p := range slate.ParticipantData {
		if p.Message != nil {
			messages = append(messages, *p.Message)
		}
	}
	return messages
}

func storedTxName(slate *Slate) string {
	return slate.ID.String() + ".tx"
}

// VerifySlateMessages checks the message signatures of all participants.
func (t *Wallet) VerifySlateMessages(slate *Slate) error {
	return slate.VerifyMessages()
}

// checkNotProcessed reads through the account batch so that no other
// receive of the same slate can slip in before the commit.
func checkNotProcessed(batch Batch, slate *Slate) error {
	entries, err := batch.TxLogEntries(TxLogFilter{SlateID: &slate.ID})
	if err != nil {
		return err
	}
	if len(entries) > 0 {
		return errors.Wrapf(ErrAlreadyReceived, "slate %v is tx log entry %d", slate.ID, entries[0].ID)
	}
	return nil
}

// receiveOutput allocates and saves the receiving output, returning its
// blinding factor and body element.
func (t *Wallet) receiveOutput(batch Batch, account keychain.Identifier, amount uint64, txLogID uint32) (keychain.Identifier, secp.SecretKey, core.Output, error) {
	keyID, err := nextAvailableKey(batch)
	if err != nil {
		return keychain.Identifier{}, secp.SecretKey{}, core.Output{}, err
	}

	blind, output, err := t.buildOutput(keyID, amount)
	if err != nil {
		return keychain.Identifier{}, secp.SecretKey{}, core.Output{}, err
	}

	out := newOutput(account, keyID, amount, output.Commit)
	out.TxLogEntry = &txLogID
	err = batch.Save(out)
	if err != nil {
		return keychain.Identifier{}, secp.SecretKey{}, core.Output{}, err
	}
	return keyID, blind, output, nil
}

func (t *Wallet) buildOutput(keyID keychain.Identifier, amount uint64) (secp.SecretKey, core.Output, error) {
	blind, err := t.deriveKey(keyID)
	if err != nil {
		return secp.SecretKey{}, core.Output{}, err
	}
	commit, err := secp.Commit(amount, blind)
	if err != nil {
		return secp.SecretKey{}, core.Output{}, errors.Wrapf(err, "cannot commit to output %v", keyID)
	}
	proof, err := secp.CreateOpeningProof(blind, commit)
	if err != nil {
		return secp.SecretKey{}, core.Output{}, errors.Wrapf(err, "cannot create proof for output %v", keyID)
	}
	return blind, core.Output{
		Features: core.PlainOutput,
		Commit:   commit.String(),
		Proof:    proof.String(),
	}, nil
}

// Receive adds this wallet's output and signatures to a slate sent to it
// and records the incoming transaction. The caller's slate is not modified.
func (t *Wallet) Receive(account keychain.Identifier, slate *Slate, message *string) (*Slate, error) {
	err := checkSlateVersion(slate)
	if err != nil {
		return nil, err
	}
	err = checkJoinable(slate)
	if err != nil {
		return nil, err
	}
	err = slate.VerifyMessages()
	if err != nil {
		return nil, err
	}

	batch, err := t.store.Batch(account)
	if err != nil {
		return nil, err
	}
	defer batch.Discard()

	err = checkNotProcessed(batch, slate)
	if err != nil {
		return nil, err
	}

	txLogID, err := batch.NextTxLogID()
	if err != nil {
		return nil, err
	}

	_, blind, output, err := t.receiveOutput(batch, account, slate.Amount, txLogID)
	if err != nil {
		return nil, err
	}

	out := slate.Copy()
	out.AddTransactionElements(nil, []core.Output{output})

	secNonce, err := secp.RandomSecret()
	if err != nil {
		return nil, errors.Wrap(err, "cannot create nonce")
	}
	participantID := len(out.ParticipantData)
	err = out.FillRoundOne(blind, secNonce, participantID, message)
	if err != nil {
		return nil, err
	}
	err = out.FillRoundTwo(blind, secNonce, participantID)
	if err != nil {
		return nil, err
	}

	entry := NewTxLogEntry(account, TxReceived, txLogID)
	entry.TxSlateID = &out.ID
	entry.NumOutputs = 1
	entry.AmountCredited = out.Amount
	entry.Messages = slateMessages(out)
	entry.TTLCutoffHeight = out.TTLCutoffHeight
	err = batch.SaveTxLogEntry(entry)
	if err != nil {
		return nil, err
	}

	err = batch.Commit()
	if err != nil {
		return nil, err
	}

	log.Wallet.Info().Str("slate_id", out.ID.String()).Uint64("amount", out.Amount).Msg("received slate")

	return out, nil
}

// sendParts is the payer's side of a transaction: the selected inputs, the
// change outputs and the resulting excess share.
type sendParts struct {
	inputs       []OutputData
	change       []keychain.Identifier
	inputElems   []core.Input
	outputElems  []core.Output
	secKey       secp.SecretKey
	offset       secp.SecretKey
	fee          uint64
	total        uint64
	changeAmount uint64
}

// selectCoins picks the smallest eligible outputs covering amount and the
// fee, which depends on how many inputs end up selected.
func (t *Wallet) selectCoins(eligible []OutputData, amount uint64, numChange int, maxOutputs int, useAll bool) ([]OutputData, uint64, uint64, error) {
	sort.SliceStable(eligible, func(i, j int) bool {
		return eligible[i].Value < eligible[j].Value
	})

	var selected []OutputData
	var total uint64
	for _, out := range eligible {
		if !useAll && len(selected) > 0 && total >= amount+t.params.TxFee(len(selected), numChange+1, 1) {
			break
		}
		if len(selected) == maxOutputs {
			break
		}
		selected = append(selected, out)
		total += out.Value
	}

	fee := t.params.TxFee(len(selected), numChange+1, 1)
	if len(selected) == 0 || total < amount+fee {
		return nil, 0, 0, errors.Wrapf(ErrNotEnoughFunds, "need %d plus fee %d, have %d in %d outputs",
			amount, fee, total, len(selected))
	}
	return selected, total, fee, nil
}

func (t *Wallet) buildSend(batch Batch, account keychain.Identifier, height uint64, args InitTxArgs, txLogID uint32) (*sendParts, error) {
	numChange := args.NumChangeOutputs
	if numChange <= 0 {
		numChange = defaultChangeOutputs
	}
	maxOutputs := args.MaxOutputs
	if maxOutputs <= 0 {
		maxOutputs = defaultMaxOutputs
	}

	unspent, err := batch.Outputs(OutputFilter{Statuses: []OutputStatus{OutputUnspent}})
	if err != nil {
		return nil, err
	}
	var eligible []OutputData
	for _, out := range unspent {
		if out.EligibleToSpend(t.params, height, args.MinimumConfirmations) {
			eligible = append(eligible, out)
		}
	}

	selected, total, fee, err := t.selectCoins(eligible, args.Amount, numChange, maxOutputs, args.SelectionStrategyIsUseAll)
	if err != nil {
		return nil, err
	}

	parts := &sendParts{inputs: selected, fee: fee, total: total, changeAmount: total - args.Amount - fee}

	var inputBlinds []secp.SecretKey
	for i := range selected {
		in := &selected[i]
		blind, err := t.deriveKey(in.KeyID)
		if err != nil {
			return nil, err
		}
		inputBlinds = append(inputBlinds, blind)

		commit, err := t.ResolveCommitment(*in)
		if err != nil {
			return nil, err
		}
		features := core.PlainOutput
		if in.IsCoinbase {
			features = core.CoinbaseOutput
		}
		parts.inputElems = append(parts.inputElems, core.Input{Features: features, Commit: commit})

		in.Lock()
		in.TxLogEntry = &txLogID
		err = batch.Save(*in)
		if err != nil {
			return nil, err
		}
	}

	var changeBlinds []secp.SecretKey
	for _, value := range splitChange(parts.changeAmount, numChange) {
		keyID, blind, output, err := t.receiveOutput(batch, account, value, txLogID)
		if err != nil {
			return nil, err
		}
		parts.change = append(parts.change, keyID)
		parts.outputElems = append(parts.outputElems, output)
		changeBlinds = append(changeBlinds, blind)
	}

	parts.offset, err = secp.RandomSecret()
	if err != nil {
		return nil, errors.Wrap(err, "cannot create offset")
	}

	parts.secKey, err = secp.BlindSum(changeBlinds, append(inputBlinds, parts.offset))
	if err != nil {
		return nil, errors.Wrap(err, "cannot sum blinding factors")
	}
	return parts, nil
}

// splitChange divides change into up to n outputs, the last one taking the
// remainder. No change means no change outputs.
func splitChange(change uint64, n int) []uint64 {
	if change == 0 {
		return nil
	}
	if uint64(n) > change {
		n = 1
	}
	part := change / uint64(n)
	values := make([]uint64, n)
	for i := range values {
		values[i] = part
	}
	values[n-1] += change - part*uint64(n)
	return values
}

func (t *Wallet) sentTxLogEntry(account keychain.Identifier, txLogID uint32, slate *Slate, parts *sendParts) TxLogEntry {
	entry := NewTxLogEntry(account, TxSent, txLogID)
	entry.TxSlateID = &slate.ID
	entry.NumInputs = len(parts.inputs)
	entry.NumOutputs = len(parts.change)
	entry.AmountDebited = parts.total
	entry.AmountCredited = parts.changeAmount
	fee := parts.fee
	entry.Fee = &fee
	entry.TTLCutoffHeight = slate.TTLCutoffHeight
	entry.Messages = slateMessages(slate)
	return entry
}

// InitSend starts a send of args.Amount. Inputs are locked, change outputs
// recorded and the signing context kept until the slate comes back for
// Finalize.
func (t *Wallet) InitSend(account keychain.Identifier, args InitTxArgs) (*Slate, error) {
	if args.Amount == 0 {
		return nil, errors.New("cannot send zero amount")
	}
	numParticipants := args.NumParticipants
	if numParticipants <= 0 {
		numParticipants = defaultNumParticipants
	}

	height, err := t.store.LastConfirmedHeight(account)
	if err != nil {
		return nil, err
	}

	batch, err := t.store.Batch(account)
	if err != nil {
		return nil, err
	}
	defer batch.Discard()

	txLogID, err := batch.NextTxLogID()
	if err != nil {
		return nil, err
	}

	parts, err := t.buildSend(batch, account, height, args, txLogID)
	if err != nil {
		return nil, err
	}

	slate := NewSlate(numParticipants, t.params.BlockHeaderVersion)
	slate.Amount = args.Amount
	slate.Fee = parts.fee
	slate.Height = height
	if args.TTLBlocks != nil {
		ttl := height + *args.TTLBlocks
		slate.TTLCutoffHeight = &ttl
	}
	slate.AddTransactionElements(parts.inputElems, parts.outputElems)
	err = slate.AddOffset(parts.offset)
	if err != nil {
		return nil, err
	}

	secNonce, err := secp.RandomSecret()
	if err != nil {
		return nil, errors.Wrap(err, "cannot create nonce")
	}
	err = slate.FillRoundOne(parts.secKey, secNonce, 0, optionalMessage(args.Message))
	if err != nil {
		return nil, err
	}

	err = batch.SaveTxLogEntry(t.sentTxLogEntry(account, txLogID, slate, parts))
	if err != nil {
		return nil, err
	}

	inputIDs := make([]keychain.Identifier, len(parts.inputs))
	for i, in := range parts.inputs {
		inputIDs[i] = in.KeyID
	}
	err = batch.SaveContext(Context{
		SlateID:       slate.ID,
		ParticipantID: 0,
		ParentKeyID:   account,
		SecKey:        parts.secKey,
		SecNonce:      secNonce,
		Inputs:        inputIDs,
		Outputs:       parts.change,
		Fee:           parts.fee,
		TxLogID:       txLogID,
	})
	if err != nil {
		return nil, err
	}

	err = batch.Commit()
	if err != nil {
		return nil, err
	}

	log.Wallet.Info().
		Str("slate_id", slate.ID.String()).
		Uint64("amount", slate.Amount).
		Uint64("fee", slate.Fee).
		Int("inputs", len(parts.inputs)).
		Msg("initiated send")

	return slate, nil
}

// IssueInvoice starts a transaction requesting amount. The payer adds
// inputs with ProcessInvoice and the slate returns here for Finalize.
func (t *Wallet) IssueInvoice(account keychain.Identifier, amount uint64, message *string) (*Slate, error) {
	if amount == 0 {
		return nil, errors.New("cannot invoice zero amount")
	}

	height, err := t.store.LastConfirmedHeight(account)
	if err != nil {
		return nil, err
	}

	batch, err := t.store.Batch(account)
	if err != nil {
		return nil, err
	}
	defer batch.Discard()

	txLogID, err := batch.NextTxLogID()
	if err != nil {
		return nil, err
	}

	keyID, blind, output, err := t.receiveOutput(batch, account, amount, txLogID)
	if err != nil {
		return nil, err
	}

	slate := NewSlate(defaultNumParticipants, t.params.BlockHeaderVersion)
	slate.Amount = amount
	slate.Height = height
	slate.AddTransactionElements(nil, []core.Output{output})

	secNonce, err := secp.RandomSecret()
	if err != nil {
		return nil, errors.Wrap(err, "cannot create nonce")
	}
	err = slate.FillRoundOne(blind, secNonce, 0, message)
	if err != nil {
		return nil, err
	}

	entry := NewTxLogEntry(account, TxReceived, txLogID)
	entry.TxSlateID = &slate.ID
	entry.NumOutputs = 1
	entry.AmountCredited = amount
	entry.Messages = slateMessages(slate)
	err = batch.SaveTxLogEntry(entry)
	if err != nil {
		return nil, err
	}

	err = batch.SaveContext(Context{
		SlateID:       slate.ID,
		ParticipantID: 0,
		ParentKeyID:   account,
		SecKey:        blind,
		SecNonce:      secNonce,
		Outputs:       []keychain.Identifier{keyID},
		IsInvoice:     true,
		TxLogID:       txLogID,
	})
	if err != nil {
		return nil, err
	}

	err = batch.Commit()
	if err != nil {
		return nil, err
	}

	log.Wallet.Info().Str("slate_id", slate.ID.String()).Uint64("amount", amount).Msg("issued invoice")

	return slate, nil
}

// ProcessInvoice pays an invoice slate: it adds inputs, change and the fee
// and signs both rounds. The invoicer finalizes.
func (t *Wallet) ProcessInvoice(account keychain.Identifier, slate *Slate, args InitTxArgs) (*Slate, error) {
	err := checkSlateVersion(slate)
	if err != nil {
		return nil, err
	}
	err = checkJoinable(slate)
	if err != nil {
		return nil, err
	}
	err = slate.VerifyMessages()
	if err != nil {
		return nil, err
	}
	args.Amount = slate.Amount

	height, err := t.store.LastConfirmedHeight(account)
	if err != nil {
		return nil, err
	}

	batch, err := t.store.Batch(account)
	if err != nil {
		return nil, err
	}
	defer batch.Discard()

	err = checkNotProcessed(batch, slate)
	if err != nil {
		return nil, err
	}

	txLogID, err := batch.NextTxLogID()
	if err != nil {
		return nil, err
	}

	parts, err := t.buildSend(batch, account, height, args, txLogID)
	if err != nil {
		return nil, err
	}

	out := slate.Copy()
	out.Fee = parts.fee
	out.AddTransactionElements(parts.inputElems, parts.outputElems)
	err = out.AddOffset(parts.offset)
	if err != nil {
		return nil, err
	}

	secNonce, err := secp.RandomSecret()
	if err != nil {
		return nil, errors.Wrap(err, "cannot create nonce")
	}
	participantID := len(out.ParticipantData)
	err = out.FillRoundOne(parts.secKey, secNonce, participantID, optionalMessage(args.Message))
	if err != nil {
		return nil, err
	}
	err = out.FillRoundTwo(parts.secKey, secNonce, participantID)
	if err != nil {
		return nil, err
	}

	err = batch.SaveTxLogEntry(t.sentTxLogEntry(account, txLogID, out, parts))
	if err != nil {
		return nil, err
	}

	err = batch.Commit()
	if err != nil {
		return nil, err
	}

	log.Wallet.Info().Str("slate_id", out.ID.String()).Uint64("amount", out.Amount).Uint64("fee", out.Fee).Msg("paid invoice")

	return out, nil
}

// Finalize completes a slate this wallet initiated: it adds the missing
// partial signature from the saved context, aggregates the kernel and stores
// the finished transaction for posting.
func (t *Wallet) Finalize(account keychain.Identifier, slate *Slate) (*Slate, error) {
	err := checkSlateVersion(slate)
	if err != nil {
		return nil, err
	}

	sigCtx, err := t.store.GetContext(account, slate.ID)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot find signing context of slate %v", slate.ID)
	}

	out := slate.Copy()
	p := out.participant(sigCtx.ParticipantID)
	if p == nil {
		return nil, errors.Wrapf(ErrIncompleteParticipantData, "slate %v lacks participant %d", slate.ID, sigCtx.ParticipantID)
	}
	if p.PartSig == nil {
		if len(out.ParticipantData) != out.NumParticipants {
			return nil, errors.Wrapf(ErrIncompleteParticipantData, "slate %v has %d of %d participants",
				slate.ID, len(out.ParticipantData), out.NumParticipants)
		}
		err = out.FillRoundTwo(sigCtx.SecKey, sigCtx.SecNonce, sigCtx.ParticipantID)
		if err != nil {
			return nil, err
		}
	}

	err = out.Finalize()
	if err != nil {
		return nil, err
	}

	batch, err := t.store.Batch(account)
	if err != nil {
		return nil, err
	}
	defer batch.Discard()

	for _, keyID := range sigCtx.Inputs {
		in, err := batch.Get(keyID)
		if err != nil {
			return nil, err
		}
		if in.Status == OutputUnspent {
			in.Lock()
			err = batch.Save(in)
			if err != nil {
				return nil, err
			}
		}
	}

	entries, err := batch.TxLogEntries(TxLogFilter{ID: &sigCtx.TxLogID})
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, errors.Wrapf(ErrNotFound, "tx log entry %d of slate %v", sigCtx.TxLogID, slate.ID)
	}
	entry := entries[0]
	excess := out.Transaction.Body.Kernels[0].Excess
	name := storedTxName(out)
	entry.KernelExcess = &excess
	entry.StoredTx = &name
	entry.Messages = slateMessages(out)
	if sigCtx.IsInvoice {
		fee := out.Fee
		entry.Fee = &fee
	}
	err = batch.SaveTxLogEntry(entry)
	if err != nil {
		return nil, err
	}

	err = batch.SaveStoredTx(name, &ledger.Transaction{Transaction: out.Transaction, ID: out.ID})
	if err != nil {
		return nil, err
	}
	err = batch.DeleteContext(out.ID)
	if err != nil {
		return nil, err
	}

	err = batch.Commit()
	if err != nil {
		return nil, err
	}

	log.Wallet.Info().Str("slate_id", out.ID.String()).Str("excess", excess).Msg("finalized slate")

	return out, nil
}
