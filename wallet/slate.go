package wallet

import (
	"strings"

	"github.com/blockcypher/libgrin/core"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/crypto/blake2b"

	"github.com/olegabu/go-mimblewimble/ledger"
	"github.com/olegabu/go-mimblewimble/secp"
)

const (
	CurrentSlateVersion = 3
	MinSlateVersion     = 2
)

var (
	zeroExcess    = strings.Repeat("00", secp.CommitmentSize)
	zeroExcessSig = strings.Repeat("00", secp.SignatureSize)
)

type VersionCompatInfo struct {
	// The current version of the slate format
	Version uint16
	// Original version this slate was converted from
	OrigVersion uint16
	// The block header version this slate is intended for
	BlockHeaderVersion uint16
}

type PaymentInfo struct {
	SenderAddress     string
	ReceiverAddress   string
	ReceiverSignature *string
}

// ParticipantData is the public contribution of one participant.
type ParticipantData struct {
	ID                int
	PublicBlindExcess secp.PublicKey
	PublicNonce       secp.PublicKey
	PartSig           *secp.Signature
	Message           *string
	MessageSig        *secp.Signature
}

// Slate is the transaction under construction passed between participants.
// Wire versions are translated to and from this form at the edges.
type Slate struct {
	VersionInfo     VersionCompatInfo
	NumParticipants int
	ID              uuid.UUID
	Transaction     core.Transaction
	Amount          uint64
	Fee             uint64
	Height          uint64
	LockHeight      uint64
	TTLCutoffHeight *uint64
	PaymentProof    *PaymentInfo
	ParticipantData []ParticipantData
}

func NewSlate(numParticipants int, blockHeaderVersion uint16) *Slate {
	return &Slate{
		VersionInfo: VersionCompatInfo{
			Version:            CurrentSlateVersion,
			OrigVersion:        CurrentSlateVersion,
			BlockHeaderVersion: blockHeaderVersion,
		},
		NumParticipants: numParticipants,
		ID:              uuid.New(),
		Transaction: core.Transaction{
			Offset: secp.SecretKey{}.String(),
			Body: core.TransactionBody{
				Inputs:  []core.Input{},
				Outputs: []core.Output{},
				Kernels: []core.TxKernel{{
					Features:  core.PlainKernel,
					Excess:    zeroExcess,
					ExcessSig: zeroExcessSig,
				}},
			},
		},
	}
}

// kernel returns the slate's single kernel with features and fee taken from
// the slate.
func (t *Slate) kernel() core.TxKernel {
	kernel := core.TxKernel{Features: core.PlainKernel, Excess: zeroExcess, ExcessSig: zeroExcessSig}
	if len(t.Transaction.Body.Kernels) > 0 {
		kernel = t.Transaction.Body.Kernels[0]
	}
	kernel.Fee = core.Uint64(t.Fee)
	kernel.LockHeight = core.Uint64(t.LockHeight)
	if t.LockHeight > 0 {
		kernel.Features = core.HeightLockedKernel
	} else {
		kernel.Features = core.PlainKernel
	}
	return kernel
}

func (t *Slate) syncKernel() {
	kernel := t.kernel()
	if len(t.Transaction.Body.Kernels) == 0 {
		t.Transaction.Body.Kernels = []core.TxKernel{kernel}
	} else {
		t.Transaction.Body.Kernels[0] = kernel
	}
}

// MsgToSign is the kernel message every participant signs.
func (t *Slate) MsgToSign() []byte {
	return ledger.KernelSignatureMessage(t.kernel())
}

func (t *Slate) PubBlindSum() (secp.PublicKey, error) {
	keys := make([]secp.PublicKey, len(t.ParticipantData))
	for i, p := range t.ParticipantData {
		keys[i] = p.PublicBlindExcess
	}
	return secp.SumPublicKeys(keys)
}

func (t *Slate) PubNonceSum() (secp.PublicKey, error) {
	nonces := make([]secp.PublicKey, len(t.ParticipantData))
	for i, p := range t.ParticipantData {
		nonces[i] = p.PublicNonce
	}
	return secp.SumPublicKeys(nonces)
}

func (t *Slate) participant(id int) *ParticipantData {
	for i := range t.ParticipantData {
		if t.ParticipantData[i].ID == id {
			return &t.ParticipantData[i]
		}
	}
	return nil
}

// IsComplete reports whether every declared participant has signed.
func (t *Slate) IsComplete() bool {
	signed := 0
	for _, p := range t.ParticipantData {
		if p.PartSig != nil {
			signed++
		}
	}
	return signed == t.NumParticipants && len(t.ParticipantData) == t.NumParticipants
}

func messageHash(message string) []byte {
	hash := blake2b.Sum256([]byte(message))
	return hash[:]
}

// AddTransactionElements appends inputs and outputs to the body.
func (t *Slate) AddTransactionElements(inputs []core.Input, outputs []core.Output) {
	t.Transaction.Body.Inputs = append(t.Transaction.Body.Inputs, inputs...)
	t.Transaction.Body.Outputs = append(t.Transaction.Body.Outputs, outputs...)
}

// AddOffset adds offset to the transaction offset.
func (t *Slate) AddOffset(offset secp.SecretKey) error {
	current := secp.SecretKey{}
	if t.Transaction.Offset != "" {
		var err error
		current, err = secp.SecretKeyFromString(t.Transaction.Offset)
		if err != nil {
			return errors.Wrap(err, "cannot decode slate offset")
		}
	}
	sum, err := secp.BlindSum([]secp.SecretKey{current, offset}, nil)
	if err != nil {
		return errors.Wrap(err, "cannot add offset")
	}
	t.Transaction.Offset = sum.String()
	return nil
}

// FillRoundOne adds the public part of this participant's excess and nonce,
// with an optional message signed by the excess.
func (t *Slate) FillRoundOne(secKey, secNonce secp.SecretKey, participantID int, message *string) error {
	if t.participant(participantID) != nil {
		return errors.Wrapf(ErrIncompleteParticipantData, "participant %d already joined slate %v", participantID, t.ID)
	}

	pubKey, err := secp.PublicKeyFromSecret(secKey)
	if err != nil {
		return errors.Wrap(err, "cannot create public blind excess")
	}
	pubNonce, err := secp.PublicKeyFromSecret(secNonce)
	if err != nil {
		return errors.Wrap(err, "cannot create public nonce")
	}

	data := ParticipantData{
		ID:                participantID,
		PublicBlindExcess: pubKey,
		PublicNonce:       pubNonce,
	}

	if message != nil {
		sig, err := secp.SignSingle(secKey, messageHash(*message))
		if err != nil {
			return errors.Wrap(err, "cannot sign message")
		}
		msg := *message
		data.Message = &msg
		data.MessageSig = &sig
	}

	t.ParticipantData = append(t.ParticipantData, data)
	t.syncKernel()
	return nil
}

// FillRoundTwo verifies the partial signatures already present and adds
// this participant's.
func (t *Slate) FillRoundTwo(secKey, secNonce secp.SecretKey, participantID int) error {
	p := t.participant(participantID)
	if p == nil {
		return errors.Wrapf(ErrIncompleteParticipantData, "participant %d has not joined slate %v", participantID, t.ID)
	}

	err := t.VerifyPartSigs()
	if err != nil {
		return err
	}

	nonceSum, err := t.PubNonceSum()
	if err != nil {
		return errors.Wrap(err, "cannot sum public nonces")
	}
	keySum, err := t.PubBlindSum()
	if err != nil {
		return errors.Wrap(err, "cannot sum public blind excesses")
	}

	t.syncKernel()
	sig, err := secp.CalculatePartialSig(secKey, secNonce, nonceSum, keySum, t.MsgToSign())
	if err != nil {
		return errors.Wrap(err, "cannot calculate partial signature")
	}
	p.PartSig = &sig
	return nil
}

// VerifyPartSigs checks every partial signature present.
func (t *Slate) VerifyPartSigs() error {
	nonceSum, err := t.PubNonceSum()
	if err != nil {
		return errors.Wrap(err, "cannot sum public nonces")
	}
	keySum, err := t.PubBlindSum()
	if err != nil {
		return errors.Wrap(err, "cannot sum public blind excesses")
	}
	msg := t.MsgToSign()

	var bad []int
	for _, p := range t.ParticipantData {
		if p.PartSig == nil {
			continue
		}
		err := secp.VerifyPartialSig(*p.PartSig, p.PublicNonce, nonceSum, p.PublicBlindExcess, keySum, msg)
		if err != nil {
			bad = append(bad, p.ID)
		}
	}
	if len(bad) > 0 {
		return errors.Wrap(&InvalidSignatureError{Participants: bad}, "partial signature does not verify")
	}
	return nil
}

// VerifyMessages checks the message signature of every participant that
// sent a message.
func (t *Slate) VerifyMessages() error {
	var bad []int
	for _, p := range t.ParticipantData {
		if p.Message == nil {
			continue
		}
		if p.MessageSig == nil {
			bad = append(bad, p.ID)
			continue
		}
		err := secp.VerifySingle(*p.MessageSig, messageHash(*p.Message), p.PublicBlindExcess)
		if err != nil {
			bad = append(bad, p.ID)
		}
	}
	if len(bad) > 0 {
		return &InvalidSignatureError{Participants: bad}
	}
	return nil
}

// Finalize aggregates the partial signatures into the kernel. The excess is
// the sum of the participants' public blind excesses and has to match the
// body commitments.
func (t *Slate) Finalize() error {
	if !t.IsComplete() {
		return errors.Wrapf(ErrIncompleteParticipantData, "slate %v has %d of %d signatures",
			t.ID, t.signatureCount(), t.NumParticipants)
	}

	err := t.VerifyPartSigs()
	if err != nil {
		return err
	}

	nonceSum, err := t.PubNonceSum()
	if err != nil {
		return errors.Wrap(err, "cannot sum public nonces")
	}
	keySum, err := t.PubBlindSum()
	if err != nil {
		return errors.Wrap(err, "cannot sum public blind excesses")
	}

	sigs := make([]secp.Signature, len(t.ParticipantData))
	for i, p := range t.ParticipantData {
		sigs[i] = *p.PartSig
	}
	finalSig, err := secp.AddPartialSigs(sigs, nonceSum)
	if err != nil {
		return errors.Wrap(err, "cannot aggregate partial signatures")
	}

	msg := t.MsgToSign()
	err = secp.VerifySingle(finalSig, msg, keySum)
	if err != nil {
		return errors.Wrap(ErrInvalidSignature, "aggregated signature does not verify")
	}

	excess, err := secp.PublicKeyToCommitment(keySum)
	if err != nil {
		return errors.Wrap(err, "cannot convert excess")
	}

	bodyExcess, err := ledger.CalculateExcess(&t.Transaction, t.Fee)
	if err != nil {
		return errors.Wrapf(ErrKernelMismatch, "cannot sum body commitments: %v", err)
	}
	if bodyExcess != excess {
		return errors.Wrapf(ErrKernelMismatch, "excess %v, body sums to %v", excess, bodyExcess)
	}

	kernel := t.kernel()
	kernel.Excess = excess.String()
	kernel.ExcessSig = finalSig.String()
	t.Transaction.Body.Kernels = []core.TxKernel{kernel}

	err = ledger.ValidateTransaction(&t.Transaction)
	if err != nil {
		return errors.Wrap(err, "finalized transaction is invalid")
	}
	return nil
}

func (t *Slate) signatureCount() int {
	n := 0
	for _, p := range t.ParticipantData {
		if p.PartSig != nil {
			n++
		}
	}
	return n
}

// Copy returns a deep copy so a failed step leaves the caller's slate intact.
func (t *Slate) Copy() *Slate {
	c := *t
	c.Transaction.Body.Inputs = append([]core.Input{}, t.Transaction.Body.Inputs...)
	c.Transaction.Body.Outputs = append([]core.Output{}, t.Transaction.Body.Outputs...)
	c.Transaction.Body.Kernels = append([]core.TxKernel{}, t.Transaction.Body.Kernels...)
	c.ParticipantData = append([]ParticipantData{}, t.ParticipantData...)
	if t.TTLCutoffHeight != nil {
		ttl := *t.TTLCutoffHeight
		c.TTLCutoffHeight = &ttl
	}
	if t.PaymentProof != nil {
		proof := *t.PaymentProof
		c.PaymentProof = &proof
	}
	return &c
}
