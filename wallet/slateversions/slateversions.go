// Package slateversions holds the wire formats of the slate and converts
// them to and from the wallet's canonical slate.
package slateversions

import (
	"encoding/json"

	"github.com/blockcypher/libgrin/core"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/olegabu/go-mimblewimble/keychain"
	"github.com/olegabu/go-mimblewimble/secp"
	"github.com/olegabu/go-mimblewimble/wallet"
)

type Version string

const (
	V2 Version = "V2"
	V3 Version = "V3"
)

// Supported lists the slate versions this wallet accepts, newest first.
var Supported = []Version{V3, V2}

func (t Version) number() uint16 {
	switch t {
	case V2:
		return 2
	case V3:
		return 3
	}
	return 0
}

func versionOf(n uint16) (Version, error) {
	switch n {
	case 2:
		return V2, nil
	case 3:
		return V3, nil
	}
	return "", errors.Wrapf(wallet.ErrUnsupportedSlate, "slate version %d", n)
}

type VersionCompatInfo struct {
	// The current version of the slate format
	Version uint16 `json:"version"`
	// Original version this slate was converted from
	OrigVersion uint16 `json:"orig_version"`
	// The block header version this slate is intended for
	BlockHeaderVersion uint16 `json:"block_header_version"`
}

type ParticipantData struct {
	// Id of participant in the transaction. (For now, 0=sender, 1=rec)
	ID core.Uint64 `json:"id"`
	// Public key corresponding to private blinding factor
	PublicBlindExcess secp.PublicKey `json:"public_blind_excess"`
	// Public key corresponding to private nonce
	PublicNonce secp.PublicKey `json:"public_nonce"`
	// Public partial signature
	PartSig *secp.Signature `json:"part_sig"`
	// A message for other participants
	Message *string `json:"message"`
	// Signature, created with private key corresponding to 'public_blind_excess'
	MessageSig *secp.Signature `json:"message_sig"`
}

type PaymentInfo struct {
	SenderAddress     string  `json:"sender_address"`
	ReceiverAddress   string  `json:"receiver_address"`
	ReceiverSignature *string `json:"receiver_signature"`
}

type SlateV2 struct {
	// Versioning info
	VersionInfo VersionCompatInfo `json:"version_info"`
	// The number of participants intended to take part in this transaction
	NumParticipants uint `json:"num_participants"`
	// Unique transaction ID, selected by sender
	ID uuid.UUID `json:"id"`
	// The core transaction data:
	// inputs, outputs, kernels, kernel offset
	Transaction core.Transaction `json:"tx"`
	// base amount (excluding fee)
	Amount core.Uint64 `json:"amount"`
	// fee amount
	Fee core.Uint64 `json:"fee"`
	// Block height for the transaction
	Height core.Uint64 `json:"height"`
	// Lock height
	LockHeight core.Uint64 `json:"lock_height"`
	// Participant data, each participant in the transaction will
	// insert their public data here
	ParticipantData []ParticipantData `json:"participant_data"`
}

type SlateV3 struct {
	VersionInfo     VersionCompatInfo `json:"version_info"`
	NumParticipants uint              `json:"num_participants"`
	ID              uuid.UUID         `json:"id"`
	Transaction     core.Transaction  `json:"tx"`
	Amount          core.Uint64       `json:"amount"`
	Fee             core.Uint64       `json:"fee"`
	Height          core.Uint64       `json:"height"`
	LockHeight      core.Uint64       `json:"lock_height"`
	// TTL, the block height at which wallets
	// should refuse to process the transaction and unlock all
	// associated outputs
	TTLCutoffHeight *core.Uint64      `json:"ttl_cutoff_height"`
	ParticipantData []ParticipantData `json:"participant_data"`
	PaymentProof    *PaymentInfo      `json:"payment_proof"`
}

// VersionedSlate is a slate in one of the supported wire versions. It
// marshals as the bare slate of that version.
type VersionedSlate struct {
	V2 *SlateV2
	V3 *SlateV3
}

func (t VersionedSlate) Version() Version {
	if t.V2 != nil {
		return V2
	}
	return V3
}

func (t VersionedSlate) MarshalJSON() ([]byte, error) {
	switch {
	case t.V3 != nil:
		return json.Marshal(t.V3)
	case t.V2 != nil:
		return json.Marshal(t.V2)
	}
	return nil, errors.New("cannot marshal empty versioned slate")
}

// UnmarshalJSON picks the format by version_info.version.
func (t *VersionedSlate) UnmarshalJSON(data []byte) error {
	var probe struct {
		VersionInfo VersionCompatInfo `json:"version_info"`
	}
	err := json.Unmarshal(data, &probe)
	if err != nil {
		return errors.Wrap(err, "cannot read slate version")
	}

	version, err := versionOf(probe.VersionInfo.Version)
	if err != nil {
		return err
	}

	*t = VersionedSlate{}
	switch version {
	case V2:
		t.V2 = &SlateV2{}
		err = json.Unmarshal(data, t.V2)
	case V3:
		t.V3 = &SlateV3{}
		err = json.Unmarshal(data, t.V3)
	}
	if err != nil {
		return errors.Wrapf(err, "cannot unmarshal %v slate", version)
	}
	return nil
}

func participantsToWire(data []wallet.ParticipantData) []ParticipantData {
	out := make([]ParticipantData, len(data))
	for i, p := range data {
		out[i] = ParticipantData{
			ID:                core.Uint64(p.ID),
			PublicBlindExcess: p.PublicBlindExcess,
			PublicNonce:       p.PublicNonce,
			PartSig:           p.PartSig,
			Message:           p.Message,
			MessageSig:        p.MessageSig,
		}
	}
	return out
}

func participantsFromWire(data []ParticipantData) []wallet.ParticipantData {
	out := make([]wallet.ParticipantData, len(data))
	for i, p := range data {
		out[i] = wallet.ParticipantData{
			ID:                int(p.ID),
			PublicBlindExcess: p.PublicBlindExcess,
			PublicNonce:       p.PublicNonce,
			PartSig:           p.PartSig,
			Message:           p.Message,
			MessageSig:        p.MessageSig,
		}
	}
	return out
}

// FromSlate renders slate in the given wire version. Converting to V2 drops
// the fields V2 does not carry.
func FromSlate(slate *wallet.Slate, version Version) (VersionedSlate, error) {
	n := version.number()
	if n == 0 {
		return VersionedSlate{}, errors.Wrapf(wallet.ErrUnsupportedSlate, "slate version %q", version)
	}

	info := VersionCompatInfo{
		Version:            n,
		OrigVersion:        slate.VersionInfo.OrigVersion,
		BlockHeaderVersion: slate.VersionInfo.BlockHeaderVersion,
	}

	v3 := &SlateV3{
		VersionInfo:     info,
		NumParticipants: uint(slate.NumParticipants),
		ID:              slate.ID,
		Transaction:     slate.Transaction,
		Amount:          core.Uint64(slate.Amount),
		Fee:             core.Uint64(slate.Fee),
		Height:          core.Uint64(slate.Height),
		LockHeight:      core.Uint64(slate.LockHeight),
		ParticipantData: participantsToWire(slate.ParticipantData),
	}
	if slate.TTLCutoffHeight != nil {
		ttl := core.Uint64(*slate.TTLCutoffHeight)
		v3.TTLCutoffHeight = &ttl
	}
	if slate.PaymentProof != nil {
		v3.PaymentProof = &PaymentInfo{
			SenderAddress:     slate.PaymentProof.SenderAddress,
			ReceiverAddress:   slate.PaymentProof.ReceiverAddress,
			ReceiverSignature: slate.PaymentProof.ReceiverSignature,
		}
	}

	if version == V3 {
		return VersionedSlate{V3: v3}, nil
	}
	return VersionedSlate{V2: Downgrade(v3)}, nil
}

// Slate converts to the canonical slate at the current version, keeping the
// original version in OrigVersion.
func (t VersionedSlate) Slate() (*wallet.Slate, error) {
	v3 := t.V3
	if v3 == nil {
		if t.V2 == nil {
			return nil, errors.Wrap(wallet.ErrUnsupportedSlate, "empty versioned slate")
		}
		v3 = Upgrade(t.V2)
	}

	slate := &wallet.Slate{
		VersionInfo: wallet.VersionCompatInfo{
			Version:            v3.VersionInfo.Version,
			OrigVersion:        v3.VersionInfo.OrigVersion,
			BlockHeaderVersion: v3.VersionInfo.BlockHeaderVersion,
		},
		NumParticipants: int(v3.NumParticipants),
		ID:              v3.ID,
		Transaction:     v3.Transaction,
		Amount:          uint64(v3.Amount),
		Fee:             uint64(v3.Fee),
		Height:          uint64(v3.Height),
		LockHeight:      uint64(v3.LockHeight),
		ParticipantData: participantsFromWire(v3.ParticipantData),
	}
	if v3.TTLCutoffHeight != nil {
		ttl := uint64(*v3.TTLCutoffHeight)
		slate.TTLCutoffHeight = &ttl
	}
	if v3.PaymentProof != nil {
		slate.PaymentProof = &wallet.PaymentInfo{
			SenderAddress:     v3.PaymentProof.SenderAddress,
			ReceiverAddress:   v3.PaymentProof.ReceiverAddress,
			ReceiverSignature: v3.PaymentProof.ReceiverSignature,
		}
	}
	return slate, nil
}

// Upgrade lifts a V2 slate to V3. The fields V2 lacks are left empty.
func Upgrade(v2 *SlateV2) *SlateV3 {
	info := v2.VersionInfo
	info.Version = 3
	return &SlateV3{
		VersionInfo:     info,
		NumParticipants: v2.NumParticipants,
		ID:              v2.ID,
		Transaction:     v2.Transaction,
		Amount:          v2.Amount,
		Fee:             v2.Fee,
		Height:          v2.Height,
		LockHeight:      v2.LockHeight,
		ParticipantData: v2.ParticipantData,
	}
}

// Downgrade renders a V3 slate as V2, dropping the TTL and payment proof.
func Downgrade(v3 *SlateV3) *SlateV2 {
	info := v3.VersionInfo
	info.Version = 2
	return &SlateV2{
		VersionInfo:     info,
		NumParticipants: v3.NumParticipants,
		ID:              v3.ID,
		Transaction:     v3.Transaction,
		Amount:          v3.Amount,
		Fee:             v3.Fee,
		Height:          v3.Height,
		LockHeight:      v3.LockHeight,
		ParticipantData: v3.ParticipantData,
	}
}

type CoinbaseV3 struct {
	// Output
	Output core.Output `json:"output"`
	// Kernel
	Kernel core.TxKernel `json:"kernel"`
	// Key Id
	KeyID keychain.Identifier `json:"key_id"`
}

// VersionedCoinbase is the reward output and kernel as returned to a
// miner.
type VersionedCoinbase struct {
	V3 *CoinbaseV3
}

func CoinbaseFromCbData(cb *wallet.CbData) VersionedCoinbase {
	return VersionedCoinbase{V3: &CoinbaseV3{Output: cb.Output, Kernel: cb.Kernel, KeyID: cb.KeyID}}
}

func (t VersionedCoinbase) MarshalJSON() ([]byte, error) {
	if t.V3 == nil {
		return nil, errors.New("cannot marshal empty versioned coinbase")
	}
	return json.Marshal(t.V3)
}

func (t *VersionedCoinbase) UnmarshalJSON(data []byte) error {
	t.V3 = &CoinbaseV3{}
	return json.Unmarshal(data, t.V3)
}
