// Package keychain derives the wallet's blinding keys from a bip32 master key.
package keychain

import (
	"github.com/pkg/errors"
	"github.com/tyler-smith/go-bip32"
	"github.com/tyler-smith/go-bip39"

	"github.com/olegabu/go-mimblewimble/secp"
)

const (
	mnemonicPassword = ""
	entropyBitSize   = 128
)

var ErrInvalidIdentifier = errors.New("invalid key identifier")

type Keychain struct {
	masterKey *bip32.Key
}

func New(seed []byte) (*Keychain, error) {
	masterKey, err := bip32.NewMasterKey(seed)
	if err != nil {
		return nil, errors.Wrap(err, "cannot get NewMasterKey from seed")
	}
	return &Keychain{masterKey: masterKey}, nil
}

func FromMnemonic(mnemonic string) (*Keychain, error) {
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, errors.New("mnemonic is invalid")
	}
	return New(bip39.NewSeed(mnemonic, mnemonicPassword))
}

// NewMnemonic generates a fresh recovery phrase.
func NewMnemonic() (string, error) {
	entropy, err := bip39.NewEntropy(entropyBitSize)
	if err != nil {
		return "", errors.Wrap(err, "cannot get NewEntropy from bip39")
	}
	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return "", errors.Wrap(err, "cannot get NewMnemonic from entropy")
	}
	return mnemonic, nil
}

func (t *Keychain) extendedKey(id Identifier) (*bip32.Key, error) {
	if !id.Valid() {
		return nil, errors.Wrapf(ErrInvalidIdentifier, "malformed identifier %v", id)
	}
	key := t.masterKey
	for _, index := range id.Path() {
		child, err := key.NewChildKey(index)
		if err != nil {
			return nil, errors.Wrapf(err, "cannot derive child %d of %v", index, id)
		}
		key = child
	}
	return key, nil
}

// DeriveKey returns the blinding factor for id.
func (t *Keychain) DeriveKey(id Identifier) (secp.SecretKey, error) {
	key, err := t.extendedKey(id)
	if err != nil {
		return secp.SecretKey{}, err
	}
	// bip32 private keys may carry a leading zero byte
	raw := key.Key
	if len(raw) == 33 && raw[0] == 0 {
		raw = raw[1:]
	}
	sk, err := secp.SecretKeyFromBytes(raw)
	if err != nil {
		return secp.SecretKey{}, errors.Wrapf(ErrInvalidIdentifier, "key %v is not a valid scalar: %v", id, err)
	}
	return sk, nil
}

// Commit creates the commitment to value blinded by the key at id.
func (t *Keychain) Commit(value uint64, id Identifier) (secp.Commitment, error) {
	blind, err := t.DeriveKey(id)
	if err != nil {
		return secp.Commitment{}, err
	}
	return secp.Commit(value, blind)
}

func (t *Keychain) Serialize() ([]byte, error) {
	return t.masterKey.Serialize()
}

func Deserialize(data []byte) (*Keychain, error) {
	masterKey, err := bip32.Deserialize(data)
	if err != nil {
		return nil, errors.Wrap(err, "cannot Deserialize masterKey")
	}
	if !masterKey.IsPrivate {
		return nil, errors.New("master key is not private")
	}
	return &Keychain{masterKey: masterKey}, nil
}
