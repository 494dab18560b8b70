package secp

import (
	"encoding/hex"

	"github.com/pkg/errors"
)

func decodeFixed(s string, out []byte, what string) error {
	b, err := hex.DecodeString(s)
	if err != nil {
		return errors.Wrapf(err, "cannot decode %s from hex", what)
	}
	if len(b) != len(out) {
		return errors.Errorf("%s must be %d bytes, got %d", what, len(out), len(b))
	}
	copy(out, b)
	return nil
}

func (t Commitment) String() string {
	return hex.EncodeToString(t[:])
}

func CommitmentFromString(s string) (c Commitment, err error) {
	err = decodeFixed(s, c[:], "commitment")
	if err != nil {
		return
	}
	_, err = c.point()
	return
}

func (t Commitment) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *Commitment) UnmarshalText(text []byte) error {
	c, err := CommitmentFromString(string(text))
	if err != nil {
		return err
	}
	*t = c
	return nil
}

func (t PublicKey) String() string {
	return hex.EncodeToString(t[:])
}

func PublicKeyFromString(s string) (pk PublicKey, err error) {
	err = decodeFixed(s, pk[:], "public key")
	if err != nil {
		return
	}
	_, err = pk.point()
	return
}

func (t PublicKey) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *PublicKey) UnmarshalText(text []byte) error {
	pk, err := PublicKeyFromString(string(text))
	if err != nil {
		return err
	}
	*t = pk
	return nil
}

func (t Signature) String() string {
	return hex.EncodeToString(t[:])
}

func SignatureFromString(s string) (sig Signature, err error) {
	err = decodeFixed(s, sig[:], "signature")
	return
}

func (t Signature) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *Signature) UnmarshalText(text []byte) error {
	sig, err := SignatureFromString(string(text))
	if err != nil {
		return err
	}
	*t = sig
	return nil
}

func (t SecretKey) String() string {
	return hex.EncodeToString(t[:])
}

func SecretKeyFromString(s string) (sk SecretKey, err error) {
	err = decodeFixed(s, sk[:], "secret key")
	return
}

func (t SecretKey) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *SecretKey) UnmarshalText(text []byte) error {
	sk, err := SecretKeyFromString(string(text))
	if err != nil {
		return err
	}
	*t = sk
	return nil
}
