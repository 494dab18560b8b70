// Package secp implements the Pedersen commitment and aggregated Schnorr
// signature primitives the wallet builds transactions with.
//
// Commitments are r*G + v*H over secp256k1, serialized as 33 bytes with a
// 0x08/0x09 prefix carrying the parity of y. Public keys use the standard
// compressed encoding. Signatures are 64 bytes: the x coordinate of the
// (even y) public nonce followed by the scalar s.
package secp

import (
	"encoding/binary"
	"encoding/hex"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/pkg/errors"
)

const (
	SecretKeySize  = 32
	CommitmentSize = 33
	PublicKeySize  = 33
	SignatureSize  = 64

	commitPrefixEven = 0x08
	commitPrefixOdd  = 0x09
)

// NUMS generator H used for the value component of commitments.
const generatorHHex = "0250929b74c1a04954b78b4b6035e97a5e078a5a0f28ec96d547bfee9ace803ac0"

var generatorH secp256k1.JacobianPoint

func init() {
	hBytes, err := hex.DecodeString(generatorHHex)
	if err != nil {
		panic("cannot decode generator H")
	}
	h, err := secp256k1.ParsePubKey(hBytes)
	if err != nil {
		panic("cannot parse generator H")
	}
	h.AsJacobian(&generatorH)
}

type SecretKey [SecretKeySize]byte

type Commitment [CommitmentSize]byte

type PublicKey [PublicKeySize]byte

type Signature [SignatureSize]byte

func (t SecretKey) IsZero() bool {
	return t == SecretKey{}
}

func (t SecretKey) scalar() (*secp256k1.ModNScalar, error) {
	var s secp256k1.ModNScalar
	if overflow := s.SetByteSlice(t[:]); overflow {
		return nil, errors.New("secret key overflows the group order")
	}
	return &s, nil
}

func secretFromScalar(s *secp256k1.ModNScalar) SecretKey {
	return SecretKey(s.Bytes())
}

// RandomSecret returns a uniformly random non-zero scalar.
func RandomSecret() (SecretKey, error) {
	key, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return SecretKey{}, errors.Wrap(err, "cannot GeneratePrivateKey")
	}
	var sk SecretKey
	copy(sk[:], key.Serialize())
	return sk, nil
}

// SecretKeyFromBytes validates b as a non-zero scalar.
func SecretKeyFromBytes(b []byte) (sk SecretKey, err error) {
	if len(b) != SecretKeySize {
		return sk, errors.Errorf("secret key must be %d bytes, got %d", SecretKeySize, len(b))
	}
	copy(sk[:], b)
	s, err := sk.scalar()
	if err != nil {
		return SecretKey{}, err
	}
	if s.IsZero() {
		return SecretKey{}, errors.New("secret key is zero")
	}
	return sk, nil
}

func valueScalar(value uint64) *secp256k1.ModNScalar {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], value)
	var s secp256k1.ModNScalar
	s.SetByteSlice(buf[:])
	return &s
}

func isInfinity(p *secp256k1.JacobianPoint) bool {
	return (p.X.IsZero() && p.Y.IsZero()) || p.Z.IsZero()
}

func negate(p *secp256k1.JacobianPoint) {
	p.ToAffine()
	p.Y.Negate(1)
	p.Y.Normalize()
}

func serializePoint(p *secp256k1.JacobianPoint) (PublicKey, error) {
	if isInfinity(p) {
		return PublicKey{}, errors.New("point at infinity")
	}
	p.ToAffine()
	var pk PublicKey
	copy(pk[:], secp256k1.NewPublicKey(&p.X, &p.Y).SerializeCompressed())
	return pk, nil
}

func parsePoint(b []byte) (*secp256k1.JacobianPoint, error) {
	pk, err := secp256k1.ParsePubKey(b)
	if err != nil {
		return nil, errors.Wrap(err, "cannot parse curve point")
	}
	var p secp256k1.JacobianPoint
	pk.AsJacobian(&p)
	return &p, nil
}

// Commit creates the commitment blind*G + value*H.
func Commit(value uint64, blind SecretKey) (Commitment, error) {
	r, err := blind.scalar()
	if err != nil {
		return Commitment{}, err
	}

	var sum secp256k1.JacobianPoint
	if !r.IsZero() {
		secp256k1.ScalarBaseMultNonConst(r, &sum)
	}
	if value != 0 {
		var vh, acc secp256k1.JacobianPoint
		secp256k1.ScalarMultNonConst(valueScalar(value), &generatorH, &vh)
		secp256k1.AddNonConst(&sum, &vh, &acc)
		sum = acc
	}

	return commitmentFromPoint(&sum)
}

// CommitValue commits to value with a zero blinding factor.
func CommitValue(value uint64) (Commitment, error) {
	return Commit(value, SecretKey{})
}

func commitmentFromPoint(p *secp256k1.JacobianPoint) (Commitment, error) {
	pk, err := serializePoint(p)
	if err != nil {
		return Commitment{}, errors.Wrap(err, "commitment to zero")
	}
	var c Commitment
	copy(c[:], pk[:])
	c[0] = commitPrefixEven + (pk[0] - secp256k1.PubKeyFormatCompressedEven)
	return c, nil
}

func (t Commitment) point() (*secp256k1.JacobianPoint, error) {
	if t[0] != commitPrefixEven && t[0] != commitPrefixOdd {
		return nil, errors.Errorf("bad commitment prefix %#x", t[0])
	}
	b := t
	b[0] = secp256k1.PubKeyFormatCompressedEven + (t[0] - commitPrefixEven)
	return parsePoint(b[:])
}

// CommitSum returns sum(positive) - sum(negative).
func CommitSum(positive, negative []Commitment) (Commitment, error) {
	var sum secp256k1.JacobianPoint
	for i, c := range positive {
		p, err := c.point()
		if err != nil {
			return Commitment{}, errors.Wrapf(err, "cannot parse positive commitment %d", i)
		}
		var acc secp256k1.JacobianPoint
		secp256k1.AddNonConst(&sum, p, &acc)
		sum = acc
	}
	for i, c := range negative {
		p, err := c.point()
		if err != nil {
			return Commitment{}, errors.Wrapf(err, "cannot parse negative commitment %d", i)
		}
		negate(p)
		var acc secp256k1.JacobianPoint
		secp256k1.AddNonConst(&sum, p, &acc)
		sum = acc
	}
	return commitmentFromPoint(&sum)
}

// BlindSum returns sum(positive) - sum(negative) mod n.
func BlindSum(positive, negative []SecretKey) (SecretKey, error) {
	var sum secp256k1.ModNScalar
	for i, sk := range positive {
		s, err := sk.scalar()
		if err != nil {
			return SecretKey{}, errors.Wrapf(err, "cannot use positive blind %d", i)
		}
		sum.Add(s)
	}
	for i, sk := range negative {
		s, err := sk.scalar()
		if err != nil {
			return SecretKey{}, errors.Wrapf(err, "cannot use negative blind %d", i)
		}
		sum.Add(new(secp256k1.ModNScalar).NegateVal(s))
	}
	return secretFromScalar(&sum), nil
}

// PublicKeyFromSecret returns sk*G.
func PublicKeyFromSecret(sk SecretKey) (PublicKey, error) {
	s, err := sk.scalar()
	if err != nil {
		return PublicKey{}, err
	}
	if s.IsZero() {
		return PublicKey{}, errors.New("cannot create public key from zero secret")
	}
	var p secp256k1.JacobianPoint
	secp256k1.ScalarBaseMultNonConst(s, &p)
	return serializePoint(&p)
}

func (t PublicKey) point() (*secp256k1.JacobianPoint, error) {
	return parsePoint(t[:])
}

// SumPublicKeys adds curve points.
func SumPublicKeys(keys []PublicKey) (PublicKey, error) {
	if len(keys) == 0 {
		return PublicKey{}, errors.New("no public keys to sum")
	}
	var sum secp256k1.JacobianPoint
	for i, k := range keys {
		p, err := k.point()
		if err != nil {
			return PublicKey{}, errors.Wrapf(err, "cannot parse public key %d", i)
		}
		var acc secp256k1.JacobianPoint
		secp256k1.AddNonConst(&sum, p, &acc)
		sum = acc
	}
	return serializePoint(&sum)
}

// CommitmentToPublicKey reinterprets a commitment with no value component
// (a kernel excess) as a public key.
func CommitmentToPublicKey(c Commitment) (PublicKey, error) {
	if _, err := c.point(); err != nil {
		return PublicKey{}, err
	}
	var pk PublicKey
	copy(pk[:], c[:])
	pk[0] = secp256k1.PubKeyFormatCompressedEven + (c[0] - commitPrefixEven)
	return pk, nil
}

func PublicKeyToCommitment(pk PublicKey) (Commitment, error) {
	if _, err := pk.point(); err != nil {
		return Commitment{}, err
	}
	var c Commitment
	copy(c[:], pk[:])
	c[0] = commitPrefixEven + (pk[0] - secp256k1.PubKeyFormatCompressedEven)
	return c, nil
}
