package secp

import (
	"bytes"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/pkg/errors"
	"golang.org/x/crypto/blake2b"
)

// challenge e = blake2b(R.x || P || msg) mod n
func challenge(nonceX []byte, pubKey PublicKey, msg []byte) *secp256k1.ModNScalar {
	hash, _ := blake2b.New256(nil)
	hash.Write(nonceX)
	hash.Write(pubKey[:])
	hash.Write(msg)
	var e secp256k1.ModNScalar
	e.SetByteSlice(hash.Sum(nil))
	return &e
}

func nonceIsOdd(nonce PublicKey) bool {
	return nonce[0] == secp256k1.PubKeyFormatCompressedOdd
}

// s*G == R + e*P
func checkSchnorrEquation(s *secp256k1.ModNScalar, r *secp256k1.JacobianPoint, e *secp256k1.ModNScalar, p *secp256k1.JacobianPoint) error {
	var lhs, ep, rhs secp256k1.JacobianPoint
	secp256k1.ScalarBaseMultNonConst(s, &lhs)
	secp256k1.ScalarMultNonConst(e, p, &ep)
	secp256k1.AddNonConst(r, &ep, &rhs)

	lhsBytes, err := serializePoint(&lhs)
	if err != nil {
		return errors.Wrap(err, "signature does not verify")
	}
	rhsBytes, err := serializePoint(&rhs)
	if err != nil {
		return errors.Wrap(err, "signature does not verify")
	}
	if lhsBytes != rhsBytes {
		return errors.New("signature does not verify")
	}
	return nil
}

func (t Signature) scalar() (*secp256k1.ModNScalar, error) {
	var s secp256k1.ModNScalar
	if overflow := s.SetByteSlice(t[32:]); overflow {
		return nil, errors.New("signature scalar overflows the group order")
	}
	return &s, nil
}

// CalculatePartialSig creates one participant's share of an aggregated
// signature: s_i = k_i + e*x_i, where the nonce is negated when the sum of
// public nonces has odd y.
func CalculatePartialSig(
	secKey SecretKey,
	secNonce SecretKey,
	nonceSum PublicKey,
	pubKeySum PublicKey,
	msg []byte,
) (
	sig Signature,
	err error,
) {
	x, err := secKey.scalar()
	if err != nil {
		return sig, errors.Wrap(err, "cannot use secret key")
	}
	k, err := secNonce.scalar()
	if err != nil {
		return sig, errors.Wrap(err, "cannot use secret nonce")
	}
	if nonceIsOdd(nonceSum) {
		k.Negate()
	}

	e := challenge(nonceSum[1:], pubKeySum, msg)

	var s secp256k1.ModNScalar
	s.Mul2(e, x).Add(k)

	copy(sig[:32], nonceSum[1:])
	sBytes := s.Bytes()
	copy(sig[32:], sBytes[:])
	return sig, nil
}

// VerifyPartialSig checks a partial signature against the signer's public
// nonce and public key.
func VerifyPartialSig(
	sig Signature,
	pubNonce PublicKey,
	nonceSum PublicKey,
	pubKey PublicKey,
	pubKeySum PublicKey,
	msg []byte,
) error {
	if !bytes.Equal(sig[:32], nonceSum[1:]) {
		return errors.New("partial signature was made over a different nonce sum")
	}
	s, err := sig.scalar()
	if err != nil {
		return err
	}
	r, err := pubNonce.point()
	if err != nil {
		return errors.Wrap(err, "cannot parse public nonce")
	}
	if nonceIsOdd(nonceSum) {
		negate(r)
	}
	p, err := pubKey.point()
	if err != nil {
		return errors.Wrap(err, "cannot parse public key")
	}

	e := challenge(nonceSum[1:], pubKeySum, msg)

	return checkSchnorrEquation(s, r, e, p)
}

// AddPartialSigs aggregates partial signatures made over the same nonce sum.
func AddPartialSigs(sigs []Signature, nonceSum PublicKey) (sig Signature, err error) {
	if len(sigs) == 0 {
		return sig, errors.New("no partial signatures to add")
	}
	var sum secp256k1.ModNScalar
	for i, partial := range sigs {
		if !bytes.Equal(partial[:32], nonceSum[1:]) {
			return sig, errors.Errorf("partial signature %d was made over a different nonce sum", i)
		}
		s, e := partial.scalar()
		if e != nil {
			return sig, errors.Wrapf(e, "cannot parse partial signature %d", i)
		}
		sum.Add(s)
	}
	copy(sig[:32], nonceSum[1:])
	sBytes := sum.Bytes()
	copy(sig[32:], sBytes[:])
	return sig, nil
}

// VerifySingle verifies a complete signature against pubKey.
func VerifySingle(sig Signature, msg []byte, pubKey PublicKey) error {
	nonce := append([]byte{secp256k1.PubKeyFormatCompressedEven}, sig[:32]...)
	r, err := parsePoint(nonce)
	if err != nil {
		return errors.Wrap(err, "cannot parse signature nonce")
	}
	s, err := sig.scalar()
	if err != nil {
		return err
	}
	p, err := pubKey.point()
	if err != nil {
		return errors.Wrap(err, "cannot parse public key")
	}

	e := challenge(sig[:32], pubKey, msg)

	return checkSchnorrEquation(s, r, e, p)
}

// SignSingle signs msg with a nonce derived from the key and the message, so
// the same inputs always produce the same signature.
func SignSingle(secKey SecretKey, msg []byte) (sig Signature, err error) {
	x, err := secKey.scalar()
	if err != nil {
		return sig, errors.Wrap(err, "cannot use secret key")
	}
	pubKey, err := PublicKeyFromSecret(secKey)
	if err != nil {
		return sig, err
	}

	hash, _ := blake2b.New256(secKey[:])
	hash.Write(msg)
	var k secp256k1.ModNScalar
	k.SetByteSlice(hash.Sum(nil))
	if k.IsZero() {
		return sig, errors.New("derived nonce is zero")
	}

	nonce, err := PublicKeyFromSecret(secretFromScalar(&k))
	if err != nil {
		return sig, errors.Wrap(err, "cannot create public nonce")
	}
	if nonceIsOdd(nonce) {
		k.Negate()
	}

	e := challenge(nonce[1:], pubKey, msg)

	var s secp256k1.ModNScalar
	s.Mul2(e, x).Add(&k)

	copy(sig[:32], nonce[1:])
	sBytes := s.Bytes()
	copy(sig[32:], sBytes[:])
	return sig, nil
}

func openingMessage(commit Commitment) []byte {
	digest := blake2b.Sum256(commit[:])
	return digest[:]
}

// CreateOpeningProof proves knowledge of the blinding factor of commit.
// Anyone who knows the committed value can check it with VerifyOpeningProof.
func CreateOpeningProof(blind SecretKey, commit Commitment) (Signature, error) {
	return SignSingle(blind, openingMessage(commit))
}

func VerifyOpeningProof(proof Signature, commit Commitment, value uint64) error {
	excess := commit
	if value != 0 {
		valueCommit, err := CommitValue(value)
		if err != nil {
			return err
		}
		excess, err = CommitSum([]Commitment{commit}, []Commitment{valueCommit})
		if err != nil {
			return errors.Wrap(err, "cannot remove value from commitment")
		}
	}
	pubKey, err := CommitmentToPublicKey(excess)
	if err != nil {
		return err
	}
	return VerifySingle(proof, openingMessage(commit), pubKey)
}
