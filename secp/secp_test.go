package secp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomSecret(t *testing.T) SecretKey {
	sk, err := RandomSecret()
	require.NoError(t, err)
	return sk
}

func TestCommitIsDeterministic(t *testing.T) {
	blind := randomSecret(t)

	c1, err := Commit(1000, blind)
	require.NoError(t, err)
	c2, err := Commit(1000, blind)
	require.NoError(t, err)

	assert.Equal(t, c1, c2)
	assert.Contains(t, []byte{0x08, 0x09}, c1[0])
}

func TestCommitSumBalances(t *testing.T) {
	inBlind := randomSecret(t)
	outBlind := randomSecret(t)

	input, err := Commit(100, inBlind)
	require.NoError(t, err)
	output, err := Commit(60, outBlind)
	require.NoError(t, err)
	fee, err := CommitValue(40)
	require.NoError(t, err)

	// output + fee - input commits to zero value, leaving only the blinds
	excess, err := CommitSum([]Commitment{output, fee}, []Commitment{input})
	require.NoError(t, err)

	excessBlind, err := BlindSum([]SecretKey{outBlind}, []SecretKey{inBlind})
	require.NoError(t, err)
	expected, err := Commit(0, excessBlind)
	require.NoError(t, err)

	assert.Equal(t, expected, excess)
}

func TestCommitmentStringRoundTrip(t *testing.T) {
	c, err := Commit(5, randomSecret(t))
	require.NoError(t, err)

	parsed, err := CommitmentFromString(c.String())
	require.NoError(t, err)
	assert.Equal(t, c, parsed)

	_, err = CommitmentFromString("02" + c.String()[2:])
	assert.Error(t, err)
}

func TestPublicKeyCommitmentConversion(t *testing.T) {
	sk := randomSecret(t)
	pk, err := PublicKeyFromSecret(sk)
	require.NoError(t, err)

	c, err := PublicKeyToCommitment(pk)
	require.NoError(t, err)
	expected, err := Commit(0, sk)
	require.NoError(t, err)
	assert.Equal(t, expected, c)

	back, err := CommitmentToPublicKey(c)
	require.NoError(t, err)
	assert.Equal(t, pk, back)
}

func TestAggregatedSignature(t *testing.T) {
	msg := []byte("kernel message hash, 32 bytes..")

	var secKeys, secNonces []SecretKey
	var pubKeys, pubNonces []PublicKey
	for i := 0; i < 3; i++ {
		sk := randomSecret(t)
		nonce := randomSecret(t)
		pk, err := PublicKeyFromSecret(sk)
		require.NoError(t, err)
		pn, err := PublicKeyFromSecret(nonce)
		require.NoError(t, err)
		secKeys = append(secKeys, sk)
		secNonces = append(secNonces, nonce)
		pubKeys = append(pubKeys, pk)
		pubNonces = append(pubNonces, pn)
	}

	pubKeySum, err := SumPublicKeys(pubKeys)
	require.NoError(t, err)
	nonceSum, err := SumPublicKeys(pubNonces)
	require.NoError(t, err)

	var partials []Signature
	for i := range secKeys {
		sig, err := CalculatePartialSig(secKeys[i], secNonces[i], nonceSum, pubKeySum, msg)
		require.NoError(t, err)
		require.NoError(t, VerifyPartialSig(sig, pubNonces[i], nonceSum, pubKeys[i], pubKeySum, msg))
		partials = append(partials, sig)
	}

	// a partial signature does not verify against someone else's key
	assert.Error(t, VerifyPartialSig(partials[0], pubNonces[1], nonceSum, pubKeys[1], pubKeySum, msg))

	final, err := AddPartialSigs(partials, nonceSum)
	require.NoError(t, err)
	assert.NoError(t, VerifySingle(final, msg, pubKeySum))
	assert.Error(t, VerifySingle(final, []byte("another message"), pubKeySum))

	missing, err := AddPartialSigs(partials[:2], nonceSum)
	require.NoError(t, err)
	assert.Error(t, VerifySingle(missing, msg, pubKeySum))
}

func TestSignSingleIsDeterministic(t *testing.T) {
	sk := randomSecret(t)
	pk, err := PublicKeyFromSecret(sk)
	require.NoError(t, err)

	sig1, err := SignSingle(sk, []byte("hello"))
	require.NoError(t, err)
	sig2, err := SignSingle(sk, []byte("hello"))
	require.NoError(t, err)

	assert.Equal(t, sig1, sig2)
	assert.NoError(t, VerifySingle(sig1, []byte("hello"), pk))

	other, err := PublicKeyFromSecret(randomSecret(t))
	require.NoError(t, err)
	assert.Error(t, VerifySingle(sig1, []byte("hello"), other))
}

func TestOpeningProof(t *testing.T) {
	blind := randomSecret(t)
	commit, err := Commit(42, blind)
	require.NoError(t, err)

	proof, err := CreateOpeningProof(blind, commit)
	require.NoError(t, err)

	assert.NoError(t, VerifyOpeningProof(proof, commit, 42))
	assert.Error(t, VerifyOpeningProof(proof, commit, 43))
}
