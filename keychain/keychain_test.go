package keychain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testMnemonic = "legal winner thank year wave sausage worth useful legal winner thank yellow"

func TestIdentifierPath(t *testing.T) {
	child, err := DefaultAccount.Extend(7)
	require.NoError(t, err)

	assert.Equal(t, uint8(3), child.Depth())
	assert.Equal(t, []uint32{0, 0, 7}, child.Path())
	assert.Equal(t, uint32(7), child.LastPathIndex())
	assert.Equal(t, DefaultAccount, child.Parent())

	parsed, err := IdentifierFromHex(child.String())
	require.NoError(t, err)
	assert.Equal(t, child, parsed)
}

func TestIdentifierValidation(t *testing.T) {
	_, err := IdentifierFromHex("0300")
	assert.ErrorIs(t, err, ErrInvalidIdentifier)

	// depth 1 with a non-zero second element
	bad := DeriveKeyID(1, 0, 5, 0, 0)
	assert.False(t, bad.Valid())
	_, err = IdentifierFromHex(bad.String())
	assert.ErrorIs(t, err, ErrInvalidIdentifier)

	full := DeriveKeyID(4, 1, 2, 3, 4)
	_, err = full.Extend(5)
	assert.ErrorIs(t, err, ErrInvalidIdentifier)
}

func TestDeriveKeyIsDeterministic(t *testing.T) {
	k1, err := FromMnemonic(testMnemonic)
	require.NoError(t, err)
	k2, err := FromMnemonic(testMnemonic)
	require.NoError(t, err)

	id, err := DefaultAccount.Extend(1)
	require.NoError(t, err)

	c1, err := k1.Commit(500, id)
	require.NoError(t, err)
	c2, err := k2.Commit(500, id)
	require.NoError(t, err)
	assert.Equal(t, c1, c2)

	other, err := DefaultAccount.Extend(2)
	require.NoError(t, err)
	c3, err := k1.Commit(500, other)
	require.NoError(t, err)
	assert.NotEqual(t, c1, c3)
}

func TestSeedFile(t *testing.T) {
	dir := t.TempDir()

	created, err := Init(dir, "")
	require.NoError(t, err)
	assert.NotEmpty(t, created)
	assert.True(t, Exists(dir))

	_, err = Init(dir, testMnemonic)
	assert.Error(t, err)

	k, err := Open(dir)
	require.NoError(t, err)

	fromMnemonic, err := FromMnemonic(created)
	require.NoError(t, err)

	id, err := DefaultAccount.Extend(0)
	require.NoError(t, err)
	a, err := k.DeriveKey(id)
	require.NoError(t, err)
	b, err := fromMnemonic.DeriveKey(id)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}
