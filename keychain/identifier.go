package keychain

import (
	"encoding/binary"
	"encoding/hex"

	"github.com/pkg/errors"
)

const (
	IdentifierSize = 17
	maxDepth       = 4
)

// Identifier names a key by its derivation path: one depth byte followed by
// four big-endian uint32 path elements, unused elements zero.
type Identifier [IdentifierSize]byte

// DefaultAccount is the root of the "default" account, m/0/0.
var DefaultAccount = DeriveKeyID(2, 0, 0, 0, 0)

func DeriveKeyID(depth uint8, d0, d1, d2, d3 uint32) (id Identifier) {
	id[0] = depth
	for i, d := range []uint32{d0, d1, d2, d3} {
		binary.BigEndian.PutUint32(id[1+4*i:], d)
	}
	return
}

// AccountID returns the root identifier of the n-th account.
func AccountID(n uint32) Identifier {
	return DeriveKeyID(2, n, 0, 0, 0)
}

func (t Identifier) Depth() uint8 {
	return t[0]
}

func (t Identifier) Path() []uint32 {
	depth := int(t.Depth())
	if depth > maxDepth {
		depth = maxDepth
	}
	path := make([]uint32, depth)
	for i := range path {
		path[i] = binary.BigEndian.Uint32(t[1+4*i:])
	}
	return path
}

func (t Identifier) Valid() bool {
	if t.Depth() > maxDepth {
		return false
	}
	for i := int(t.Depth()); i < maxDepth; i++ {
		if binary.BigEndian.Uint32(t[1+4*i:]) != 0 {
			return false
		}
	}
	return true
}

// Extend appends n to the path.
func (t Identifier) Extend(n uint32) (Identifier, error) {
	if t.Depth() >= maxDepth {
		return Identifier{}, errors.Wrapf(ErrInvalidIdentifier, "cannot extend %v beyond depth %d", t, maxDepth)
	}
	id := t
	binary.BigEndian.PutUint32(id[1+4*int(t.Depth()):], n)
	id[0]++
	return id, nil
}

func (t Identifier) Parent() Identifier {
	if t.Depth() == 0 {
		return t
	}
	id := t
	binary.BigEndian.PutUint32(id[1+4*int(t.Depth()-1):], 0)
	id[0]--
	return id
}

func (t Identifier) LastPathIndex() uint32 {
	if t.Depth() == 0 {
		return 0
	}
	return binary.BigEndian.Uint32(t[1+4*int(t.Depth()-1):])
}

func (t Identifier) String() string {
	return hex.EncodeToString(t[:])
}

func IdentifierFromHex(s string) (id Identifier, err error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return id, errors.Wrap(err, "cannot decode identifier from hex")
	}
	if len(b) != IdentifierSize {
		return id, errors.Wrapf(ErrInvalidIdentifier, "identifier must be %d bytes, got %d", IdentifierSize, len(b))
	}
	copy(id[:], b)
	if !id.Valid() {
		return Identifier{}, errors.Wrapf(ErrInvalidIdentifier, "malformed identifier %v", s)
	}
	return id, nil
}

func (t Identifier) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *Identifier) UnmarshalText(text []byte) error {
	id, err := IdentifierFromHex(string(text))
	if err != nil {
		return err
	}
	*t = id
	return nil
}
