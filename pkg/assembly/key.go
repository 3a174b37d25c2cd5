package assembly

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"io"
	"sync"
)

// Key is the structural identity of an assembled type
type Key [sha256.Size]byte

// String returns the hex encoding of the key
func (k Key) String() string {
	return hex.EncodeToString(k[:])
}

// Short returns the first 12 hex characters of the key
func (k Key) Short() string {
	return k.String()[:12]
}

// identities numbers reflect types and styles in order of first use. Type
// names are not unique (two function-local types can both print as
// "pkg.T"), so keys hash these ordinals, which makes them meaningful within
// one process only.
var identities = struct {
	sync.Mutex
	ids map[any]uint64
}{ids: make(map[any]uint64)}

func identity(v any) uint64 {
	identities.Lock()
	defer identities.Unlock()
	id, ok := identities.ids[v]
	if !ok {
		id = uint64(len(identities.ids)) + 1
		identities.ids[v] = id
	}
	return id
}

// StructuralKey hashes the abstract name, its style, its naming and every
// field's name, type and constructor ID, in order.
func StructuralKey(abstract *Abstract, fields []*FieldSpec) Key {
	h := sha256.New()
	write := func(s string) {
		_, _ = io.WriteString(h, s)
		_, _ = h.Write([]byte{0})
	}
	writeID := func(v any) {
		_, _ = h.Write(binary.BigEndian.AppendUint64(nil, identity(v)))
	}

	write(abstract.Name)
	writeID(abstract.style())
	if abstract.PlainName {
		write("plain")
	}
	for _, f := range fields {
		write(f.Name)
		write(f.Type.String())
		writeID(f.Type)
		write(f.constructorID())
	}

	var key Key
	copy(key[:], h.Sum(nil))
	return key
}
