package controls

import (
	"encoding/json"
	"slices"
	"strconv"
	"strings"
)

// ID is the path of child indices from the root of the control tree to a
// control. The root is the empty ID; child i of P is P followed by i.
type ID []int

// Key is the comparable form of an ID. Maps keyed by position use it since
// slices cannot be map keys.
type Key string

// Key returns the dotted form of id, e.g. "0.2.1". The root is "".
func (id ID) Key() Key {
	var b strings.Builder
	for i, n := range id {
		if i > 0 {
			b.WriteByte('.')
		}
		b.WriteString(strconv.Itoa(n))
	}
	return Key(b.String())
}

// Child returns a new ID addressing child i of id. id is not modified.
func (id ID) Child(i int) ID {
	c := make(ID, len(id)+1)
	copy(c, id)
	c[len(id)] = i
	return c
}

func (id ID) Equal(other ID) bool {
	return slices.Equal(id, other)
}

// Compare orders IDs lexicographically, which is depth-first tree order.
func (id ID) Compare(other ID) int {
	return slices.Compare(id, other)
}

func (id ID) String() string {
	return "[" + strings.ReplaceAll(string(id.Key()), ".", ",") + "]"
}

// MarshalJSON always writes an array; the root encodes as [] rather than null.
func (id ID) MarshalJSON() ([]byte, error) {
	if id == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]int(id))
}

// ID converts k back to an ID. Keys are only ever produced by ID.Key, so
// malformed components decode as 0.
func (k Key) ID() ID {
	if k == "" {
		return nil
	}
	parts := strings.Split(string(k), ".")
	id := make(ID, len(parts))
	for i, p := range parts {
		id[i], _ = strconv.Atoi(p)
	}
	return id
}
