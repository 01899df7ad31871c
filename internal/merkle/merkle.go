// Package merkle computes leaf and root hashes for the learning memory
// collections. A leaf is the SHA-256 of an entity's canonical JSON
// serialization; the root is the SHA-256 over the ordered leaf set.
//
// At the scale of a single-process learning loop the root is recomputed
// over all leaves on every mutation rather than maintained incrementally.
// Callers must run Leaf+Root inside the same critical section as the map
// mutation so the stored root always matches the actual leaf set.
package merkle

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
)

// Leaf returns the hex SHA-256 of the entity's canonical JSON form.
// encoding/json sorts map keys, so serialization is deterministic for
// the entity shapes stored in learning memory.
func Leaf(entity any) (string, error) {
	data, err := json.Marshal(entity)
	if err != nil {
		return "", fmt.Errorf("serializing entity for leaf hash: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// Root computes the collection root over the id→leaf map. Leaves are
// folded in ascending id order; each id contributes alongside its leaf so
// re-keying an entry changes the root. An empty collection has a
// well-defined root (the hash of nothing).
func Root(leaves map[string]string) string {
	ids := make([]string, 0, len(leaves))
	for id := range leaves {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	h := sha256.New()
	for _, id := range ids {
		h.Write([]byte(id))
		h.Write([]byte{0})
		h.Write([]byte(leaves[id]))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
