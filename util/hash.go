package util

import (
	"fmt"

	"github.com/spaolacci/murmur3"
)

// ContentHash derives a stable content-addressed identity from the given
// parts. Used for dedup keys, delivery ids and escalation detail hashes.
func ContentHash(parts ...string) string {
	h := murmur3.New128()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	h1, h2 := h.Sum128()
	return fmt.Sprintf("%016x%016x", h1, h2)
}
