package ephemeral

import (
	"encoding/binary"
	"encoding/hex"

	"golang.org/x/crypto/blake2b"
)

// HashIdentifier derives the stable one-way digest stored in place of a raw
// identifier (document number, name and date of birth) in logs, the audit
// trail and the embedding index.
//
// The pepper is the BLAKE2b key and must stay out of the database; the salt
// is mixed into the message with length framing so ("ab", "c") and ("a",
// "bc") never collide. The same inputs always give the same digest.
func HashIdentifier(raw, salt, pepper string) string {
	key := []byte(pepper)
	if len(key) > blake2b.Size {
		sum := blake2b.Sum512(key)
		key = sum[:]
	}
	h, err := blake2b.New256(key)
	if err != nil {
		// Only reachable with a key longer than 64 bytes, handled above.
		panic(err)
	}
	var n [4]byte
	binary.BigEndian.PutUint32(n[:], uint32(len(salt)))
	h.Write(n[:])
	h.Write([]byte(salt))
	binary.BigEndian.PutUint32(n[:], uint32(len(raw)))
	h.Write(n[:])
	h.Write([]byte(raw))
	return hex.EncodeToString(h.Sum(nil))
}
