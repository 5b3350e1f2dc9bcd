package welcome

import (
	"crypto/rand"
)

const (
	// codePrefix is the fixed human-readable prefix of every welcome code.
	codePrefix = "WELCOME-"
	// suffixLen is the number of random characters after the prefix. With a
	// 36-character alphabet that is ~41 bits of entropy: collisions stay
	// possible, which is why issuance runs a collision loop, but rare enough
	// that three attempts all colliding signals something is wrong.
	suffixLen = 8

	codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// Generator produces candidate welcome codes. The zero value is ready to use.
type Generator struct{}

// Generate returns a fresh candidate code, e.g. "WELCOME-X7K2P0QM".
// Candidates are not guaranteed unique; the catalog's uniqueness constraint
// is the arbiter.
func (Generator) Generate() string {
	buf := make([]byte, suffixLen)
	// crypto/rand.Read never fails on supported platforms.
	_, _ = rand.Read(buf)

	out := make([]byte, 0, len(codePrefix)+suffixLen)
	out = append(out, codePrefix...)
	for _, b := range buf {
		out = append(out, codeAlphabet[int(b)%len(codeAlphabet)])
	}
	return string(out)
}
