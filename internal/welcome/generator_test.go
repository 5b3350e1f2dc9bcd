package welcome

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGenerate_Shape(t *testing.T) {
	var gen Generator

	code := gen.Generate()
	assert.True(t, strings.HasPrefix(code, "WELCOME-"))
	assert.Len(t, code, len("WELCOME-")+8)

	suffix := strings.TrimPrefix(code, "WELCOME-")
	for _, r := range suffix {
		assert.Contains(t, codeAlphabet, string(r))
	}
}

func TestGenerate_Varies(t *testing.T) {
	var gen Generator

	seen := make(map[string]struct{})
	for range 100 {
		seen[gen.Generate()] = struct{}{}
	}
	// 100 draws from a 36^8 space colliding would mean a broken source.
	assert.Len(t, seen, 100)
}
