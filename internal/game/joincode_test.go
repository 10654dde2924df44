package game_test

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/alexandreohara/pictionary-test/internal/game"
)

var codePattern = regexp.MustCompile(`^[A-Z0-9]{6}$`)

func TestRandomCodes_Format(t *testing.T) {
	gen := game.RandomCodes{}
	for range 1000 {
		code := gen.Generate()
		assert.Regexp(t, codePattern, code)
	}
}

func TestNormalizeCode(t *testing.T) {
	assert.Equal(t, "ABC123", game.NormalizeCode("  abc123 "))
	assert.Equal(t, "", game.NormalizeCode("   "))
}

func TestRandomWord(t *testing.T) {
	assert.Empty(t, game.RandomWord(nil))
	assert.Equal(t, "cat", game.RandomWord([]string{"cat"}))

	for range 100 {
		assert.Contains(t, game.DefaultWords, game.RandomWord(game.DefaultWords))
	}
}
