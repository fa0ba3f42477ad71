package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewToken(t *testing.T) {
	token := NewToken()
	assert.Len(t, token, 32)
	for _, r := range token {
		assert.True(t, (r >= '0' && r <= '9') || (r >= 'a' && r <= 'f'), "unexpected rune %q", r)
	}

	assert.NotEqual(t, token, NewToken(), "tokens must be unique")
}

func TestValidID(t *testing.T) {
	assert.True(t, ValidID("ab"))
	assert.True(t, ValidID("node1"))
	assert.True(t, ValidID("ABCdef0123456789ABCdef0123456789"))

	assert.False(t, ValidID(""))
	assert.False(t, ValidID("a"))
	assert.False(t, ValidID("ABCdef0123456789ABCdef0123456789x"))
	assert.False(t, ValidID("has-hyphen"))
	assert.False(t, ValidID("has space"))
	assert.False(t, ValidID("ünïcode"))
}

func TestValidKey(t *testing.T) {
	assert.True(t, ValidKey("spider"))
	assert.True(t, ValidKey("my-cluster-1"))
	assert.True(t, ValidKey("a"))

	assert.False(t, ValidKey(""))
	assert.False(t, ValidKey("under_score"))
	assert.False(t, ValidKey("0123456789012345678901234567890123"))
}

func TestValidName(t *testing.T) {
	assert.True(t, ValidName("production"))
	assert.True(t, ValidName("shard1"))

	assert.False(t, ValidName(""))
	assert.False(t, ValidName("with-hyphen"))
	assert.False(t, ValidName("0123456789012345678901234567890123"))
}
