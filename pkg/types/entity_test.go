package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHashContent(t *testing.T) {
	// SHA-256 of the empty string is a well-known constant.
	assert.Equal(t,
		"e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
		HashContent(""))

	assert.Equal(t, HashContent("hello"), HashContent("hello"))
	assert.NotEqual(t, HashContent("hello"), HashContent("hello "))
	assert.Len(t, HashContent("anything"), 64)
}

func TestEntityKey(t *testing.T) {
	e := &Entity{ID: "note-1", EntityType: "note"}
	assert.Equal(t, EntityKey{ID: "note-1", EntityType: "note"}, e.Key())

	// Same ID under different types is a different key.
	other := &Entity{ID: "note-1", EntityType: "document"}
	assert.NotEqual(t, e.Key(), other.Key())
}
