package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSafeFileName(t *testing.T) {
	assert := assert.New(t)

	assert.Equal("alice.bsky.social", SafeFileName("alice.bsky.social"))
	assert.Equal("did_plc_abc", SafeFileName("did:plc:abc"))
	assert.Equal("a_b_c", SafeFileName("a/b c"))
	assert.Equal("_", SafeFileName("é"))
}

func TestIsBlankAndContainsFold(t *testing.T) {
	assert.True(t, IsBlank(" \n\t"))
	assert.False(t, IsBlank(" hi "))
	assert.True(t, ContainsFold([]string{"Alice", "bob"}, "alice"))
	assert.False(t, ContainsFold(nil, "alice"))
}
