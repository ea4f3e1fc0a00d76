package secrets

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "6368616e676520746869732070617373776f726420746f206120736563726574"

func TestBox_SealOpenRoundTrip(t *testing.T) {
	box, err := NewBox(testKey)
	require.NoError(t, err)

	sealed, err := box.Seal("https://hooks.example.com/abc123")
	require.NoError(t, err)
	assert.NotContains(t, sealed, "example.com")

	opened, err := box.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, "https://hooks.example.com/abc123", opened)
}

func TestBox_OpenRejectsTampering(t *testing.T) {
	box, err := NewBox(testKey)
	require.NoError(t, err)

	sealed, err := box.Seal("secret")
	require.NoError(t, err)

	tampered := strings.Replace(sealed, sealed[4:5], "A", 1)
	if tampered == sealed {
		tampered = strings.Replace(sealed, sealed[4:5], "B", 1)
	}

	_, err = box.Open(tampered)
	assert.Error(t, err)
}

func TestNewBox_RejectsBadKeys(t *testing.T) {
	_, err := NewBox("not hex")
	assert.Error(t, err)

	_, err = NewBox("deadbeef")
	assert.Error(t, err)
}

func TestPlaintext_PassThrough(t *testing.T) {
	var store Store = Plaintext{}

	sealed, err := store.Seal("value")
	require.NoError(t, err)
	assert.Equal(t, "value", sealed)

	opened, err := store.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, "value", opened)
}
