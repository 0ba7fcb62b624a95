package channel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conversia-ai/conversia/internal/errdef"
)

func TestCredentialRoundTrip(t *testing.T) {
	secret := "instance-secret"
	plaintext := []byte(`{"token":"123:abc"}`)

	sealed, err := EncryptCredential(secret, plaintext)
	require.NoError(t, err)
	assert.NotEqual(t, plaintext, sealed)

	opened, err := DecryptCredential(secret, sealed)
	require.NoError(t, err)
	assert.Equal(t, plaintext, opened)
}

func TestCredentialNonceVaries(t *testing.T) {
	a, err := EncryptCredential("s", []byte("same"))
	require.NoError(t, err)
	b, err := EncryptCredential("s", []byte("same"))
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestDecryptWrongSecret(t *testing.T) {
	sealed, err := EncryptCredential("right", []byte("data"))
	require.NoError(t, err)

	_, err = DecryptCredential("wrong", sealed)
	assert.Error(t, err)
}

func TestDecryptTampered(t *testing.T) {
	sealed, err := EncryptCredential("s", []byte("data"))
	require.NoError(t, err)
	sealed[len(sealed)-1] ^= 0xff

	_, err = DecryptCredential("s", sealed)
	assert.Error(t, err)
}

func TestDecryptTooShort(t *testing.T) {
	_, err := DecryptCredential("s", []byte{1, 2, 3})
	assert.Error(t, err)
}

func TestWebhookSignature(t *testing.T) {
	secret := []byte("webhook-secret")
	body := []byte(`{"from":"+15551234","text":"hi"}`)

	sig := Sign(secret, body)
	assert.NoError(t, VerifySignature(secret, body, sig))

	assert.ErrorIs(t, VerifySignature(secret, []byte("other body"), sig), errdef.ErrSignatureInvalid)
	assert.ErrorIs(t, VerifySignature([]byte("other secret"), body, sig), errdef.ErrSignatureInvalid)
	assert.ErrorIs(t, VerifySignature(secret, body, "not-hex"), errdef.ErrSignatureInvalid)
}
