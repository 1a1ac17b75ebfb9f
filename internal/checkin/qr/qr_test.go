package qr_test

import (
	"bytes"
	"testing"

	"ms-admission/internal/checkin/qr"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func samplePayload() qr.Payload {
	return qr.Payload{
		EventID:        "event-1",
		RegistrationID: "reg-1",
		ParticipantID:  "participant-1",
		ProofToken:     "a1b2c3d4e5f60718",
	}
}

func TestEncryptDecryptRoundtrip(t *testing.T) {
	gen := qr.NewGenerator("qr-secret")

	encrypted, err := gen.Encrypt(samplePayload())
	require.NoError(t, err)
	assert.NotContains(t, encrypted, "proof_token")

	decrypted, err := gen.Decrypt(encrypted)
	require.NoError(t, err)
	assert.Equal(t, samplePayload(), *decrypted)
}

func TestDecryptRejectsMalformedInput(t *testing.T) {
	gen := qr.NewGenerator("qr-secret")

	_, err := gen.Decrypt("not base64 at all!!")
	assert.Error(t, err)

	// Shorter than one AES block.
	_, err = gen.Decrypt("c2hvcnQ=")
	assert.Error(t, err)
}

func TestDecryptWithWrongSecret(t *testing.T) {
	gen := qr.NewGenerator("qr-secret")
	other := qr.NewGenerator("different-secret")

	encrypted, err := gen.Encrypt(samplePayload())
	require.NoError(t, err)

	_, err = other.Decrypt(encrypted)
	assert.Error(t, err)
}

func TestEncryptIsNonDeterministic(t *testing.T) {
	gen := qr.NewGenerator("qr-secret")

	first, err := gen.Encrypt(samplePayload())
	require.NoError(t, err)
	second, err := gen.Encrypt(samplePayload())
	require.NoError(t, err)

	// Fresh IV per encryption: identical payloads never share ciphertext.
	assert.NotEqual(t, first, second)
}

func TestGenerateEncryptedQRProducesPNG(t *testing.T) {
	gen := qr.NewGenerator("qr-secret")

	png, err := gen.GenerateEncryptedQR(samplePayload())
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(png, []byte("\x89PNG\r\n\x1a\n")))
}
