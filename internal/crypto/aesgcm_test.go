package crypto

import (
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func testBox(t *testing.T) *Box {
	key := make([]byte, keySize)
	_, err := rand.Read(key)
	require.NoError(t, err)
	box, err := NewBox(key)
	require.NoError(t, err)
	return box
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	box := testBox(t)
	for _, plaintext := range []string{"a", "telegram-bot-token-12345", "unicode-✓-value"} {
		ciphertext, err := box.Encrypt(plaintext)
		require.NoError(t, err)
		got, err := box.Decrypt(ciphertext)
		require.NoError(t, err)
		require.Equal(t, plaintext, got)
	}
}

func TestEncryptProducesFreshIVEachCall(t *testing.T) {
	box := testBox(t)
	a, err := box.Encrypt("same-value")
	require.NoError(t, err)
	b, err := box.Encrypt("same-value")
	require.NoError(t, err)
	require.NotEqual(t, a, b)
}

func TestDecryptRejectsTamperedCiphertext(t *testing.T) {
	box := testBox(t)
	ciphertext, err := box.Encrypt("secret")
	require.NoError(t, err)
	flipped := "0"
	if ciphertext[len(ciphertext)-1] == '0' {
		flipped = "1"
	}
	tampered := ciphertext[:len(ciphertext)-1] + flipped
	_, err = box.Decrypt(tampered)
	require.Error(t, err)
}

func TestNewBoxRejectsWrongKeySize(t *testing.T) {
	_, err := NewBox([]byte("too-short"))
	require.Error(t, err)
}

func TestLookupHashIsDeterministicUnlikeEncrypt(t *testing.T) {
	box := testBox(t)
	a := box.LookupHash("same-token")
	b := box.LookupHash("same-token")
	require.Equal(t, a, b)
	require.NotEqual(t, a, box.LookupHash("different-token"))
}

func TestLookupHashDiffersAcrossKeys(t *testing.T) {
	a := testBox(t).LookupHash("same-token")
	b := testBox(t).LookupHash("same-token")
	require.NotEqual(t, a, b)
}
