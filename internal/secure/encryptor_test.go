package secure

import (
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cacheerrors "github.com/vaultcache/vaultcache/pkg/errors"
)

const testKeyHex = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

func TestNewEncryptor(t *testing.T) {
	t.Run("valid hex key", func(t *testing.T) {
		enc, err := NewEncryptor(testKeyHex, nil)
		require.NoError(t, err)
		require.NotNil(t, enc)
	})

	t.Run("empty key generates random", func(t *testing.T) {
		enc, err := NewEncryptor("", nil)
		require.NoError(t, err)
		require.NotNil(t, enc)
	})

	t.Run("wrong length rejected", func(t *testing.T) {
		_, err := NewEncryptor("abcd", nil)
		require.Error(t, err)
		assert.Equal(t, cacheerrors.ErrCodeConfiguration, cacheerrors.CodeOf(err))
	})

	t.Run("non-hex rejected", func(t *testing.T) {
		_, err := NewEncryptor(strings.Repeat("zz", 32), nil)
		require.Error(t, err)
		assert.Equal(t, cacheerrors.ErrCodeConfiguration, cacheerrors.CodeOf(err))
	})
}

func TestEncryptor_RoundTrip(t *testing.T) {
	enc, err := NewEncryptor(testKeyHex, nil)
	require.NoError(t, err)

	rec, err := enc.Encrypt(map[string]interface{}{"user": "alice", "attempts": float64(3)})
	require.NoError(t, err)
	assert.Len(t, rec.IV, 12)
	assert.Len(t, rec.Tag, 16)
	assert.NotEmpty(t, rec.Data)

	decrypted, err := enc.Decrypt(rec)
	require.NoError(t, err)

	obj, ok := decrypted.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "alice", obj["user"])
	assert.Equal(t, float64(3), obj["attempts"])
}

func TestEncryptor_FreshNoncePerEntry(t *testing.T) {
	enc, err := NewEncryptor(testKeyHex, nil)
	require.NoError(t, err)

	first, err := enc.Encrypt("same value")
	require.NoError(t, err)
	second, err := enc.Encrypt("same value")
	require.NoError(t, err)

	assert.NotEqual(t, hex.EncodeToString(first.IV), hex.EncodeToString(second.IV))
	assert.NotEqual(t, hex.EncodeToString(first.Data), hex.EncodeToString(second.Data))
}

func TestEncryptor_TamperedRecordFails(t *testing.T) {
	enc, err := NewEncryptor(testKeyHex, nil)
	require.NoError(t, err)

	rec, err := enc.Encrypt("payload")
	require.NoError(t, err)

	rec.Data[0] ^= 0xff
	_, err = enc.Decrypt(rec)
	require.Error(t, err)
	assert.Equal(t, cacheerrors.ErrCodeEncryption, cacheerrors.CodeOf(err))
}

func TestEncryptor_WrongKeyFails(t *testing.T) {
	enc, err := NewEncryptor(testKeyHex, nil)
	require.NoError(t, err)
	other, err := NewEncryptor(strings.Repeat("ab", 32), nil)
	require.NoError(t, err)

	rec, err := enc.Encrypt("payload")
	require.NoError(t, err)

	_, err = other.Decrypt(rec)
	require.Error(t, err)
}

func TestEncryptor_IsSensitive(t *testing.T) {
	enc, err := NewEncryptor(testKeyHex, []string{"ssn"})
	require.NoError(t, err)

	tests := []struct {
		name  string
		key   string
		value interface{}
		want  bool
	}{
		{"key contains builtin pattern", "user:password", "hunter2", true},
		{"key case-insensitive", "API_TOKEN", "abc", true},
		{"value contains pattern", "profile", map[string]interface{}{"credential": "x"}, true},
		{"caller-configured pattern", "customer-SSN", "123-45-6789", true},
		{"plain entry", "page:home", "<html>", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, enc.IsSensitive(tt.key, tt.value))
		})
	}
}
