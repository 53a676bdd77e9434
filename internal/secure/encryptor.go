// Package secure provides value encryption and per-operation access control
// for the cache engine.
package secure

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"strings"

	cacheerrors "github.com/vaultcache/vaultcache/pkg/errors"
)

// gcmTagSize is the authentication tag length appended by GCM.
const gcmTagSize = 16

// defaultSensitivePatterns are matched against keys and value projections to
// decide whether an entry should be stored encrypted.
var defaultSensitivePatterns = []string{
	"password", "token", "secret", "key", "auth",
	"credential", "private", "confidential", "secure", "sensitive",
}

// CipherRecord is the stored form of an encrypted value.
type CipherRecord struct {
	Data []byte `json:"data"`
	IV   []byte `json:"iv"`
	Tag  []byte `json:"tag"`
}

// Encryptor encrypts selected values with AES-256-GCM. Values cross the
// encryption boundary as their JSON projection, so decrypted values come back
// with JSON types (numbers as float64, objects as map[string]interface{}).
type Encryptor struct {
	aead     cipher.AEAD
	patterns []string
}

// NewEncryptor builds an Encryptor from a 64-character hex key. An empty key
// generates a random one, valid for the lifetime of this instance. Extra
// patterns extend the built-in sensitive set.
func NewEncryptor(hexKey string, extraPatterns []string) (*Encryptor, error) {
	var key []byte
	if hexKey == "" {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, cacheerrors.New(cacheerrors.ErrCodeEncryption, "failed to generate encryption key").WithCause(err)
		}
	} else {
		if len(hexKey) != 64 {
			return nil, cacheerrors.Newf(cacheerrors.ErrCodeConfiguration,
				"encryption key must be 64 hex characters, got %d", len(hexKey))
		}
		decoded, err := hex.DecodeString(hexKey)
		if err != nil {
			return nil, cacheerrors.New(cacheerrors.ErrCodeConfiguration, "encryption key is not valid hex").WithCause(err)
		}
		key = decoded
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, cacheerrors.New(cacheerrors.ErrCodeEncryption, "failed to initialize cipher").WithCause(err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, cacheerrors.New(cacheerrors.ErrCodeEncryption, "failed to initialize GCM").WithCause(err)
	}

	patterns := make([]string, 0, len(defaultSensitivePatterns)+len(extraPatterns))
	patterns = append(patterns, defaultSensitivePatterns...)
	for _, p := range extraPatterns {
		patterns = append(patterns, strings.ToLower(p))
	}

	return &Encryptor{aead: aead, patterns: patterns}, nil
}

// IsSensitive reports whether a (key, value) pair matches the sensitivity
// pattern set. Both the key and a textual projection of the value are
// lowercased before matching.
func (e *Encryptor) IsSensitive(key string, value interface{}) bool {
	lowerKey := strings.ToLower(key)
	for _, p := range e.patterns {
		if strings.Contains(lowerKey, p) {
			return true
		}
	}

	encoded, err := json.Marshal(value)
	if err != nil {
		return false
	}
	lowerValue := strings.ToLower(string(encoded))
	for _, p := range e.patterns {
		if strings.Contains(lowerValue, p) {
			return true
		}
	}
	return false
}

// Encrypt seals a value into a cipher record with a fresh random nonce.
func (e *Encryptor) Encrypt(value interface{}) (*CipherRecord, error) {
	plaintext, err := json.Marshal(value)
	if err != nil {
		return nil, cacheerrors.New(cacheerrors.ErrCodeEncryption, "value is not encodable").WithCause(err)
	}

	nonce := make([]byte, e.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, cacheerrors.New(cacheerrors.ErrCodeEncryption, "failed to generate nonce").WithCause(err)
	}

	sealed := e.aead.Seal(nil, nonce, plaintext, nil)
	boundary := len(sealed) - gcmTagSize

	return &CipherRecord{
		Data: sealed[:boundary],
		IV:   nonce,
		Tag:  sealed[boundary:],
	}, nil
}

// Decrypt opens a cipher record and decodes the original value projection.
func (e *Encryptor) Decrypt(rec *CipherRecord) (interface{}, error) {
	if rec == nil || len(rec.Tag) != gcmTagSize {
		return nil, cacheerrors.New(cacheerrors.ErrCodeEncryption, "malformed cipher record")
	}

	sealed := make([]byte, 0, len(rec.Data)+len(rec.Tag))
	sealed = append(sealed, rec.Data...)
	sealed = append(sealed, rec.Tag...)

	plaintext, err := e.aead.Open(nil, rec.IV, sealed, nil)
	if err != nil {
		return nil, cacheerrors.New(cacheerrors.ErrCodeEncryption, "decryption failed").WithCause(err)
	}

	var value interface{}
	if err := json.Unmarshal(plaintext, &value); err != nil {
		return nil, cacheerrors.New(cacheerrors.ErrCodeEncryption, "decrypted payload is not decodable").WithCause(err)
	}
	return value, nil
}
