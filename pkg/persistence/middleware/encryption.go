package middleware

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aretw0/filedrop/pkg/domain"
	"github.com/aretw0/filedrop/pkg/ports"
)

// EnvelopeKey is the only key of a state written by the encryption middleware.
const EnvelopeKey = "__encrypted__"

// EncryptionConfig holds the keys for encryption and decryption.
type EncryptionConfig struct {
	// ActiveKey is the key used for encrypting new data.
	// Must be 32 bytes for AES-256.
	ActiveKey []byte

	// FallbackKeys is a list of old keys to try when decryption fails.
	// This enables zero-downtime key rotation.
	FallbackKeys [][]byte
}

type encryptionMiddleware struct {
	next   ports.InspectableStore
	config EncryptionConfig
}

// NewEncryptionMiddleware creates a middleware that encrypts state using AES-GCM (Envelope Encryption)
func NewEncryptionMiddleware(config EncryptionConfig) Middleware {
	if len(config.ActiveKey) != 32 {
		panic("active key must be 32 bytes (AES-256)")
	}
	return func(next ports.InspectableStore) ports.InspectableStore {
		return &encryptionMiddleware{
			next:   next,
			config: config,
		}
	}
}

func (m *encryptionMiddleware) Save(ctx context.Context, state domain.State, ttl time.Duration) (string, error) {
	envelope, err := m.seal(state)
	if err != nil {
		return "", err
	}
	return m.next.Save(ctx, envelope, ttl)
}

func (m *encryptionMiddleware) Load(ctx context.Context, sessionID string) (domain.State, bool, error) {
	envelope, found, err := m.next.Load(ctx, sessionID)
	if err != nil || !found {
		return nil, found, err
	}
	state, err := m.open(envelope)
	if err != nil {
		return nil, false, fmt.Errorf("session %q: %w", sessionID, err)
	}
	return state, true, nil
}

func (m *encryptionMiddleware) Update(ctx context.Context, sessionID string, state domain.State, ttl time.Duration) (string, error) {
	envelope, err := m.seal(state)
	if err != nil {
		return "", err
	}
	return m.next.Update(ctx, sessionID, envelope, ttl)
}

func (m *encryptionMiddleware) UpdateTTL(ctx context.Context, sessionID string, ttl time.Duration) error {
	return m.next.UpdateTTL(ctx, sessionID, ttl)
}

func (m *encryptionMiddleware) Delete(ctx context.Context, sessionID string) error {
	return m.next.Delete(ctx, sessionID)
}

func (m *encryptionMiddleware) List(ctx context.Context) ([]domain.Entry, error) {
	entries, err := m.next.List(ctx)
	if err != nil {
		return nil, err
	}
	for i := range entries {
		state, err := m.open(entries[i].State)
		if err != nil {
			return nil, fmt.Errorf("session %q: %w", entries[i].ID, err)
		}
		entries[i].State = state
	}
	return entries, nil
}

// seal serializes the whole state and replaces it with an opaque envelope.
func (m *encryptionMiddleware) seal(state domain.State) (domain.State, error) {
	plainText, err := json.Marshal(state.Clone())
	if err != nil {
		return nil, fmt.Errorf("failed to marshal state: %w", err)
	}

	ciphertext, err := encrypt(plainText, m.config.ActiveKey)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt state: %w", err)
	}

	return domain.State{EnvelopeKey: base64.StdEncoding.EncodeToString(ciphertext)}, nil
}

func (m *encryptionMiddleware) open(envelope domain.State) (domain.State, error) {
	encryptedStr, ok := envelope[EnvelopeKey]
	if !ok {
		// Fail secure: a configured key means every stored state must be sealed.
		return nil, errors.New("state is missing encrypted data envelope")
	}

	ciphertext, err := base64.StdEncoding.DecodeString(encryptedStr)
	if err != nil {
		return nil, fmt.Errorf("failed to decode ciphertext base64: %w", err)
	}

	// Try Active, then Fallback
	plainText, err := decryptWithRotation(ciphertext, m.config.ActiveKey, m.config.FallbackKeys)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt state: %w", err)
	}

	var state domain.State
	if err := json.Unmarshal(plainText, &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal decrypted state: %w", err)
	}
	if state == nil {
		state = domain.State{}
	}
	return state, nil
}

// Helpers

func encrypt(plaintext []byte, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}

	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func decryptWithRotation(ciphertext []byte, activeKey []byte, fallbackKeys [][]byte) ([]byte, error) {
	if plain, err := decrypt(ciphertext, activeKey); err == nil {
		return plain, nil
	}

	for _, key := range fallbackKeys {
		if plain, err := decrypt(ciphertext, key); err == nil {
			return plain, nil
		}
	}

	return nil, errors.New("decryption failed with all available keys")
}

func decrypt(ciphertext []byte, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	if len(ciphertext) < gcm.NonceSize() {
		return nil, errors.New("ciphertext too short")
	}

	nonce := ciphertext[:gcm.NonceSize()]
	return gcm.Open(nil, nonce, ciphertext[gcm.NonceSize():], nil)
}
