// Package secrets resolves external-system credentials from the encrypted
// secret store.
//
// API keys are never stored on the external_system row. The row carries an
// api_key_ref that names a sealed value in the secrets table; the value is
// decrypted only when a sync job needs it.
package secrets

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/BTreeMap/CanvassSync/internal/models"
	"golang.org/x/crypto/argon2"
)

var (
	// ErrCredentialNotFound is returned when the system row, its key
	// reference or the referenced secret is missing.
	ErrCredentialNotFound = errors.New("credential not found")
	// ErrDecrypt is returned when a sealed secret cannot be opened with the
	// configured passphrase.
	ErrDecrypt = errors.New("secret decryption failed")
)

// keySalt is fixed so every process sharing a passphrase derives the same key.
var keySalt = []byte("canvasssync-secrets")

// Credential is a resolved username and API key for an external system.
type Credential struct {
	Username string
	APIKey   string
}

// Source is the store capability the resolver reads from. A plain or a
// transaction-bound store satisfies it.
type Source interface {
	GetExternalSystem(ctx context.Context, id string) (*models.ExternalSystem, error)
	GetSecret(ctx context.Context, ref string) (*models.SealedSecret, error)
}

// Sink is the store capability used to write secrets.
type Sink interface {
	PutSecret(ctx context.Context, ref string, sealed models.SealedSecret) error
}

// Sealer encrypts and decrypts secret values with AES-256-GCM under a key
// derived from a passphrase with Argon2id.
type Sealer struct {
	aead cipher.AEAD
}

// NewSealer derives the sealing key from passphrase.
func NewSealer(passphrase string) (*Sealer, error) {
	if passphrase == "" {
		return nil, fmt.Errorf("secrets passphrase not set")
	}
	key := argon2.IDKey([]byte(passphrase), keySalt, 1, 64*1024, 4, 32)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}
	return &Sealer{aead: aead}, nil
}

// Seal encrypts plaintext under a fresh random nonce.
func (s *Sealer) Seal(plaintext []byte) (models.SealedSecret, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return models.SealedSecret{}, fmt.Errorf("generate nonce: %w", err)
	}
	return models.SealedSecret{
		Ciphertext: s.aead.Seal(nil, nonce, plaintext, nil),
		Nonce:      nonce,
	}, nil
}

// Open decrypts a sealed secret.
func (s *Sealer) Open(sealed models.SealedSecret) ([]byte, error) {
	if len(sealed.Nonce) != s.aead.NonceSize() {
		return nil, fmt.Errorf("%w: invalid nonce length %d", ErrDecrypt, len(sealed.Nonce))
	}
	plaintext, err := s.aead.Open(nil, sealed.Nonce, sealed.Ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	return plaintext, nil
}

// Resolver turns an external system id into a Credential.
type Resolver struct {
	sealer *Sealer
}

// NewResolver creates a Resolver that opens secrets with sealer.
func NewResolver(sealer *Sealer) *Resolver {
	return &Resolver{sealer: sealer}
}

// GetCredential reads (username, api_key_ref) for systemID from src and
// decrypts the referenced secret. Callers must not sync without a credential;
// the error is meant to fail the job attempt so the retry policy applies.
func (r *Resolver) GetCredential(ctx context.Context, src Source, systemID string) (Credential, error) {
	system, err := src.GetExternalSystem(ctx, systemID)
	if errors.Is(err, models.ErrExternalSystemNotFound) {
		return Credential{}, fmt.Errorf("system %s: %w", systemID, ErrCredentialNotFound)
	}
	if err != nil {
		return Credential{}, fmt.Errorf("load external system %s: %w", systemID, err)
	}
	if system.APIKeyRef == "" {
		return Credential{}, fmt.Errorf("system %s has no api key ref: %w", systemID, ErrCredentialNotFound)
	}

	sealed, err := src.GetSecret(ctx, system.APIKeyRef)
	if err != nil {
		return Credential{}, fmt.Errorf("load secret %s: %w", system.APIKeyRef, err)
	}
	if sealed == nil {
		return Credential{}, fmt.Errorf("secret %s: %w", system.APIKeyRef, ErrCredentialNotFound)
	}

	apiKey, err := r.sealer.Open(*sealed)
	if err != nil {
		return Credential{}, fmt.Errorf("open secret %s: %w", system.APIKeyRef, err)
	}
	return Credential{Username: system.Username, APIKey: string(apiKey)}, nil
}

// Put seals value and stores it under ref, replacing any previous value.
func Put(ctx context.Context, dst Sink, sealer *Sealer, ref, value string) error {
	if ref == "" {
		return fmt.Errorf("secret ref is empty")
	}
	sealed, err := sealer.Seal([]byte(value))
	if err != nil {
		return err
	}
	return dst.PutSecret(ctx, ref, sealed)
}
