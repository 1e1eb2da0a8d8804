// Package cipher derives the merchant's symmetric key and performs
// authenticated encryption of every payload before it leaves the device.
// The key lives in a Session handle owned by the caller; locking the app
// clears the handle instead of flipping a global flag.
package cipher

import (
	"crypto/aes"
	gocipher "crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"sync"

	"golang.org/x/crypto/pbkdf2"

	"github.com/tillsync/tillsync/pkg/errors"
)

const (
	kdfIterations = 100_000
	keyBytes      = 32
	ivBytes       = 12

	// secretSeparator joins the recovery phrase and the PIN before
	// derivation so "ab"+"cd" and "a"+"bcd" derive different keys.
	secretSeparator = "\x1f"
)

// Fixed application salts. The document path and the recovery path use
// different salts so the two key spaces never collide.
var (
	documentSalt = []byte("tillsync/document-store/v1")
	recoverySalt = []byte("tillsync/recovery-vault/v1")
)

var (
	// ErrKeyDerivation - empty or malformed input secrets.
	ErrKeyDerivation = errors.Sentinel("cipher: key derivation requires non-empty secrets")
	// ErrKeyUnavailable - encrypt/decrypt attempted on a cleared session.
	ErrKeyUnavailable = errors.Sentinel("cipher: no key derived, session is locked")
	// ErrDecryption - authentication failed. Deliberately ambiguous between
	// a wrong key and tampered ciphertext so decryption cannot be used as
	// an oracle.
	ErrDecryption = errors.Sentinel("cipher: decryption failed")
)

// Session holds one derived key. It is set once at derivation, read by any
// number of concurrent Encrypt/Decrypt calls, and cleared by an explicit
// lock. Readers observe either a valid key or ErrKeyUnavailable; there is
// no torn state.
type Session struct {
	mu  sync.RWMutex
	key []byte
}

// NewSession derives the document-encryption key from the recovery phrase
// and the PIN. Deterministic: the same phrase and PIN always derive the
// same key, so a session can be re-created after a lock.
func NewSession(phrase, pin string) (*Session, error) {
	if phrase == "" || pin == "" {
		return nil, ErrKeyDerivation
	}
	return derive(phrase+secretSeparator+pin, documentSalt), nil
}

// NewRecoverySession derives the independent key used only for sync blob
// encryption, from the recovery password alone.
func NewRecoverySession(password string) (*Session, error) {
	if password == "" {
		return nil, ErrKeyDerivation
	}
	return derive(password, recoverySalt), nil
}

func derive(secret string, salt []byte) *Session {
	key := pbkdf2.Key([]byte(secret), salt, kdfIterations, keyBytes, sha256.New)
	return &Session{key: key}
}

// Encrypt seals plaintext with AES-GCM under the session key and returns
// iv || ciphertext || tag. A fresh random IV is generated on every call, so
// two encryptions of the same plaintext never produce the same output.
func (s *Session) Encrypt(plaintext []byte) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.key == nil {
		return nil, ErrKeyUnavailable
	}

	aead, err := newAEAD(s.key)
	if err != nil {
		return nil, err
	}

	iv := make([]byte, ivBytes)
	if _, err := rand.Read(iv); err != nil {
		return nil, errors.Wrap(err, "could not generate iv")
	}

	// Seal appends ciphertext+tag after the iv prefix.
	return aead.Seal(iv, iv, plaintext, nil), nil
}

// Decrypt opens iv || ciphertext || tag. A tag mismatch - wrong key or
// corrupted data, the caller cannot tell which - yields ErrDecryption.
func (s *Session) Decrypt(payload []byte) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.key == nil {
		return nil, ErrKeyUnavailable
	}

	if len(payload) < ivBytes {
		return nil, ErrDecryption
	}

	aead, err := newAEAD(s.key)
	if err != nil {
		return nil, err
	}

	plaintext, err := aead.Open(nil, payload[:ivBytes], payload[ivBytes:], nil)
	if err != nil {
		return nil, ErrDecryption
	}

	return plaintext, nil
}

// Clear zeroes and drops the key. Subsequent Encrypt/Decrypt calls return
// ErrKeyUnavailable until a new session is derived.
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.key {
		s.key[i] = 0
	}
	s.key = nil
}

// Locked reports whether the key has been cleared.
func (s *Session) Locked() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.key == nil
}

// Fingerprint returns a SHA-256 digest of the key, for verifying that two
// sessions derive from the same secrets without exposing key material.
func (s *Session) Fingerprint() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.key == nil {
		return nil, ErrKeyUnavailable
	}
	sum := sha256.Sum256(s.key)
	return sum[:], nil
}

// SameKey compares the fingerprints of two sessions in constant time.
func SameKey(a, b *Session) bool {
	fa, errA := a.Fingerprint()
	fb, errB := b.Fingerprint()
	if errA != nil || errB != nil {
		return false
	}
	return subtle.ConstantTimeCompare(fa, fb) == 1
}

func newAEAD(key []byte) (gocipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errors.Wrap(err, "could not create cipher")
	}
	aead, err := gocipher.NewGCM(block)
	if err != nil {
		return nil, errors.Wrap(err, "could not create gcm")
	}
	return aead, nil
}
