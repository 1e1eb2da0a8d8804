package cipher

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSession(t *testing.T) {
	t.Run("derives a key from phrase and pin", func(t *testing.T) {
		s, err := NewSession("abandon ability able about above absent absorb abstract absurd abuse access zoo", "1234")
		require.NoError(t, err)
		assert.False(t, s.Locked())
	})

	t.Run("empty phrase fails", func(t *testing.T) {
		_, err := NewSession("", "1234")
		assert.ErrorIs(t, err, ErrKeyDerivation)
	})

	t.Run("empty pin fails", func(t *testing.T) {
		_, err := NewSession("some phrase", "")
		assert.ErrorIs(t, err, ErrKeyDerivation)
	})

	t.Run("deterministic for the same inputs", func(t *testing.T) {
		a, err := NewSession("phrase", "0000")
		require.NoError(t, err)
		b, err := NewSession("phrase", "0000")
		require.NoError(t, err)
		assert.True(t, SameKey(a, b))
	})

	t.Run("different pin derives a different key", func(t *testing.T) {
		a, err := NewSession("phrase", "0000")
		require.NoError(t, err)
		b, err := NewSession("phrase", "0001")
		require.NoError(t, err)
		assert.False(t, SameKey(a, b))
	})

	t.Run("separator prevents boundary collisions", func(t *testing.T) {
		a, err := NewSession("ab", "cd")
		require.NoError(t, err)
		b, err := NewSession("a", "bcd")
		require.NoError(t, err)
		assert.False(t, SameKey(a, b))
	})
}

func TestNewRecoverySession(t *testing.T) {
	t.Run("empty password fails", func(t *testing.T) {
		_, err := NewRecoverySession("")
		assert.ErrorIs(t, err, ErrKeyDerivation)
	})

	t.Run("key space differs from the document path", func(t *testing.T) {
		// Same input secret through both derivation paths must not land on
		// the same key, the salts keep the spaces apart.
		doc := derive("hunter2", documentSalt)
		rec, err := NewRecoverySession("hunter2")
		require.NoError(t, err)
		assert.False(t, SameKey(doc, rec))
	})
}

func TestSession_EncryptDecrypt(t *testing.T) {
	s, err := NewSession("correct horse battery staple", "4242")
	require.NoError(t, err)

	plaintext := []byte(`{"name":"Coffee","pricePi":2.0}`)

	t.Run("round trip", func(t *testing.T) {
		payload, err := s.Encrypt(plaintext)
		require.NoError(t, err)
		got, err := s.Decrypt(payload)
		require.NoError(t, err)
		assert.Equal(t, plaintext, got)
	})

	t.Run("non-deterministic output", func(t *testing.T) {
		a, err := s.Encrypt(plaintext)
		require.NoError(t, err)
		b, err := s.Encrypt(plaintext)
		require.NoError(t, err)
		assert.NotEqual(t, a, b)

		// both still decrypt back to the same plaintext
		pa, err := s.Decrypt(a)
		require.NoError(t, err)
		pb, err := s.Decrypt(b)
		require.NoError(t, err)
		assert.Equal(t, pa, pb)
	})

	t.Run("tampered payload fails opaquely", func(t *testing.T) {
		payload, err := s.Encrypt(plaintext)
		require.NoError(t, err)
		payload[len(payload)-1] ^= 0xff

		_, err = s.Decrypt(payload)
		assert.ErrorIs(t, err, ErrDecryption)
	})

	t.Run("wrong key fails with the same error", func(t *testing.T) {
		payload, err := s.Encrypt(plaintext)
		require.NoError(t, err)

		other, err := NewSession("correct horse battery staple", "0000")
		require.NoError(t, err)

		_, err = other.Decrypt(payload)
		assert.ErrorIs(t, err, ErrDecryption)
	})

	t.Run("truncated payload fails", func(t *testing.T) {
		_, err := s.Decrypt([]byte{0x01, 0x02})
		assert.ErrorIs(t, err, ErrDecryption)
	})
}

func TestSession_Clear(t *testing.T) {
	s, err := NewSession("phrase", "1234")
	require.NoError(t, err)

	payload, err := s.Encrypt([]byte("data"))
	require.NoError(t, err)

	s.Clear()
	assert.True(t, s.Locked())

	_, err = s.Encrypt([]byte("data"))
	assert.ErrorIs(t, err, ErrKeyUnavailable)

	_, err = s.Decrypt(payload)
	assert.ErrorIs(t, err, ErrKeyUnavailable)

	// re-deriving restores access to previously written data
	again, err := NewSession("phrase", "1234")
	require.NoError(t, err)
	got, err := again.Decrypt(payload)
	require.NoError(t, err)
	assert.Equal(t, []byte("data"), got)
}
