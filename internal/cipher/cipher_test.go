package cipher

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestCipher(t *testing.T) *Cipher {
	t.Helper()
	c, err := NewWithSuites(1, map[uint8]Suite{
		1: {Version: 1, Time: 1, MemoryKiB: 64, Threads: 1, KeyLen: 32, SaltLen: 16},
	})
	require.NoError(t, err)
	return c
}

func TestSealOpenRoundTrip(t *testing.T) {
	c := newTestCipher(t)

	payloads := [][]byte{
		{},
		[]byte("hello"),
		bytes.Repeat([]byte{0xAB}, 1<<20),
	}
	for _, payload := range payloads {
		sealed, err := c.Seal(payload, "p@ss")
		require.NoError(t, err)
		require.Len(t, sealed.Ciphertext, len(payload)+c.Overhead())

		opened, err := c.Open(sealed.Ciphertext, "p@ss", sealed.Salt, sealed.Nonce, sealed.Version)
		require.NoError(t, err)
		require.True(t, bytes.Equal(payload, opened), "round trip mismatch for %d bytes", len(payload))
	}
}

func TestOpenWrongPassword(t *testing.T) {
	c := newTestCipher(t)

	sealed, err := c.Seal([]byte("secret report"), "correct horse")
	require.NoError(t, err)

	plaintext, err := c.Open(sealed.Ciphertext, "battery staple", sealed.Salt, sealed.Nonce, sealed.Version)
	require.Nil(t, plaintext)
	require.True(t, errors.Is(err, ErrAuthenticationFailed), "expected ErrAuthenticationFailed, got %v", err)
}

func TestOpenTamperedCiphertext(t *testing.T) {
	c := newTestCipher(t)

	sealed, err := c.Seal([]byte("do not touch"), "pw")
	require.NoError(t, err)

	sealed.Ciphertext[0] ^= 0xFF
	_, err = c.Open(sealed.Ciphertext, "pw", sealed.Salt, sealed.Nonce, sealed.Version)
	require.ErrorIs(t, err, ErrAuthenticationFailed)
}

func TestSealUsesFreshSaltAndNonce(t *testing.T) {
	c := newTestCipher(t)

	first, err := c.Seal([]byte("same"), "pw")
	require.NoError(t, err)
	second, err := c.Seal([]byte("same"), "pw")
	require.NoError(t, err)

	require.NotEqual(t, first.Salt, second.Salt)
	require.NotEqual(t, first.Nonce, second.Nonce)
	require.NotEqual(t, first.Ciphertext, second.Ciphertext)
}

func TestOpenUnknownVersion(t *testing.T) {
	c := newTestCipher(t)

	sealed, err := c.Seal([]byte("x"), "pw")
	require.NoError(t, err)

	_, err = c.Open(sealed.Ciphertext, "pw", sealed.Salt, sealed.Nonce, 9)
	require.ErrorIs(t, err, ErrUnknownVersion)
}

func TestOpenMalformedParameters(t *testing.T) {
	c := newTestCipher(t)

	sealed, err := c.Seal([]byte("x"), "pw")
	require.NoError(t, err)

	_, err = c.Open(sealed.Ciphertext, "pw", sealed.Salt[:4], sealed.Nonce, sealed.Version)
	require.ErrorIs(t, err, ErrMalformed)
}

func TestOldSuiteStaysReadableAfterUpgrade(t *testing.T) {
	suites := map[uint8]Suite{
		1: {Version: 1, Time: 1, MemoryKiB: 64, Threads: 1, KeyLen: 32, SaltLen: 16},
		2: {Version: 2, Time: 2, MemoryKiB: 128, Threads: 1, KeyLen: 32, SaltLen: 32},
	}
	v1, err := NewWithSuites(1, suites)
	require.NoError(t, err)
	v2, err := NewWithSuites(2, suites)
	require.NoError(t, err)

	sealed, err := v1.Seal([]byte("legacy"), "pw")
	require.NoError(t, err)

	opened, err := v2.Open(sealed.Ciphertext, "pw", sealed.Salt, sealed.Nonce, sealed.Version)
	require.NoError(t, err)
	require.Equal(t, "legacy", string(opened))

	fresh, err := v2.Seal([]byte("new"), "pw")
	require.NoError(t, err)
	require.Equal(t, uint8(2), fresh.Version)
	require.Len(t, fresh.Salt, 32)
}

func TestNewWithSuitesRejectsUnknownCurrent(t *testing.T) {
	_, err := NewWithSuites(3, DefaultSuites())
	require.ErrorIs(t, err, ErrUnknownVersion)
}
