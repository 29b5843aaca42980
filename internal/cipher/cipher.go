package cipher

import (
	"crypto/aes"
	stdcipher "crypto/cipher"
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/argon2"
)

const (
	// CurrentVersion is the suite used for newly sealed payloads.
	CurrentVersion uint8 = 1

	nonceSize = 12
)

// Suite pins the key-derivation cost parameters for one version.
// Records keep the version they were sealed with, so a suite must never
// change once released; add a new version instead.
type Suite struct {
	Version   uint8
	Time      uint32
	MemoryKiB uint32
	Threads   uint8
	KeyLen    uint32
	SaltLen   int
}

// DefaultSuites lists every suite this build can open.
func DefaultSuites() map[uint8]Suite {
	return map[uint8]Suite{
		1: {Version: 1, Time: 3, MemoryKiB: 64 * 1024, Threads: 4, KeyLen: 32, SaltLen: 16},
	}
}

// Sealed is the output of Seal. Salt, Nonce and Version must be stored
// alongside the ciphertext to open it again.
type Sealed struct {
	Ciphertext []byte
	Salt       []byte
	Nonce      []byte
	Version    uint8
}

// Cipher performs password-based Argon2id + AES-256-GCM encryption.
type Cipher struct {
	current uint8
	suites  map[uint8]Suite
}

// New returns a Cipher using DefaultSuites.
func New() *Cipher {
	return &Cipher{current: CurrentVersion, suites: DefaultSuites()}
}

// NewWithSuites returns a Cipher sealing with suites[current].
func NewWithSuites(current uint8, suites map[uint8]Suite) (*Cipher, error) {
	suite, ok := suites[current]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownVersion, current)
	}
	if suite.KeyLen != 32 {
		return nil, fmt.Errorf("suite %d: key length must be 32 bytes, got %d", current, suite.KeyLen)
	}
	if suite.SaltLen < 8 {
		return nil, fmt.Errorf("suite %d: salt length must be at least 8 bytes", current)
	}
	return &Cipher{current: current, suites: suites}, nil
}

// Seal derives a key from password with a fresh salt and encrypts plaintext
// under a fresh nonce. The returned ciphertext includes the GCM tag.
func (c *Cipher) Seal(plaintext []byte, password string) (Sealed, error) {
	suite := c.suites[c.current]

	salt := make([]byte, suite.SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return Sealed{}, fmt.Errorf("generate salt: %w", err)
	}
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return Sealed{}, fmt.Errorf("generate nonce: %w", err)
	}

	aead, err := newAEAD(suite, password, salt)
	if err != nil {
		return Sealed{}, err
	}

	return Sealed{
		Ciphertext: aead.Seal(nil, nonce, plaintext, versionAD(suite.Version)),
		Salt:       salt,
		Nonce:      nonce,
		Version:    suite.Version,
	}, nil
}

// Open re-derives the key and decrypts. A wrong password and a modified
// ciphertext are indistinguishable and both yield ErrAuthenticationFailed.
func (c *Cipher) Open(ciphertext []byte, password string, salt, nonce []byte, version uint8) ([]byte, error) {
	suite, ok := c.suites[version]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownVersion, version)
	}
	if len(salt) != suite.SaltLen || len(nonce) != nonceSize {
		return nil, ErrMalformed
	}

	aead, err := newAEAD(suite, password, salt)
	if err != nil {
		return nil, err
	}

	plaintext, err := aead.Open(nil, nonce, ciphertext, versionAD(version))
	if err != nil {
		return nil, ErrAuthenticationFailed
	}
	return plaintext, nil
}

// Overhead is the number of bytes Seal adds to a plaintext.
func (c *Cipher) Overhead() int {
	return 16
}

func newAEAD(suite Suite, password string, salt []byte) (stdcipher.AEAD, error) {
	key := argon2.IDKey([]byte(password), salt, suite.Time, suite.MemoryKiB, suite.Threads, suite.KeyLen)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create block cipher: %w", err)
	}
	aead, err := stdcipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}
	return aead, nil
}

// versionAD binds the suite version into the tag so a record cannot be
// opened under a different suite than it was sealed with.
func versionAD(version uint8) []byte {
	return []byte{'c', 'p', 'h', version}
}
