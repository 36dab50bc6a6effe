package auth

import (
	"crypto/rand"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"

	"golang.org/x/crypto/pbkdf2"
)

// Current parameters for newly hashed passwords. Stored credentials keep
// their own parameters so they can be verified after these change.
const (
	DefaultIterations = 100000
	DefaultKeyLen     = 64
	DefaultDigest     = "sha512"

	saltBytes = 16
)

// Credential is the stored password material for one account.
type Credential struct {
	Salt       string `json:"-"`
	Hash       string `json:"-"`
	Iterations int    `json:"-"`
	KeyLen     int    `json:"-"`
	Digest     string `json:"-"`
}

var digests = map[string]func() hash.Hash{
	"sha512": sha512.New,
	"sha256": sha256.New,
	"sha1":   sha1.New,
}

// HashPassword derives a credential with a fresh random salt.
func HashPassword(password string) (Credential, error) {
	if password == "" {
		return Credential{}, errors.New("password is required")
	}
	salt := make([]byte, saltBytes)
	if _, err := rand.Read(salt); err != nil {
		return Credential{}, fmt.Errorf("generate salt: %w", err)
	}
	c := Credential{
		Salt:       hex.EncodeToString(salt),
		Iterations: DefaultIterations,
		KeyLen:     DefaultKeyLen,
		Digest:     DefaultDigest,
	}
	derived, err := c.derive(password)
	if err != nil {
		return Credential{}, err
	}
	c.Hash = derived
	return c, nil
}

// Verify reports whether password matches the credential.
func (c Credential) Verify(password string) bool {
	if c.Hash == "" || password == "" {
		return false
	}
	derived, err := c.derive(password)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(derived), []byte(c.Hash)) == 1
}

// NeedsRehash reports whether the credential was derived with parameters
// other than the current defaults.
func (c Credential) NeedsRehash() bool {
	return c.Iterations != DefaultIterations || c.KeyLen != DefaultKeyLen || c.Digest != DefaultDigest
}

func (c Credential) derive(password string) (string, error) {
	h, ok := digests[c.Digest]
	if !ok {
		return "", fmt.Errorf("unsupported digest %q", c.Digest)
	}
	if c.Iterations <= 0 || c.KeyLen <= 0 {
		return "", errors.New("invalid credential parameters")
	}
	key := pbkdf2.Key([]byte(password), []byte(c.Salt), c.Iterations, c.KeyLen, h)
	return hex.EncodeToString(key), nil
}

// DeriveCredential builds a credential for password with explicit
// parameters. Used to import accounts hashed elsewhere.
func DeriveCredential(password, salt string, iterations, keyLen int, digest string) (Credential, error) {
	if password == "" {
		return Credential{}, errors.New("password is required")
	}
	c := Credential{Salt: salt, Iterations: iterations, KeyLen: keyLen, Digest: digest}
	derived, err := c.derive(password)
	if err != nil {
		return Credential{}, err
	}
	c.Hash = derived
	return c, nil
}
