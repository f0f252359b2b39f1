// credential handles passwords and logins: PBKDF2 password digests, the
// failed login tracker that locks an account for a while, and the bearer
// tokens issued on a successful login.
package credential

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

// digestScheme is the first part of every digest.
const digestScheme = "pbkdf2-sha256"

const (
	DefaultIterations = 120000
	DefaultKeyLength  = 32
	DefaultSaltLength = 16
)

// Hasher produces and checks password digests of the form
//
//	pbkdf2-sha256$<iterations>$<base64 salt>$<base64 key>
//
// Each digest has its own random salt and records its own iteration count,
// so a digest can still be verified after the settings change.
type Hasher struct {
	Iterations int
	KeyLength  int
	SaltLength int
}

// NewHasher creates a Hasher.  Zero values are replaced by the defaults.
func NewHasher(iterations, keyLength, saltLength int) *Hasher {
	if iterations <= 0 {
		iterations = DefaultIterations
	}
	if keyLength <= 0 {
		keyLength = DefaultKeyLength
	}
	if saltLength <= 0 {
		saltLength = DefaultSaltLength
	}
	return &Hasher{Iterations: iterations, KeyLength: keyLength, SaltLength: saltLength}
}

// Hash returns a digest of the password with a fresh salt.
func (h *Hasher) Hash(password string) (string, error) {
	salt := make([]byte, h.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("cannot generate salt: %w", err)
	}

	key := pbkdf2.Key([]byte(password), salt, h.Iterations, h.KeyLength, sha256.New)

	digest := fmt.Sprintf("%s$%d$%s$%s",
		digestScheme,
		h.Iterations,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key))

	return digest, nil
}

// Verify reports whether the password matches the digest.  A malformed
// digest gives false.
func (h *Hasher) Verify(password, digest string) bool {
	parts := strings.Split(digest, "$")
	if len(parts) != 4 || parts[0] != digestScheme {
		return false
	}

	iterations, err := strconv.Atoi(parts[1])
	if err != nil || iterations <= 0 {
		return false
	}

	salt, saltError := base64.RawStdEncoding.DecodeString(parts[2])
	if saltError != nil || len(salt) == 0 {
		return false
	}

	want, keyError := base64.RawStdEncoding.DecodeString(parts[3])
	if keyError != nil || len(want) == 0 {
		return false
	}

	got := pbkdf2.Key([]byte(password), salt, iterations, len(want), sha256.New)

	return subtle.ConstantTimeCompare(want, got) == 1
}

// DummyDigest returns a well-formed digest with the hasher's settings that no
// password is expected to match.  Checking a password against it costs the
// same as checking against a real digest.
func (h *Hasher) DummyDigest() string {
	salt := make([]byte, h.SaltLength)
	key := make([]byte, h.KeyLength)
	return fmt.Sprintf("%s$%d$%s$%s",
		digestScheme,
		h.Iterations,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key))
}
