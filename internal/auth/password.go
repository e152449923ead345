package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/crypto/pbkdf2"
)

// Password hashes use the format
// pbkdf2$sha256$<rounds>$<salt_b64>$<dk_b64>, so the parameters travel
// with the hash and can be raised without invalidating old accounts.
const (
	pbkdf2Rounds = 120000
	saltLength   = 16
	keyLength    = 32
)

// HashPassword derives a storable hash from a plaintext password
func HashPassword(plain string) (string, error) {
	salt := make([]byte, saltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", errors.Wrap(err, "generate salt")
	}
	dk := pbkdf2.Key([]byte(plain), salt, pbkdf2Rounds, keyLength, sha256.New)
	return strings.Join([]string{
		"pbkdf2",
		"sha256",
		strconv.Itoa(pbkdf2Rounds),
		base64.StdEncoding.EncodeToString(salt),
		base64.StdEncoding.EncodeToString(dk),
	}, "$"), nil
}

// VerifyPassword checks a plaintext password against a stored hash
func VerifyPassword(hash, plain string) bool {
	parts := strings.Split(hash, "$")
	if len(parts) != 5 || parts[0] != "pbkdf2" || parts[1] != "sha256" {
		return false
	}
	rounds, err := strconv.Atoi(parts[2])
	if err != nil || rounds <= 0 {
		return false
	}
	salt, err := base64.StdEncoding.DecodeString(parts[3])
	if err != nil {
		return false
	}
	want, err := base64.StdEncoding.DecodeString(parts[4])
	if err != nil {
		return false
	}
	got := pbkdf2.Key([]byte(plain), salt, rounds, len(want), sha256.New)
	return subtle.ConstantTimeCompare(got, want) == 1
}
