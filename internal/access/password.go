package access

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"math/big"
	"strings"
	"unicode"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"

	"nexum/pkg/apperr"
)

// Argon2id parameters, tuned for an interactive login path.
const (
	argonTime    = 1
	argonMemory  = 64 * 1024 // KiB
	argonThreads = 4
	argonKeyLen  = 32
	argonSaltLen = 16
)

// hashPassword produces an encoded argon2id hash with embedded salt:
// $argon2id$v=19$m=65536,t=1,p=4$<salt>$<hash>
func hashPassword(password string) (string, error) {
	salt := make([]byte, argonSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	key := argon2.IDKey([]byte(password), salt, argonTime, argonMemory, argonThreads, argonKeyLen)
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, argonMemory, argonTime, argonThreads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key)), nil
}

// verifyPassword checks a password against an encoded hash. It accepts
// argon2id hashes and, as a legacy path, bcrypt hashes; upgraded reports
// whether the stored hash should be transparently re-hashed.
func verifyPassword(password, encoded string) (ok bool, upgraded bool) {
	switch {
	case strings.HasPrefix(encoded, "$argon2id$"):
		return verifyArgon2(password, encoded), false
	case strings.HasPrefix(encoded, "$2a$"), strings.HasPrefix(encoded, "$2b$"), strings.HasPrefix(encoded, "$2y$"):
		err := bcrypt.CompareHashAndPassword([]byte(encoded), []byte(password))
		return err == nil, err == nil
	default:
		return false, false
	}
}

func verifyArgon2(password, encoded string) bool {
	parts := strings.Split(encoded, "$")
	// ["", "argon2id", "v=19", "m=...,t=...,p=...", salt, hash]
	if len(parts) != 6 {
		return false
	}
	var memory uint32
	var timeCost uint32
	var threads uint8
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &timeCost, &threads); err != nil {
		return false
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false
	}
	want, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return false
	}
	got := argon2.IDKey([]byte(password), salt, timeCost, memory, threads, uint32(len(want)))
	return subtle.ConstantTimeCompare(got, want) == 1
}

// Validate checks a candidate password against the policy.
func (p PasswordPolicy) Validate(password string) error {
	const op = "access.PasswordPolicy"

	if len(password) < p.MinLength {
		return apperr.Ef(apperr.Policy, op, "password must be at least %d characters", p.MinLength)
	}

	var hasUpper, hasLower, hasDigit, hasSpecial bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		default:
			hasSpecial = true
		}
	}
	if p.RequireUpper && !hasUpper {
		return apperr.E(apperr.Policy, op, "password must contain an uppercase letter")
	}
	if p.RequireLower && !hasLower {
		return apperr.E(apperr.Policy, op, "password must contain a lowercase letter")
	}
	if p.RequireDigit && !hasDigit {
		return apperr.E(apperr.Policy, op, "password must contain a digit")
	}
	if p.RequireSpecial && !hasSpecial {
		return apperr.E(apperr.Policy, op, "password must contain a special character")
	}
	return nil
}

// temporary password alphabet, one slice per required class.
var tempClasses = []string{
	"ABCDEFGHJKLMNPQRSTUVWXYZ",
	"abcdefghijkmnopqrstuvwxyz",
	"23456789",
	"!@#$%^&*-_",
}

// generateTempPassword builds a random one-time password satisfying every
// character-class requirement, at twice the minimum length floor of 16.
func generateTempPassword(policy PasswordPolicy) (string, error) {
	length := policy.MinLength
	if length < 16 {
		length = 16
	}

	all := strings.Join(tempClasses, "")
	chars := make([]byte, 0, length)

	// One from each class first so the result always validates.
	for _, class := range tempClasses {
		c, err := randomFrom(class)
		if err != nil {
			return "", err
		}
		chars = append(chars, c)
	}
	for len(chars) < length {
		c, err := randomFrom(all)
		if err != nil {
			return "", err
		}
		chars = append(chars, c)
	}

	// Shuffle so class positions are not predictable.
	for i := len(chars) - 1; i > 0; i-- {
		j, err := randomInt(i + 1)
		if err != nil {
			return "", err
		}
		chars[i], chars[j] = chars[j], chars[i]
	}
	return string(chars), nil
}

func randomFrom(alphabet string) (byte, error) {
	i, err := randomInt(len(alphabet))
	if err != nil {
		return 0, err
	}
	return alphabet[i], nil
}

func randomInt(n int) (int, error) {
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0, fmt.Errorf("random: %w", err)
	}
	return int(v.Int64()), nil
}
