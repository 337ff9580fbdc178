package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

// Password hashing algorithms.
const (
	AlgorithmBcrypt   = "bcrypt"
	AlgorithmArgon2id = "argon2id"
)

const (
	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
	argonKeyLen  = 32
	argonSaltLen = 16
)

// MaxPasswordBytes is the longest password accepted for hashing. bcrypt
// ignores input past this length, so it applies to every algorithm.
const MaxPasswordBytes = 72

var errEmptyPassword = errors.New("password is empty")

// Hasher hashes and verifies passwords. Verification understands both
// supported encodings regardless of the algorithm used for new hashes.
type Hasher struct {
	algorithm string
	cost      int
}

// HasherOption configures a Hasher.
type HasherOption func(*Hasher) error

// WithAlgorithm selects the algorithm used for new hashes.
func WithAlgorithm(name string) HasherOption {
	return func(h *Hasher) error {
		switch name = strings.ToLower(strings.TrimSpace(name)); name {
		case "":
			return nil
		case AlgorithmBcrypt, AlgorithmArgon2id:
			h.algorithm = name
			return nil
		default:
			return fmt.Errorf("auth: unknown password algorithm %q", name)
		}
	}
}

// WithBcryptCost overrides the bcrypt work factor.
func WithBcryptCost(cost int) HasherOption {
	return func(h *Hasher) error {
		if cost == 0 {
			return nil
		}
		if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
			return fmt.Errorf("auth: bcrypt cost %d out of range", cost)
		}
		h.cost = cost
		return nil
	}
}

// NewHasher constructs a Hasher, bcrypt at the default cost unless configured.
func NewHasher(opts ...HasherOption) (*Hasher, error) {
	h := &Hasher{algorithm: AlgorithmBcrypt, cost: bcrypt.DefaultCost}
	for _, opt := range opts {
		if err := opt(h); err != nil {
			return nil, err
		}
	}
	return h, nil
}

// Hash returns a salted one-way hash of the password. Passwords longer
// than MaxPasswordBytes fail with ErrInvalidInput.
func (h *Hasher) Hash(password string) (string, error) {
	if len(password) == 0 {
		return "", errEmptyPassword
	}
	if len(password) > MaxPasswordBytes {
		return "", ErrInvalidInput
	}
	if h.algorithm == AlgorithmArgon2id {
		return hashArgon2id(password)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// Verify reports whether password matches hash.
func (h *Hasher) Verify(password, hash string) bool {
	if hash == "" || password == "" {
		return false
	}
	if strings.HasPrefix(hash, "$argon2id$") {
		return verifyArgon2id(password, hash)
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

func hashArgon2id(password string) (string, error) {
	salt := make([]byte, argonSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	key := argon2.IDKey([]byte(password), salt, argonTime, argonMemory, argonThreads, argonKeyLen)
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, argonMemory, argonTime, argonThreads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

func verifyArgon2id(password, encoded string) bool {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 {
		return false
	}
	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return false
	}
	var (
		memory  uint32
		time    uint32
		threads uint8
	)
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &time, &threads); err != nil {
		return false
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false
	}
	want, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(want) == 0 {
		return false
	}
	got := argon2.IDKey([]byte(password), salt, time, memory, threads, uint32(len(want)))
	return subtle.ConstantTimeCompare(got, want) == 1
}
