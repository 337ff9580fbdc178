package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const defaultIssuer = "gatekeep"

// Claims represents JWT claims carried by access and refresh tokens.
type Claims struct {
	Type  TokenType `json:"typ"`
	Roles []string  `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

// TokenCodec signs and verifies HS256 bearer tokens. The secret is fixed at
// construction and never mutated.
type TokenCodec struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// CodecOption configures a TokenCodec.
type CodecOption func(*TokenCodec)

// WithCodecIssuer overrides the iss claim.
func WithCodecIssuer(issuer string) CodecOption {
	return func(c *TokenCodec) {
		if issuer = strings.TrimSpace(issuer); issuer != "" {
			c.issuer = issuer
		}
	}
}

// WithCodecClock overrides the time source.
func WithCodecClock(now func() time.Time) CodecOption {
	return func(c *TokenCodec) {
		if now != nil {
			c.now = now
		}
	}
}

// NewTokenCodec builds a codec over the given signing secret.
func NewTokenCodec(secret string, opts ...CodecOption) (*TokenCodec, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("auth: token secret is not configured")
	}
	c := &TokenCodec{
		secret: []byte(secret),
		issuer: defaultIssuer,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Issue signs a token for subject with the given type and role snapshot.
func (c *TokenCodec) Issue(subject string, typ TokenType, roles []string, ttl time.Duration) (string, *Claims, error) {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return "", nil, errors.New("auth: token subject is required")
	}
	if ttl <= 0 {
		return "", nil, errors.New("auth: token ttl must be greater than zero")
	}
	now := c.now().UTC()
	claims := &Claims{
		Type:  typ,
		Roles: dedupeRoles(roles),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    c.issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", nil, fmt.Errorf("sign token: %w", err)
	}
	return signed, claims, nil
}

// Verify checks signature, issuer, expiry and type.
func (c *TokenCodec) Verify(token string, expected TokenType) (*Claims, error) {
	return c.parse(token, expected, jwt.WithExpirationRequired(), jwt.WithTimeFunc(c.now))
}

// Inspect checks signature, issuer and type but ignores the token's time
// window. Refresh uses it to identify an already expired access token.
func (c *TokenCodec) Inspect(token string, expected TokenType) (*Claims, error) {
	return c.parse(token, expected, jwt.WithoutClaimsValidation())
}

func (c *TokenCodec) parse(token string, expected TokenType, opts ...jwt.ParserOption) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidToken
	}
	opts = append(opts, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(*jwt.Token) (any, error) {
		return c.secret, nil
	}, opts...)
	if err != nil || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok {
		return nil, ErrInvalidToken
	}
	if claims.Issuer != c.issuer || claims.Type != expected {
		return nil, ErrInvalidToken
	}
	if strings.TrimSpace(claims.Subject) == "" || claims.ID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// HashToken returns the hex sha256 digest stored in place of secrets.
func HashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

func dedupeRoles(roles []string) []string {
	if len(roles) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(roles))
	var normalized []string
	for _, role := range roles {
		role = strings.TrimSpace(strings.ToLower(role))
		if role == "" {
			continue
		}
		if _, ok := seen[role]; ok {
			continue
		}
		seen[role] = struct{}{}
		normalized = append(normalized, role)
	}
	return normalized
}
