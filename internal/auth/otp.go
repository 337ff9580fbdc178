package auth

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"gatekeep.org/internal/ids"
)

const (
	defaultOTPDigits = 6
	defaultOTPTTL    = 30 * time.Minute
)

// OTPs issues and consumes verification codes. It holds no state of its
// own: every call works on the transaction it is given so consumption can
// commit together with the caller's side effects.
type OTPs struct {
	digits int
	now    func() time.Time
}

// NewOTPs constructs the code manager. digits outside 6..10 fall back to 6.
func NewOTPs(digits int, now func() time.Time) *OTPs {
	if digits < 6 || digits > 10 {
		digits = defaultOTPDigits
	}
	if now == nil {
		now = time.Now
	}
	return &OTPs{digits: digits, now: now}
}

// IssueRequest describes a code to issue.
type IssueRequest struct {
	Email  string
	Type   VerificationType
	UserID string
	TTL    time.Duration
}

// Issue supersedes any active code for (email, type) and stores a new one.
// The plaintext code is returned once and never persisted.
func (o *OTPs) Issue(ctx context.Context, tx Tx, req IssueRequest) (string, *VerificationToken, error) {
	if req.Email == "" || req.Type == "" {
		return "", nil, ErrInvalidInput
	}
	ttl := req.TTL
	if ttl <= 0 {
		ttl = defaultOTPTTL
	}
	now := o.now().UTC()
	store := tx.VerificationTokens()
	if _, err := store.ExpireActive(ctx, req.Email, req.Type, now); err != nil {
		return "", nil, Internal(err)
	}
	code, err := newOTP(o.digits)
	if err != nil {
		return "", nil, Internal(err)
	}
	rec := &VerificationToken{
		ID:        ids.New(),
		Email:     req.Email,
		UserID:    req.UserID,
		Type:      req.Type,
		TokenHash: HashToken(code),
		Status:    VerificationStatusUnverified,
		ExpiresAt: now.Add(ttl),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := store.Create(ctx, rec); err != nil {
		return "", nil, translate(err, nil, ErrOTPPending)
	}
	return code, rec, nil
}

// Validate returns the active record matching code without consuming it.
func (o *OTPs) Validate(ctx context.Context, tx Tx, email string, typ VerificationType, code string) (*VerificationToken, error) {
	code = strings.TrimSpace(code)
	if email == "" || code == "" {
		return nil, ErrOTPNotValid
	}
	now := o.now().UTC()
	rec, err := tx.VerificationTokens().FindActive(ctx, email, typ, HashToken(code), now)
	if err != nil {
		return nil, translate(err, ErrOTPNotValid, nil)
	}
	if !rec.Active(now) {
		return nil, ErrOTPNotValid
	}
	return rec, nil
}

// MarkUsed consumes rec. A record consumed or expired concurrently fails
// with OTP_IS_NOT_VALID.
func (o *OTPs) MarkUsed(ctx context.Context, tx Tx, rec *VerificationToken) error {
	return o.transition(ctx, tx, rec, VerificationStatusUsed)
}

// MarkExpired retires rec.
func (o *OTPs) MarkExpired(ctx context.Context, tx Tx, rec *VerificationToken) error {
	return o.transition(ctx, tx, rec, VerificationStatusExpired)
}

// ExpireActive retires every active code for (email, type).
func (o *OTPs) ExpireActive(ctx context.Context, tx Tx, email string, typ VerificationType) error {
	if _, err := tx.VerificationTokens().ExpireActive(ctx, email, typ, o.now().UTC()); err != nil {
		return Internal(err)
	}
	return nil
}

func (o *OTPs) transition(ctx context.Context, tx Tx, rec *VerificationToken, status string) error {
	if rec == nil {
		return ErrOTPNotValid
	}
	now := o.now().UTC()
	if err := tx.VerificationTokens().Transition(ctx, rec.ID, status, now); err != nil {
		return translate(err, ErrOTPNotValid, nil)
	}
	rec.Status = status
	rec.UpdatedAt = now
	return nil
}

func newOTP(digits int) (string, error) {
	if digits <= 0 {
		return "", errors.New("invalid otp digits")
	}
	var b strings.Builder
	b.Grow(digits)
	max := big.NewInt(10)
	for i := 0; i < digits; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("generate otp: %w", err)
		}
		b.WriteByte(byte('0' + n.Int64()))
	}
	return b.String(), nil
}
