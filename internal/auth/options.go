package auth

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"time"
)

const (
	defaultAccessTTL  = time.Hour
	defaultRefreshTTL = 24 * time.Hour * 14
)

// Notification is an OTP to deliver to an email address.
type Notification struct {
	Email     string           `json:"email"`
	Purpose   VerificationType `json:"purpose"`
	Code      string           `json:"code"`
	ExpiresAt time.Time        `json:"expires_at"`
}

// Mailer delivers verification codes. Delivery happens after the issuing
// transaction commits and its failure never fails the operation.
type Mailer interface {
	SendCode(ctx context.Context, n Notification) error
}

// Limiter throttles OTP issuance. Allow returns ErrTooManyRequests when the
// key is over budget.
type Limiter interface {
	Allow(ctx context.Context, key string) error
}

// Recorder receives operational counters.
type Recorder interface {
	Operation(name string, err error)
	TokenIssued(typ TokenType)
	OTPIssued(purpose VerificationType)
	Denied(code Code)
}

type noopRecorder struct{}

func (noopRecorder) Operation(string, error)    {}
func (noopRecorder) TokenIssued(TokenType)      {}
func (noopRecorder) OTPIssued(VerificationType) {}
func (noopRecorder) Denied(Code)                {}

type noopMailer struct{}

func (noopMailer) SendCode(context.Context, Notification) error { return nil }

// settings is shared by Service, Workflows and Authorizer so the same option
// list can configure all three.
type settings struct {
	hasher        *Hasher
	mailer        Mailer
	limiter       Limiter
	recorder      Recorder
	logger        *slog.Logger
	now           func() time.Time
	accessTTL     time.Duration
	refreshTTL    time.Duration
	otpTTL        time.Duration
	otpDigits     int
	defaultRole   string
	requireActive bool
	precedence    []string
}

// Option configures the core components.
type Option func(*settings) error

// WithHasher sets the password hasher.
func WithHasher(h *Hasher) Option {
	return func(s *settings) error {
		if h != nil {
			s.hasher = h
		}
		return nil
	}
}

// WithMailer sets the OTP delivery channel.
func WithMailer(m Mailer) Option {
	return func(s *settings) error {
		if m != nil {
			s.mailer = m
		}
		return nil
	}
}

// WithLimiter enables OTP issuance throttling.
func WithLimiter(l Limiter) Option {
	return func(s *settings) error {
		s.limiter = l
		return nil
	}
}

// WithRecorder sets the metrics sink.
func WithRecorder(r Recorder) Option {
	return func(s *settings) error {
		if r != nil {
			s.recorder = r
		}
		return nil
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *settings) error {
		if l != nil {
			s.logger = l
		}
		return nil
	}
}

// WithClock overrides time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(s *settings) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

// WithAccessTTL configures access token lifetime.
func WithAccessTTL(ttl time.Duration) Option {
	return func(s *settings) error {
		if ttl > 0 {
			s.accessTTL = ttl
		}
		return nil
	}
}

// WithRefreshTTL configures refresh token lifetime.
func WithRefreshTTL(ttl time.Duration) Option {
	return func(s *settings) error {
		if ttl > 0 {
			s.refreshTTL = ttl
		}
		return nil
	}
}

// WithOTP configures verification code lifetime and length.
func WithOTP(ttl time.Duration, digits int) Option {
	return func(s *settings) error {
		if ttl > 0 {
			s.otpTTL = ttl
		}
		if digits > 0 {
			s.otpDigits = digits
		}
		return nil
	}
}

// WithDefaultRole sets the role assigned at registration.
func WithDefaultRole(name string) Option {
	return func(s *settings) error {
		if name = strings.TrimSpace(strings.ToLower(name)); name != "" {
			s.defaultRole = name
		}
		return nil
	}
}

// WithRequireActiveLogin rejects login for users whose status is not active.
func WithRequireActiveLogin(require bool) Option {
	return func(s *settings) error {
		s.requireActive = require
		return nil
	}
}

// WithRolePrecedence sets the order used by top-role resolution.
func WithRolePrecedence(order []string) Option {
	return func(s *settings) error {
		if normalized := dedupeRoles(order); len(normalized) > 0 {
			s.precedence = normalized
		}
		return nil
	}
}

func newSettings(opts []Option) (*settings, error) {
	s := &settings{
		mailer:      noopMailer{},
		recorder:    noopRecorder{},
		logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:         time.Now,
		accessTTL:   defaultAccessTTL,
		refreshTTL:  defaultRefreshTTL,
		otpTTL:      defaultOTPTTL,
		otpDigits:   defaultOTPDigits,
		defaultRole: RoleUser,
		precedence:  DefaultRolePrecedence,
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	if s.hasher == nil {
		h, err := NewHasher()
		if err != nil {
			return nil, err
		}
		s.hasher = h
	}
	return s, nil
}
