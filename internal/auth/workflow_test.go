package auth_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"gatekeep.org/internal/auth"
)

func wrongCode(code string) string {
	if code == "999999" {
		return "888888"
	}
	return "999999"
}

func TestVerifyUserEmailActivatesOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "verify@example.com", "password-1")
	code := f.mail.last(t, "verify@example.com", auth.VerificationUser)

	_, err := f.workflows.VerifyUserEmail(ctx, "verify@example.com", wrongCode(code))
	require.ErrorIs(t, err, auth.ErrOTPNotValid)
	_, err = f.workflows.VerifyUserEmail(ctx, "someone@example.com", code)
	require.ErrorIs(t, err, auth.ErrOTPNotValid)

	user, err := f.workflows.VerifyUserEmail(ctx, "VERIFY@example.com", code)
	require.NoError(t, err)
	require.Equal(t, auth.UserStatusActive, user.Status)

	_, err = f.workflows.VerifyUserEmail(ctx, "verify@example.com", code)
	require.ErrorIs(t, err, auth.ErrOTPNotValid)
}

func TestVerificationCodeExpires(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "slow@example.com", "password-1")
	code := f.mail.last(t, "slow@example.com", auth.VerificationUser)

	f.clock.Advance(31 * time.Minute)
	_, err := f.workflows.VerifyUserEmail(ctx, "slow@example.com", code)
	require.ErrorIs(t, err, auth.ErrOTPNotValid)
}

func TestResendSupersedesPendingCode(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "resend@example.com", "password-1")
	first := f.mail.last(t, "resend@example.com", auth.VerificationUser)

	res, err := f.workflows.ResendVerificationEmail(ctx, "resend@example.com")
	require.NoError(t, err)
	require.Equal(t, auth.Result{Success: true, Message: auth.MessageSuccess}, res)
	second := f.mail.last(t, "resend@example.com", auth.VerificationUser)
	require.Equal(t, 2, f.mail.count(auth.VerificationUser))

	if first != second {
		_, err = f.workflows.VerifyUserEmail(ctx, "resend@example.com", first)
		require.ErrorIs(t, err, auth.ErrOTPNotValid)
	}
	_, err = f.workflows.VerifyUserEmail(ctx, "resend@example.com", second)
	require.NoError(t, err)
}

func TestResendForActiveUserSendsNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.registerActive(t, "done@example.com", "password-1")

	res, err := f.workflows.ResendVerificationEmail(ctx, "done@example.com")
	require.NoError(t, err)
	require.True(t, res.Success)
	require.Equal(t, 1, f.mail.count(auth.VerificationUser))

	_, err = f.workflows.ResendVerificationEmail(ctx, "ghost@example.com")
	require.ErrorIs(t, err, auth.ErrUserDoesNotExist)
}

func TestForgotPasswordFlow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.registerActive(t, "forgot@example.com", "password-1")
	session, err := f.service.Login(ctx, "forgot@example.com", "password-1")
	require.NoError(t, err)

	_, err = f.workflows.ForgotPassword(ctx, "ghost@example.com")
	require.ErrorIs(t, err, auth.ErrUserDoesNotExist)

	_, err = f.workflows.ForgotPassword(ctx, "Forgot@example.com")
	require.NoError(t, err)
	code := f.mail.last(t, "forgot@example.com", auth.VerificationForgotPassword)

	res, err := f.workflows.VerifyForgotPasswordCode(ctx, "forgot@example.com", wrongCode(code))
	require.NoError(t, err)
	require.Equal(t, auth.Result{Success: false, Message: auth.MessageOTPIsNotValid}, res)

	// checking the code does not consume it
	for i := 0; i < 2; i++ {
		res, err = f.workflows.VerifyForgotPasswordCode(ctx, "forgot@example.com", code)
		require.NoError(t, err)
		require.Equal(t, auth.Result{Success: true, Message: auth.MessageOTPIsValid}, res)
	}

	_, err = f.workflows.VerifyForgotPassword(ctx, "forgot@example.com", "password-2", wrongCode(code))
	require.ErrorIs(t, err, auth.ErrOTPNotValid)

	res, err = f.workflows.VerifyForgotPassword(ctx, "forgot@example.com", "password-2", code)
	require.NoError(t, err)
	require.True(t, res.Success)

	_, err = f.authz.Authenticate(ctx, session.AccessToken)
	require.ErrorIs(t, err, auth.ErrInvalidToken, "reset ends live sessions")
	_, err = f.service.Refresh(ctx, session.AccessToken, session.RefreshToken)
	require.ErrorIs(t, err, auth.ErrUnauthorized)

	_, err = f.service.Login(ctx, "forgot@example.com", "password-2")
	require.NoError(t, err)
	_, err = f.workflows.VerifyForgotPassword(ctx, "forgot@example.com", "password-3", code)
	require.ErrorIs(t, err, auth.ErrOTPNotValid)
}

func TestRetryForgotPasswordSupersedes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.registerActive(t, "retry@example.com", "password-1")

	_, err := f.workflows.ForgotPassword(ctx, "retry@example.com")
	require.NoError(t, err)
	first := f.mail.last(t, "retry@example.com", auth.VerificationForgotPassword)

	_, err = f.workflows.RetryForgotPassword(ctx, "retry@example.com")
	require.NoError(t, err)
	second := f.mail.last(t, "retry@example.com", auth.VerificationForgotPassword)

	if first != second {
		res, err := f.workflows.VerifyForgotPasswordCode(ctx, "retry@example.com", first)
		require.NoError(t, err)
		require.False(t, res.Success)
	}
	res, err := f.workflows.VerifyForgotPasswordCode(ctx, "retry@example.com", second)
	require.NoError(t, err)
	require.True(t, res.Success)
}

func TestVerifyForgotPasswordRequiresPassword(t *testing.T) {
	f := newFixture(t)
	_, err := f.workflows.VerifyForgotPassword(context.Background(), "a@example.com", "", "123456")
	require.ErrorIs(t, err, auth.ErrInvalidInput)
}

type stubLimiter struct {
	mu   sync.Mutex
	keys []string
	err  error
}

func (l *stubLimiter) Allow(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.keys = append(l.keys, key)
	return l.err
}

func TestLimiterRejectsIssuance(t *testing.T) {
	limiter := &stubLimiter{err: auth.ErrTooManyRequests}
	f := newFixture(t, auth.WithLimiter(limiter))
	ctx := context.Background()
	f.registerActive(t, "busy@example.com", "password-1")

	_, err := f.workflows.ForgotPassword(ctx, "busy@example.com")
	require.ErrorIs(t, err, auth.ErrTooManyRequests)
	require.Zero(t, f.mail.count(auth.VerificationForgotPassword))
	require.Equal(t, []string{"forgot_password:busy@example.com"}, limiter.keys)
}

func TestLimiterOutageFailsOpen(t *testing.T) {
	limiter := &stubLimiter{err: errors.New("redis: connection refused")}
	f := newFixture(t, auth.WithLimiter(limiter))
	ctx := context.Background()
	f.registerActive(t, "open@example.com", "password-1")

	_, err := f.workflows.ForgotPassword(ctx, "open@example.com")
	require.NoError(t, err)
	require.Equal(t, 1, f.mail.count(auth.VerificationForgotPassword))
}
