package auth

import (
	"context"
	"errors"
)

// Workflows drives the OTP lifecycles for account verification and
// password reset.
type Workflows struct {
	core
}

// NewWorkflows constructs the workflow engine.
func NewWorkflows(store Store, opts ...Option) (*Workflows, error) {
	c, err := newCore(store, opts)
	if err != nil {
		return nil, err
	}
	return &Workflows{core: c}, nil
}

// VerifyUserEmail consumes a user_verification code and activates the user.
func (w *Workflows) VerifyUserEmail(ctx context.Context, email, code string) (*User, error) {
	const op = "verify_email"
	email = NormalizeEmail(email)
	var user *User
	err := w.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		rec, err := w.otps.Validate(ctx, tx, email, VerificationUser, code)
		if err != nil {
			return err
		}
		found, err := tx.Users().FindByEmail(ctx, email)
		if err != nil {
			return translate(err, ErrUserDoesNotExist, nil)
		}
		if err := w.otps.MarkUsed(ctx, tx, rec); err != nil {
			return err
		}
		status := UserStatusActive
		user, err = tx.Users().Update(ctx, found.ID, UserUpdate{Status: &status})
		return translate(err, ErrUserDoesNotExist, nil)
	})
	if err != nil {
		return nil, w.finish(ctx, op, err)
	}
	return user, w.finish(ctx, op, nil)
}

// ResendVerificationEmail supersedes the pending user_verification code.
// Users that are already active get SUCCESS without a new code.
func (w *Workflows) ResendVerificationEmail(ctx context.Context, email string) (Result, error) {
	const op = "resend_verification_email"
	email = NormalizeEmail(email)
	if email == "" {
		return Result{}, w.finish(ctx, op, ErrInvalidInput)
	}
	if err := w.throttle(ctx, VerificationUser, email); err != nil {
		return Result{}, w.finish(ctx, op, err)
	}
	var notes []Notification
	err := w.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		user, err := tx.Users().FindByEmail(ctx, email)
		if err != nil {
			return translate(err, ErrUserDoesNotExist, nil)
		}
		if user.Status == UserStatusActive {
			return nil
		}
		note, err := w.issue(ctx, tx, IssueRequest{Email: email, Type: VerificationUser, UserID: user.ID})
		if err != nil {
			return err
		}
		notes = append(notes, note)
		return nil
	})
	if err != nil {
		return Result{}, w.finish(ctx, op, err)
	}
	w.deliver(ctx, notes...)
	return succeeded(MessageSuccess), w.finish(ctx, op, nil)
}

// ForgotPassword sends a forgot_password code to an existing user.
func (w *Workflows) ForgotPassword(ctx context.Context, email string) (Result, error) {
	return w.sendResetCode(ctx, "forgot_password", email)
}

// RetryForgotPassword re-issues the forgot_password code, superseding the
// previous one.
func (w *Workflows) RetryForgotPassword(ctx context.Context, email string) (Result, error) {
	return w.sendResetCode(ctx, "retry_forgot_password", email)
}

func (w *Workflows) sendResetCode(ctx context.Context, op, email string) (Result, error) {
	email = NormalizeEmail(email)
	if email == "" {
		return Result{}, w.finish(ctx, op, ErrInvalidInput)
	}
	if err := w.throttle(ctx, VerificationForgotPassword, email); err != nil {
		return Result{}, w.finish(ctx, op, err)
	}
	var note Notification
	err := w.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		user, err := tx.Users().FindByEmail(ctx, email)
		if err != nil {
			return translate(err, ErrUserDoesNotExist, nil)
		}
		note, err = w.issue(ctx, tx, IssueRequest{Email: email, Type: VerificationForgotPassword, UserID: user.ID})
		return err
	})
	if err != nil {
		return Result{}, w.finish(ctx, op, err)
	}
	w.deliver(ctx, note)
	return succeeded(MessageSuccess), w.finish(ctx, op, nil)
}

// VerifyForgotPasswordCode checks a code without consuming it.
func (w *Workflows) VerifyForgotPasswordCode(ctx context.Context, email, code string) (Result, error) {
	const op = "verify_forgot_password_code"
	email = NormalizeEmail(email)
	valid := true
	err := w.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		_, err := w.otps.Validate(ctx, tx, email, VerificationForgotPassword, code)
		if errors.Is(err, ErrOTPNotValid) {
			valid = false
			return nil
		}
		return err
	})
	if err != nil {
		return Result{}, w.finish(ctx, op, err)
	}
	if !valid {
		return failed(MessageOTPIsNotValid), w.finish(ctx, op, nil)
	}
	return succeeded(MessageOTPIsValid), w.finish(ctx, op, nil)
}

// VerifyForgotPassword consumes the code, sets the new password and ends
// every live session of the user, all in one transaction.
func (w *Workflows) VerifyForgotPassword(ctx context.Context, email, password, code string) (Result, error) {
	const op = "verify_forgot_password"
	email = NormalizeEmail(email)
	if password == "" {
		return Result{}, w.finish(ctx, op, ErrInvalidInput)
	}
	err := w.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		rec, err := w.otps.Validate(ctx, tx, email, VerificationForgotPassword, code)
		if err != nil {
			return err
		}
		user, err := tx.Users().FindByEmail(ctx, email)
		if err != nil {
			return translate(err, ErrUserDoesNotExist, nil)
		}
		if err := w.setPassword(ctx, tx, user.ID, password); err != nil {
			return err
		}
		if err := w.otps.MarkUsed(ctx, tx, rec); err != nil {
			return err
		}
		if err := tx.AuthTokens().RevokeByUser(ctx, user.ID, w.now().UTC()); err != nil {
			return Internal(err)
		}
		return nil
	})
	if err != nil {
		return Result{}, w.finish(ctx, op, err)
	}
	return succeeded(MessageSuccess), w.finish(ctx, op, nil)
}
