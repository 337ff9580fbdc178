package auth

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"gatekeep.org/internal/ids"
)

// core is shared by Service and Workflows.
type core struct {
	store Store
	otps  *OTPs
	*settings
}

func newCore(store Store, opts []Option) (core, error) {
	if store == nil {
		return core{}, errors.New("auth: store is required")
	}
	s, err := newSettings(opts)
	if err != nil {
		return core{}, err
	}
	return core{store: store, otps: NewOTPs(s.otpDigits, s.now), settings: s}, nil
}

// finish records the outcome of op and normalises err into a domain error.
// Internal causes are logged here and never returned to callers verbatim.
func (c core) finish(ctx context.Context, op string, err error) error {
	if err == nil {
		c.recorder.Operation(op, nil)
		return nil
	}
	de := AsError(err)
	if de.Kind == KindInternal {
		c.logger.ErrorContext(ctx, "auth operation failed",
			slog.String("operation", op),
			slog.Any("error", de.Cause),
		)
	}
	c.recorder.Operation(op, de)
	return de
}

// issue creates an OTP inside tx and returns the notification to deliver
// once tx commits.
func (c core) issue(ctx context.Context, tx Tx, req IssueRequest) (Notification, error) {
	if req.TTL <= 0 {
		req.TTL = c.otpTTL
	}
	code, rec, err := c.otps.Issue(ctx, tx, req)
	if err != nil {
		return Notification{}, err
	}
	c.recorder.OTPIssued(req.Type)
	return Notification{Email: rec.Email, Purpose: rec.Type, Code: code, ExpiresAt: rec.ExpiresAt}, nil
}

func (c core) deliver(ctx context.Context, notes ...Notification) {
	for _, n := range notes {
		if err := c.mailer.SendCode(ctx, n); err != nil {
			c.logger.WarnContext(ctx, "verification code delivery failed",
				slog.String("purpose", string(n.Purpose)),
				slog.Any("error", err),
			)
		}
	}
}

// throttle consults the limiter for OTP issuance. Limiter outages are
// logged and do not block issuance.
func (c core) throttle(ctx context.Context, purpose VerificationType, email string) error {
	if c.limiter == nil {
		return nil
	}
	err := c.limiter.Allow(ctx, string(purpose)+":"+email)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrTooManyRequests):
		return ErrTooManyRequests
	default:
		c.logger.WarnContext(ctx, "otp limiter unavailable", slog.Any("error", err))
		return nil
	}
}

// NormalizeEmail trims and lower-cases an address for storage and lookup.
func NormalizeEmail(email string) string {
	return cases.Lower(language.Und).String(strings.TrimSpace(email))
}

// Service orchestrates registration, credentials and sessions.
type Service struct {
	core
	codec *TokenCodec
}

// NewService constructs Service with optional configuration.
func NewService(store Store, codec *TokenCodec, opts ...Option) (*Service, error) {
	if codec == nil {
		return nil, errors.New("auth: token codec is required")
	}
	c, err := newCore(store, opts)
	if err != nil {
		return nil, err
	}
	return &Service{core: c, codec: codec}, nil
}

// RegisterInput carries registration fields.
type RegisterInput struct {
	Email     string
	FirstName string
	LastName  string
	Password  string
}

// Register creates an unverified user with the default role and sends a
// user_verification code.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*User, error) {
	const op = "register"
	email := NormalizeEmail(in.Email)
	if email == "" || in.Password == "" {
		return nil, s.finish(ctx, op, ErrInvalidInput)
	}
	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, s.finish(ctx, op, translate(err, nil, nil))
	}

	var (
		user *User
		note Notification
	)
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		if _, err := tx.Users().FindByEmail(ctx, email); err == nil {
			return ErrEmailTaken
		} else if !errors.Is(err, ErrNotFound) {
			return Internal(err)
		}
		now := s.now().UTC()
		u := &User{
			ID:           ids.New(),
			Email:        email,
			PasswordHash: hash,
			FirstName:    strings.TrimSpace(in.FirstName),
			LastName:     strings.TrimSpace(in.LastName),
			Status:       UserStatusUnverified,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := tx.Users().Create(ctx, u); err != nil {
			return translate(err, nil, ErrEmailTaken)
		}
		role, err := tx.Roles().FindByName(ctx, s.defaultRole)
		if err != nil {
			return translate(err, ErrRoleNotFound, nil)
		}
		if err := tx.RoleUsers().Create(ctx, &UserRole{ID: ids.New(), RoleID: role.ID, UserID: u.ID, CreatedAt: now}); err != nil {
			return translate(err, nil, ErrRoleUserExists)
		}
		note, err = s.issue(ctx, tx, IssueRequest{Email: email, Type: VerificationUser, UserID: u.ID})
		if err != nil {
			return err
		}
		user = u
		return nil
	})
	if err != nil {
		return nil, s.finish(ctx, op, err)
	}
	s.deliver(ctx, note)
	return user, s.finish(ctx, op, nil)
}

// Login verifies credentials and issues a fresh token pair.
func (s *Service) Login(ctx context.Context, email, password string) (TokenPair, error) {
	const op = "login"
	email = NormalizeEmail(email)
	if email == "" || password == "" {
		return TokenPair{}, s.finish(ctx, op, ErrInvalidInput)
	}
	var pair TokenPair
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		user, err := tx.Users().FindByEmail(ctx, email)
		if err != nil {
			return translate(err, ErrUserDoesNotExist, nil)
		}
		if !s.hasher.Verify(password, user.PasswordHash) {
			return ErrPasswordIncorrect
		}
		if s.requireActive && user.Status != UserStatusActive {
			return ErrUserNotActive
		}
		grants, err := resolveGrants(ctx, tx, user.ID)
		if err != nil {
			return err
		}
		pair, err = s.mint(ctx, tx, user.ID, grants.RoleNames())
		return err
	})
	if err != nil {
		return TokenPair{}, s.finish(ctx, op, err)
	}
	return pair, s.finish(ctx, op, nil)
}

// Refresh rotates a token pair. The refresh token must verify and be live in
// the ledger, and the access token must belong to the same session; the
// whole old session is revoked before the new pair is issued.
func (s *Service) Refresh(ctx context.Context, accessToken, refreshToken string) (TokenPair, error) {
	const op = "refresh_token"
	accessToken = ExtractToken(accessToken)
	refreshToken = strings.TrimSpace(refreshToken)
	if accessToken == "" || refreshToken == "" {
		return TokenPair{}, s.finish(ctx, op, ErrTokensRequired)
	}
	rc, err := s.codec.Verify(refreshToken, TokenTypeRefresh)
	if err != nil {
		return TokenPair{}, s.finish(ctx, op, ErrInvalidToken)
	}
	ac, err := s.codec.Inspect(accessToken, TokenTypeAccess)
	if err != nil || ac.Subject != rc.Subject {
		return TokenPair{}, s.finish(ctx, op, ErrInvalidToken)
	}

	var pair TokenPair
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		ledger := tx.AuthTokens()
		entry, err := ledger.Find(ctx, rc.ID)
		if err != nil {
			return translate(err, ErrUnauthorized, nil)
		}
		if !liveEntry(entry, rc, TokenTypeRefresh, refreshToken) {
			return ErrUnauthorized
		}
		accessEntry, err := ledger.Find(ctx, ac.ID)
		if err != nil {
			return translate(err, ErrUnauthorized, nil)
		}
		if accessEntry.SessionID != entry.SessionID || accessEntry.UserID != entry.UserID {
			return ErrUnauthorized
		}
		if _, err := tx.Users().Find(ctx, entry.UserID); err != nil {
			return translate(err, ErrUnauthorized, nil)
		}
		if err := ledger.RevokeSession(ctx, entry.SessionID, s.now().UTC()); err != nil {
			return Internal(err)
		}
		grants, err := resolveGrants(ctx, tx, entry.UserID)
		if err != nil {
			return err
		}
		pair, err = s.mint(ctx, tx, entry.UserID, grants.RoleNames())
		return err
	})
	if err != nil {
		return TokenPair{}, s.finish(ctx, op, err)
	}
	return pair, s.finish(ctx, op, nil)
}

// Logout revokes the session of the given access token.
func (s *Service) Logout(ctx context.Context, token string) (Result, error) {
	const op = "logout"
	token = ExtractToken(token)
	if token == "" {
		return Result{}, s.finish(ctx, op, ErrUnauthorized)
	}
	claims, err := s.codec.Verify(token, TokenTypeAccess)
	if err != nil {
		return Result{}, s.finish(ctx, op, ErrUnauthorized)
	}
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		entry, err := tx.AuthTokens().Find(ctx, claims.ID)
		if err != nil {
			return translate(err, ErrUnauthorized, nil)
		}
		if !liveEntry(entry, claims, TokenTypeAccess, token) {
			return ErrUnauthorized
		}
		if err := tx.AuthTokens().RevokeSession(ctx, entry.SessionID, s.now().UTC()); err != nil {
			return Internal(err)
		}
		return nil
	})
	if err != nil {
		return Result{}, s.finish(ctx, op, err)
	}
	return succeeded(MessageLoggedOut), s.finish(ctx, op, nil)
}

// ChangePassword replaces the password after checking the current one.
func (s *Service) ChangePassword(ctx context.Context, userID, oldPassword, newPassword string) (Result, error) {
	const op = "change_password"
	if newPassword == "" {
		return Result{}, s.finish(ctx, op, ErrInvalidInput)
	}
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		user, err := tx.Users().Find(ctx, userID)
		if err != nil {
			return translate(err, ErrUserNotFound, nil)
		}
		if !s.hasher.Verify(oldPassword, user.PasswordHash) {
			return ErrPasswordIncorrect
		}
		return s.setPassword(ctx, tx, user.ID, newPassword)
	})
	if err != nil {
		return Result{}, s.finish(ctx, op, err)
	}
	return succeeded(MessageSuccess), s.finish(ctx, op, nil)
}

// VerifyUserPassword checks a password without failing on mismatch.
func (s *Service) VerifyUserPassword(ctx context.Context, userID, password string) (Result, error) {
	const op = "verify_user_password"
	var ok bool
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		user, err := tx.Users().Find(ctx, userID)
		if err != nil {
			return translate(err, ErrUserNotFound, nil)
		}
		ok = s.hasher.Verify(password, user.PasswordHash)
		return nil
	})
	if err != nil {
		return Result{}, s.finish(ctx, op, err)
	}
	if !ok {
		return failed(MessagePasswordIsIncorrect), s.finish(ctx, op, nil)
	}
	return succeeded(MessagePasswordIsCorrect), s.finish(ctx, op, nil)
}

// ChangeEmail sends an email_change code to newEmail. The user's email is
// left untouched until the code is verified.
func (s *Service) ChangeEmail(ctx context.Context, userID, newEmail string) (Result, error) {
	const op = "change_email"
	newEmail = NormalizeEmail(newEmail)
	if newEmail == "" {
		return Result{}, s.finish(ctx, op, ErrInvalidInput)
	}
	if err := s.throttle(ctx, VerificationEmailChange, newEmail); err != nil {
		return Result{}, s.finish(ctx, op, err)
	}
	var note Notification
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		user, err := tx.Users().Find(ctx, userID)
		if err != nil {
			return translate(err, ErrUserNotFound, nil)
		}
		if err := emailAvailable(ctx, tx, newEmail, ""); err != nil {
			return err
		}
		note, err = s.issue(ctx, tx, IssueRequest{Email: newEmail, Type: VerificationEmailChange, UserID: user.ID})
		return err
	})
	if err != nil {
		return Result{}, s.finish(ctx, op, err)
	}
	s.deliver(ctx, note)
	return succeeded(MessageSuccess), s.finish(ctx, op, nil)
}

// VerifyChangeEmail consumes the user's pending email_change code and moves
// the account to the new address in the same transaction.
func (s *Service) VerifyChangeEmail(ctx context.Context, userID, code string) (*User, error) {
	const op = "verify_change_email"
	var user *User
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		if _, err := tx.Users().Find(ctx, userID); err != nil {
			return translate(err, ErrUserNotFound, nil)
		}
		pending, err := tx.VerificationTokens().LatestActiveForUser(ctx, userID, VerificationEmailChange, s.now().UTC())
		if err != nil {
			return translate(err, ErrOTPNotValid, nil)
		}
		rec, err := s.otps.Validate(ctx, tx, pending.Email, VerificationEmailChange, code)
		if err != nil {
			return err
		}
		if err := s.otps.MarkUsed(ctx, tx, rec); err != nil {
			return err
		}
		email := rec.Email
		user, err = tx.Users().Update(ctx, userID, UserUpdate{Email: &email})
		return translate(err, ErrUserNotFound, ErrEmailTaken)
	})
	if err != nil {
		return nil, s.finish(ctx, op, err)
	}
	return user, s.finish(ctx, op, nil)
}

// CancelChangeEmail expires the user's pending email_change code when it
// targets email. Codes requested by other users are left alone.
func (s *Service) CancelChangeEmail(ctx context.Context, userID, email string) (Result, error) {
	const op = "cancel_change_email"
	email = NormalizeEmail(email)
	if email == "" {
		return Result{}, s.finish(ctx, op, ErrInvalidInput)
	}
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		pending, err := tx.VerificationTokens().LatestActiveForUser(ctx, userID, VerificationEmailChange, s.now().UTC())
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		if err != nil {
			return Internal(err)
		}
		if pending.Email != email {
			return nil
		}
		if err := s.otps.MarkExpired(ctx, tx, pending); err != nil && !errors.Is(err, ErrOTPNotValid) {
			return err
		}
		return nil
	})
	if err != nil {
		return Result{}, s.finish(ctx, op, err)
	}
	return succeeded(MessageSuccess), s.finish(ctx, op, nil)
}

// SetUserEmailByAdmin changes a user's email without a code.
func (s *Service) SetUserEmailByAdmin(ctx context.Context, userID, email string) (*User, error) {
	const op = "set_user_email_by_admin"
	email = NormalizeEmail(email)
	if email == "" {
		return nil, s.finish(ctx, op, ErrInvalidInput)
	}
	var user *User
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		if _, err := tx.Users().Find(ctx, userID); err != nil {
			return translate(err, ErrUserNotFound, nil)
		}
		if err := emailAvailable(ctx, tx, email, userID); err != nil {
			return err
		}
		var err error
		user, err = tx.Users().Update(ctx, userID, UserUpdate{Email: &email})
		return translate(err, ErrUserNotFound, ErrEmailTaken)
	})
	if err != nil {
		return nil, s.finish(ctx, op, err)
	}
	return user, s.finish(ctx, op, nil)
}

// SetUserPasswordByAdmin replaces a user's password without the old one.
func (s *Service) SetUserPasswordByAdmin(ctx context.Context, userID, password string) (Result, error) {
	const op = "set_user_password_by_admin"
	if password == "" {
		return Result{}, s.finish(ctx, op, ErrInvalidInput)
	}
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		if _, err := tx.Users().Find(ctx, userID); err != nil {
			return translate(err, ErrUserNotFound, nil)
		}
		return s.setPassword(ctx, tx, userID, password)
	})
	if err != nil {
		return Result{}, s.finish(ctx, op, err)
	}
	return succeeded(MessageSuccess), s.finish(ctx, op, nil)
}

// Me returns the profile of the given user.
func (s *Service) Me(ctx context.Context, userID string) (Profile, error) {
	const op = "me"
	var profile Profile
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		user, err := tx.Users().Find(ctx, userID)
		if err != nil {
			return translate(err, ErrUserNotFound, nil)
		}
		grants, err := resolveGrants(ctx, tx, user.ID)
		if err != nil {
			return err
		}
		roles := grants.RoleNames()
		profile = Profile{
			User:        user,
			Roles:       roles,
			TopRole:     TopRole(roles, s.precedence),
			Permissions: grants.PermissionKeys(),
		}
		return nil
	})
	if err != nil {
		return Profile{}, s.finish(ctx, op, err)
	}
	return profile, s.finish(ctx, op, nil)
}

func (s *Service) mint(ctx context.Context, tx Tx, userID string, roles []string) (TokenPair, error) {
	sessionID := uuid.NewString()
	access, accessClaims, err := s.codec.Issue(userID, TokenTypeAccess, roles, s.accessTTL)
	if err != nil {
		return TokenPair{}, Internal(err)
	}
	refresh, refreshClaims, err := s.codec.Issue(userID, TokenTypeRefresh, roles, s.refreshTTL)
	if err != nil {
		return TokenPair{}, Internal(err)
	}
	for _, entry := range []struct {
		raw    string
		claims *Claims
	}{{access, accessClaims}, {refresh, refreshClaims}} {
		rec := &AuthToken{
			ID:        entry.claims.ID,
			SessionID: sessionID,
			UserID:    userID,
			Type:      entry.claims.Type,
			TokenHash: HashToken(entry.raw),
			IssuedAt:  entry.claims.IssuedAt.Time,
			ExpiresAt: entry.claims.ExpiresAt.Time,
		}
		if err := tx.AuthTokens().Create(ctx, rec); err != nil {
			return TokenPair{}, Internal(err)
		}
		s.recorder.TokenIssued(rec.Type)
	}
	return TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessClaims.ExpiresAt.Time,
		RefreshExpiresAt: refreshClaims.ExpiresAt.Time,
	}, nil
}

func (c core) setPassword(ctx context.Context, tx Tx, userID, password string) error {
	hash, err := c.hasher.Hash(password)
	if err != nil {
		return translate(err, nil, nil)
	}
	_, err = tx.Users().Update(ctx, userID, UserUpdate{PasswordHash: &hash})
	return translate(err, ErrUserNotFound, nil)
}

// emailAvailable fails with EMAIL_IS_ALREADY_ASSOCIATED_WITH_A_USER when
// email belongs to a user other than ownerID.
func emailAvailable(ctx context.Context, tx Tx, email, ownerID string) error {
	existing, err := tx.Users().FindByEmail(ctx, email)
	switch {
	case errors.Is(err, ErrNotFound):
		return nil
	case err != nil:
		return Internal(err)
	case existing.ID == ownerID:
		return nil
	default:
		return ErrEmailTaken
	}
}
