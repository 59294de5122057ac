package identity

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/heartflow/clinic/internal/platform/apperror"
	"github.com/heartflow/clinic/internal/platform/auth"
	"github.com/heartflow/clinic/internal/platform/db"
	"github.com/heartflow/clinic/internal/platform/notification"
	"github.com/heartflow/clinic/internal/platform/otp"
	"github.com/heartflow/clinic/internal/platform/validation"
)

const minPasswordLength = 8

// Codes issues and redeems one-time verification codes.
type Codes interface {
	Issue(ctx context.Context, purpose otp.Purpose, email string) (string, error)
	Verify(ctx context.Context, purpose otp.Purpose, email, code string) error
	Pending(ctx context.Context, purpose otp.Purpose, email string) (bool, error)
	TTL() time.Duration
}

// Mailer sends templated email.
type Mailer interface {
	SendTemplate(ctx context.Context, templateID, to string, data map[string]string) error
}

type Service struct {
	users       UserRepository
	profiles    ProfileRepository
	accounts    AccountRepository
	tx          db.Transactor
	tokens      *auth.TokenIssuer
	codes       Codes
	mailer      Mailer
	revocations auth.RevocationStore
	validate    *validation.Validator
	logger      zerolog.Logger
}

type Deps struct {
	Users       UserRepository
	Profiles    ProfileRepository
	Accounts    AccountRepository
	Tx          db.Transactor
	Tokens      *auth.TokenIssuer
	Codes       Codes
	Mailer      Mailer
	Revocations auth.RevocationStore
	Logger      zerolog.Logger
}

func NewService(d Deps) *Service {
	return &Service{
		users:       d.Users,
		profiles:    d.Profiles,
		accounts:    d.Accounts,
		tx:          d.Tx,
		tokens:      d.Tokens,
		codes:       d.Codes,
		mailer:      d.Mailer,
		revocations: d.Revocations,
		validate:    validation.New(),
		logger:      d.Logger.With().Str("component", "identity").Logger(),
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func checkPassword(pw string) error {
	if len(pw) < minPasswordLength {
		return apperror.Validation("password must be at least %d characters", minPasswordLength).
			WithField("password", "too short")
	}
	return nil
}

// lookupErr classifies a repository read failure.
func lookupErr(err error, what string) error {
	if db.IsNoRows(err) {
		return apperror.NotFound("%s not found", what)
	}
	return apperror.Internal(err, "failed to load %s", what)
}

// -- Registration --

type RegisterInput struct {
	Email     string
	Password  string
	FirstName string
	LastName  string
	Role      string
	Phone     string
	Profile   json.RawMessage
}

// Register creates an unverified account and emails a registration code.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*Account, error) {
	role, ok := auth.ParseRole(in.Role)
	if !ok {
		return nil, apperror.Validation("unknown role %q", in.Role).WithField("role", "unknown role")
	}
	strat, ok := strategyFor(role)
	if !ok || !strat.selfRegister {
		return nil, apperror.Forbidden("%s accounts cannot be self-registered", role.Label())
	}
	u := &User{
		Email:     normalizeEmail(in.Email),
		FirstName: strings.TrimSpace(in.FirstName),
		LastName:  strings.TrimSpace(in.LastName),
		Role:      role,
		Phone:     strings.TrimSpace(in.Phone),
		IsActive:  true,
	}
	acct, err := s.createAccount(ctx, u, in.Password, in.Profile)
	if err != nil {
		return nil, err
	}
	s.sendCode(ctx, otp.PurposeRegistration, &acct.User)
	return acct, nil
}

// AddPatient registers a patient on their behalf. The account is verified
// and gets a random password the patient replaces through forgot-password.
func (s *Service) AddPatient(ctx context.Context, in RegisterInput) (*Account, error) {
	pw, err := auth.RandomPassword()
	if err != nil {
		return nil, apperror.Internal(err, "failed to create patient")
	}
	u := &User{
		Email:      normalizeEmail(in.Email),
		FirstName:  strings.TrimSpace(in.FirstName),
		LastName:   strings.TrimSpace(in.LastName),
		Role:       auth.RolePatient,
		Phone:      strings.TrimSpace(in.Phone),
		IsVerified: true,
		IsActive:   true,
	}
	return s.createAccount(ctx, u, pw, in.Profile)
}

// CreateAdmin creates a verified admin account. It is only reachable from
// the command line.
func (s *Service) CreateAdmin(ctx context.Context, email, password, firstName, lastName string) (*Account, error) {
	u := &User{
		Email:      normalizeEmail(email),
		FirstName:  strings.TrimSpace(firstName),
		LastName:   strings.TrimSpace(lastName),
		Role:       auth.RoleAdmin,
		IsVerified: true,
		IsActive:   true,
	}
	return s.createAccount(ctx, u, password, nil)
}

func (s *Service) createAccount(ctx context.Context, u *User, password string, profile json.RawMessage) (*Account, error) {
	if u.Email == "" {
		return nil, apperror.Validation("email is required").WithField("email", "this field is required")
	}
	if err := checkPassword(password); err != nil {
		return nil, err
	}
	strat, ok := strategyFor(u.Role)
	if !ok {
		return nil, apperror.Validation("unknown role %q", u.Role)
	}
	details, err := strat.decodeDetails(nil, profile)
	if err != nil {
		return nil, apperror.Validation("invalid profile: %v", err)
	}
	if err := s.validate.Validate(details); err != nil {
		return nil, err
	}
	detailsJSON, err := json.Marshal(details)
	if err != nil {
		return nil, apperror.Internal(err, "failed to encode profile")
	}

	if _, err := s.users.GetByEmail(ctx, u.Email); err == nil {
		return nil, apperror.Conflict("an account with this email already exists")
	} else if !db.IsNoRows(err) {
		return nil, apperror.Internal(err, "failed to check email")
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, apperror.Internal(err, "failed to hash password")
	}
	u.PasswordHash = hash

	p := &Profile{Details: detailsJSON}
	if strat.uniqueID != nil {
		id, err := strat.uniqueID()
		if err != nil {
			return nil, apperror.Internal(err, "failed to assign account number")
		}
		p.UniqueID = &id
	}

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.users.Create(ctx, u); err != nil {
			return err
		}
		p.UserID = u.ID
		return s.profiles.Upsert(ctx, p)
	})
	if err != nil {
		if db.IsUniqueViolation(err, "users_email_key") {
			return nil, apperror.Conflict("an account with this email already exists")
		}
		return nil, apperror.Internal(err, "failed to create account")
	}

	acct := &Account{User: *u, Profile: p.Details}
	if p.UniqueID != nil {
		acct.UniqueID = *p.UniqueID
	}
	return acct, nil
}

// -- Login and codes --

var codeTemplates = map[otp.Purpose]string{
	otp.PurposeLogin:         notification.TplOTPLogin,
	otp.PurposeRegistration:  notification.TplOTPRegistration,
	otp.PurposePasswordReset: notification.TplPasswordReset,
}

// sendCode issues a code and emails it. Failures are logged; the caller's
// request still succeeds and the user can ask for a resend.
func (s *Service) sendCode(ctx context.Context, purpose otp.Purpose, u *User) {
	code, err := s.codes.Issue(ctx, purpose, u.Email)
	if err != nil {
		s.logger.Error().Err(err).Str("purpose", string(purpose)).Str("user_id", u.ID.String()).Msg("issue otp")
		return
	}
	data := map[string]string{
		"name": u.FullName(),
		"code": code,
		"ttl":  s.codes.TTL().String(),
	}
	if err := s.mailer.SendTemplate(ctx, codeTemplates[purpose], u.Email, data); err != nil {
		s.logger.Warn().Err(err).Str("template", codeTemplates[purpose]).Str("to", u.Email).Msg("otp email not delivered")
	}
}

// Login checks credentials and emails a login code. Tokens are only issued
// by VerifyOTP.
func (s *Service) Login(ctx context.Context, email, password string) error {
	u, err := s.users.GetByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if db.IsNoRows(err) {
			return apperror.Unauthorized("invalid email or password")
		}
		return apperror.Internal(err, "failed to load user")
	}
	if !auth.ComparePassword(u.PasswordHash, password) {
		return apperror.Unauthorized("invalid email or password")
	}
	if !u.IsActive {
		return apperror.Forbidden("account is disabled")
	}
	s.sendCode(ctx, otp.PurposeLogin, u)
	return nil
}

// Session is returned once a login or registration code is verified.
type Session struct {
	Access           string    `json:"access"`
	Refresh          string    `json:"refresh"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
	Role             auth.Role `json:"role"`
	User             *Account  `json:"user"`
}

func parsePurpose(p string, allowed ...otp.Purpose) (otp.Purpose, error) {
	if p == "" {
		return allowed[0], nil
	}
	for _, a := range allowed {
		if otp.Purpose(p) == a {
			return a, nil
		}
	}
	return "", apperror.Validation("unsupported purpose %q", p).WithField("purpose", "unsupported purpose")
}

func codeErr(err error) error {
	if errors.Is(err, otp.ErrNoChallenge) || errors.Is(err, otp.ErrInvalidCode) {
		return apperror.Validation("invalid or expired OTP").WithField("otp", "invalid or expired")
	}
	return apperror.Internal(err, "failed to verify OTP")
}

// VerifyOTP redeems a login or registration code, marks the account
// verified and opens a session.
func (s *Service) VerifyOTP(ctx context.Context, email, code, purpose string) (*Session, error) {
	p, err := parsePurpose(purpose, otp.PurposeLogin, otp.PurposeRegistration)
	if err != nil {
		return nil, err
	}
	email = normalizeEmail(email)
	u, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, apperror.Validation("invalid or expired OTP")
		}
		return nil, apperror.Internal(err, "failed to load user")
	}
	if !u.IsActive {
		return nil, apperror.Forbidden("account is disabled")
	}
	if err := s.codes.Verify(ctx, p, email, code); err != nil {
		return nil, codeErr(err)
	}
	if !u.IsVerified {
		if err := s.users.SetVerified(ctx, u.ID); err != nil {
			return nil, apperror.Internal(err, "failed to verify account")
		}
		u.IsVerified = true
	}

	pair, err := s.tokens.Issue(auth.Subject{UserID: u.ID, Email: u.Email, Role: u.Role})
	if err != nil {
		return nil, apperror.Internal(err, "failed to issue tokens")
	}
	acct, err := s.accounts.GetAccount(ctx, u.ID)
	if err != nil {
		return nil, lookupErr(err, "user")
	}
	return &Session{
		Access:           pair.Access,
		Refresh:          pair.Refresh,
		AccessExpiresAt:  pair.AccessExpiresAt,
		RefreshExpiresAt: pair.RefreshExpiresAt,
		Role:             u.Role,
		User:             acct,
	}, nil
}

// ResendOTP re-issues a code. Login and password reset codes are only
// re-sent while a challenge from Login or ForgotPassword is pending; a
// registration code is re-sent while the account is unverified. Unknown
// emails and missing challenges succeed silently.
func (s *Service) ResendOTP(ctx context.Context, email, purpose string) error {
	p, err := parsePurpose(purpose, otp.PurposeLogin, otp.PurposeRegistration, otp.PurposePasswordReset)
	if err != nil {
		return err
	}
	u, err := s.users.GetByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if db.IsNoRows(err) {
			return nil
		}
		return apperror.Internal(err, "failed to load user")
	}
	if p == otp.PurposeRegistration {
		if u.IsVerified {
			return apperror.Validation("account is already verified")
		}
	} else {
		pending, err := s.codes.Pending(ctx, p, u.Email)
		if err != nil {
			return apperror.Internal(err, "failed to check OTP")
		}
		if !pending {
			return nil
		}
	}
	s.sendCode(ctx, p, u)
	return nil
}

// Refresh exchanges a refresh token for a new access token.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (string, time.Time, error) {
	claims, err := s.tokens.ParseRefresh(refreshToken)
	if err != nil {
		return "", time.Time{}, apperror.Unauthorized("invalid refresh token")
	}
	if s.revocations != nil {
		revoked, err := s.revocations.IsRevoked(ctx, claims.ID)
		if err != nil {
			return "", time.Time{}, apperror.Unavailable("token check unavailable")
		}
		if revoked {
			return "", time.Time{}, apperror.Unauthorized("refresh token has been revoked")
		}
	}
	id, _ := uuid.Parse(claims.Subject)
	u, err := s.users.GetByID(ctx, id)
	if err != nil {
		if db.IsNoRows(err) {
			return "", time.Time{}, apperror.Unauthorized("invalid refresh token")
		}
		return "", time.Time{}, apperror.Internal(err, "failed to load user")
	}
	if !u.IsActive {
		return "", time.Time{}, apperror.Forbidden("account is disabled")
	}
	access, exp, err := s.tokens.IssueAccess(auth.Subject{UserID: u.ID, Email: u.Email, Role: u.Role})
	if err != nil {
		return "", time.Time{}, apperror.Internal(err, "failed to issue token")
	}
	return access, exp, nil
}

// Logout revokes the current access token and, when given, the refresh token.
func (s *Service) Logout(ctx context.Context, accessJTI string, accessExp time.Time, refreshToken string) error {
	if s.revocations == nil {
		return nil
	}
	if accessJTI != "" {
		if err := s.revocations.Revoke(ctx, accessJTI, accessExp); err != nil {
			return apperror.Internal(err, "failed to revoke token")
		}
	}
	if refreshToken == "" {
		return nil
	}
	claims, err := s.tokens.ParseRefresh(refreshToken)
	if err != nil {
		return apperror.Validation("invalid refresh token")
	}
	if claims.Subject != auth.UserIDFromContext(ctx) {
		return apperror.Forbidden("refresh token belongs to another user")
	}
	if err := s.revocations.Revoke(ctx, claims.ID, claims.ExpiresAt.Time); err != nil {
		return apperror.Internal(err, "failed to revoke token")
	}
	return nil
}

// -- Passwords --

// ForgotPassword emails a reset code when the account exists. It never
// reveals whether it does.
func (s *Service) ForgotPassword(ctx context.Context, email string) error {
	u, err := s.users.GetByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if db.IsNoRows(err) {
			return nil
		}
		return apperror.Internal(err, "failed to load user")
	}
	if u.IsActive {
		s.sendCode(ctx, otp.PurposePasswordReset, u)
	}
	return nil
}

func (s *Service) ResetPassword(ctx context.Context, email, code, newPassword string) error {
	if err := checkPassword(newPassword); err != nil {
		return err
	}
	email = normalizeEmail(email)
	u, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if db.IsNoRows(err) {
			return apperror.Validation("invalid or expired OTP")
		}
		return apperror.Internal(err, "failed to load user")
	}
	if err := s.codes.Verify(ctx, otp.PurposePasswordReset, email, code); err != nil {
		return codeErr(err)
	}
	return s.setPassword(ctx, u.ID, newPassword)
}

func (s *Service) ChangePassword(ctx context.Context, userID uuid.UUID, oldPassword, newPassword string) error {
	if err := checkPassword(newPassword); err != nil {
		return err
	}
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return lookupErr(err, "user")
	}
	if !auth.ComparePassword(u.PasswordHash, oldPassword) {
		return apperror.Validation("current password is incorrect").WithField("old_password", "incorrect")
	}
	if oldPassword == newPassword {
		return apperror.Validation("new password must differ from the current one")
	}
	return s.setPassword(ctx, u.ID, newPassword)
}

func (s *Service) setPassword(ctx context.Context, id uuid.UUID, pw string) error {
	hash, err := auth.HashPassword(pw)
	if err != nil {
		return apperror.Internal(err, "failed to hash password")
	}
	if err := s.users.SetPassword(ctx, id, hash); err != nil {
		return apperror.Internal(err, "failed to update password")
	}
	return nil
}

// -- Profiles --

func (s *Service) GetUser(ctx context.Context, id uuid.UUID) (*User, error) {
	u, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, lookupErr(err, "user")
	}
	return u, nil
}

// GetAccount returns a user with profile.
func (s *Service) GetAccount(ctx context.Context, id uuid.UUID) (*Account, error) {
	a, err := s.accounts.GetAccount(ctx, id)
	if err != nil {
		return nil, lookupErr(err, "user")
	}
	return a, nil
}

type UpdateProfileInput struct {
	FirstName *string
	LastName  *string
	Phone     *string
	Profile   json.RawMessage
}

// UpdateProfile applies a partial update to the caller's user row and role
// profile. Fields the request omits keep their stored values.
func (s *Service) UpdateProfile(ctx context.Context, userID uuid.UUID, in UpdateProfileInput) (*Account, error) {
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, lookupErr(err, "user")
	}
	strat, ok := strategyFor(u.Role)
	if !ok {
		return nil, apperror.Internal(nil, "no profile strategy for role %s", u.Role)
	}

	var stored json.RawMessage
	var uniqueID *string
	if p, err := s.profiles.Get(ctx, userID); err == nil {
		stored = p.Details
		uniqueID = p.UniqueID
	} else if !db.IsNoRows(err) {
		return nil, apperror.Internal(err, "failed to load profile")
	}

	details, err := strat.decodeDetails(stored, in.Profile)
	if err != nil {
		return nil, apperror.Validation("invalid profile: %v", err)
	}
	if err := s.validate.Validate(details); err != nil {
		return nil, err
	}
	detailsJSON, err := json.Marshal(details)
	if err != nil {
		return nil, apperror.Internal(err, "failed to encode profile")
	}

	if in.FirstName != nil {
		u.FirstName = strings.TrimSpace(*in.FirstName)
	}
	if in.LastName != nil {
		u.LastName = strings.TrimSpace(*in.LastName)
	}
	if in.Phone != nil {
		u.Phone = strings.TrimSpace(*in.Phone)
	}

	if uniqueID == nil && strat.uniqueID != nil {
		id, err := strat.uniqueID()
		if err != nil {
			return nil, apperror.Internal(err, "failed to assign account number")
		}
		uniqueID = &id
	}

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.users.Update(ctx, u); err != nil {
			return err
		}
		return s.profiles.Upsert(ctx, &Profile{UserID: u.ID, UniqueID: uniqueID, Details: detailsJSON})
	})
	if err != nil {
		return nil, apperror.Internal(err, "failed to update profile")
	}
	return s.GetAccount(ctx, userID)
}

// -- Directory --

func (s *Service) listAccounts(ctx context.Context, f AccountFilter, limit, offset int) ([]*Account, int, error) {
	items, total, err := s.accounts.ListAccounts(ctx, f, limit, offset)
	if err != nil {
		return nil, 0, apperror.Internal(err, "failed to list users")
	}
	if items == nil {
		items = []*Account{}
	}
	return items, total, nil
}

// ListUsers lists every active account, optionally for one role.
func (s *Service) ListUsers(ctx context.Context, role string, limit, offset int) ([]*Account, int, error) {
	var f AccountFilter
	if role != "" {
		r, ok := auth.ParseRole(role)
		if !ok {
			return nil, 0, apperror.Validation("unknown role %q", role)
		}
		f.Roles = []auth.Role{r}
	}
	return s.listAccounts(ctx, f, limit, offset)
}

// ListDoctors lists cardiologists, filtered by name or specialization.
func (s *Service) ListDoctors(ctx context.Context, q string, limit, offset int) ([]*Account, int, error) {
	return s.listAccounts(ctx, AccountFilter{Roles: []auth.Role{auth.RoleCardiologist}, Query: q}, limit, offset)
}

// ListPatients lists patients, filtered by name, email or patient number.
func (s *Service) ListPatients(ctx context.Context, q string, limit, offset int) ([]*Account, int, error) {
	return s.listAccounts(ctx, AccountFilter{Roles: []auth.Role{auth.RolePatient}, Query: q}, limit, offset)
}

// SearchPatients is ListPatients with a mandatory query.
func (s *Service) SearchPatients(ctx context.Context, q string, limit, offset int) ([]*Account, int, error) {
	if strings.TrimSpace(q) == "" {
		return nil, 0, apperror.Validation("search query is required").WithField("q", "this field is required")
	}
	return s.ListPatients(ctx, q, limit, offset)
}

var staffRoles = map[auth.Role]bool{
	auth.RoleNurse:               true,
	auth.RoleSonographer:         true,
	auth.RoleAdministrativeStaff: true,
}

// ListStaff lists nurses and sonographers, or one staff role.
func (s *Service) ListStaff(ctx context.Context, role string, limit, offset int) ([]*Account, int, error) {
	f := AccountFilter{Roles: []auth.Role{auth.RoleNurse, auth.RoleSonographer}}
	if role != "" {
		r, ok := auth.ParseRole(role)
		if !ok || !staffRoles[r] {
			return nil, 0, apperror.Validation("role must be nurse, sonographer or administrative_staff")
		}
		f.Roles = []auth.Role{r}
	}
	return s.listAccounts(ctx, f, limit, offset)
}
