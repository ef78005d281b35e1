package account

import (
	"context"
	"crypto/rand"
	"errors"
	"io"
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/text/unicode/norm"

	"github.com/ovaphlow/pitchfork/service-chat-go/internal/account/entity"
	"github.com/ovaphlow/pitchfork/service-chat-go/internal/apperr"
	"github.com/ovaphlow/pitchfork/service-chat-go/internal/mailer"
	"github.com/ovaphlow/pitchfork/service-chat-go/pkg/utilities"
)

const (
	minUsernameLen = 3
	maxUsernameLen = 50
	// DefaultOTPTTL is how long a challenge stays valid after issue.
	DefaultOTPTTL = 10 * time.Minute
)

// Repository is the durable store the state machine runs against.
type Repository interface {
	GetByUsername(ctx context.Context, username string) (*entity.Account, error)
	Exists(ctx context.Context, username string) (bool, error)
	FindClaims(ctx context.Context, username, email string) ([]entity.Account, error)
	ReplacePending(ctx context.Context, a *entity.Account) error
	MarkVerified(ctx context.Context, username, code string, issuedAt, now time.Time) (bool, error)
	ListVerified(ctx context.Context) ([]entity.Summary, error)
	Delete(ctx context.Context, username string) error
}

type Options struct {
	OTPTTL   time.Duration
	TestMode bool
}

// Service drives the Unregistered -> PendingVerification -> Verified lifecycle.
type Service struct {
	repo   Repository
	hasher PasswordHasher
	mail   mailer.Sender
	ids    *utilities.IDGenerator
	logger *zap.SugaredLogger

	otpTTL   time.Duration
	testMode bool

	nowFn  func() time.Time
	random io.Reader
}

func NewService(repo Repository, hasher PasswordHasher, mail mailer.Sender, ids *utilities.IDGenerator, logger *zap.SugaredLogger, opts Options) *Service {
	if hasher == nil {
		hasher = BcryptHasher{Cost: 12}
	}
	if opts.OTPTTL <= 0 {
		opts.OTPTTL = DefaultOTPTTL
	}
	return &Service{
		repo:     repo,
		hasher:   hasher,
		mail:     mail,
		ids:      ids,
		logger:   logger,
		otpTTL:   opts.OTPTTL,
		testMode: opts.TestMode,
		nowFn:    time.Now,
		random:   rand.Reader,
	}
}

// NormalizeUsername trims and NFKC-normalizes a username so visually equal
// identities map to one row.
func NormalizeUsername(username string) string {
	return norm.NFKC.String(strings.TrimSpace(username))
}

// NormalizeEmail lower-cases and trims an address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validateUsername(username string) error {
	n := utf8.RuneCountInString(username)
	if n < minUsernameLen || n > maxUsernameLen {
		return apperr.New(apperr.Invalid, "username must be between 3 and 50 characters")
	}
	return nil
}

// CheckUsername reports whether username can be claimed. Any existing row,
// pending or verified, counts as taken.
func (s *Service) CheckUsername(ctx context.Context, username string) error {
	username = NormalizeUsername(username)
	if err := validateUsername(username); err != nil {
		return err
	}
	taken, err := s.repo.Exists(ctx, username)
	if err != nil {
		return err
	}
	if taken {
		return apperr.New(apperr.Conflict, "username Already taken!")
	}
	return nil
}

// SignUp starts (or restarts) verification for an identity. The challenge is
// mailed first and the row is written only once the provider accepted it.
func (s *Service) SignUp(ctx context.Context, username, email, password string) (*entity.Account, error) {
	username = NormalizeUsername(username)
	email = NormalizeEmail(email)
	if err := validateUsername(username); err != nil {
		return nil, err
	}
	if _, err := mail.ParseAddress(email); err != nil || !strings.Contains(email, "@") {
		return nil, apperr.New(apperr.Invalid, "a valid email is required")
	}
	if password == "" {
		return nil, apperr.New(apperr.Invalid, "password is required")
	}

	// postgres keeps microseconds; the stored value must compare equal on verify
	now := s.nowFn().UTC().Truncate(time.Microsecond)
	if err := s.checkClaims(ctx, username, email, now); err != nil {
		return nil, err
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return nil, apperr.New(apperr.Invalid, "password is too long")
		}
		return nil, apperr.Wrap(apperr.Internal, "hash password", err)
	}
	code, err := s.mintOTP()
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "mint otp", err)
	}

	msg, err := mailer.OTPMessage(email, username, code, s.otpTTL)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "render otp mail", err)
	}
	if err := s.mail.Send(ctx, msg); err != nil {
		s.logger.Warnw("otp mail not accepted", "username", username, "err", err)
		return nil, apperr.Wrap(apperr.UpstreamFailure, "could not send verification email", err)
	}

	a := &entity.Account{
		ID:           s.ids.Next(),
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		OTPCode:      code,
		OTPIssuedAt:  now,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.repo.ReplacePending(ctx, a); err != nil {
		return nil, err
	}
	s.logger.Infow("signup pending verification", "username", username, "account_id", a.ID)
	return a, nil
}

// checkClaims refuses a signup when a verified account holds the username or
// email, or when another identity holds either under a live challenge.
// Re-signup of the same pending identity, and claims whose challenge expired,
// are replaced by ReplacePending.
func (s *Service) checkClaims(ctx context.Context, username, email string, now time.Time) error {
	claims, err := s.repo.FindClaims(ctx, username, email)
	if err != nil {
		return err
	}
	for _, c := range claims {
		if c.Verified {
			return apperr.New(apperr.Conflict, "username or email already registered")
		}
		sameIdentity := c.Username == username && c.Email == email
		if !sameIdentity && !c.Challenge().Expired(now, s.otpTTL) {
			return apperr.New(apperr.Conflict, "username or email is awaiting verification")
		}
	}
	return nil
}

// Verify consumes the pending challenge for username. Verifying an account
// that is already verified succeeds without side effects.
func (s *Service) Verify(ctx context.Context, username, code string) error {
	username = NormalizeUsername(username)
	code = strings.TrimSpace(code)

	acct, err := s.repo.GetByUsername(ctx, username)
	if err != nil {
		return err
	}
	if acct.Verified {
		return nil
	}
	ch := acct.Challenge()
	if code == "" || !ConstantTimeCompare(ch.Code, code) {
		return apperr.New(apperr.InvalidCredential, "invalid verification code")
	}
	now := s.nowFn().UTC()
	if ch.Expired(now, s.otpTTL) {
		return apperr.New(apperr.Expired, "verification code expired")
	}

	flipped, err := s.repo.MarkVerified(ctx, username, ch.Code, ch.IssuedAt, now)
	if err != nil {
		return err
	}
	if !flipped {
		// lost a race: either a concurrent verify won or a re-signup replaced the challenge
		cur, err := s.repo.GetByUsername(ctx, username)
		if err != nil {
			return err
		}
		if cur.Verified {
			return nil
		}
		return apperr.New(apperr.InvalidCredential, "invalid verification code")
	}
	s.logger.Infow("account verified", "username", username)
	s.sendConfirmation(ctx, acct)
	return nil
}

func (s *Service) sendConfirmation(ctx context.Context, acct *entity.Account) {
	msg, err := mailer.VerifiedMessage(acct.Email, acct.Username)
	if err == nil {
		err = s.mail.Send(ctx, msg)
	}
	if err != nil {
		s.logger.Warnw("confirmation mail failed", "username", acct.Username, "err", err)
	}
}

// Authenticate checks a password login and returns the canonical username.
// Unverified accounts are refused.
func (s *Service) Authenticate(ctx context.Context, username, password string) (string, error) {
	username = NormalizeUsername(username)
	acct, err := s.repo.GetByUsername(ctx, username)
	if err != nil {
		if apperr.IsKind(err, apperr.NotFound) {
			return "", apperr.New(apperr.InvalidCredential, "invalid username or password")
		}
		return "", err
	}
	if !s.hasher.Verify(acct.PasswordHash, password) {
		return "", apperr.New(apperr.InvalidCredential, "invalid username or password")
	}
	if !acct.Verified {
		return "", apperr.New(apperr.Unauthorized, "account is not verified")
	}
	return acct.Username, nil
}

// ListUsers returns verified accounts with their durable online flag.
func (s *Service) ListUsers(ctx context.Context) ([]entity.Summary, error) {
	return s.repo.ListVerified(ctx)
}

// Delete removes an account; outstanding session tokens stop verifying.
func (s *Service) Delete(ctx context.Context, username string) error {
	username = NormalizeUsername(username)
	if err := s.repo.Delete(ctx, username); err != nil {
		return err
	}
	s.logger.Infow("account deleted", "username", username)
	return nil
}

func (s *Service) mintOTP() (string, error) {
	if s.testMode {
		return TestOTP, nil
	}
	return newOTP(s.random)
}
