package credential

import (
	"context"
	"errors"
	"fmt"

	"github.com/goblimey/go-kas-tracker/code/pkg/repository"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrForbidden          = errors.New("forbidden")
	ErrAccountLocked      = errors.New("account locked")
)

// AccountFinder gets the stored digest and role of an identity.  An unknown
// identity gives repository.ErrNotFound.
type AccountFinder interface {
	FindCredential(ctx context.Context, identity string) (digest, role string, err error)
}

// Account is a logged in user.
type Account struct {
	Identity string
	Role     string
}

// Service checks passwords against the stored digests and enforces the
// lockout.
type Service struct {
	Finder  AccountFinder
	Hasher  *Hasher
	Tracker *Tracker

	// dummyDigest is checked when the identity is unknown, so that an
	// unknown identity takes as long to refuse as a wrong password.
	dummyDigest string

	// verify checks a password against a digest.  Nil means Hasher.Verify.
	verify func(password, digest string) bool
}

// NewService creates a Service.
func NewService(finder AccountFinder, hasher *Hasher, tracker *Tracker) *Service {
	return &Service{
		Finder:      finder,
		Hasher:      hasher,
		Tracker:     tracker,
		dummyDigest: hasher.DummyDigest(),
	}
}

// Login checks the identity and password.  A locked identity gives
// ErrAccountLocked without looking at the stored credentials.  A bad
// password or unknown identity gives ErrInvalidCredentials and counts as a
// failure.  Storage errors are returned as they are.
func (s *Service) Login(ctx context.Context, identity, password string) (Account, error) {
	if s.Tracker.Locked(identity) {
		return Account{}, fmt.Errorf("%s: %w", identity, ErrAccountLocked)
	}

	digest, role, findError := s.Finder.FindCredential(ctx, identity)
	if findError != nil {
		if errors.Is(findError, repository.ErrNotFound) {
			s.check(password, s.dummy())
			s.Tracker.Failure(identity)
			return Account{}, fmt.Errorf("%s: %w", identity, ErrInvalidCredentials)
		}
		return Account{}, findError
	}

	if !s.check(password, digest) {
		s.Tracker.Failure(identity)
		return Account{}, fmt.Errorf("%s: %w", identity, ErrInvalidCredentials)
	}

	s.Tracker.Success(identity)

	return Account{Identity: identity, Role: role}, nil
}

// Authorise logs in and checks that the account has the given role.  The
// wrong role gives ErrForbidden.
func (s *Service) Authorise(ctx context.Context, identity, password, role string) (Account, error) {
	account, err := s.Login(ctx, identity, password)
	if err != nil {
		return account, err
	}

	if account.Role != role {
		return account, fmt.Errorf("%s is not %s: %w", identity, role, ErrForbidden)
	}

	return account, nil
}

func (s *Service) check(password, digest string) bool {
	if s.verify != nil {
		return s.verify(password, digest)
	}
	return s.Hasher.Verify(password, digest)
}

// dummy returns the digest to check for an unknown identity.
func (s *Service) dummy() string {
	if len(s.dummyDigest) == 0 {
		s.dummyDigest = s.Hasher.DummyDigest()
	}
	return s.dummyDigest
}
