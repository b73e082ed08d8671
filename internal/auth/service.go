package auth

import (
	"context"

	"golang.org/x/crypto/bcrypt"

	"github.com/uvr-coop/uvr/internal/shared"
	"github.com/uvr-coop/uvr/internal/users"
)

// Repository is the user lookup the login flow needs.
type Repository interface {
	FindByEmail(ctx context.Context, email string) (*users.User, error)
	FindByID(ctx context.Context, id int64) (*users.User, error)
}

// Service wraps authentication business rules.
type Service struct {
	repo Repository
}

// NewService constructs a new Service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Authenticate validates email/password credentials.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*users.User, error) {
	user, err := s.repo.FindByEmail(ctx, email)
	if err != nil {
		if shared.IsNotFound(err) {
			return nil, shared.ErrInvalidCredentials
		}
		return nil, err
	}
	if !user.IsActive || !user.Role.Valid() {
		return nil, shared.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, shared.ErrInvalidCredentials
	}
	return user, nil
}

// Current returns the account bound to a session.
func (s *Service) Current(ctx context.Context, userID int64) (*users.User, error) {
	return s.repo.FindByID(ctx, userID)
}
