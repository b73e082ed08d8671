package users

import (
	"context"
	"fmt"
	"log/slog"
)

// Service wraps user lookups and role administration.
type Service struct {
	repo   Repository
	logger *slog.Logger
}

// NewService constructs a Service.
func NewService(repo Repository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, logger: logger}
}

// FindByID returns the current state of a user.
func (s *Service) FindByID(ctx context.Context, id int64) (*User, error) {
	return s.repo.FindByID(ctx, id)
}

// MigrateLegacyRoles assigns an explicit role to every user created before roles existed.
// Usernames starting with prefix become unit users; the rest become admins.
// With dryRun set nothing is written and the planned assignments are returned.
func (s *Service) MigrateLegacyRoles(ctx context.Context, prefix string, dryRun bool) ([]RoleAssignment, error) {
	var planned []RoleAssignment
	err := s.repo.WithTx(ctx, func(ctx context.Context) error {
		pending, err := s.repo.ListWithoutRole(ctx)
		if err != nil {
			return err
		}
		for _, u := range pending {
			assignment := RoleAssignment{UserID: u.ID, Username: u.Username, Role: legacyRole(u.Username, prefix)}
			planned = append(planned, assignment)
			if dryRun {
				continue
			}
			if err := s.repo.SetRole(ctx, u.ID, assignment.Role); err != nil {
				return fmt.Errorf("set role for user %d: %w", u.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("users: migrate roles: %w", err)
	}
	s.logger.Info("legacy roles migrated", slog.Int("users", len(planned)), slog.Bool("dry_run", dryRun))
	return planned, nil
}
