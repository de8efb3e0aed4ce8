package services

import (
	"context"

	"github.com/authgate/apiserver/types"
)

// AccountRepository is the credential store the services depend on.
// Implementations must apply UpdateFields atomically per account.
type AccountRepository interface {
	FindByIdentity(ctx context.Context, email string) (types.Account, error)
	FindByID(ctx context.Context, id string) (types.Account, error)
	Insert(ctx context.Context, account types.Account) (types.Account, error)
	UpdateFields(ctx context.Context, id string, update types.AccountUpdate) error
	List(ctx context.Context) ([]types.Account, error)
}

// UserService encapsulates read-only account use-cases.
type UserService struct {
	repo AccountRepository
}

func NewUserService(repo AccountRepository) *UserService {
	return &UserService{repo: repo}
}

func (s *UserService) GetByID(ctx context.Context, id string) (types.Account, error) {
	return s.repo.FindByID(ctx, id)
}

// List returns every account for the admin listing.
func (s *UserService) List(ctx context.Context) ([]types.Account, error) {
	return s.repo.List(ctx)
}
