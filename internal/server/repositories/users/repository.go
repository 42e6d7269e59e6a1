// Package users declares the account storage contract and its PostgreSQL
// and in-memory implementations.
package users

import (
	"context"
	"time"

	"github.com/dmitrijs2005/sessionkeeper/internal/server/models"
)

// Repository persists accounts. Lookups of absent accounts return
// common.ErrorNotFound; a duplicate email on Create returns
// common.ErrDuplicateAccount.
type Repository interface {
	Create(ctx context.Context, account *models.Account) (*models.Account, error)
	GetByEmail(ctx context.Context, email string) (*models.Account, error)
	GetByID(ctx context.Context, id string) (*models.Account, error)
	Update(ctx context.Context, account *models.Account) error
	// TouchLastLogin sets only last_login_at, leaving every other column as stored.
	TouchLastLogin(ctx context.Context, id string, at time.Time) error
}
