package billing

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/flyfile/internal/common"
	"github.com/dmitrijs2005/flyfile/internal/logging"
	"github.com/dmitrijs2005/flyfile/internal/server/repositories/repomanager"
)

type Service struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	provider    Provider
	logger      logging.Logger
}

func NewService(db *sql.DB, rm repomanager.RepositoryManager, provider Provider, logger logging.Logger) *Service {
	return &Service{
		db:          db,
		repomanager: rm,
		provider:    provider,
		logger:      logger.With("module", "billing"),
	}
}

// EnsureCustomer returns the billing customer of ownerID, creating one when
// needed. Two concurrent callers may both create a customer; the row update
// only succeeds for the first, and the other deletes what it created and
// returns the stored id.
func (s *Service) EnsureCustomer(ctx context.Context, ownerID, email string) (string, error) {
	users := s.repomanager.Users(s.db)

	user, err := users.Get(ctx, ownerID)
	if err != nil {
		return "", fmt.Errorf("load account: %w", err)
	}
	if user.BillingCustomerID != "" {
		return user.BillingCustomerID, nil
	}

	customerID, err := s.provider.FindCustomerByEmail(ctx, email)
	if err != nil {
		return "", err
	}
	created := false
	if customerID == "" {
		customerID, err = s.provider.CreateCustomer(ctx, ownerID, email)
		if err != nil {
			return "", err
		}
		created = true
	}

	err = users.SetBillingCustomerIfEmpty(ctx, ownerID, customerID)
	if err == nil {
		return customerID, nil
	}
	if !errors.Is(err, common.ErrVersionConflict) {
		return "", err
	}

	user, err = users.Get(ctx, ownerID)
	if err != nil {
		return "", fmt.Errorf("reload account: %w", err)
	}
	if created && user.BillingCustomerID != customerID {
		if err := s.provider.DeleteCustomer(ctx, customerID); err != nil {
			s.logger.Warn(ctx, "failed to remove redundant billing customer",
				"owner_id", ownerID, "customer_id", customerID, "error", err)
		}
	}
	return user.BillingCustomerID, nil
}
