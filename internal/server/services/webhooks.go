package services

import (
	"context"
	"database/sql"
	"net/url"
	"slices"
	"strings"

	"github.com/dmitrijs2005/flyfile/internal/common"
	"github.com/dmitrijs2005/flyfile/internal/server/access"
	"github.com/dmitrijs2005/flyfile/internal/server/models"
	"github.com/dmitrijs2005/flyfile/internal/server/repositories/repomanager"
)

// Webhook events a subscription may name.
var webhookEvents = []string{"transfer.created", "transfer.downloaded", "transfer.expired", "transfer.deleted"}

const webhookSecretBytes = 24

// CreatedWebhook carries the signing secret, returned exactly once.
type CreatedWebhook struct {
	Webhook *models.Webhook
	Secret  string
}

// WebhookService manages webhook registrations. Delivery is out of scope;
// only the records are kept.
type WebhookService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
}

func NewWebhookService(db *sql.DB, rm repomanager.RepositoryManager) *WebhookService {
	return &WebhookService{db: db, repomanager: rm}
}

// Create registers an https endpoint for a set of events.
func (s *WebhookService) Create(ctx context.Context, id *access.Identity, rawURL string, events []string) (*CreatedWebhook, error) {
	if err := requireBearer(id); err != nil {
		return nil, err
	}
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Scheme != "https" || u.Host == "" {
		return nil, common.Validationf("webhook url must be an absolute https url")
	}
	if len(events) == 0 {
		return nil, common.Validationf("at least one event is required")
	}
	for _, e := range events {
		if !slices.Contains(webhookEvents, e) {
			return nil, common.Validationf("unknown event %q", e)
		}
	}
	events = slices.Compact(slices.Sorted(slices.Values(events)))

	random, err := common.MakeRandHexString(webhookSecretBytes)
	if err != nil {
		return nil, err
	}
	secret := "whsec_" + random

	hook := &models.Webhook{UserID: id.UserID, URL: u.String(), Secret: secret, Events: events}
	if err := s.repomanager.Webhooks(s.db).Create(ctx, hook); err != nil {
		return nil, err
	}
	return &CreatedWebhook{Webhook: hook, Secret: secret}, nil
}

func (s *WebhookService) List(ctx context.Context, id *access.Identity) ([]*models.Webhook, error) {
	if err := requireBearer(id); err != nil {
		return nil, err
	}
	return s.repomanager.Webhooks(s.db).ListByUser(ctx, id.UserID)
}

func (s *WebhookService) Delete(ctx context.Context, id *access.Identity, webhookID string) error {
	if err := requireBearer(id); err != nil {
		return err
	}
	return s.repomanager.Webhooks(s.db).Delete(ctx, webhookID, id.UserID)
}
