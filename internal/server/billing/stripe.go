// Package billing links accounts to customers of the external billing
// provider.
package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/dmitrijs2005/flyfile/internal/common"
)

// Provider is the part of the billing API the server depends on.
type Provider interface {
	FindCustomerByEmail(ctx context.Context, email string) (string, error)
	CreateCustomer(ctx context.Context, ownerID, email string) (string, error)
	DeleteCustomer(ctx context.Context, customerID string) error
}

// StripeClient calls the Stripe REST API with form-encoded requests.
// Transient failures (429, 5xx, network) are retried with exponential
// backoff.
type StripeClient struct {
	httpClient *http.Client
	baseURL    string
	secretKey  string
	maxTries   uint
	newBackOff func() backoff.BackOff
}

func NewStripeClient(baseURL, secretKey string) *StripeClient {
	return &StripeClient{
		httpClient: &http.Client{Timeout: 15 * time.Second},
		baseURL:    strings.TrimRight(baseURL, "/"),
		secretKey:  secretKey,
		maxTries:   4,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 200 * time.Millisecond
			b.MaxInterval = 2 * time.Second
			return b
		},
	}
}

type stripeCustomer struct {
	ID      string `json:"id"`
	Deleted bool   `json:"deleted"`
}

type stripeList struct {
	Data []stripeCustomer `json:"data"`
}

type stripeError struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *StripeClient) FindCustomerByEmail(ctx context.Context, email string) (string, error) {
	q := url.Values{}
	q.Set("email", email)
	q.Set("limit", "1")

	var list stripeList
	if err := c.do(ctx, http.MethodGet, "/v1/customers?"+q.Encode(), nil, &list); err != nil {
		return "", err
	}
	for _, cu := range list.Data {
		if !cu.Deleted {
			return cu.ID, nil
		}
	}
	return "", nil
}

func (c *StripeClient) CreateCustomer(ctx context.Context, ownerID, email string) (string, error) {
	form := url.Values{}
	form.Set("email", email)
	form.Set("metadata[owner_id]", ownerID)

	var cu stripeCustomer
	if err := c.do(ctx, http.MethodPost, "/v1/customers", form, &cu); err != nil {
		return "", err
	}
	if cu.ID == "" {
		return "", fmt.Errorf("%w: billing provider returned no customer id", common.ErrExternalService)
	}
	return cu.ID, nil
}

func (c *StripeClient) DeleteCustomer(ctx context.Context, customerID string) error {
	return c.do(ctx, http.MethodDelete, "/v1/customers/"+url.PathEscape(customerID), nil, nil)
}

func (c *StripeClient) do(ctx context.Context, method, path string, form url.Values, out any) error {
	op := func() (struct{}, error) {
		var body io.Reader
		if form != nil {
			body = strings.NewReader(form.Encode())
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
		if err != nil {
			return struct{}{}, backoff.Permanent(err)
		}
		req.Header.Set("Authorization", "Bearer "+c.secretKey)
		if form != nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return struct{}{}, fmt.Errorf("%w: billing request: %v", common.ErrExternalService, err)
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return struct{}{}, fmt.Errorf("%w: billing response: %v", common.ErrExternalService, err)
		}

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			if s, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && s > 0 {
				return struct{}{}, backoff.RetryAfter(s)
			}
			return struct{}{}, fmt.Errorf("%w: billing provider throttled", common.ErrExternalService)
		case resp.StatusCode >= 500:
			return struct{}{}, fmt.Errorf("%w: billing provider status %d", common.ErrExternalService, resp.StatusCode)
		case resp.StatusCode >= 400:
			var se stripeError
			_ = json.Unmarshal(data, &se)
			return struct{}{}, backoff.Permanent(fmt.Errorf("%w: billing provider rejected request (%d %s): %s",
				common.ErrExternalService, resp.StatusCode, se.Error.Type, se.Error.Message))
		}

		if out != nil {
			if err := json.Unmarshal(data, out); err != nil {
				return struct{}{}, backoff.Permanent(fmt.Errorf("%w: decode billing response: %v", common.ErrExternalService, err))
			}
		}
		return struct{}{}, nil
	}

	_, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(c.newBackOff()),
		backoff.WithMaxTries(c.maxTries))
	return err
}
