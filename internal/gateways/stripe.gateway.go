package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/meridianhq/billing-ledger/pkg/logger"
	"github.com/meridianhq/billing-ledger/pkg/prom"
	"github.com/pkg/errors"
	"github.com/valyala/fasthttp"
)

// StripeConfig configures the HTTP client talking to the Stripe-style
// rail API.
type StripeConfig struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	MaxRetries int
	RetryDelay time.Duration
	MaxConns   int
}

// StripeRail implements Rail against a Stripe-style REST API.
type StripeRail struct {
	config StripeConfig
	client *fasthttp.Client
}

func NewStripeRail(config StripeConfig) *StripeRail {
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}
	if config.MaxRetries == 0 {
		config.MaxRetries = 3
	}
	if config.RetryDelay == 0 {
		config.RetryDelay = 500 * time.Millisecond
	}

	return &StripeRail{
		config: config,
		client: &fasthttp.Client{
			MaxConnsPerHost:     config.MaxConns,
			ReadTimeout:         config.Timeout,
			WriteTimeout:        config.Timeout,
			MaxIdleConnDuration: 60 * time.Second,
		},
	}
}

func (r *StripeRail) GetCharge(ctx context.Context, id string) (*Charge, error) {
	var charge Charge
	if err := r.get(ctx, "get_charge", "/v1/charges/"+url.PathEscape(id), &charge); err != nil {
		return nil, err
	}
	return &charge, nil
}

func (r *StripeRail) GetBalanceTransaction(ctx context.Context, id string) (*BalanceTransaction, error) {
	var bt BalanceTransaction
	if err := r.get(ctx, "get_balance_transaction", "/v1/balance_transactions/"+url.PathEscape(id), &bt); err != nil {
		return nil, err
	}
	return &bt, nil
}

func (r *StripeRail) ListBalanceTransactions(ctx context.Context, accountID string, payoutID string) ([]*BalanceTransaction, error) {
	q := url.Values{}
	if accountID != "" {
		q.Set("account", accountID)
	}
	if payoutID != "" {
		q.Set("payout", payoutID)
	}

	var list struct {
		Data []*BalanceTransaction `json:"data"`
	}
	if err := r.get(ctx, "list_balance_transactions", "/v1/balance_transactions?"+q.Encode(), &list); err != nil {
		return nil, err
	}
	return list.Data, nil
}

func (r *StripeRail) GetRefund(ctx context.Context, id string) (*Refund, error) {
	var refund Refund
	if err := r.get(ctx, "get_refund", "/v1/refunds/"+url.PathEscape(id), &refund); err != nil {
		return nil, err
	}
	return &refund, nil
}

func (r *StripeRail) ListRefunds(ctx context.Context, chargeID string) ([]*Refund, error) {
	var list struct {
		Data []*Refund `json:"data"`
	}
	if err := r.get(ctx, "list_refunds", "/v1/refunds?charge="+url.QueryEscape(chargeID), &list); err != nil {
		return nil, err
	}
	return list.Data, nil
}

func (r *StripeRail) GetDispute(ctx context.Context, id string) (*Dispute, error) {
	var dispute Dispute
	if err := r.get(ctx, "get_dispute", "/v1/disputes/"+url.PathEscape(id)+"?expand=balance_transactions", &dispute); err != nil {
		return nil, err
	}
	return &dispute, nil
}

func (r *StripeRail) RetrievePaymentIntent(ctx context.Context, id string) (*PaymentIntent, error) {
	var intent PaymentIntent
	if err := r.get(ctx, "get_payment_intent", "/v1/payment_intents/"+url.PathEscape(id), &intent); err != nil {
		return nil, err
	}
	return &intent, nil
}

func (r *StripeRail) Transfer(ctx context.Context, destination string, amount int64, sourceTransaction string, metadata map[string]string) (*TransferResult, error) {
	body := map[string]any{
		"destination":        destination,
		"amount":             amount,
		"source_transaction": sourceTransaction,
		"metadata":           metadata,
	}

	var result TransferResult
	if err := r.post(ctx, "create_transfer", "/v1/transfers", body, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (r *StripeRail) ReverseTransfer(ctx context.Context, transferID string, amount int64, metadata map[string]string) (*TransferResult, error) {
	body := map[string]any{
		"amount":   amount,
		"metadata": metadata,
	}

	var result TransferResult
	if err := r.post(ctx, "reverse_transfer", "/v1/transfers/"+url.PathEscape(transferID)+"/reversals", body, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (r *StripeRail) get(ctx context.Context, operation, path string, dst any) error {
	return r.do(ctx, operation, fasthttp.MethodGet, path, nil, dst)
}

func (r *StripeRail) post(ctx context.Context, operation, path string, body any, dst any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return errors.Wrap(err, "stripe: marshal request")
	}
	return r.do(ctx, operation, fasthttp.MethodPost, path, payload, dst)
}

// do runs one request with retries, timing every attempt under the
// logical rail operation, not the HTTP verb.
func (r *StripeRail) do(ctx context.Context, operation, method, path string, body []byte, dst any) error {
	var lastErr error
	for attempt := 0; attempt <= r.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(r.config.RetryDelay):
			}
		}

		start := time.Now()
		response, err := r.doRequest(ctx, method, path, body)
		prom.AddRailRequestDuration(operation, time.Since(start).Seconds())
		if err != nil {
			lastErr = err
			logger.Warn("stripe request failed, retrying", "method", method, "path", path, "attempt", attempt+1, "error", err)
			continue
		}

		if dst == nil {
			return nil
		}
		if err := json.Unmarshal(response, dst); err != nil {
			return errors.Wrap(err, "stripe: unmarshal response")
		}
		return nil
	}

	return errors.Wrapf(lastErr, "stripe: failed after %d attempts", r.config.MaxRetries+1)
}

func (r *StripeRail) doRequest(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(r.config.BaseURL + path)
	req.Header.SetMethod(method)
	req.Header.SetContentType("application/json")
	req.Header.Set("Authorization", "Bearer "+r.config.APIKey)

	if body != nil {
		req.SetBody(body)
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(r.config.Timeout)
	}

	if err := r.client.DoDeadline(req, resp, deadline); err != nil {
		return nil, errors.Wrap(err, "stripe: request failed")
	}

	statusCode := resp.StatusCode()
	if statusCode != fasthttp.StatusOK && statusCode != fasthttp.StatusCreated {
		return nil, fmt.Errorf("stripe: unexpected status code %d: %s", statusCode, resp.Body())
	}

	result := make([]byte, len(resp.Body()))
	copy(result, resp.Body())

	return result, nil
}
