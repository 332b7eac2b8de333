package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync/atomic"

	"github.com/shopspring/decimal"

	"github.com/openclob/polymirror/internal/crypto"
	"github.com/openclob/polymirror/internal/domain"
	"github.com/openclob/polymirror/internal/ratelimit"
)

// CredentialsProvider hands out the current venue credentials. The client
// reads them per request so credential updates take effect without a
// restart.
type CredentialsProvider func() domain.Credentials

// ClobClient is the REST client for the venue's CLOB API. It handles order
// placement, book snapshots, and balance queries.
type ClobClient struct {
	core   *httpCore
	creds  CredentialsProvider
	logger *slog.Logger

	// Flipped by whichever caller first hits the venue without complete
	// credentials; requests come from several goroutines.
	warnedUnsigned atomic.Bool
}

// NewClobClient creates a CLOB client rooted at baseURL, e.g.
// "https://clob.polymarket.com".
func NewClobClient(baseURL string, limiter *ratelimit.Limiter, creds CredentialsProvider, logger *slog.Logger) *ClobClient {
	l := logger.With(slog.String("component", "clob_client"))
	return &ClobClient{
		core:   newHTTPCore(baseURL, ratelimit.BucketClob, limiter, l),
		creds:  creds,
		logger: l,
	}
}

// PostOrder submits a signed order. The request body nests the signed
// payload under "order" with the API key as "owner".
func (c *ClobClient) PostOrder(ctx context.Context, order crypto.SignedOrder, orderType domain.OrderType) (OrderResult, error) {
	creds := c.creds()
	if !creds.Configured() {
		return OrderResult{}, fmt.Errorf("polymarket/clob: post order: %w", domain.ErrNotConfigured)
	}

	body, err := json.Marshal(map[string]any{
		"order":     order,
		"owner":     creds.APIKey,
		"orderType": string(orderType),
	})
	if err != nil {
		return OrderResult{}, fmt.Errorf("polymarket/clob: marshal order: %w", err)
	}

	respBody, err := c.core.request(ctx, http.MethodPost, "/order", body, c.authHeaders(http.MethodPost, "/order", string(body)))
	if err != nil {
		return OrderResult{}, fmt.Errorf("polymarket/clob: post order: %w", err)
	}

	var result OrderResult
	if err := json.Unmarshal(respBody, &result); err != nil {
		return OrderResult{}, fmt.Errorf("polymarket/clob: decode order result: %w", err)
	}
	if !result.Success {
		return result, fmt.Errorf("polymarket/clob: order rejected: %s", result.ErrorMsg)
	}
	return result, nil
}

// GetBook fetches the order book snapshot for a token. The response carries
// the market's neg_risk flag when the venue knows it.
func (c *ClobClient) GetBook(ctx context.Context, tokenID string) (OrderBook, error) {
	if tokenID == "" {
		return OrderBook{}, fmt.Errorf("polymarket/clob: get book: %w", domain.ErrInvalidTokenID)
	}

	path := "/book?token_id=" + url.QueryEscape(tokenID)
	var book OrderBook
	if err := c.core.getJSON(ctx, path, &book); err != nil {
		return OrderBook{}, fmt.Errorf("polymarket/clob: get book %s: %w", tokenID, err)
	}
	return book, nil
}

// GetMidpoint fetches the venue-computed midpoint price for a token.
func (c *ClobClient) GetMidpoint(ctx context.Context, tokenID string) (decimal.Decimal, error) {
	path := "/midpoint?token_id=" + url.QueryEscape(tokenID)

	var resp struct {
		Mid string `json:"mid"`
	}
	if err := c.core.getJSON(ctx, path, &resp); err != nil {
		return decimal.Zero, fmt.Errorf("polymarket/clob: get midpoint %s: %w", tokenID, err)
	}

	mid, err := decimal.NewFromString(resp.Mid)
	if err != nil {
		return decimal.Zero, fmt.Errorf("polymarket/clob: parse midpoint %q: %w", resp.Mid, err)
	}
	return mid, nil
}

// GetBalance returns the collateral balance in dollars. The venue reports
// micro-USDC; the result is divided by 10^6.
func (c *ClobClient) GetBalance(ctx context.Context) (decimal.Decimal, error) {
	creds := c.creds()
	if !creds.Configured() {
		return decimal.Zero, fmt.Errorf("polymarket/clob: get balance: %w", domain.ErrNotConfigured)
	}

	path := "/balance-allowance?asset_type=COLLATERAL&signature_type=2"
	respBody, err := c.core.request(ctx, http.MethodGet, path, nil, c.authHeaders(http.MethodGet, path, ""))
	if err != nil {
		return decimal.Zero, fmt.Errorf("polymarket/clob: get balance: %w", err)
	}

	var resp struct {
		Balance string `json:"balance"`
	}
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return decimal.Zero, fmt.Errorf("polymarket/clob: decode balance: %w", err)
	}

	micro, err := decimal.NewFromString(resp.Balance)
	if err != nil {
		return decimal.Zero, fmt.Errorf("polymarket/clob: parse balance %q: %w", resp.Balance, err)
	}
	return micro.Div(decimal.New(1, 6)), nil
}

// GetServerTime returns the venue's clock as a Unix timestamp. Useful for
// detecting local clock skew before HMAC-signed calls.
func (c *ClobClient) GetServerTime(ctx context.Context) (int64, error) {
	respBody, err := c.core.request(ctx, http.MethodGet, "/time", nil, nil)
	if err != nil {
		return 0, fmt.Errorf("polymarket/clob: get time: %w", err)
	}

	var ts int64
	if err := json.Unmarshal(respBody, &ts); err != nil {
		return 0, fmt.Errorf("polymarket/clob: decode time: %w", err)
	}
	return ts, nil
}

// authHeaders returns a header factory that signs the request with the
// current credentials. Headers are recomputed per attempt so the HMAC
// timestamp stays fresh across retries. Incomplete credentials skip signing
// with a one-time warning; the venue answers 401.
func (c *ClobClient) authHeaders(method, path, body string) func() map[string]string {
	return func() map[string]string {
		creds := c.creds()
		auth := crypto.HMACAuth{
			Key:        creds.APIKey,
			Secret:     creds.APISecret,
			Passphrase: creds.APIPassphrase,
		}
		if !auth.Configured() {
			if c.warnedUnsigned.CompareAndSwap(false, true) {
				c.logger.Warn("credentials incomplete, sending unsigned request",
					slog.String("path", path),
				)
			}
			return nil
		}
		return auth.L2Headers(creds.SigningAddress(), method, path, body)
	}
}
