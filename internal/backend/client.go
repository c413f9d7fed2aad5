package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	apperrors "github.com/alexjbarnes/plink-mcp/internal/errors"
	"github.com/alexjbarnes/plink-mcp/internal/logging"
	"github.com/cenkalti/backoff/v4"
	"github.com/tidwall/gjson"
)

const (
	// DefaultBaseURL is the production P-Link API.
	DefaultBaseURL = "https://p-link.io"

	// DefaultTimeout bounds a single attempt.
	DefaultTimeout = 10 * time.Second

	// maxRetries is the number of retries after the first attempt.
	maxRetries = 1

	// maxResponseBody caps how much of a backend response is read.
	maxResponseBody = 1 << 20
)

// Client is the HTTP implementation of API. Each attempt carries its own
// timeout. Reads and the credential exchange retry transport errors and
// 5xx responses once with exponential backoff; calls that move money or
// create resources are sent exactly once.
type Client struct {
	httpClient    *http.Client
	baseURL       string
	timeout       time.Duration
	retryInterval time.Duration
	logger        *slog.Logger
	now           func() time.Time
}

var _ API = (*Client)(nil)

// NewClient creates a backend client. If httpClient is nil,
// http.DefaultClient is used. Zero baseURL and timeout take the defaults.
func NewClient(httpClient *http.Client, baseURL string, timeout time.Duration, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &Client{
		httpClient:    httpClient,
		baseURL:       baseURL,
		timeout:       timeout,
		retryInterval: 250 * time.Millisecond,
		logger:        logger,
		now:           time.Now,
	}
}

type response struct {
	status int
	body   []byte
}

// retryPolicy says whether a failed attempt may be sent again.
type retryPolicy bool

const (
	retryable  retryPolicy = true
	singleShot retryPolicy = false
)

func (c *Client) newBackOff(ctx context.Context, retry retryPolicy) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = c.retryInterval
	exp.MaxElapsedTime = 0

	var retries uint64
	if retry {
		retries = maxRetries
	}

	return backoff.WithContext(backoff.WithMaxRetries(exp, retries), ctx)
}

// do sends the request, retrying only under a retryable policy. Statuses
// below 500 are returned to the caller as-is for interpretation.
func (c *Client) do(ctx context.Context, method, endpoint string, body any, retry retryPolicy) (response, error) {
	var payload []byte

	if body != nil {
		var err error

		payload, err = json.Marshal(body)
		if err != nil {
			return response{}, fmt.Errorf("marshalling request body: %w", err)
		}
	}

	attempt := 0

	operation := func() (response, error) {
		attempt++

		attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}

		req, err := http.NewRequestWithContext(attemptCtx, method, c.baseURL+endpoint, reader)
		if err != nil {
			return response{}, backoff.Permanent(fmt.Errorf("creating request: %w", err))
		}

		req.Header.Set("Accept", "application/json")

		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			c.logger.Warn("backend request failed",
				slog.String("endpoint", endpoint),
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()),
			)

			return response{}, fmt.Errorf("%w: %s: %v", apperrors.ErrBackendRequest, endpoint, err)
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
		if err != nil {
			return response{}, fmt.Errorf("%w: reading %s: %v", apperrors.ErrBackendRequest, endpoint, err)
		}

		if resp.StatusCode >= http.StatusInternalServerError {
			c.logger.Warn("backend server error",
				slog.String("endpoint", endpoint),
				slog.Int("attempt", attempt),
				slog.Int("status", resp.StatusCode),
			)

			return response{}, fmt.Errorf("%w: %s returned status %d", apperrors.ErrBackendRequest, endpoint, resp.StatusCode)
		}

		return response{status: resp.StatusCode, body: respBody}, nil
	}

	return backoff.RetryWithData(operation, c.newBackOff(ctx, retry))
}

func (c *Client) post(ctx context.Context, endpoint string, body any, retry retryPolicy) (response, error) {
	return c.do(ctx, http.MethodPost, endpoint, body, retry)
}

func (c *Client) get(ctx context.Context, endpoint string, retry retryPolicy) (response, error) {
	return c.do(ctx, http.MethodGet, endpoint, nil, retry)
}

// decodeResult parses a JSON body into a Result.
func decodeResult(endpoint string, body []byte) (Result, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("%w: %s returned invalid JSON", apperrors.ErrBackendResponse, endpoint)
	}

	parsed := gjson.ParseBytes(body)
	if !parsed.IsObject() {
		return Result{"data": parsed.Value()}, nil
	}

	var r Result
	if err := json.Unmarshal(body, &r); err != nil {
		return nil, fmt.Errorf("%w: decoding %s: %v", apperrors.ErrBackendResponse, endpoint, err)
	}

	return r, nil
}

// postOnce sends a non-idempotent request exactly once.
func (c *Client) postOnce(ctx context.Context, endpoint string, body any) (Result, error) {
	resp, err := c.post(ctx, endpoint, body, singleShot)
	if err != nil {
		return nil, err
	}

	return decodeResult(endpoint, resp.body)
}

func (c *Client) getResult(ctx context.Context, endpoint string) (Result, error) {
	resp, err := c.get(ctx, endpoint, retryable)
	if err != nil {
		return nil, err
	}

	return decodeResult(endpoint, resp.body)
}

func isAuthStatus(status int) bool {
	return status == http.StatusUnauthorized || status == http.StatusForbidden
}

func (c *Client) Exchange(ctx context.Context, password string) (string, error) {
	const endpoint = "/api/getAPIUser"

	resp, err := c.post(ctx, endpoint, map[string]string{"myKey": password}, retryable)
	if err != nil {
		return "", fmt.Errorf("exchanging credentials: %w", err)
	}

	if isAuthStatus(resp.status) {
		return "", apperrors.ErrBadCredentials
	}

	if !gjson.ValidBytes(resp.body) {
		return "", fmt.Errorf("%w: %s returned invalid JSON", apperrors.ErrBackendResponse, endpoint)
	}

	key := gjson.GetBytes(resp.body, "myKey").String()
	if key == "" {
		c.logger.Debug("credential exchange rejected",
			slog.Int("status", resp.status),
			slog.String("error", gjson.GetBytes(resp.body, "error").String()),
		)

		return "", apperrors.ErrBadCredentials
	}

	c.logger.Debug("credential exchange ok", slog.String("api_key", logging.Mask(key, 3)))

	return key, nil
}

func (c *Client) GetUser(ctx context.Context, apiKey string) (*User, error) {
	const endpoint = "/api/getAPIUser"

	resp, err := c.post(ctx, endpoint, map[string]string{"myKey": apiKey}, retryable)
	if err != nil {
		return nil, fmt.Errorf("loading user: %w", err)
	}

	if isAuthStatus(resp.status) {
		return nil, apperrors.ErrBadCredentials
	}

	raw, err := decodeResult(endpoint, resp.body)
	if err != nil {
		return nil, err
	}

	return &User{
		APIKey: gjson.GetBytes(resp.body, "myKey").String(),
		PubKey: gjson.GetBytes(resp.body, "pubk").String(),
		Email:  gjson.GetBytes(resp.body, "email").String(),
		Raw:    raw,
	}, nil
}

// GetOrCreateAPIKey creates an account for email, or finds the existing
// one. The backend answers with API_KEY only for new accounts and mails
// the key otherwise. Account creation is not retried.
func (c *Client) GetOrCreateAPIKey(ctx context.Context, email string) (Result, error) {
	endpoint := "/api/getOrCreateApiKey/" + url.PathEscape(email)

	resp, err := c.get(ctx, endpoint, singleShot)
	if err != nil {
		return nil, fmt.Errorf("creating account: %w", err)
	}

	return decodeResult(endpoint, resp.body)
}

func (c *Client) WalletInfo(ctx context.Context, pubKey string) (Result, error) {
	return c.getResult(ctx, "/api/walletInfos/"+url.PathEscape(pubKey)+"/1")
}

func (c *Client) SendMoney(ctx context.Context, apiKey string, req SendMoneyRequest) (Result, error) {
	body := struct {
		MyKey string `json:"myKey"`
		SendMoneyRequest
	}{MyKey: apiKey, SendMoneyRequest: req}

	return c.postOnce(ctx, "/api/tr4usr", body)
}

func (c *Client) CreatePaymentLink(ctx context.Context, req PaymentLinkRequest) (Result, error) {
	return c.postOnce(ctx, "/api/createPLink", req)
}

func (c *Client) Pay402(ctx context.Context, apiKey, target string) (Result, error) {
	return c.postOnce(ctx, "/api/pay402link", map[string]string{
		"myKey": apiKey,
		"url":   target,
	})
}

type onrampDetails struct {
	SourceCurrency            string  `json:"source_currency"`
	DestinationExchangeAmount float64 `json:"destination_exchange_amount"`
	Email                     string  `json:"email,omitempty"`
}

func (c *Client) CreateOnrampSession(ctx context.Context, apiKey string, user *User) (Result, error) {
	body := struct {
		TransactionDetails onrampDetails `json:"transaction_details"`
		MyCookie           string        `json:"myCookie"`
		PubKey             string        `json:"pubk"`
	}{
		TransactionDetails: onrampDetails{
			SourceCurrency:            "usd",
			DestinationExchangeAmount: 10,
			Email:                     user.Email,
		},
		MyCookie: apiKey,
		PubKey:   user.PubKey,
	}

	return c.postOnce(ctx, "/api/create-onramp-session", body)
}

// cacheBuster is the millisecond timestamp the backend takes as the last
// path segment of its read endpoints.
func (c *Client) cacheBuster() string {
	return strconv.FormatInt(c.now().UnixMilli(), 10)
}

func (c *Client) TransactionState(ctx context.Context, trxID string) (Result, error) {
	return c.getResult(ctx, "/api/trxState/"+url.PathEscape(trxID)+"/"+c.cacheBuster())
}

func (c *Client) WalletHistory(ctx context.Context, address string) (Result, error) {
	return c.getResult(ctx, "/api/walletHistory/"+url.PathEscape(address)+"/"+c.cacheBuster())
}
