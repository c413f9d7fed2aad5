// Package tools registers the P-Link MCP tools. Every tool that needs an
// account resolves its API key through auth.ResolveAPIKey, reading the
// calling session's credential from an auth.Source.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/alexjbarnes/plink-mcp/internal/auth"
	"github.com/alexjbarnes/plink-mcp/internal/backend"
	apperrors "github.com/alexjbarnes/plink-mcp/internal/errors"
	"github.com/alexjbarnes/plink-mcp/internal/logging"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// maxPreview caps the text rendering of a result.
const maxPreview = 40000

// Names lists the registered tools in registration order.
var Names = []string{
	"ping",
	"login_with_api_key",
	"get_wallet_and_api_key",
	"get_wallet",
	"fund_my_wallet",
	"send_money",
	"request_payment_link",
	"pay_and_get_402_protected_url",
	"get_transaction_state",
	"get_wallet_history",
}

// Deps are the collaborators the tools run against.
type Deps struct {
	API backend.API

	// Auth holds per-session credentials. login_with_api_key writes to it.
	Auth auth.Sink

	// FallbackAPIKey is used when the session has no credential.
	FallbackAPIKey string

	Logger *slog.Logger
}

type handlers struct {
	Deps
	now func() time.Time
}

// Register adds every tool to server.
func Register(server *mcp.Server, d Deps) {
	h := &handlers{Deps: d, now: time.Now}

	mcp.AddTool(server, &mcp.Tool{
		Name:        "ping",
		Title:       "Ping",
		Description: "Check that the server is reachable. Echoes the optional message.",
		Annotations: &mcp.ToolAnnotations{ReadOnlyHint: true},
	}, h.ping)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "login_with_api_key",
		Title:       "Login using API_KEY",
		Description: "Attach a P-Link API key to this session. Later calls in the session run as that account.",
	}, h.login)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_wallet_and_api_key",
		Title:       "Get a wallet and an API_KEY",
		Description: "Create a wallet for this email and get an API_KEY. The session is logged in with the new account.",
	}, h.createAccount)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_wallet",
		Title:       "Wallet infos",
		Description: "Retrieve the wallet infos about the connected P-Link account (Solana wallet address and balances).",
		Annotations: &mcp.ToolAnnotations{ReadOnlyHint: true},
	}, h.getWallet)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "fund_my_wallet",
		Title:       "Fund your wallet",
		Description: "Get the different ways in order to fund your wallet.",
	}, h.fundWallet)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "send_money",
		Title:       "Send money",
		Description: "Send money to an email, Solana wallet or phone number.",
	}, h.sendMoney)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "request_payment_link",
		Title:       "Create a payment link",
		Description: "Create a payment link in order to request a payment. The receiving address defaults to your own wallet.",
	}, h.requestPaymentLink)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "pay_and_get_402_protected_url",
		Title:       "Pay a HTTP 402 protected URL",
		Description: "Pay a HTTP 402 protected URL using your P-Link managed account, and get the result.",
	}, h.pay402)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_transaction_state",
		Title:       "Get transaction state",
		Description: "Retrieve the state and details of a transaction using its Solana transaction ID.",
		Annotations: &mcp.ToolAnnotations{ReadOnlyHint: true},
	}, h.transactionState)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_wallet_history",
		Title:       "Get wallet history",
		Description: "Retrieve the list of transactions related to a Solana wallet address.",
		Annotations: &mcp.ToolAnnotations{ReadOnlyHint: true},
	}, h.walletHistory)
}

// --- Input types ---

// PingInput holds parameters for ping.
type PingInput struct {
	Msg string `json:"msg,omitempty" jsonschema:"optional text echoed back"`
}

// LoginInput holds parameters for login_with_api_key.
type LoginInput struct {
	APIKey string `json:"API_KEY" jsonschema:"the P-Link API key"`
}

// CreateAccountInput holds parameters for get_wallet_and_api_key.
type CreateAccountInput struct {
	Email string `json:"email" jsonschema:"email of the account to create"`
}

// NoInput is used by tools without parameters.
type NoInput struct{}

// SendMoneyInput holds parameters for send_money.
type SendMoneyInput struct {
	To       string  `json:"to" jsonschema:"email, phone or Solana wallet of the receiver"`
	Amount   float64 `json:"amount" jsonschema:"amount to send, must be positive"`
	Currency string  `json:"currency,omitempty" jsonschema:"USD or EUR, defaults to USD"`
	Title    string  `json:"title,omitempty" jsonschema:"a title for the transaction shown to the receiver"`
}

// PaymentLinkInput holds parameters for request_payment_link.
type PaymentLinkInput struct {
	ReceivingPayment  string  `json:"receivingPayment,omitempty" jsonschema:"email, phone or Solana wallet receiving the payment, defaults to your wallet"`
	Amount            float64 `json:"amount" jsonschema:"amount to request, must be positive"`
	Currency          string  `json:"currency,omitempty" jsonschema:"USD or EUR, defaults to USD"`
	Title             string  `json:"title,omitempty" jsonschema:"a title for the payment shown to the payer"`
	Description       string  `json:"description,omitempty" jsonschema:"a description shown in the payment page"`
	ReturnOKURL       string  `json:"returnOKURL,omitempty" jsonschema:"URL to redirect the payer to after a successful payment"`
	ReturnURL         string  `json:"returnURL,omitempty" jsonschema:"URL to redirect the payer to after a failed payment"`
	Logo              string  `json:"logo,omitempty" jsonschema:"URL of an image displayed in the payment page"`
	Param             string  `json:"param,omitempty" jsonschema:"custom parameter passed back on completion"`
	Webhook           string  `json:"webhook,omitempty" jsonschema:"HTTP webhook called on payment success"`
	NotificationEmail string  `json:"notificationEmail,omitempty" jsonschema:"email notified on payment success"`
}

// Pay402Input holds parameters for pay_and_get_402_protected_url.
type Pay402Input struct {
	URL string `json:"url" jsonschema:"the 402 protected URL"`
}

// TransactionStateInput holds parameters for get_transaction_state.
type TransactionStateInput struct {
	TrxID string `json:"trxID" jsonschema:"the transaction ID"`
}

// WalletHistoryInput holds parameters for get_wallet_history.
type WalletHistoryInput struct {
	WalletAddress string `json:"walletAddress" jsonschema:"the wallet address"`
}

// --- Helpers ---

func sessionID(req *mcp.CallToolRequest) string {
	if req == nil || req.Session == nil {
		return ""
	}

	return req.Session.ID()
}

// apiKey resolves the key a call runs with.
func (h *handlers) apiKey(req *mcp.CallToolRequest) (string, error) {
	var st auth.State
	if h.Auth != nil {
		st = h.Auth.AuthState(sessionID(req))
	}

	if st.OK && !st.HasScope(auth.ScopeInvoke) {
		return "", fmt.Errorf("%w: %s required", apperrors.ErrInsufficientScope, auth.ScopeInvoke)
	}

	key, err := auth.ResolveAPIKey("", st, h.FallbackAPIKey)
	if err != nil {
		return "", fmt.Errorf("%w: sign in through OAuth, send an x-api-key header, call login_with_api_key or set APIKEY", err)
	}

	return key, nil
}

func normalizeCurrency(c string) (string, error) {
	c = strings.ToUpper(strings.TrimSpace(c))
	switch c {
	case "":
		return "USD", nil
	case "USD", "EUR":
		return c, nil
	default:
		return "", fmt.Errorf("unsupported currency %q, use USD or EUR", c)
	}
}

// structResult renders v as indented JSON text plus structured content.
// A result carrying an "error" member is flagged as a tool error.
func structResult(v backend.Result) *mcp.CallToolResult {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf("error marshaling result: %v", err)}},
			IsError: true,
		}
	}

	text := truncate(string(data), maxPreview)

	_, failed := v["error"]

	return &mcp.CallToolResult{
		Content:           []mcp.Content{&mcp.TextContent{Text: text}},
		StructuredContent: v,
		IsError:           failed,
	}
}

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}

	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}

	return s[:n] + "…(truncated)"
}

func errorResult(msg string) *mcp.CallToolResult {
	return structResult(backend.Result{"error": msg})
}

// --- Handlers ---

func (h *handlers) ping(_ context.Context, _ *mcp.CallToolRequest, in PingInput) (*mcp.CallToolResult, any, error) {
	text := "pong"
	echo := any(nil)

	if in.Msg != "" {
		text += ": " + in.Msg
		echo = in.Msg
	}

	return &mcp.CallToolResult{
		Content:           []mcp.Content{&mcp.TextContent{Text: text}},
		StructuredContent: map[string]any{"ok": true, "echo": echo, "time": h.now().UTC().Format(time.RFC3339)},
	}, nil, nil
}

func (h *handlers) login(ctx context.Context, req *mcp.CallToolRequest, in LoginInput) (*mcp.CallToolResult, any, error) {
	key := strings.TrimSpace(in.APIKey)
	if key == "" {
		return nil, nil, fmt.Errorf("API_KEY is required")
	}

	user, err := h.API.GetUser(ctx, key)
	if err != nil {
		return nil, nil, fmt.Errorf("checking API key: %w", err)
	}

	if user.PubKey == "" {
		h.Logger.Warn("tools: api key login rejected", slog.String("api_key", logging.Mask(key, 3)))
		return errorResult("User not found"), nil, nil
	}

	if h.Auth != nil {
		h.Auth.SetAuthState(sessionID(req), auth.State{OK: true, APIKey: key, Scopes: []string{auth.ScopeAll}})
	}

	h.Logger.Info("tools: session logged in with api key", slog.String("session_id", logging.Mask(sessionID(req), 8)))

	return structResult(publicUser(user)), nil, nil
}

func (h *handlers) createAccount(ctx context.Context, req *mcp.CallToolRequest, in CreateAccountInput) (*mcp.CallToolResult, any, error) {
	addr, err := mail.ParseAddress(strings.TrimSpace(in.Email))
	if err != nil {
		return nil, nil, fmt.Errorf("email is invalid: %w", err)
	}

	email := addr.Address

	res, err := h.API.GetOrCreateAPIKey(ctx, email)
	if err != nil {
		return nil, nil, fmt.Errorf("creating account: %w", err)
	}

	if _, failed := res["error"]; failed {
		return structResult(res), nil, nil
	}

	key, _ := res["API_KEY"].(string)
	if key == "" {
		h.Logger.Info("tools: api key sent by email", slog.String("email", email))

		return &mcp.CallToolResult{
			Content:           []mcp.Content{&mcp.TextContent{Text: "API_KEY has been sent by email"}},
			StructuredContent: map[string]any{"ok": true, "email": email},
		}, nil, nil
	}

	if h.Auth != nil {
		h.Auth.SetAuthState(sessionID(req), auth.State{OK: true, APIKey: key, Scopes: []string{auth.ScopeAll}})
	}

	h.Logger.Info("tools: account created",
		slog.String("email", email),
		slog.String("api_key", logging.Mask(key, 3)),
	)

	return &mcp.CallToolResult{
		Content:           []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf("Account created for %s. APIKEY : %s", email, key)}},
		StructuredContent: map[string]any{"ok": true, "email": email, "APIKEY": key},
	}, nil, nil
}

// publicUser drops the API key from a user record before it is shown.
func publicUser(u *backend.User) backend.Result {
	out := make(backend.Result, len(u.Raw))
	for k, v := range u.Raw {
		if k != "myKey" {
			out[k] = v
		}
	}

	return out
}

func (h *handlers) getWallet(ctx context.Context, req *mcp.CallToolRequest, _ NoInput) (*mcp.CallToolResult, any, error) {
	key, err := h.apiKey(req)
	if err != nil {
		return nil, nil, err
	}

	user, err := h.API.GetUser(ctx, key)
	if err != nil {
		return nil, nil, fmt.Errorf("loading account: %w", err)
	}

	out := publicUser(user)

	if user.PubKey != "" {
		wallet, err := h.API.WalletInfo(ctx, user.PubKey)
		if err != nil {
			return nil, nil, fmt.Errorf("loading wallet: %w", err)
		}

		for k, v := range wallet {
			out[k] = v
		}
	}

	return structResult(out), nil, nil
}

func (h *handlers) fundWallet(ctx context.Context, req *mcp.CallToolRequest, _ NoInput) (*mcp.CallToolResult, any, error) {
	key, err := h.apiKey(req)
	if err != nil {
		return nil, nil, err
	}

	user, err := h.API.GetUser(ctx, key)
	if err != nil {
		return nil, nil, fmt.Errorf("loading account: %w", err)
	}

	if user.PubKey == "" {
		return errorResult("User not found"), nil, nil
	}

	onramp, err := h.API.CreateOnrampSession(ctx, key, user)
	if err != nil {
		return nil, nil, fmt.Errorf("creating onramp session: %w", err)
	}

	var link string
	if sess, ok := onramp["onrampSession"].(map[string]any); ok {
		link, _ = sess["redirect_url"].(string)
	}

	text := "In order to fund your wallet, you can send Solana to this address : " + user.PubKey
	if link != "" {
		text += " or if you want to use a credit card to fund your account, open this link : " + link
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
		StructuredContent: map[string]any{
			"solanaWalletAddress": user.PubKey,
			"fundWalletLink":      link,
			"debug":               onramp,
		},
	}, nil, nil
}

func (h *handlers) sendMoney(ctx context.Context, req *mcp.CallToolRequest, in SendMoneyInput) (*mcp.CallToolResult, any, error) {
	if strings.TrimSpace(in.To) == "" {
		return nil, nil, fmt.Errorf("to is required")
	}

	if in.Amount <= 0 {
		return nil, nil, fmt.Errorf("amount must be positive")
	}

	currency, err := normalizeCurrency(in.Currency)
	if err != nil {
		return nil, nil, err
	}

	key, err := h.apiKey(req)
	if err != nil {
		return nil, nil, err
	}

	h.Logger.Info("tools: send_money",
		slog.String("to", in.To),
		slog.Float64("amount", in.Amount),
		slog.String("currency", currency),
	)

	res, err := h.API.SendMoney(ctx, key, backend.SendMoneyRequest{
		To:       strings.TrimSpace(in.To),
		Amount:   in.Amount,
		Currency: currency,
		Title:    in.Title,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("sending money: %w", err)
	}

	return structResult(res), nil, nil
}

func (h *handlers) requestPaymentLink(ctx context.Context, req *mcp.CallToolRequest, in PaymentLinkInput) (*mcp.CallToolResult, any, error) {
	if in.Amount <= 0 {
		return nil, nil, fmt.Errorf("amount must be positive")
	}

	currency, err := normalizeCurrency(in.Currency)
	if err != nil {
		return nil, nil, err
	}

	receiving := strings.TrimSpace(in.ReceivingPayment)

	if receiving == "" {
		key, err := h.apiKey(req)
		if err != nil {
			return nil, nil, err
		}

		user, err := h.API.GetUser(ctx, key)
		if err != nil {
			return nil, nil, fmt.Errorf("loading account: %w", err)
		}

		if _, failed := user.Raw["error"]; failed {
			return structResult(user.Raw), nil, nil
		}

		receiving = user.PubKey
	}

	if receiving == "" {
		return errorResult("receivingPayment parameter required"), nil, nil
	}

	res, err := h.API.CreatePaymentLink(ctx, backend.PaymentLinkRequest{
		ReceivingPayment:  receiving,
		Amount:            in.Amount,
		Currency:          currency,
		Title:             strings.ReplaceAll(in.Title, "€", "euro"),
		Description:       in.Description,
		ReturnOKURL:       in.ReturnOKURL,
		ReturnURL:         in.ReturnURL,
		Logo:              in.Logo,
		Param:             in.Param,
		Webhook:           in.Webhook,
		NotificationEmail: in.NotificationEmail,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("creating payment link: %w", err)
	}

	return structResult(res), nil, nil
}

func (h *handlers) pay402(ctx context.Context, req *mcp.CallToolRequest, in Pay402Input) (*mcp.CallToolResult, any, error) {
	target := strings.TrimSpace(in.URL)
	if target == "" {
		return nil, nil, fmt.Errorf("url is required")
	}

	key, err := h.apiKey(req)
	if err != nil {
		return nil, nil, err
	}

	res, err := h.API.Pay402(ctx, key, target)
	if err != nil {
		return nil, nil, fmt.Errorf("paying %s: %w", target, err)
	}

	return structResult(res), nil, nil
}

func (h *handlers) transactionState(ctx context.Context, _ *mcp.CallToolRequest, in TransactionStateInput) (*mcp.CallToolResult, any, error) {
	if strings.TrimSpace(in.TrxID) == "" {
		return nil, nil, fmt.Errorf("trxID is required")
	}

	res, err := h.API.TransactionState(ctx, strings.TrimSpace(in.TrxID))
	if err != nil {
		return nil, nil, fmt.Errorf("loading transaction: %w", err)
	}

	return structResult(res), nil, nil
}

func (h *handlers) walletHistory(ctx context.Context, _ *mcp.CallToolRequest, in WalletHistoryInput) (*mcp.CallToolResult, any, error) {
	if strings.TrimSpace(in.WalletAddress) == "" {
		return nil, nil, fmt.Errorf("walletAddress is required")
	}

	res, err := h.API.WalletHistory(ctx, strings.TrimSpace(in.WalletAddress))
	if err != nil {
		return nil, nil, fmt.Errorf("loading wallet history: %w", err)
	}

	return structResult(res), nil, nil
}
