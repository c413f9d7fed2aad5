// Package backend talks to the P-Link HTTP API: the password-to-API-key
// exchange used at login and the wallet and payment calls behind the MCP
// tools.
package backend

import "context"

//go:generate mockgen -source=api.go -destination=mock_api.go -package=backend

// Result is a decoded backend response. Non-object JSON bodies are
// wrapped as {"data": <body>}.
type Result map[string]any

// SendMoneyRequest is the body of a transfer.
type SendMoneyRequest struct {
	To       string  `json:"to"`
	Amount   float64 `json:"amount"`
	Currency string  `json:"currencyUsed"`
	Title    string  `json:"title,omitempty"`
}

// PaymentLinkRequest is the body of a payment link creation.
type PaymentLinkRequest struct {
	ReceivingPayment  string  `json:"receivingPayment,omitempty"`
	Amount            float64 `json:"amount"`
	Currency          string  `json:"currency,omitempty"`
	Title             string  `json:"title,omitempty"`
	Description       string  `json:"description,omitempty"`
	ReturnOKURL       string  `json:"returnOKURL,omitempty"`
	ReturnURL         string  `json:"returnURL,omitempty"`
	Logo              string  `json:"logo,omitempty"`
	Param             string  `json:"param,omitempty"`
	Webhook           string  `json:"webhook,omitempty"`
	NotificationEmail string  `json:"notificationEmail,omitempty"`
}

// User is the subset of the account record the server relies on.
type User struct {
	APIKey string
	PubKey string
	Email  string
	Raw    Result
}

// API is the backend surface used by the OAuth flow and the tools.
type API interface {
	// Exchange trades a password for the account's API key. A rejected
	// password yields errors.ErrBadCredentials.
	Exchange(ctx context.Context, password string) (string, error)
	GetUser(ctx context.Context, apiKey string) (*User, error)
	GetOrCreateAPIKey(ctx context.Context, email string) (Result, error)
	WalletInfo(ctx context.Context, pubKey string) (Result, error)
	SendMoney(ctx context.Context, apiKey string, req SendMoneyRequest) (Result, error)
	CreatePaymentLink(ctx context.Context, req PaymentLinkRequest) (Result, error)
	Pay402(ctx context.Context, apiKey, url string) (Result, error)
	CreateOnrampSession(ctx context.Context, apiKey string, user *User) (Result, error)
	TransactionState(ctx context.Context, trxID string) (Result, error)
	WalletHistory(ctx context.Context, address string) (Result, error)
}
