package backend

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"storefront-checkout/internal/domain"
)

type publicKeyResponse struct {
	PublicKey    string `json:"publicKey"`
	PublicKeyAlt string `json:"public_key"`
}

// PublicKey fetches the gateway public key.
func (c *Client) PublicKey(ctx context.Context) (string, error) {
	var out publicKeyResponse
	if err := c.do(ctx, http.MethodGet, "/payments/public-key", "", nil, &out); err != nil {
		return "", err
	}
	key := out.PublicKey
	if key == "" {
		key = out.PublicKeyAlt
	}
	if key == "" {
		return "", fmt.Errorf("%w: public key missing", ErrMalformedResponse)
	}
	return key, nil
}

// InitializePaymentRequest is the body of POST /payments/initialize.
type InitializePaymentRequest struct {
	Email    string                 `json:"email"`
	Amount   int64                  `json:"amount"`
	OrderID  string                 `json:"order_id"`
	Metadata domain.PaymentMetadata `json:"metadata"`
}

type referenceResponse struct {
	Reference string `json:"reference"`
	Data      struct {
		Reference string `json:"reference"`
	} `json:"data"`
}

func (r referenceResponse) value() string {
	if r.Reference != "" {
		return r.Reference
	}
	return r.Data.Reference
}

// InitializePayment opens a gateway payment and returns its reference.
func (c *Client) InitializePayment(ctx context.Context, in InitializePaymentRequest) (string, error) {
	var out referenceResponse
	if err := c.do(ctx, http.MethodPost, "/payments/initialize", "", in, &out); err != nil {
		return "", err
	}
	if out.value() == "" {
		return "", fmt.Errorf("%w: reference missing", ErrMalformedResponse)
	}
	return out.value(), nil
}

type verifyResponse struct {
	Status     string `json:"status"`
	OrderID    flexID `json:"orderId"`
	OrderIDAlt flexID `json:"order_id"`
}

// VerifyPayment asks the backend whether a reference settled.
func (c *Client) VerifyPayment(ctx context.Context, reference string) (domain.VerificationResult, error) {
	var out verifyResponse
	path := "/payments/verify/" + url.PathEscape(reference)
	if err := c.do(ctx, http.MethodGet, path, "", nil, &out); err != nil {
		return domain.VerificationResult{}, err
	}
	if out.Status == "" {
		return domain.VerificationResult{}, fmt.Errorf("%w: status missing", ErrMalformedResponse)
	}
	orderID := string(out.OrderID)
	if orderID == "" {
		orderID = string(out.OrderIDAlt)
	}
	return domain.VerificationResult{Status: out.Status, OrderID: orderID}, nil
}

type bankTransferRequest struct {
	OrderID string `json:"order_id"`
	Amount  int64  `json:"amount"`
}

// BankTransfer holds what the customer needs to complete a transfer.
type BankTransfer struct {
	Reference     string `json:"reference"`
	BankName      string `json:"bankName,omitempty"`
	AccountNumber string `json:"accountNumber,omitempty"`
	AccountName   string `json:"accountName,omitempty"`
}

type bankTransferResponse struct {
	referenceResponse
	BankName      string `json:"bank_name"`
	AccountNumber string `json:"account_number"`
	AccountName   string `json:"account_name"`
}

// InitializeBankTransfer registers a bank transfer payment for an order.
func (c *Client) InitializeBankTransfer(ctx context.Context, orderID string, amount int64) (BankTransfer, error) {
	var out bankTransferResponse
	in := bankTransferRequest{OrderID: orderID, Amount: amount}
	if err := c.do(ctx, http.MethodPost, "/payments/bank-transfer/initialize", "", in, &out); err != nil {
		return BankTransfer{}, err
	}
	if out.value() == "" {
		return BankTransfer{}, fmt.Errorf("%w: reference missing", ErrMalformedResponse)
	}
	return BankTransfer{
		Reference:     out.value(),
		BankName:      out.BankName,
		AccountNumber: out.AccountNumber,
		AccountName:   out.AccountName,
	}, nil
}
