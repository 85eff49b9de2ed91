package gateway

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

var (
	ErrSignatureMismatch = errors.New("gateway: signature mismatch")
	ErrCaptureDeclined   = errors.New("gateway: capture declined")
)

// Client — адаптер платёжного провайдера: регистрация заказа, проверка подписи
// колбэка и подтверждение списания. Подпись — HMAC-SHA256 от
// "<remote_order_id>|<remote_payment_id>" на общем секрете.
type Client struct {
	baseURL string
	keyID   string
	secret  string
	http    *http.Client
}

func NewClient(baseURL, keyID, secret string) *Client {
	return &Client{
		baseURL: baseURL,
		keyID:   keyID,
		secret:  secret,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

type createOrderRequest struct {
	Amount   int64             `json:"amount"`
	Currency string            `json:"currency"`
	Receipt  string            `json:"receipt"`
	Notes    map[string]string `json:"notes,omitempty"`
}

type createOrderResponse struct {
	ID string `json:"id"`
}

func (c *Client) CreateRemoteOrder(ctx context.Context, amountMinor int64, currency, receiptID string, notes map[string]string) (string, error) {
	body, err := json.Marshal(createOrderRequest{
		Amount:   amountMinor,
		Currency: currency,
		Receipt:  receiptID,
		Notes:    notes,
	})
	if err != nil {
		return "", err
	}

	resp, err := c.post(ctx, "/v1/orders", body)
	if err != nil {
		return "", fmt.Errorf("gateway create order: %w", err)
	}

	var out createOrderResponse
	if err := json.Unmarshal(resp, &out); err != nil {
		return "", fmt.Errorf("gateway create order: decode: %w", err)
	}
	if out.ID == "" {
		return "", errors.New("gateway create order: empty remote order id")
	}
	return out.ID, nil
}

func (c *Client) VerifySignature(remoteOrderID, remotePaymentID, remoteSignature string) error {
	mac := hmac.New(sha256.New, []byte(c.secret))
	mac.Write([]byte(remoteOrderID + "|" + remotePaymentID))
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(expected), []byte(remoteSignature)) {
		return ErrSignatureMismatch
	}
	return nil
}

type captureRequest struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

type captureResponse struct {
	Status string `json:"status"`
}

func (c *Client) CapturePayment(ctx context.Context, remotePaymentID string, amountMinor int64, currency string) error {
	body, err := json.Marshal(captureRequest{Amount: amountMinor, Currency: currency})
	if err != nil {
		return err
	}

	resp, err := c.post(ctx, "/v1/payments/"+remotePaymentID+"/capture", body)
	if err != nil {
		return fmt.Errorf("gateway capture: %w", err)
	}

	var out captureResponse
	if err := json.Unmarshal(resp, &out); err != nil {
		return fmt.Errorf("gateway capture: decode: %w", err)
	}
	if out.Status != "captured" {
		return fmt.Errorf("%w: status %q", ErrCaptureDeclined, out.Status)
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(c.keyID, c.secret)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, data)
	}
	return data, nil
}
