// Package client is the typed browser-side client for the payment API. It
// never receives or exposes the secret key, and it never lets a transport
// error escape as anything other than a normalized Result.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/pixata/checkout/internal/module/checkout"
)

const (
	configPath   = "/api/payment/config"
	preparePath  = "/api/payment/prepare-payment-intent"
	processPath  = "/api/payment/process-payment"
	finalizePath = "/api/payment/finalize"
)

// Client calls the backend payment endpoints.
type Client struct {
	baseURL string
	http    *http.Client
}

// New creates a settlement client. A nil httpClient gets the conventional
// transport defaults.
func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = defaultHTTPClient()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
	}
}

func defaultHTTPClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   5 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:        10,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
			ForceAttemptHTTP2:   true,
		},
		Timeout: 30 * time.Second,
	}
}

// GetConfig fetches the publishable key.
func (c *Client) GetConfig(ctx context.Context) (string, error) {
	var resp checkout.ConfigResponse
	if err := c.get(ctx, configPath, &resp); err != nil {
		return "", err
	}
	if resp.PublishableKey == "" {
		return "", fmt.Errorf("server returned no publishable key")
	}
	return resp.PublishableKey, nil
}

// PrepareIntent asks the server to create a payment intent and returns its
// ID. Identical calls intentionally produce distinct intents.
func (c *Client) PrepareIntent(ctx context.Context, amount int64, currency, description string) (string, error) {
	req := checkout.PrepareIntentRequest{
		Amount:      amount,
		Currency:    currency,
		Description: description,
	}
	var resp checkout.PrepareIntentResponse
	if err := c.post(ctx, preparePath, req, &resp); err != nil {
		return "", err
	}
	if resp.PaymentIntentID == "" {
		return "", fmt.Errorf("server returned no payment intent id")
	}
	return resp.PaymentIntentID, nil
}

// SubmitPayment submits a tokenized payment method. Network failures and
// non-2xx responses come back as a Result with status Error; this call never
// returns a transport error to the orchestrator.
func (c *Client) SubmitPayment(ctx context.Context, req *checkout.ProcessPaymentRequest) *checkout.Result {
	var result checkout.Result
	if err := c.post(ctx, processPath, req, &result); err != nil {
		return &checkout.Result{
			Status:  checkout.ResultStatusError,
			Message: fmt.Sprintf("payment processing failed: %v", err),
		}
	}
	return &result
}

// FinalizePayment asks the server to settle an intent after the 3DS detour.
func (c *Client) FinalizePayment(ctx context.Context, paymentIntentID string) *checkout.Result {
	req := map[string]string{"paymentIntentId": paymentIntentID}
	var result checkout.Result
	if err := c.post(ctx, finalizePath, req, &result); err != nil {
		return &checkout.Result{
			Status:  checkout.ResultStatusError,
			Message: fmt.Sprintf("payment finalization failed: %v", err),
		}
	}
	return &result
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	return c.do(req, out)
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", req.URL.Path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%s returned %d: %s", req.URL.Path, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
