// Package post hands finished letters to the print-and-mail provider.
package post

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// Dispatcher submits a letter PDF for printing and mailing. The idempotency
// key makes provider-side retries safe.
type Dispatcher interface {
	SendLetter(ctx context.Context, pdfBytes []byte, filename, idempotencyKey string) (providerID string, err error)
}

// Config holds the provider credentials.
type Config struct {
	ClientID       string `koanf:"client_id"`
	ClientSecret   string `koanf:"client_secret"`
	OrganisationID string `koanf:"organisation_id"`
	APIBase        string `koanf:"api_base"`
	IdentityBase   string `koanf:"identity_base"`
}

// Client talks to a Pingen-compatible letter API: fetch an upload slot, PUT
// the PDF bytes there, then create the letter referencing the slot.
type Client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

func NewClient(cfg Config) *Client {
	if cfg.APIBase == "" {
		cfg.APIBase = "https://api.pingen.com"
	}
	if cfg.IdentityBase == "" {
		cfg.IdentityBase = "https://identity.pingen.com"
	}
	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: 60 * time.Second},
		limiter: rate.NewLimiter(rate.Every(1*time.Second), 5),
	}
}

// token returns a cached client-credentials token, refreshing it when less
// than a minute of validity remains. Expiry comes from the token's own exp
// claim; the token is opaque to us otherwise so the parse is unverified.
func (c *Client) token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.accessToken != "" && time.Until(c.tokenExpiry) > time.Minute {
		return c.accessToken, nil
	}

	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {c.cfg.ClientID},
		"client_secret": {c.cfg.ClientSecret},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.IdentityBase+"/auth/access-tokens", strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("failed to build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("token endpoint returned status %d: %s", resp.StatusCode, raw)
	}
	var out struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("failed to decode token response: %w", err)
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(out.AccessToken, claims); err != nil {
		return "", fmt.Errorf("failed to parse access token: %w", err)
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return "", fmt.Errorf("access token has no usable exp claim: %w", err)
	}
	c.accessToken = out.AccessToken
	c.tokenExpiry = exp.Time
	return c.accessToken, nil
}

type uploadSlot struct {
	URL          string
	URLSignature string
}

func (c *Client) fetchUploadSlot(ctx context.Context, token string) (uploadSlot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.APIBase+"/file-upload", nil)
	if err != nil {
		return uploadSlot{}, fmt.Errorf("failed to build upload-slot request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := c.http.Do(req)
	if err != nil {
		return uploadSlot{}, fmt.Errorf("upload-slot request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return uploadSlot{}, fmt.Errorf("upload-slot endpoint returned status %d", resp.StatusCode)
	}
	var out struct {
		Data struct {
			Attributes struct {
				URL          string `json:"url"`
				URLSignature string `json:"url_signature"`
			} `json:"attributes"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return uploadSlot{}, fmt.Errorf("failed to decode upload-slot response: %w", err)
	}
	return uploadSlot{URL: out.Data.Attributes.URL, URLSignature: out.Data.Attributes.URLSignature}, nil
}

func (c *Client) uploadFile(ctx context.Context, slot uploadSlot, pdfBytes []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, slot.URL, bytes.NewReader(pdfBytes))
	if err != nil {
		return fmt.Errorf("failed to build file upload request: %w", err)
	}
	req.Header.Set("Content-Type", "application/pdf")
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("file upload failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("file upload returned status %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) SendLetter(ctx context.Context, pdfBytes []byte, filename, idempotencyKey string) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limiter wait failed: %w", err)
	}
	token, err := c.token(ctx)
	if err != nil {
		return "", err
	}
	slot, err := c.fetchUploadSlot(ctx, token)
	if err != nil {
		return "", err
	}
	if err := c.uploadFile(ctx, slot, pdfBytes); err != nil {
		return "", err
	}

	if idempotencyKey == "" {
		idempotencyKey = uuid.NewString()
	}
	payload := map[string]any{
		"data": map[string]any{
			"type": "letters",
			"attributes": map[string]any{
				"file_original_name": filename,
				"file_url":           slot.URL,
				"file_url_signature": slot.URLSignature,
				"address_position":   "left",
				"auto_send":          true,
				"delivery_product":   "cheap",
				"print_mode":         "simplex",
				"print_spectrum":     "grayscale",
			},
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal letter payload: %w", err)
	}
	letterURL := fmt.Sprintf("%s/organisations/%s/letters", c.cfg.APIBase, c.cfg.OrganisationID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, letterURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build letter request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/vnd.api+json")
	req.Header.Set("Idempotency-Key", idempotencyKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("letter request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("letter endpoint returned status %d: %s", resp.StatusCode, raw)
	}
	var out struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("failed to decode letter response: %w", err)
	}
	return out.Data.ID, nil
}
