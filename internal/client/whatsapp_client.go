package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const DefaultBaseURL = "https://graph.facebook.com/v24.0"

// HTTPDoer is the subset of http.Client the WhatsApp client needs;
// tests swap it out.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// WhatsAppClient performs one image send per call against the WhatsApp
// Cloud API. It never retries; retry policy belongs to the poller.
type WhatsAppClient struct {
	baseURL string
	client  HTTPDoer
}

type Option func(*WhatsAppClient)

func WithHTTPDoer(d HTTPDoer) Option {
	return func(c *WhatsAppClient) {
		if d != nil {
			c.client = d
		}
	}
}

func NewWhatsAppClient(baseURL string, timeout time.Duration, opts ...Option) *WhatsAppClient {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	c := &WhatsAppClient{
		baseURL: baseURL,
		client: &http.Client{
			Timeout: timeout,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type imagePayload struct {
	Link    string `json:"link"`
	Caption string `json:"caption,omitempty"`
}

type sendRequest struct {
	MessagingProduct string       `json:"messaging_product"`
	RecipientType    string       `json:"recipient_type"`
	To               string       `json:"to"`
	Type             string       `json:"type"`
	Image            imagePayload `json:"image"`
}

type sendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

// SendImage posts one image message and returns the provider message
// id. Any non-2xx response, network error or malformed body is an
// error carrying the raw body for the caller to persist.
func (c *WhatsAppClient) SendImage(ctx context.Context, phoneNumberID, accessToken, to, imageURL, caption string) (string, error) {
	reqBody, err := json.Marshal(sendRequest{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               to,
		Type:             "image",
		Image: imagePayload{
			Link:    imageURL,
			Caption: caption,
		},
	})
	if err != nil {
		return "", err
	}

	url := fmt.Sprintf("%s/%s/messages", c.baseURL, phoneNumberID)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return "", fmt.Errorf("unexpected status code: %d body=%q", resp.StatusCode, string(body))
	}

	var sr sendResponse
	if err := json.Unmarshal(body, &sr); err != nil {
		return "", fmt.Errorf("failed to decode json: %w body=%q", err, string(body))
	}
	if len(sr.Messages) == 0 || sr.Messages[0].ID == "" {
		return "", fmt.Errorf("missing message id in response body=%q", string(body))
	}

	return sr.Messages[0].ID, nil
}
