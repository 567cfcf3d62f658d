package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

const resendEndpoint = "https://api.resend.com/emails"

// Resend sends through the Resend REST API
type Resend struct {
	apiKey   string
	endpoint string
	client   *http.Client
	pace     *rate.Limiter
}

// NewResend paces requests to the provider's documented 2 per second
func NewResend(apiKey string) *Resend {
	return &Resend{
		apiKey:   apiKey,
		endpoint: resendEndpoint,
		client:   &http.Client{Timeout: 15 * time.Second},
		pace:     rate.NewLimiter(rate.Limit(2), 2),
	}
}

// WithEndpoint points the client elsewhere; used with httptest
func (r *Resend) WithEndpoint(url string, client *http.Client) *Resend {
	r.endpoint = url
	if client != nil {
		r.client = client
	}
	return r
}

func (r *Resend) Name() string { return "resend" }

type resendRequest struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html,omitempty"`
	Text    string   `json:"text,omitempty"`
	ReplyTo string   `json:"reply_to,omitempty"`
}

type resendResponse struct {
	ID      string `json:"id"`
	Message string `json:"message"`
	Name    string `json:"name"`
}

func (r *Resend) Send(ctx context.Context, msg Message) (string, error) {
	if err := r.pace.Wait(ctx); err != nil {
		return "", &ProviderError{Category: CategoryTimeout, Err: err}
	}

	body, err := json.Marshal(resendRequest{
		From:    msg.From,
		To:      []string{msg.To},
		Subject: msg.Subject,
		HTML:    msg.HTML,
		Text:    msg.Text,
		ReplyTo: msg.ReplyTo,
	})
	if err != nil {
		return "", &ProviderError{Category: CategoryInvalid, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", &ProviderError{Category: CategoryInvalid, Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+r.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return "", &ProviderError{Category: Classify(err), Err: err}
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var out resendResponse
	_ = json.Unmarshal(raw, &out)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out.ID == "" {
			return "", &ProviderError{Category: CategoryUnknown, StatusCode: resp.StatusCode, Err: errors.New("response carried no message id")}
		}
		return out.ID, nil
	}

	detail := out.Message
	if detail == "" {
		detail = http.StatusText(resp.StatusCode)
	}
	return "", &ProviderError{Category: categoryForStatus(resp.StatusCode), StatusCode: resp.StatusCode, Err: fmt.Errorf("%s", detail)}
}

func categoryForStatus(code int) Category {
	switch {
	case code == http.StatusTooManyRequests:
		return CategoryRateLimited
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return CategoryAuth
	case code == http.StatusRequestTimeout || code == http.StatusGatewayTimeout:
		return CategoryTimeout
	case code >= 500:
		return CategoryUnavailable
	case code >= 400:
		return CategoryInvalid
	default:
		return CategoryUnknown
	}
}
