package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

const (
	ErrorCodeServerError  = "SERVER_ERROR"
	ErrorCodeRejected     = "REJECTED"
	ErrorCodeTimeout      = "TIMEOUT"
	ErrorCodeNetworkError = "NETWORK_ERROR"

	maxDetailLen = 500
)

// Settings are the per-deployment gateway credentials. They are read once per
// tick, not held globally.
type Settings struct {
	BaseURL   string
	APIKey    string
	Instance  string
	SendDelay time.Duration
}

// SettingsProvider supplies the gateway settings for a tick.
type SettingsProvider interface {
	GatewaySettings(ctx context.Context) (Settings, error)
}

// StaticSettings serves settings loaded from configuration.
type StaticSettings Settings

func (s StaticSettings) GatewaySettings(context.Context) (Settings, error) {
	if s.BaseURL == "" {
		return Settings{}, errors.New("gateway base url is not configured")
	}
	return Settings(s), nil
}

// Message is one outbound WhatsApp message.
type Message struct {
	Phone    string
	Text     string
	MediaURL *string
}

// SendError describes a message-level delivery failure.
type SendError struct {
	Code       string
	StatusCode int
	Detail     string
}

func (e *SendError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s (HTTP %d): %s", e.Code, e.StatusCode, e.Detail)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Detail)
}

// ErrNotAttempted is returned when the send was abandoned before reaching
// the gateway, e.g. the tick was cancelled while pacing.
var ErrNotAttempted = errors.New("send not attempted")

type Client struct {
	settings Settings
	http     HTTPClient
	pacer    *Pacer
}

func NewClient(settings Settings, http HTTPClient, pacer *Pacer) *Client {
	return &Client{settings: settings, http: http, pacer: pacer}
}

type textPayload struct {
	Number string `json:"number"`
	Text   string `json:"text"`
}

type mediaPayload struct {
	Number    string `json:"number"`
	MediaType string `json:"mediatype"`
	Media     string `json:"media"`
	Caption   string `json:"caption,omitempty"`
}

// Send waits for the pacer and posts a single message. Any non-2xx response
// is returned as a *SendError.
func (c *Client) Send(ctx context.Context, msg Message) error {
	if c.pacer != nil {
		if err := c.pacer.Wait(ctx); err != nil {
			return fmt.Errorf("%w: %v", ErrNotAttempted, err)
		}
	}

	endpoint := "sendText"
	var payload any = textPayload{Number: msg.Phone, Text: msg.Text}
	if msg.MediaURL != nil && *msg.MediaURL != "" {
		endpoint = "sendMedia"
		payload = mediaPayload{
			Number:    msg.Phone,
			MediaType: mediaType(*msg.MediaURL),
			Media:     *msg.MediaURL,
			Caption:   msg.Text,
		}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	url := strings.TrimRight(c.settings.BaseURL, "/") + "/message/" + endpoint
	if c.settings.Instance != "" {
		url += "/" + c.settings.Instance
	}
	headers := map[string]string{
		"Content-Type": "application/json",
		"apikey":       c.settings.APIKey,
	}

	resp, err := c.http.Post(ctx, url, bytes.NewReader(body), headers)
	if err != nil {
		if isTimeout(err) {
			return &SendError{Code: ErrorCodeTimeout, Detail: err.Error()}
		}
		return &SendError{Code: ErrorCodeNetworkError, Detail: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	code := ErrorCodeRejected
	if resp.StatusCode >= http.StatusInternalServerError {
		code = ErrorCodeServerError
	}
	return &SendError{Code: code, StatusCode: resp.StatusCode, Detail: errorDetail(raw)}
}

// isTimeout covers both context deadlines and http.Client timeouts, which
// surface as a *url.Error.
func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// errorDetail pulls the provider's message out of a JSON error body and
// falls back to the raw body.
func errorDetail(raw []byte) string {
	if gjson.ValidBytes(raw) {
		for _, path := range []string{"response.message", "error.message", "message", "error"} {
			res := gjson.GetBytes(raw, path)
			if !res.Exists() {
				continue
			}
			if res.IsArray() {
				parts := make([]string, 0, len(res.Array()))
				for _, item := range res.Array() {
					parts = append(parts, item.String())
				}
				return truncate(strings.Join(parts, "; "))
			}
			if s := res.String(); s != "" {
				return truncate(s)
			}
		}
	}
	return truncate(strings.TrimSpace(string(raw)))
}

func truncate(s string) string {
	if len(s) > maxDetailLen {
		return s[:maxDetailLen]
	}
	return s
}

func mediaType(url string) string {
	lower := strings.ToLower(url)
	if i := strings.IndexAny(lower, "?#"); i >= 0 {
		lower = lower[:i]
	}
	switch {
	case strings.HasSuffix(lower, ".mp4"), strings.HasSuffix(lower, ".3gp"):
		return "video"
	case strings.HasSuffix(lower, ".pdf"), strings.HasSuffix(lower, ".docx"), strings.HasSuffix(lower, ".xlsx"):
		return "document"
	default:
		return "image"
	}
}
