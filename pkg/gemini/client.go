package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/menta2k/hat-overlay/pkg/client"
	"github.com/menta2k/hat-overlay/pkg/types"
)

// DefaultBaseURL is the public Generative Language API endpoint
const DefaultBaseURL = "https://generativelanguage.googleapis.com"

// Config holds settings for the Gemini REST client
type Config struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration

	// FailureThreshold consecutive upstream failures open the circuit
	FailureThreshold uint32
	// OpenTimeout is how long the circuit stays open before probing
	OpenTimeout time.Duration
	// OnStateChange is called after every circuit transition
	OnStateChange func(from, to gobreaker.State)
}

// Client talks to the generateContent endpoint
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
}

var (
	_ client.VisionClient = (*Client)(nil)
	_ client.ImageEditor  = (*Client)(nil)
)

type inlineData struct {
	MimeType string `json:"mimeType"`
	Data     []byte `json:"data"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type generationConfig struct {
	Temperature        *float64 `json:"temperature,omitempty"`
	ResponseModalities []string `json:"responseModalities,omitempty"`
	ResponseMimeType   string   `json:"responseMimeType,omitempty"`
}

type generateContentRequest struct {
	Contents         []content         `json:"contents"`
	GenerationConfig *generationConfig `json:"generationConfig,omitempty"`
}

type candidate struct {
	Content      content `json:"content"`
	FinishReason string  `json:"finishReason,omitempty"`
}

type generateContentResponse struct {
	Candidates     []candidate `json:"candidates"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason,omitempty"`
	} `json:"promptFeedback,omitempty"`
}

type errorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// NewClient creates a Gemini client. An empty API key yields client.ErrNotConfigured.
func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, client.ErrNotConfigured
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 30 * time.Second
	}

	threshold := cfg.FailureThreshold
	onChange := cfg.OnStateChange
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "gemini",
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: countsAsSuccess,
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("Circuit breaker state changed", "component", name, "from", from.String(), "to", to.String())
			if onChange != nil {
				onChange(from, to)
			}
		},
	})

	return &Client{
		apiKey:     cfg.APIKey,
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		httpClient: &http.Client{Timeout: cfg.Timeout},
		breaker:    breaker,
	}, nil
}

// countsAsSuccess keeps client-side rejections and cancellations from opening the circuit
func countsAsSuccess(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return true
	}
	var rejected *client.RejectedError
	if errors.As(err, &rejected) {
		return rejected.StatusCode < 500 && rejected.StatusCode != http.StatusTooManyRequests
	}
	return false
}

// State reports the circuit breaker state
func (c *Client) State() gobreaker.State {
	return c.breaker.State()
}

// SimpleQuery sends one image with a prompt and returns the text of the first candidate
func (c *Client) SimpleQuery(ctx context.Context, model, prompt string, img types.InlineImage) (string, error) {
	req := generateContentRequest{
		Contents: []content{{
			Role:  "user",
			Parts: []part{{Text: prompt}, imagePart(img)},
		}},
		GenerationConfig: &generationConfig{Temperature: ptr(0.0)},
	}

	resp, _, err := c.generate(ctx, model, req)
	if err != nil {
		return "", err
	}
	if len(resp.Candidates) == 0 {
		return "", fmt.Errorf("no candidates in response")
	}

	var sb strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		sb.WriteString(p.Text)
	}
	if sb.Len() == 0 {
		return "", fmt.Errorf("no text content in response")
	}
	return sb.String(), nil
}

// GenerateImage asks for image-only output at temperature 0 and returns the first inline image
func (c *Client) GenerateImage(ctx context.Context, model, prompt string, images []types.InlineImage) (types.InlineImage, error) {
	parts := []part{{Text: prompt}}
	for _, img := range images {
		parts = append(parts, imagePart(img))
	}
	req := generateContentRequest{
		Contents: []content{{Role: "user", Parts: parts}},
		GenerationConfig: &generationConfig{
			Temperature:        ptr(0.0),
			ResponseModalities: []string{"IMAGE"},
		},
	}

	resp, raw, err := c.generate(ctx, model, req)
	if err != nil {
		return types.InlineImage{}, err
	}

	for _, cand := range resp.Candidates {
		for _, p := range cand.Content.Parts {
			if p.InlineData != nil && len(p.InlineData.Data) > 0 {
				mime := p.InlineData.MimeType
				if mime == "" {
					mime = "image/png"
				}
				return types.InlineImage{MimeType: mime, Data: p.InlineData.Data}, nil
			}
		}
	}
	return types.InlineImage{}, &client.NoImageError{Raw: client.Truncate(string(raw))}
}

func (c *Client) generate(ctx context.Context, model string, payload generateContentRequest) (*generateContentResponse, []byte, error) {
	out, err := c.breaker.Execute(func() (interface{}, error) {
		return c.sendRequest(ctx, "/v1beta/models/"+model+":generateContent", payload)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, nil, fmt.Errorf("%w: %v", client.ErrUnavailable, err)
		}
		return nil, nil, err
	}

	body := out.([]byte)
	var resp generateContentResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, body, fmt.Errorf("failed to parse response: %w", err)
	}
	if len(resp.Candidates) == 0 && resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		slog.WarnContext(ctx, "Gemini blocked prompt", "reason", resp.PromptFeedback.BlockReason)
	}
	return &resp, body, nil
}

func (c *Client) sendRequest(ctx context.Context, endpoint string, payload any) ([]byte, error) {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %w", client.ErrUnavailable, ctx.Err())
		}
		return nil, fmt.Errorf("%w: failed to send request: %v", client.ErrUnavailable, redact(err.Error(), c.apiKey))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response: %v", client.ErrUnavailable, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &client.RejectedError{
			StatusCode: resp.StatusCode,
			Detail:     redact(errorDetail(body), c.apiKey),
		}
	}
	return body, nil
}

func errorDetail(body []byte) string {
	var er errorResponse
	if err := json.Unmarshal(body, &er); err == nil && er.Error.Message != "" {
		if er.Error.Status != "" {
			return er.Error.Status + ": " + er.Error.Message
		}
		return er.Error.Message
	}
	return client.Truncate(strings.TrimSpace(string(body)))
}

func redact(s, secret string) string {
	if secret == "" {
		return s
	}
	return strings.ReplaceAll(s, secret, "[redacted]")
}

func imagePart(img types.InlineImage) part {
	mime := img.MimeType
	if mime == "" {
		mime = "image/jpeg"
	}
	return part{InlineData: &inlineData{MimeType: mime, Data: img.Data}}
}

func ptr[T any](v T) *T {
	return &v
}
