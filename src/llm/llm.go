// Package llm is a small OpenRouter chat-completions client used for vision OCR.
package llm

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	DefaultBaseURL = "https://openrouter.ai/api/v1"
	NoTextSentinel = "NO_TEXT_FOUND"

	maxRetries     = 3
	requestTimeout = 45 * time.Second
)

// ErrNoText is returned when the model reports that the image contains no text.
var ErrNoText = errors.New("no text detected in image")

type Config struct {
	APIKey    string
	Model     string
	Providers []string
	BaseURL   string
}

// OpenRouter API structures
type Message struct {
	Role    string    `json:"role"`
	Content []Content `json:"content"`
}

type Content struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

type ImageURL struct {
	URL string `json:"url"`
}

type ProviderPreferences struct {
	Order          []string `json:"order,omitempty"`
	Quantizations  []string `json:"quantizations,omitempty"`
	AllowFallbacks *bool    `json:"allow_fallbacks,omitempty"`
}

type ChatRequest struct {
	Model       string               `json:"model"`
	Messages    []Message            `json:"messages"`
	Temperature float64              `json:"temperature"`
	MaxTokens   int                  `json:"max_tokens"`
	Provider    *ProviderPreferences `json:"provider,omitempty"`
}

type ChatResponse struct {
	Choices []Choice  `json:"choices"`
	Error   *APIError `json:"error,omitempty"`
}

type Choice struct {
	Message ResponseMessage `json:"message"`
}

type ResponseMessage struct {
	Content string `json:"content"`
}

type APIError struct {
	Message string      `json:"message"`
	Type    string      `json:"type"`
	Code    interface{} `json:"code"` // Can be string or number
}

const visionPrompt = "Perform OCR on this image. The text is Japanese and may be vertical (read columns right to left). " +
	"Return ONLY the raw extracted text with:\n" +
	"- No formatting\n" +
	"- No XML/HTML tags\n" +
	"- No markdown\n" +
	"- No explanations\n" +
	"- No translation or romanization\n" +
	"- Preserve line breaks accurately from the visual layout.\n" +
	"If no text found, return '" + NoTextSentinel + "'"

// Client talks to the OpenRouter chat-completions endpoint.
type Client struct {
	cfg  Config
	http *resty.Client
}

// New validates cfg and builds a client with retries on transient failures.
func New(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("model is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}

	httpClient := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(requestTimeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Authorization", "Bearer "+cfg.APIKey).
		SetHeader("HTTP-Referer", "https://github.com/screen-ocr-translate/screen-ocr-translate").
		SetHeader("X-Title", "Screen OCR Translate").
		SetRetryCount(maxRetries-1).
		SetRetryWaitTime(1 * time.Second).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(retryCondition)

	return &Client{cfg: cfg, http: httpClient}, nil
}

// retryCondition retries network errors, throttling and server-side failures.
func retryCondition(r *resty.Response, err error) bool {
	if err != nil {
		return true
	}
	if r == nil {
		return false
	}
	code := r.StatusCode()
	return code >= 500 || code == http.StatusTooManyRequests || code == http.StatusRequestTimeout
}

// providerPreferences pins routing to the configured providers, without fallbacks.
func (c *Client) providerPreferences() *ProviderPreferences {
	if len(c.cfg.Providers) == 0 {
		return nil
	}
	allowFallbacks := false
	return &ProviderPreferences{
		Order:          c.cfg.Providers,
		AllowFallbacks: &allowFallbacks,
	}
}

// QueryVision sends a PNG image to the vision model and returns the extracted text.
func (c *Client) QueryVision(ctx context.Context, imageData []byte) (string, error) {
	if len(imageData) == 0 {
		return "", fmt.Errorf("image data is empty")
	}

	imageURL := "data:image/png;base64," + base64.StdEncoding.EncodeToString(imageData)
	request := ChatRequest{
		Model: c.cfg.Model,
		Messages: []Message{
			{
				Role: "user",
				Content: []Content{
					{Type: "text", Text: visionPrompt},
					{Type: "image_url", ImageURL: &ImageURL{URL: imageURL}},
				},
			},
		},
		Temperature: 0.1,
		MaxTokens:   2000,
		Provider:    c.providerPreferences(),
	}

	response, err := c.chat(ctx, request)
	if err != nil {
		return "", err
	}
	if len(response.Choices) == 0 {
		return "", fmt.Errorf("no choices in API response")
	}

	text := cleanExtractedText(response.Choices[0].Message.Content)
	if strings.TrimSpace(text) == "" || strings.TrimSpace(text) == NoTextSentinel {
		return "", ErrNoText
	}
	return text, nil
}

// Ping sends a tiny text-only request to verify credentials and model routing.
func (c *Client) Ping(ctx context.Context) error {
	request := ChatRequest{
		Model: c.cfg.Model,
		Messages: []Message{
			{Role: "user", Content: []Content{{Type: "text", Text: "ping"}}},
		},
		Temperature: 0,
		MaxTokens:   1,
		Provider:    c.providerPreferences(),
	}
	_, err := c.chat(ctx, request)
	return err
}

func (c *Client) chat(ctx context.Context, request ChatRequest) (*ChatResponse, error) {
	start := time.Now()
	var response ChatResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(request).
		SetResult(&response).
		SetError(&response).
		Post("/chat/completions")
	if err != nil {
		return nil, fmt.Errorf("API request failed: %w", err)
	}
	log.Printf("LLM: %s responded %d in %v", c.cfg.Model, resp.StatusCode(), time.Since(start))

	if response.Error != nil {
		return nil, fmt.Errorf("API error: %s (type: %s, code: %v)", response.Error.Message, response.Error.Type, response.Error.Code)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("API returned status %d", resp.StatusCode())
	}
	return &response, nil
}

// cleanExtractedText strips the stray image tag some vision models append.
func cleanExtractedText(text string) string {
	text = strings.TrimSpace(text)
	text = strings.TrimSuffix(text, "</image>")
	return strings.TrimSpace(text)
}
