package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/coursecraft/coursecraft-backend/internal/logger"
	"github.com/coursecraft/coursecraft-backend/internal/repos"
	"github.com/coursecraft/coursecraft-backend/internal/types"
)

const openAIProviderName = "openai"

type openAIClient struct {
	log        *logger.Logger
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
	maxRetries int

	callLog repos.AICallLogRepo
}

// NewOpenAIClient builds the production CompletionClient. callLog may be nil;
// audit rows are best effort.
func NewOpenAIClient(log *logger.Logger, callLog repos.AICallLogRepo) (CompletionClient, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("missing OPENAI_API_KEY")
	}

	baseURL := os.Getenv("OPENAI_BASE_URL")
	if baseURL == "" {
		baseURL = "https://api.openai.com"
	}

	model := os.Getenv("OPENAI_MODEL")
	if model == "" {
		model = "gpt-4o-mini"
	}

	timeoutSec := 180
	if v := os.Getenv("OPENAI_TIMEOUT_SECONDS"); v != "" {
		if parsed, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && parsed > 0 {
			timeoutSec = parsed
		}
	}

	maxRetries := 3
	if v := os.Getenv("OPENAI_MAX_RETRIES"); v != "" {
		if parsed, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && parsed >= 0 {
			maxRetries = parsed
		}
	}

	return &openAIClient{
		log:        log.With("service", "OpenAIClient"),
		baseURL:    baseURL,
		apiKey:     apiKey,
		model:      model,
		httpClient: &http.Client{Timeout: time.Duration(timeoutSec) * time.Second},
		maxRetries: maxRetries,
		callLog:    callLog,
	}, nil
}

func (c *openAIClient) Provider() string { return openAIProviderName }
func (c *openAIClient) Model() string    { return c.model }

type openAIHTTPError struct {
	StatusCode int
	RetryAfter int
	Body       string
}

func (e *openAIHTTPError) Error() string {
	return fmt.Sprintf("openai http %d: %s", e.StatusCode, e.Body)
}

// 429 is not retried in-call: the task queue owns throttle windows via the
// rate-limit coordinator and the generation backoff policy.
func isRetryableHTTP(code int) bool {
	if code == 408 {
		return true
	}
	return code >= 500 && code <= 599
}

func isRetryableErr(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var httpErr *openAIHTTPError
	if errors.As(err, &httpErr) {
		return isRetryableHTTP(httpErr.StatusCode)
	}
	return false
}

func jitterSleep(base time.Duration) time.Duration {
	// +/- 20%
	if base <= 0 {
		return 0
	}
	delta := base.Seconds() * 0.2
	low := base.Seconds() - delta
	v := low + rand.Float64()*(2*delta)
	return time.Duration(v * float64(time.Second))
}

func (c *openAIClient) doOnce(ctx context.Context, method, path string, body any) ([]byte, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}

	raw, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return nil, readErr
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		httpErr := &openAIHTTPError{StatusCode: resp.StatusCode, Body: string(raw)}
		if ra := strings.TrimSpace(resp.Header.Get("Retry-After")); ra != "" {
			if secs, parseErr := strconv.Atoi(ra); parseErr == nil && secs > 0 {
				httpErr.RetryAfter = secs
			}
		}
		return raw, httpErr
	}
	return raw, nil
}

func (c *openAIClient) do(ctx context.Context, callType, path string, body any, out any) error {
	backoff := 1 * time.Second
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		raw, err := c.doOnce(ctx, "POST", path, body)
		if err == nil {
			c.recordCall(callType, true, "")
			if out == nil {
				return nil
			}
			if uErr := json.Unmarshal(raw, out); uErr != nil {
				pErr := &types.ProviderError{Op: callType, Err: fmt.Errorf("decode: %w", uErr)}
				c.recordCall(callType, false, pErr.Error())
				return pErr
			}
			return nil
		}
		lastErr = err

		var httpErr *openAIHTTPError
		if errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusTooManyRequests {
			retryAfter := 60
			if httpErr.RetryAfter > 0 {
				retryAfter = httpErr.RetryAfter
			}
			rle := &types.RateLimitError{
				Provider:   openAIProviderName,
				Model:      c.model,
				RetryAfter: time.Duration(retryAfter) * time.Second,
			}
			c.recordCall(callType, false, rle.Error())
			return rle
		}

		if !isRetryableErr(err) || attempt == c.maxRetries {
			break
		}

		sleepFor := backoff
		if sleepFor > 10*time.Second {
			sleepFor = 10 * time.Second
		}
		sleepFor = jitterSleep(sleepFor)
		c.log.Warn("OpenAI request retrying", "path", path, "attempt", attempt+1, "max_retries", c.maxRetries, "sleep", sleepFor.String(), "error", err.Error())
		time.Sleep(sleepFor)
		backoff *= 2
	}

	c.recordCall(callType, false, lastErr.Error())
	return lastErr
}

func (c *openAIClient) recordCall(callType string, success bool, errMsg string) {
	if c.callLog == nil {
		return
	}
	row := &types.AICallLog{
		ID:        uuid.New(),
		CallType:  callType,
		Provider:  openAIProviderName,
		Model:     c.model,
		Success:   success,
		Error:     errMsg,
		CreatedAt: time.Now(),
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := c.callLog.Create(ctx, nil, []*types.AICallLog{row}); err != nil {
		c.log.Warn("Failed to record AI call log", "call_type", callType, "error", err)
	}
}

type responsesRequest struct {
	Model string `json:"model"`
	Input []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"input"`
	Text *struct {
		Format map[string]any `json:"format"`
	} `json:"text,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
}

type responsesResponse struct {
	Output []struct {
		Type    string `json:"type"`
		Role    string `json:"role,omitempty"`
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text,omitempty"`
		} `json:"content,omitempty"`
	} `json:"output"`
	Refusal string `json:"refusal,omitempty"`
}

func newResponsesRequest(model, system, user string) responsesRequest {
	req := responsesRequest{
		Model:       model,
		Temperature: 0.2,
	}
	req.Input = []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}{
		{Role: "system", Content: system},
		{Role: "user", Content: user},
	}
	return req
}

func collectOutputText(resp responsesResponse) string {
	var text string
	for _, item := range resp.Output {
		if item.Type == "message" && item.Role == "assistant" {
			for _, content := range item.Content {
				if content.Type == "output_text" && content.Text != "" {
					text += content.Text
				}
			}
		}
	}
	return text
}

func (c *openAIClient) Generate(ctx context.Context, interactionType string, prompt string, contextData map[string]any) (string, error) {
	system := "You are the content engine of an online course platform."
	if len(contextData) > 0 {
		ctxJSON, _ := json.Marshal(contextData)
		system += "\nContext: " + string(ctxJSON)
	}
	req := newResponsesRequest(c.model, system, prompt)

	var resp responsesResponse
	if err := c.do(ctx, interactionType, "/v1/responses", req, &resp); err != nil {
		return "", err
	}
	if resp.Refusal != "" {
		return "", &types.ProviderError{Op: interactionType, Err: fmt.Errorf("model refused: %s", resp.Refusal)}
	}
	text := collectOutputText(resp)
	if text == "" {
		return "", &types.ProviderError{Op: interactionType, Err: errors.New("empty output text")}
	}
	return text, nil
}

func (c *openAIClient) GenerateJSON(ctx context.Context, system string, user string, schemaName string, schema map[string]any) (map[string]any, error) {
	if schemaName == "" {
		return nil, errors.New("schemaName required")
	}
	if schema == nil {
		return nil, errors.New("schema required")
	}

	req := newResponsesRequest(c.model, system, user)
	req.Text = &struct {
		Format map[string]any `json:"format"`
	}{Format: map[string]any{
		"type":   "json_schema",
		"name":   schemaName,
		"schema": schema,
		"strict": true,
	}}

	var resp responsesResponse
	if err := c.do(ctx, schemaName, "/v1/responses", req, &resp); err != nil {
		return nil, err
	}
	if resp.Refusal != "" {
		return nil, &types.ProviderError{Op: schemaName, Err: fmt.Errorf("model refused: %s", resp.Refusal)}
	}

	jsonText := collectOutputText(resp)
	if jsonText == "" {
		return nil, &types.ProviderError{Op: schemaName, Err: errors.New("no output_text found in response")}
	}

	var obj map[string]any
	if err := json.Unmarshal([]byte(jsonText), &obj); err != nil {
		return nil, &types.ProviderError{Op: schemaName, Err: fmt.Errorf("parse model JSON: %w", err)}
	}
	return obj, nil
}
