package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/engram-memory/engram/pkg/config"
)

// ollamaClient calls an Ollama-compatible /api/generate endpoint.
type ollamaClient struct {
	host       string
	model      string
	maxRetries int
	httpClient *http.Client
}

type ollamaGenerateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type ollamaGenerateResponse struct {
	Response string `json:"response"`
}

func newOllamaClient(cfg *config.LLMConfig) *ollamaClient {
	return &ollamaClient{
		host:       cfg.Host,
		model:      cfg.Model,
		maxRetries: cfg.MaxRetries,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

// Complete runs one non-streaming generation, retrying transient failures.
func (c *ollamaClient) Complete(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(ollamaGenerateRequest{Model: c.model, Prompt: prompt})
	if err != nil {
		return "", fmt.Errorf("failed to marshal generate request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		req, reqErr := http.NewRequestWithContext(ctx, http.MethodPost,
			c.host+"/api/generate", bytes.NewReader(body))
		if reqErr != nil {
			return "", fmt.Errorf("failed to build generate request: %w", reqErr)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, doErr := c.httpClient.Do(req)
		if doErr != nil {
			lastErr = doErr
		} else if resp.StatusCode != http.StatusOK {
			respBody, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			lastErr = fmt.Errorf("llm API returned status %d: %s", resp.StatusCode, string(respBody))
		} else {
			var parsed ollamaGenerateResponse
			decErr := json.NewDecoder(resp.Body).Decode(&parsed)
			resp.Body.Close()
			if decErr != nil {
				return "", fmt.Errorf("failed to decode generate response: %w", decErr)
			}
			return parsed.Response, nil
		}

		if attempt < c.maxRetries-1 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(time.Duration(attempt+1) * time.Second):
			}
		}
	}
	return "", fmt.Errorf("llm request failed: %w", lastErr)
}
