package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/engram-memory/engram/pkg/config"
)

// ollamaClient calls an Ollama-compatible /api/embeddings endpoint.
type ollamaClient struct {
	host       string
	model      string
	dimension  int
	maxRetries int
	batchSize  int
	httpClient *http.Client
}

type ollamaEmbedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaEmbedResponse struct {
	Embedding []float32 `json:"embedding"`
}

func newOllamaClient(cfg *config.EmbeddingConfig) *ollamaClient {
	return &ollamaClient{
		host:       cfg.Host,
		model:      cfg.Model,
		dimension:  cfg.Dimension,
		maxRetries: cfg.MaxRetries,
		batchSize:  cfg.BatchSize,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

// Embed requests one embedding, retrying transient failures with a linear
// backoff. A vector of the wrong width is an error: the column dimension is
// pinned and a model change must not corrupt the index silently.
func (c *ollamaClient) Embed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(ollamaEmbedRequest{Model: c.model, Prompt: text})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal embed request: %w", err)
	}

	var resp *http.Response
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		req, reqErr := http.NewRequestWithContext(ctx, http.MethodPost,
			c.host+"/api/embeddings", bytes.NewReader(body))
		if reqErr != nil {
			return nil, fmt.Errorf("failed to build embed request: %w", reqErr)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err = c.httpClient.Do(req)
		if err == nil && resp.StatusCode == http.StatusOK {
			break
		}
		if resp != nil {
			respBody, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			err = fmt.Errorf("embedding API returned status %d: %s", resp.StatusCode, string(respBody))
			resp = nil
		}
		slog.Debug("Embedding request retry", "attempt", attempt+1, "error", err)
		if attempt < c.maxRetries-1 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt+1) * time.Second):
			}
		}
	}
	if resp == nil {
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}
	defer resp.Body.Close()

	var parsed ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode embed response: %w", err)
	}
	if len(parsed.Embedding) == 0 {
		return nil, fmt.Errorf("received empty embedding")
	}
	if len(parsed.Embedding) != c.dimension {
		return nil, fmt.Errorf("embedding dimension mismatch: got %d, pinned %d",
			len(parsed.Embedding), c.dimension)
	}
	return parsed.Embedding, nil
}

// EmbedBatch embeds texts sequentially in batchSize slices. The Ollama
// embeddings endpoint takes one prompt per call; callers get batch semantics
// without the provider needing them.
func (c *ollamaClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += c.batchSize {
		end := start + c.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		for _, text := range texts[start:end] {
			vec, err := c.Embed(ctx, text)
			if err != nil {
				return nil, err
			}
			vectors = append(vectors, vec)
		}
	}
	return vectors, nil
}

func (c *ollamaClient) Dimension() int {
	return c.dimension
}
