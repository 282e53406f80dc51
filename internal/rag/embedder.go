package rag

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/qamind/qamind/internal/llm"
)

// Embedder generates fixed-dimension vectors for texts. A single embedding
// backend per deployment; failures are classified through the gateway's
// generic taxonomy but there is no multi-provider failover for embeddings.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float64, error)
	Dimension() int
}

// HTTPEmbedder calls an OpenAI-compatible embeddings endpoint.
type HTTPEmbedder struct {
	baseURL    string
	apiKey     string
	model      string
	dimension  int
	httpClient *http.Client
}

// NewHTTPEmbedder creates an embedder. dimension is the model's known output
// dimension, enforced downstream by the vector store.
func NewHTTPEmbedder(baseURL, apiKey, model string, dimension int) *HTTPEmbedder {
	return &HTTPEmbedder{
		baseURL:    baseURL,
		apiKey:     apiKey,
		model:      model,
		dimension:  dimension,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

// Dimension returns the embedding model's output dimension.
func (e *HTTPEmbedder) Dimension() int { return e.dimension }

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
}

// Embed returns one vector per input text, in input order.
func (e *HTTPEmbedder) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	body, err := json.Marshal(embedRequest{Model: e.model, Input: texts})
	if err != nil {
		return nil, err
	}
	url := strings.TrimSuffix(e.baseURL, "/") + "/embeddings"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+e.apiKey)

	resp, err := e.httpClient.Do(httpReq)
	if err != nil {
		return nil, llm.ClassifyTransport("embeddings", e.model, err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, llm.ClassifyTransport("embeddings", e.model, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, llm.ClassifyStatus("embeddings", e.model, resp.StatusCode, string(respBody), 0)
	}

	var apiResp embedResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return nil, &llm.ProviderError{Kind: llm.KindInvalidResponse, Provider: "embeddings", Model: e.model, Err: err}
	}
	if len(apiResp.Data) != len(texts) {
		return nil, &llm.ProviderError{
			Kind:     llm.KindInvalidResponse,
			Provider: "embeddings",
			Model:    e.model,
			Err:      fmt.Errorf("expected %d embeddings, got %d", len(texts), len(apiResp.Data)),
		}
	}

	vectors := make([][]float64, len(texts))
	for _, d := range apiResp.Data {
		if d.Index < 0 || d.Index >= len(vectors) {
			return nil, &llm.ProviderError{
				Kind:     llm.KindInvalidResponse,
				Provider: "embeddings",
				Model:    e.model,
				Err:      fmt.Errorf("embedding index %d out of range", d.Index),
			}
		}
		vectors[d.Index] = d.Embedding
	}
	return vectors, nil
}
