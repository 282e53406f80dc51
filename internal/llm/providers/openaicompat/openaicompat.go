// Package openaicompat implements llm.Provider for any OpenAI-compatible
// chat completions endpoint.
package openaicompat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/qamind/qamind/internal/llm"
	"github.com/qamind/qamind/internal/models"
)

const (
	// DefaultMaxTokens is used when the request does not specify one.
	DefaultMaxTokens = 2048
)

// Provider calls an OpenAI-compatible chat completions API.
type Provider struct {
	name       string
	apiKey     string
	baseURL    string
	modelList  []string
	httpClient *http.Client
}

// New creates a provider. baseURL is the full chat completions URL, models
// is the ordered fallback list tried by the gateway.
func New(name, apiKey, baseURL string, modelList []string) *Provider {
	return &Provider{
		name:      name,
		apiKey:    apiKey,
		baseURL:   baseURL,
		modelList: modelList,
		// The gateway bounds each call with its own context deadline; the
		// client timeout is only a safety net.
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

// Name returns the provider identifier.
func (p *Provider) Name() string { return p.name }

// Models returns the ordered model fallback list.
func (p *Provider) Models() []string { return p.modelList }

type apiRequest struct {
	Model       string       `json:"model"`
	Messages    []apiMessage `json:"messages"`
	MaxTokens   int          `json:"max_tokens,omitempty"`
	Temperature float64      `json:"temperature,omitempty"`
	TopP        float64      `json:"top_p,omitempty"`
	Stop        []string     `json:"stop,omitempty"`
}

type apiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type apiResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message      apiMessage `json:"message"`
		FinishReason string     `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage,omitempty"`
}

// Complete sends one completion request and classifies any failure into the
// gateway's error taxonomy.
func (p *Provider) Complete(ctx context.Context, model string, req *models.LLMRequest) (*models.LLMResponse, error) {
	start := time.Now()

	apiReq := p.convertRequest(model, req)
	body, err := json.Marshal(apiReq)
	if err != nil {
		return nil, &llm.ProviderError{Kind: llm.KindGeneric, Provider: p.name, Model: model, Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, &llm.ProviderError{Kind: llm.KindGeneric, Provider: p.name, Model: model, Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, llm.ClassifyTransport(p.name, model, err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, llm.ClassifyTransport(p.name, model, err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, llm.ClassifyStatus(p.name, model, resp.StatusCode, string(respBody), retryAfter(resp))
	}

	var apiResp apiResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return nil, &llm.ProviderError{Kind: llm.KindInvalidResponse, Provider: p.name, Model: model, Err: err}
	}
	if len(apiResp.Choices) == 0 {
		return nil, &llm.ProviderError{
			Kind:     llm.KindInvalidResponse,
			Provider: p.name,
			Model:    model,
			Err:      fmt.Errorf("response contained no choices"),
		}
	}

	out := &models.LLMResponse{
		ID:           apiResp.ID,
		RequestID:    req.ID,
		ProviderName: p.name,
		Model:        apiResp.Model,
		Content:      apiResp.Choices[0].Message.Content,
		FinishReason: apiResp.Choices[0].FinishReason,
		ResponseTime: time.Since(start).Milliseconds(),
		CreatedAt:    time.Now(),
	}
	if out.Model == "" {
		out.Model = model
	}
	if apiResp.Usage != nil {
		out.TokensUsed = apiResp.Usage.TotalTokens
	}
	return out, nil
}

func (p *Provider) convertRequest(model string, req *models.LLMRequest) *apiRequest {
	apiReq := &apiRequest{
		Model:       model,
		MaxTokens:   req.ModelParams.MaxTokens,
		Temperature: req.ModelParams.Temperature,
		TopP:        req.ModelParams.TopP,
		Stop:        req.ModelParams.Stop,
	}
	if apiReq.MaxTokens == 0 {
		apiReq.MaxTokens = DefaultMaxTokens
	}
	if len(req.Messages) > 0 {
		for _, m := range req.Messages {
			apiReq.Messages = append(apiReq.Messages, apiMessage{Role: m.Role, Content: m.Content})
		}
	} else {
		apiReq.Messages = []apiMessage{{Role: "user", Content: req.Prompt}}
	}
	return apiReq
}

// retryAfter parses the Retry-After header as a delay in seconds, 0 when
// absent or unparseable.
func retryAfter(resp *http.Response) time.Duration {
	v := resp.Header.Get("Retry-After")
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
