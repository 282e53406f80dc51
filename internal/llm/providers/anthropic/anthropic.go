// Package anthropic implements llm.Provider for the Anthropic messages API.
package anthropic

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
	// DefaultBaseURL is the messages endpoint.
	DefaultBaseURL = "https://api.anthropic.com/v1/messages"
	// APIVersion is the anthropic-version header value.
	APIVersion = "2023-06-01"
	// DefaultMaxTokens is used when the request does not specify one.
	DefaultMaxTokens = 2048
)

// Provider calls the Anthropic messages API.
type Provider struct {
	apiKey     string
	baseURL    string
	modelList  []string
	httpClient *http.Client
}

// New creates a provider with the given ordered model fallback list.
func New(apiKey string, modelList []string) *Provider {
	return &Provider{
		apiKey:     apiKey,
		baseURL:    DefaultBaseURL,
		modelList:  modelList,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

// NewWithBaseURL creates a provider pointed at a custom endpoint, used for
// proxies and tests.
func NewWithBaseURL(apiKey, baseURL string, modelList []string) *Provider {
	p := New(apiKey, modelList)
	p.baseURL = baseURL
	return p
}

// Name returns the provider identifier.
func (p *Provider) Name() string { return "anthropic" }

// Models returns the ordered model fallback list.
func (p *Provider) Models() []string { return p.modelList }

type apiRequest struct {
	Model     string       `json:"model"`
	MaxTokens int          `json:"max_tokens"`
	System    string       `json:"system,omitempty"`
	Messages  []apiMessage `json:"messages"`
	// Temperature is optional; Anthropic rejects values outside [0,1].
	Temperature *float64 `json:"temperature,omitempty"`
}

type apiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type apiResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// Complete sends one messages request and classifies any failure into the
// gateway's error taxonomy.
func (p *Provider) Complete(ctx context.Context, model string, req *models.LLMRequest) (*models.LLMResponse, error) {
	start := time.Now()

	body, err := json.Marshal(p.convertRequest(model, req))
	if err != nil {
		return nil, &llm.ProviderError{Kind: llm.KindGeneric, Provider: p.Name(), Model: model, Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, &llm.ProviderError{Kind: llm.KindGeneric, Provider: p.Name(), Model: model, Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", p.apiKey)
	httpReq.Header.Set("anthropic-version", APIVersion)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, llm.ClassifyTransport(p.Name(), model, err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, llm.ClassifyTransport(p.Name(), model, err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, llm.ClassifyStatus(p.Name(), model, resp.StatusCode, string(respBody), retryAfter(resp))
	}

	var apiResp apiResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return nil, &llm.ProviderError{Kind: llm.KindInvalidResponse, Provider: p.Name(), Model: model, Err: err}
	}

	var text string
	for _, block := range apiResp.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	if text == "" {
		return nil, &llm.ProviderError{
			Kind:     llm.KindInvalidResponse,
			Provider: p.Name(),
			Model:    model,
			Err:      fmt.Errorf("response contained no text blocks"),
		}
	}

	out := &models.LLMResponse{
		ID:           apiResp.ID,
		RequestID:    req.ID,
		ProviderName: p.Name(),
		Model:        apiResp.Model,
		Content:      text,
		TokensUsed:   apiResp.Usage.InputTokens + apiResp.Usage.OutputTokens,
		FinishReason: apiResp.StopReason,
		ResponseTime: time.Since(start).Milliseconds(),
		CreatedAt:    time.Now(),
	}
	if out.Model == "" {
		out.Model = model
	}
	return out, nil
}

func (p *Provider) convertRequest(model string, req *models.LLMRequest) *apiRequest {
	apiReq := &apiRequest{
		Model:     model,
		MaxTokens: req.ModelParams.MaxTokens,
	}
	if apiReq.MaxTokens == 0 {
		apiReq.MaxTokens = DefaultMaxTokens
	}
	if t := req.ModelParams.Temperature; t > 0 && t <= 1 {
		apiReq.Temperature = &t
	}
	for _, m := range req.Messages {
		if m.Role == "system" {
			apiReq.System = m.Content
			continue
		}
		apiReq.Messages = append(apiReq.Messages, apiMessage{Role: m.Role, Content: m.Content})
	}
	if len(apiReq.Messages) == 0 {
		apiReq.Messages = []apiMessage{{Role: "user", Content: req.Prompt}}
	}
	return apiReq
}

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
