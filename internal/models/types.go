package models

import "time"

// LLMRequest is a single completion request passed to a provider.
type LLMRequest struct {
	ID          string          `json:"id"`
	ProjectID   string          `json:"project_id"`
	Prompt      string          `json:"prompt"`
	Messages    []Message       `json:"messages"`
	ModelParams ModelParameters `json:"model_params"`
	CreatedAt   time.Time       `json:"created_at"`
}

// LLMResponse is a provider's answer to an LLMRequest.
type LLMResponse struct {
	ID           string    `json:"id"`
	RequestID    string    `json:"request_id"`
	ProviderName string    `json:"provider_name"`
	Model        string    `json:"model"`
	Content      string    `json:"content"`
	TokensUsed   int       `json:"tokens_used"`
	FinishReason string    `json:"finish_reason"`
	ResponseTime int64     `json:"response_time"`
	CreatedAt    time.Time `json:"created_at"`
}

// Message is a single chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ModelParameters carries per-call model tuning.
type ModelParameters struct {
	Model       string   `json:"model"`
	Temperature float64  `json:"temperature"`
	MaxTokens   int      `json:"max_tokens"`
	TopP        float64  `json:"top_p"`
	Stop        []string `json:"stop,omitempty"`
}

// ProviderCallResult describes how a gateway call was satisfied.
type ProviderCallResult struct {
	Provider     string `json:"provider"`
	Model        string `json:"model"`
	Content      string `json:"content"`
	Retries      int    `json:"retries"`
	FailoverUsed bool   `json:"failover_used"`
	Fallback     bool   `json:"fallback"`
}

// ConversationTurn is one user/assistant exchange in a project's history.
type ConversationTurn struct {
	ID                string    `json:"id"`
	Timestamp         time.Time `json:"timestamp"`
	UserMessage       string    `json:"user_message"`
	AssistantResponse string    `json:"assistant_response"`
	Intent            string    `json:"intent"`
	Workflow          string    `json:"workflow"`
	DocumentsUsed     []string  `json:"documents_used,omitempty"`
}

// Answer is the orchestrator's reply to a user message, with the metadata
// describing how it was produced.
type Answer struct {
	Content       string    `json:"content"`
	Provider      string    `json:"provider"`
	Model         string    `json:"model"`
	Intent        string    `json:"intent"`
	Workflow      string    `json:"workflow"`
	Retries       int       `json:"retries"`
	FailoverUsed  bool      `json:"failover_used"`
	Fallback      bool      `json:"fallback"`
	Validated     bool      `json:"validated"`
	Cached        bool      `json:"cached"`
	DocumentsUsed []string  `json:"documents_used,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// Chunk is a bounded contiguous span of a source document, the unit of
// retrieval. Offsets are absolute character positions in the original text.
type Chunk struct {
	Text         string `json:"text"`
	Index        int    `json:"index"`
	CharStart    int    `json:"char_start"`
	CharEnd      int    `json:"char_end"`
	CharLength   int    `json:"char_length"`
	Section      string `json:"section,omitempty"`
	DocumentName string `json:"document_name"`
	ProjectID    string `json:"project_id"`
}

// EmbeddingRecord pairs a chunk with its embedding vector. All vectors in
// one project's store share the same dimension.
type EmbeddingRecord struct {
	Chunk     Chunk     `json:"chunk"`
	Vector    []float64 `json:"vector"`
	ProjectID string    `json:"project_id"`
}

// ScoredChunk is a retrieval hit with its cosine similarity to the query.
type ScoredChunk struct {
	Chunk      Chunk   `json:"chunk"`
	Similarity float64 `json:"similarity"`
}
