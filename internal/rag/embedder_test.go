package rag

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qamind/qamind/internal/llm"
)

func embedServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func TestHTTPEmbedder_OrdersVectorsByIndex(t *testing.T) {
	srv := embedServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req struct {
			Model string   `json:"model"`
			Input []string `json:"input"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "text-embedding-3-small", req.Model)
		require.Len(t, req.Input, 2)

		// Answer out of order; the client must reassemble by index.
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"data": []map[string]interface{}{
				{"index": 1, "embedding": []float64{0.2, 0.2}},
				{"index": 0, "embedding": []float64{0.1, 0.1}},
			},
		})
	})

	e := NewHTTPEmbedder(srv.URL, "test-key", "text-embedding-3-small", 2)
	vectors, err := e.Embed(context.Background(), []string{"first", "second"})
	require.NoError(t, err)
	require.Len(t, vectors, 2)
	assert.Equal(t, []float64{0.1, 0.1}, vectors[0])
	assert.Equal(t, []float64{0.2, 0.2}, vectors[1])
}

func TestHTTPEmbedder_EmptyInput(t *testing.T) {
	e := NewHTTPEmbedder("http://unused", "k", "m", 2)
	vectors, err := e.Embed(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, vectors)
}

func TestHTTPEmbedder_ClassifiesHTTPErrors(t *testing.T) {
	srv := embedServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	})

	e := NewHTTPEmbedder(srv.URL, "k", "m", 2)
	_, err := e.Embed(context.Background(), []string{"text"})
	var pe *llm.ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, llm.KindRateLimit, pe.Kind)
}

func TestHTTPEmbedder_CountMismatchIsInvalidResponse(t *testing.T) {
	srv := embedServer(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"data": []map[string]interface{}{
				{"index": 0, "embedding": []float64{0.1}},
			},
		})
	})

	e := NewHTTPEmbedder(srv.URL, "k", "m", 1)
	_, err := e.Embed(context.Background(), []string{"a", "b"})
	var pe *llm.ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, llm.KindInvalidResponse, pe.Kind)
}

func TestHTTPEmbedder_MalformedJSONIsInvalidResponse(t *testing.T) {
	srv := embedServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("not json"))
	})

	e := NewHTTPEmbedder(srv.URL, "k", "m", 1)
	_, err := e.Embed(context.Background(), []string{"a"})
	var pe *llm.ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, llm.KindInvalidResponse, pe.Kind)
}
