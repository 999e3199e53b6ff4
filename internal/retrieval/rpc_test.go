package retrieval

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRPCSearcher_Search(t *testing.T) {
	var got rpcRequest
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/rest/v1/rpc/match_constitution", r.URL.Path)
		assert.Equal(t, "anon-key", r.Header.Get("apikey"))
		assert.Equal(t, "Bearer anon-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"clause_ref":"Article 1","content":"All sovereign power belongs to the people","similarity":0.83}]`))
	}))
	defer ts.Close()

	s := NewRPCSearcher(ts.URL+"/", "anon-key", WithHTTPClient(ts.Client()), WithRateLimit(100, 1))
	matches, err := s.Search(context.Background(), []float32{0.5, 1}, 0.5, 8)
	require.NoError(t, err)

	require.Len(t, matches, 1)
	assert.Equal(t, Match{ClauseRef: "Article 1", Content: "All sovereign power belongs to the people", Similarity: 0.83}, matches[0])
	assert.Equal(t, []float32{0.5, 1}, got.QueryEmbedding)
	assert.Equal(t, 0.5, got.MatchThreshold)
	assert.Equal(t, 8, got.MatchCount)
}

func TestRPCSearcher_CustomFunction(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rest/v1/rpc/match_sections", r.URL.Path)
		_, _ = w.Write([]byte(`[]`))
	}))
	defer ts.Close()

	matches, err := NewRPCSearcher(ts.URL, "k", WithFunction("match_sections")).Search(context.Background(), []float32{1}, 0.5, 3)
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestRPCSearcher_HTTPError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"message":"upstream down"}`))
	}))
	defer ts.Close()

	_, err := NewRPCSearcher(ts.URL, "k").Search(context.Background(), []float32{1}, 0.5, 3)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

func TestRPCSearcher_BadJSON(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{not json`))
	}))
	defer ts.Close()

	_, err := NewRPCSearcher(ts.URL, "k").Search(context.Background(), []float32{1}, 0.5, 3)
	assert.ErrorContains(t, err, "decode rpc response")
}

func TestRPCSearcher_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := NewRPCSearcher("http://127.0.0.1:1", "k", WithRateLimit(0.001, 1))
	_, _ = s.limiter.Wait(context.Background())

	_, err := s.Search(ctx, []float32{1}, 0.5, 3)
	assert.Error(t, err)
}
