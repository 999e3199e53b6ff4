package retrieval

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

// DefaultMatchFunction is the similarity function exposed by the index.
const DefaultMatchFunction = "match_constitution"

// RPCOption configures an RPCSearcher.
type RPCOption func(*RPCSearcher)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) RPCOption {
	return func(s *RPCSearcher) { s.http = hc }
}

// WithRateLimit throttles calls to rps requests per second.
func WithRateLimit(rps float64, burst int) RPCOption {
	return func(s *RPCSearcher) {
		if rps > 0 {
			if burst < 1 {
				burst = 1
			}
			s.limiter = rate.NewLimiter(rate.Limit(rps), burst)
		}
	}
}

// WithFunction overrides the remote function name.
func WithFunction(name string) RPCOption {
	return func(s *RPCSearcher) {
		if name != "" {
			s.function = name
		}
	}
}

// RPCSearcher calls a PostgREST-style `POST /rest/v1/rpc/<function>` endpoint.
type RPCSearcher struct {
	baseURL  string
	apiKey   string
	function string
	http     *http.Client
	limiter  *rate.Limiter
}

// NewRPCSearcher creates a searcher for the given project URL.
func NewRPCSearcher(baseURL, apiKey string, opts ...RPCOption) *RPCSearcher {
	s := &RPCSearcher{
		baseURL:  strings.TrimRight(baseURL, "/"),
		apiKey:   apiKey,
		function: DefaultMatchFunction,
		http:     &http.Client{Timeout: 30 * time.Second},
		limiter:  rate.NewLimiter(rate.Limit(5), 5),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type rpcRequest struct {
	QueryEmbedding []float32 `json:"query_embedding"`
	MatchThreshold float64   `json:"match_threshold"`
	MatchCount     int       `json:"match_count"`
}

// Search implements Searcher.
func (s *RPCSearcher) Search(ctx context.Context, vector []float32, threshold float64, limit int) ([]Match, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "retrieval: rpc rate limit wait")
	}

	body, err := json.Marshal(rpcRequest{QueryEmbedding: vector, MatchThreshold: threshold, MatchCount: limit})
	if err != nil {
		return nil, eris.Wrap(err, "retrieval: marshal rpc request")
	}

	endpoint := fmt.Sprintf("%s/rest/v1/rpc/%s", s.baseURL, s.function)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, eris.Wrap(err, "retrieval: create rpc request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", s.apiKey)
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "retrieval: rpc request")
	}
	defer resp.Body.Close() //nolint:errcheck

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, eris.Wrap(err, "retrieval: read rpc response")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, eris.Errorf("retrieval: rpc %s returned %d: %s", s.function, resp.StatusCode, truncate(string(raw), 200))
	}

	var matches []Match
	if err := json.Unmarshal(raw, &matches); err != nil {
		return nil, eris.Wrap(err, "retrieval: decode rpc response")
	}
	return matches, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
