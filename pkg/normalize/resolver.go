package normalize

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"
)

// Resolver searches an external catalogue for projects matching a selector.
// Implementations return scored candidates; an empty slice means no match and
// never an error, so ambiguity degrades to a clarification rather than a 5xx.
type Resolver interface {
	Resolve(ctx context.Context, selector string) []map[string]any
}

// StubResolver matches nothing. Used when no context API is configured.
type StubResolver struct{}

func (StubResolver) Resolve(context.Context, string) []map[string]any { return nil }

// StaticResolver serves a fixed candidate list, keyed by nothing. Test helper.
type StaticResolver struct {
	Candidates []map[string]any
}

func (s StaticResolver) Resolve(context.Context, string) []map[string]any {
	return s.Candidates
}

// HTTPResolver queries a context API over HTTP. Request and transport errors,
// non-200 responses and malformed bodies all resolve to an empty candidate
// list.
type HTTPResolver struct {
	BaseURL     string
	BearerToken string
	SearchPath  string
	Client      *http.Client
}

// NewHTTPResolver builds a resolver against the given base URL.
func NewHTTPResolver(baseURL, bearerToken, searchPath string, timeout time.Duration) *HTTPResolver {
	if searchPath == "" {
		searchPath = "/v1/projects/search"
	}
	return &HTTPResolver{
		BaseURL:     strings.TrimRight(baseURL, "/"),
		BearerToken: bearerToken,
		SearchPath:  searchPath,
		Client:      &http.Client{Timeout: timeout},
	}
}

func (r *HTTPResolver) Resolve(ctx context.Context, selector string) []map[string]any {
	body, err := json.Marshal(map[string]any{"query": selector, "limit": 5})
	if err != nil {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.BaseURL+r.SearchPath, bytes.NewReader(body))
	if err != nil {
		return nil
	}
	req.Header.Set("Content-Type", "application/json")
	if r.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+r.BearerToken)
	}

	resp, err := r.Client.Do(req)
	if err != nil {
		return nil
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil
	}

	var payload struct {
		Results    []map[string]any `json:"results"`
		Candidates []map[string]any `json:"candidates"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil
	}
	candidates := payload.Results
	if len(candidates) == 0 {
		candidates = payload.Candidates
	}

	out := make([]map[string]any, 0, len(candidates))
	for _, c := range candidates {
		if c == nil {
			continue
		}
		if _, ok := c["score"]; !ok {
			if conf, ok := c["confidence"]; ok {
				c["score"] = conf
			}
		}
		out = append(out, c)
	}
	return out
}
