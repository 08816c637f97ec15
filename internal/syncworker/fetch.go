// Package syncworker implements C11: a periodic job that fetches spans
// from an external trace store, converts each into a trajectory, and
// drives tip generation over it. Grounded on
// kaizen/sync/phoenix_sync.py's PhoenixSync, generalized to a
// provider-neutral span-store HTTP contract per spec.md §6.
package syncworker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/worldline-go/klient"
	"golang.org/x/oauth2/clientcredentials"
)

// Span is one fetched unit of trace data. Attributes carries the flat
// gen_ai.prompt.{i}.{role|content} / gen_ai.completion.{i}.{role|content}
// keys the trace store exposes, per spec.md §4.C11.
type Span struct {
	SpanID     string         `json:"span_id"`
	TraceID    string         `json:"trace_id"`
	Name       string         `json:"name"`
	StatusCode string         `json:"status_code"`
	Model      string         `json:"model"`
	Timestamp  time.Time      `json:"start_time"`
	Usage      map[string]any `json:"usage"`
	Attributes map[string]any `json:"attributes"`
}

// Fetcher retrieves one page of spans for a project.
type Fetcher interface {
	FetchSpans(ctx context.Context, project, cursor string, limit int) (spans []Span, nextCursor string, err error)
}

type spanPage struct {
	Data       []Span `json:"data"`
	NextCursor string `json:"next_cursor"`
}

// httpFetcher implements Fetcher against GET
// {base}/v1/projects/{project}/spans?limit=&cursor=, the generic
// paginated span-store contract spec.md §6 describes. When tokenSource is
// set it takes precedence over bearerToken and is refreshed per request,
// matching the vertex provider's pattern of calling Token() fresh on every
// call rather than caching it locally.
type httpFetcher struct {
	client      *klient.Client
	bearerToken string
	tokenSource *clientcredentials.Config
}

// NewHTTPFetcher builds a Fetcher. bearerToken, when non-empty, is sent as
// a static Authorization header; tokenSource, when non-nil, takes
// precedence and is used to mint a fresh bearer token per request.
func NewHTTPFetcher(baseURL, bearerToken string, tokenSource *clientcredentials.Config) (Fetcher, error) {
	client, err := klient.New(
		klient.WithBaseURL(baseURL),
		klient.WithLogger(slog.Default()),
		klient.WithDisableEnvValues(true),
	)
	if err != nil {
		return nil, fmt.Errorf("create span store client: %w", err)
	}

	return &httpFetcher{client: client, bearerToken: bearerToken, tokenSource: tokenSource}, nil
}

func (f *httpFetcher) authHeader(ctx context.Context) (string, error) {
	if f.tokenSource != nil {
		token, err := f.tokenSource.Token(ctx)
		if err != nil {
			return "", fmt.Errorf("acquire oauth2 token: %w", err)
		}
		return "Bearer " + token.AccessToken, nil
	}
	if f.bearerToken != "" {
		return "Bearer " + f.bearerToken, nil
	}
	return "", nil
}

func (f *httpFetcher) FetchSpans(ctx context.Context, project, cursor string, limit int) ([]Span, string, error) {
	path := fmt.Sprintf("/v1/projects/%s/spans?limit=%s", project, strconv.Itoa(limit))
	if cursor != "" {
		path += "&cursor=" + cursor
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, "", err
	}

	if auth, err := f.authHeader(ctx); err != nil {
		return nil, "", err
	} else if auth != "" {
		req.Header.Set("Authorization", auth)
	}

	var page spanPage
	if err := f.client.Do(req, func(r *http.Response) error {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			return err
		}
		if r.StatusCode >= 300 {
			return fmt.Errorf("span store returned status %d: %s", r.StatusCode, string(body))
		}
		return json.Unmarshal(body, &page)
	}); err != nil {
		return nil, "", err
	}

	return page.Data, page.NextCursor, nil
}

// FetchAll paginates until limit spans are collected or the trace store
// reports no further cursor, requesting at most 100 spans per page as the
// original implementation does.
func FetchAll(ctx context.Context, fetcher Fetcher, project string, limit int) ([]Span, error) {
	const pageCap = 100

	var spans []Span
	cursor := ""

	for len(spans) < limit {
		pageSize := limit - len(spans)
		if pageSize > pageCap {
			pageSize = pageCap
		}

		page, next, err := fetcher.FetchSpans(ctx, project, cursor, pageSize)
		if err != nil {
			return nil, fmt.Errorf("fetch spans: %w", err)
		}

		spans = append(spans, page...)

		if next == "" {
			break
		}
		cursor = next
	}

	return spans, nil
}
