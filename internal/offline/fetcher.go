package offline

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// maxEntryBytes caps a single cached response.
const maxEntryBytes = 8 << 20

// Fetcher retrieves a resource from the network.
type Fetcher interface {
	Fetch(ctx context.Context, key string) (Entry, error)
}

// HTTPFetcher resolves keys as paths against BaseURL.
type HTTPFetcher struct {
	BaseURL string
	Client  *http.Client
}

// NewHTTPFetcher creates a fetcher for the server at baseURL.
func NewHTTPFetcher(baseURL string) *HTTPFetcher {
	return &HTTPFetcher{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Client:  &http.Client{Timeout: 15 * time.Second},
	}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, key string) (Entry, error) {
	resp, err := f.get(ctx, key)
	if err != nil {
		return Entry{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxEntryBytes+1))
	if err != nil {
		return Entry{}, fmt.Errorf("read %s: %w", key, err)
	}
	if len(body) > maxEntryBytes {
		return Entry{}, fmt.Errorf("fetch %s: response larger than %d bytes", key, maxEntryBytes)
	}
	return Entry{
		ContentType: resp.Header.Get("Content-Type"),
		Body:        body,
		CachedAt:    time.Now().UTC(),
	}, nil
}

// Manifest fetches the server's published manifest document from path.
func (f *HTTPFetcher) Manifest(ctx context.Context, path string) (Document, error) {
	resp, err := f.get(ctx, path)
	if err != nil {
		return Document{}, err
	}
	defer resp.Body.Close()

	var doc Document
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return Document{}, fmt.Errorf("decode manifest: %w", err)
	}
	return doc, nil
}

func (f *HTTPFetcher) get(ctx context.Context, key string) (*http.Response, error) {
	if !strings.HasPrefix(key, "/") {
		key = "/" + key
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.BaseURL+key, nil)
	if err != nil {
		return nil, err
	}
	resp, err := f.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", key, err)
	}
	if resp.StatusCode/100 != 2 {
		resp.Body.Close()
		return nil, fmt.Errorf("fetch %s: status %d", key, resp.StatusCode)
	}
	return resp, nil
}
