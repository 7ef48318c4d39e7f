package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/aangan/internal/logger"
	"github.com/rcliao/aangan/internal/metrics"
	"github.com/rcliao/aangan/internal/model"
	"github.com/rcliao/aangan/internal/offline"
	"github.com/rcliao/aangan/internal/search"
	"github.com/rcliao/aangan/internal/store"
	"github.com/rcliao/aangan/internal/whispers"
)

func newTestServer(t *testing.T, opts Options) *httptest.Server {
	t.Helper()
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"), 3)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	m := metrics.New()
	svc := whispers.NewService(st, logger.Nop(), whispers.Options{Metrics: m})
	srv, err := New(svc, logger.Nop(), m, opts)
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func do(t *testing.T, method, url string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func intp(v int) *int { return &v }

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func createWhisper(t *testing.T, base string, req createWhisperRequest) model.Whisper {
	t.Helper()
	resp := do(t, http.MethodPost, base+"/api/whispers", req)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return decode[model.Whisper](t, resp)
}

func TestWhisperLifecycle(t *testing.T) {
	ts := newTestServer(t, Options{})

	w := createWhisper(t, ts.URL, createWhisperRequest{Content: "The banyan shade remembers.", Emotion: "nostalgia"})
	assert.Nil(t, w.ExpiresAt)
	assert.Equal(t, "nostalgia", w.Emotion)

	resp := do(t, http.MethodGet, ts.URL+"/api/whispers/"+w.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	raw := decode[map[string]any](t, resp)
	assert.Contains(t, raw, "expires_at")
	assert.Nil(t, raw["expires_at"])

	createWhisper(t, ts.URL, createWhisperRequest{Content: "already gone", TTL: "-1s"})
	page := decode[store.Page](t, do(t, http.MethodGet, ts.URL+"/api/whispers", nil))
	require.Len(t, page.Whispers, 1)
	assert.Equal(t, w.ID, page.Whispers[0].ID)

	resp = do(t, http.MethodDelete, ts.URL+"/api/whispers/"+w.ID, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp = do(t, http.MethodGet, ts.URL+"/api/whispers/"+w.ID, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp = do(t, http.MethodDelete, ts.URL+"/api/whispers/"+w.ID, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode, "delete is idempotent")
}

func TestValidationErrors(t *testing.T) {
	ts := newTestServer(t, Options{})

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{"empty content", http.MethodPost, "/api/whispers", createWhisperRequest{Content: "  "}, http.StatusBadRequest},
		{"bad ttl", http.MethodPost, "/api/whispers", createWhisperRequest{Content: "x", TTL: "forever"}, http.StatusBadRequest},
		{"bad limit", http.MethodGet, "/api/whispers?limit=-3", nil, http.StatusBadRequest},
		{"bad cursor", http.MethodGet, "/api/whispers?cursor=not-a-cursor!", nil, http.StatusBadRequest},
		{"missing whisper", http.MethodGet, "/api/whispers/01ARZ3NDEKTSV4RRFFQ69G5FAV", nil, http.StatusNotFound},
		{"search zero top_k", http.MethodPost, "/api/search", searchRequest{Vector: []float32{1, 0, 0}, TopK: intp(0)}, http.StatusBadRequest},
		{"similar zero top_k", http.MethodGet, "/api/whispers/01ARZ3NDEKTSV4RRFFQ69G5FAV/similar?top_k=0", nil, http.StatusBadRequest},
		{"search without query", http.MethodPost, "/api/search", searchRequest{}, http.StatusBadRequest},
		{"search wrong dims", http.MethodPost, "/api/search", searchRequest{Vector: []float32{1, 0}}, http.StatusBadRequest},
		{"search text without embedder", http.MethodPost, "/api/search", searchRequest{Text: "rain"}, http.StatusServiceUnavailable},
		{"empty push token", http.MethodPost, "/api/push/tokens", tokenRequest{}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := do(t, tt.method, ts.URL+tt.path, tt.body)
			assert.Equal(t, tt.want, resp.StatusCode)
			body := decode[map[string]string](t, resp)
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestReactions(t *testing.T) {
	ts := newTestServer(t, Options{ReactionRPS: 0.001, ReactionBurst: 3})
	w := createWhisper(t, ts.URL, createWhisperRequest{Content: "chai at dusk"})
	url := ts.URL + "/api/whispers/" + w.ID + "/reactions"

	for _, emoji := range []string{"heart", "heart", "hug"} {
		resp := do(t, http.MethodPost, url, reactionRequest{GuestID: "guest-1", Emoji: emoji})
		require.Equal(t, http.StatusCreated, resp.StatusCode)
	}
	resp := do(t, http.MethodPost, url, reactionRequest{GuestID: "guest-1", Emoji: "heart"})
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)

	resp = do(t, http.MethodPost, url, reactionRequest{GuestID: "guest-2", Emoji: "shrug"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	body := decode[struct {
		Counts    []model.ReactionCount `json:"counts"`
		Reactions []model.Reaction      `json:"reactions"`
	}](t, do(t, http.MethodGet, url, nil))
	require.Len(t, body.Counts, 2)
	assert.Equal(t, model.ReactionCount{Emoji: "heart", Count: 2}, body.Counts[0])
	assert.Len(t, body.Reactions, 3)

	resp = do(t, http.MethodPost, ts.URL+"/api/whispers/01ARZ3NDEKTSV4RRFFQ69G5FAV/reactions", reactionRequest{GuestID: "guest-3", Emoji: "heart"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestReactionGuestValidation(t *testing.T) {
	ts := newTestServer(t, Options{ReactionRPS: 0.001, ReactionBurst: 1})
	w := createWhisper(t, ts.URL, createWhisperRequest{Content: "monsoon"})
	url := ts.URL + "/api/whispers/" + w.ID + "/reactions"

	resp := do(t, http.MethodPost, url, reactionRequest{GuestID: "   ", Emoji: "heart"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp = do(t, http.MethodPost, url, reactionRequest{GuestID: strings.Repeat("g", store.MaxGuestIDLen+1), Emoji: "heart"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// rejected ids never reach the limiter, so a valid guest still has its burst
	resp = do(t, http.MethodPost, url, reactionRequest{GuestID: "guest-1", Emoji: "heart"})
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	resp = do(t, http.MethodPost, url, reactionRequest{GuestID: " guest-1 ", Emoji: "heart"})
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode, "padding does not mint a fresh limiter")
}

func TestLimiterPoolEviction(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	p := newLimiterPool(1, 1)
	p.now = func() time.Time { return now }

	assert.True(t, p.Allow("a"))
	assert.False(t, p.Allow("a"))
	p.Allow("b")
	assert.Equal(t, 2, p.size())

	now = now.Add(limiterTTL + limiterSweep)
	p.Allow("c")
	assert.Equal(t, 1, p.size(), "idle guests are evicted")

	for i := 0; i < maxLimiters+50; i++ {
		p.Allow(fmt.Sprintf("guest-%d", i))
	}
	assert.LessOrEqual(t, p.size(), maxLimiters)
}

func TestEmbeddingAndSearch(t *testing.T) {
	ts := newTestServer(t, Options{})
	a := createWhisper(t, ts.URL, createWhisperRequest{Content: "A"})
	b := createWhisper(t, ts.URL, createWhisperRequest{Content: "B"})

	for id, vec := range map[string][]float32{a.ID: {1, 0, 0}, b.ID: {0, 1, 0}} {
		resp := do(t, http.MethodPut, ts.URL+"/api/whispers/"+id+"/embedding", embeddingRequest{Vector: vec})
		require.Equal(t, http.StatusNoContent, resp.StatusCode)
	}
	resp := do(t, http.MethodPut, ts.URL+"/api/whispers/"+a.ID+"/embedding", embeddingRequest{Vector: []float32{1, 0}})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	emb := decode[model.Embedding](t, do(t, http.MethodGet, ts.URL+"/api/whispers/"+a.ID+"/embedding", nil))
	assert.Equal(t, []float32{1, 0, 0}, emb.Vector)

	res := decode[searchResponse](t, do(t, http.MethodPost, ts.URL+"/api/search", searchRequest{Vector: []float32{1, 0, 0}, TopK: intp(1)}))
	require.Len(t, res.Results, 1)
	assert.Equal(t, a.ID, res.Results[0].Whisper.ID)
	assert.InDelta(t, 1.0, res.Results[0].Score, 1e-6)

	res = decode[searchResponse](t, do(t, http.MethodPost, ts.URL+"/api/search", searchRequest{Vector: []float32{1, 0, 0}, TopK: intp(500)}))
	assert.Len(t, res.Results, 2, "top_k above the candidate count returns every candidate")

	res = decode[searchResponse](t, do(t, http.MethodGet, ts.URL+"/api/whispers/"+a.ID+"/similar?top_k=5", nil))
	require.Len(t, res.Results, 1)
	assert.Equal(t, b.ID, res.Results[0].Whisper.ID)

	resp = do(t, http.MethodDelete, ts.URL+"/api/whispers/"+b.ID+"/embedding", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp = do(t, http.MethodGet, ts.URL+"/api/whispers/"+b.ID+"/embedding", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestPushTokens(t *testing.T) {
	ts := newTestServer(t, Options{})
	resp := do(t, http.MethodPost, ts.URL+"/api/push/tokens", tokenRequest{Token: "tok-1"})
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp = do(t, http.MethodDelete, ts.URL+"/api/push/tokens", tokenRequest{Token: "tok-1"})
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp = do(t, http.MethodDelete, ts.URL+"/api/push/tokens", tokenRequest{Token: "tok-1"})
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestOfflineManifestAndShell(t *testing.T) {
	ts := newTestServer(t, Options{GenerationPrefix: "courtyard"})

	doc := decode[offline.Document](t, do(t, http.MethodGet, ts.URL+"/offline/manifest.json", nil))
	assert.Regexp(t, `^courtyard-[0-9a-f]{12}$`, doc.Generation)
	assert.ElementsMatch(t, DefaultManifestKeys, doc.Keys)

	for _, k := range doc.Keys {
		resp := do(t, http.MethodGet, ts.URL+k, nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode, k)
	}
}

func TestOfflineCoordinatorAgainstServer(t *testing.T) {
	ts := newTestServer(t, Options{})
	ctx := t.Context()

	f := offline.NewHTTPFetcher(ts.URL)
	doc, err := f.Manifest(ctx, "/offline/manifest.json")
	require.NoError(t, err)

	st, err := offline.OpenMemStorage()
	require.NoError(t, err)
	defer st.Close()
	c, err := offline.NewCoordinator(st, f, offline.NewWriterNotifier(&bytes.Buffer{}), logger.Nop(), offline.Options{})
	require.NoError(t, err)
	require.NoError(t, c.Update(ctx, doc.Generation, offline.Manifest{Keys: doc.Keys}))

	ts.Close()
	e, err := c.Fetch(ctx, "/offline.html")
	require.NoError(t, err)
	assert.Contains(t, string(e.Body), "courtyard is quiet")
}

func TestHealthAndMetrics(t *testing.T) {
	ts := newTestServer(t, Options{})
	resp := do(t, http.MethodGet, ts.URL+"/healthz", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	createWhisper(t, ts.URL, createWhisperRequest{Content: "counted"})
	resp = do(t, http.MethodGet, ts.URL+"/metrics", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var buf bytes.Buffer
	buf.ReadFrom(resp.Body)
	assert.Contains(t, buf.String(), `aangan_whispers_total{event="created"} 1`)
	assert.Contains(t, buf.String(), `route="/api/whispers"`)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, statusFor(store.ErrDimensionMismatch))
	assert.Equal(t, http.StatusServiceUnavailable, statusFor(&store.StorageError{Op: "x", Err: assert.AnError}))
	assert.Equal(t, http.StatusServiceUnavailable, statusFor(search.ErrNoEmbedder))
	assert.Equal(t, http.StatusInternalServerError, statusFor(assert.AnError))
}

func TestTopKFrom(t *testing.T) {
	k, err := topKFrom(nil)
	require.NoError(t, err)
	assert.Equal(t, defaultTopK, k)

	big := 1000
	k, err = topKFrom(&big)
	require.NoError(t, err)
	assert.Equal(t, 1000, k, "large values are not capped")

	for _, bad := range []int{0, -1} {
		_, err = topKFrom(&bad)
		assert.ErrorIs(t, err, store.ErrValidation)
	}
}
