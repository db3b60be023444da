package httpapi

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arai051/tunebox/internal/app/notification"
	"github.com/arai051/tunebox/internal/app/playback"
	"github.com/arai051/tunebox/internal/app/queue"
	"github.com/arai051/tunebox/internal/domain/media"
	"github.com/arai051/tunebox/internal/infra/resolver"
)

// fakePlayer implements playback.Player with recorded calls and
// scripted failures.
type fakePlayer struct {
	mu      sync.Mutex
	loadErr error
	loaded  []string
	stops   int
	cycles  int
	volumes []float64
	seeks   []float64
}

func (f *fakePlayer) Load(streamURL string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.loadErr != nil {
		return f.loadErr
	}
	f.loaded = append(f.loaded, streamURL)
	return nil
}

func (f *fakePlayer) SetTitle(string) error { return nil }

func (f *fakePlayer) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	return nil
}

func (f *fakePlayer) CyclePause() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cycles++
	return nil
}

func (f *fakePlayer) SetVolume(volume float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.volumes = append(f.volumes, volume)
	return nil
}

func (f *fakePlayer) SeekPercent(percent float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seeks = append(f.seeks, percent)
	return nil
}

func (f *fakePlayer) IdleActive() (bool, bool)  { return false, false }
func (f *fakePlayer) Paused() (bool, bool)      { return false, false }
func (f *fakePlayer) Position() (float64, bool) { return 0, false }
func (f *fakePlayer) Duration() (float64, bool) { return 0, false }
func (f *fakePlayer) Volume() (float64, bool)   { return 0, false }

type stubWorker struct {
	mu    sync.Mutex
	tasks []string
}

func (s *stubWorker) Enqueue(id, url string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = append(s.tasks, id+" "+url)
}

func (s *stubWorker) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

type stubSearcher struct {
	results []resolver.SearchResult
	err     error
}

func (s *stubSearcher) Search(_ context.Context, _ string) ([]resolver.SearchResult, error) {
	return s.results, s.err
}

type env struct {
	store    *queue.Store
	state    *playback.State
	player   *fakePlayer
	worker   *stubWorker
	searcher *stubSearcher
	hub      *notification.Manager
	mux      *http.ServeMux
}

func newEnv(t *testing.T) *env {
	t.Helper()
	hub := notification.NewManager()
	t.Cleanup(hub.Close)

	store := queue.NewStore(hub)
	state := playback.NewState()
	player := &fakePlayer{}
	director := playback.NewDirector(store, state, player, nil, hub, true)
	worker := &stubWorker{}
	searcher := &stubSearcher{}

	mux := http.NewServeMux()
	NewService(director, store, worker, searcher, hub).Register(mux)

	return &env{
		store:    store,
		state:    state,
		player:   player,
		worker:   worker,
		searcher: searcher,
		hub:      hub,
		mux:      mux,
	}
}

func (e *env) postForm(path string, form url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	e.mux.ServeHTTP(rec, req)
	return rec
}

func (e *env) postJSON(path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.mux.ServeHTTP(rec, req)
	return rec
}

func (e *env) get(path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	e.mux.ServeHTTP(rec, req)
	return rec
}

func (e *env) submitReady(t *testing.T, title string) media.Item {
	t.Helper()
	item := e.store.Submit("https://media.example.com/" + title)
	require.True(t, e.store.AttachResult(item.ID, &media.Resolved{
		Title:     title,
		StreamURL: "https://cdn.example.com/" + title + ".m4a",
		Duration:  60,
		Source:    item.URL,
	}))
	got, err := e.store.Get(item.ID)
	require.NoError(t, err)
	return got
}

func decodeJSON[T any](t *testing.T, body io.Reader) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(body).Decode(&v))
	return v
}

func TestService_Submit(t *testing.T) {
	e := newEnv(t)

	rec := e.postForm("/submit", url.Values{"url": {"https://media.example.com/watch?v=abc"}})
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeJSON[submitResponse](t, rec.Body)
	assert.Len(t, resp.Item.ID, 8)
	assert.Equal(t, "https://media.example.com/watch?v=abc", resp.Item.URL)
	assert.Equal(t, media.StatusPending, resp.Item.Status)
	assert.Equal(t, 1, e.store.Len())
	assert.Equal(t, 1, e.worker.count())
}

func TestService_SubmitValidation(t *testing.T) {
	e := newEnv(t)

	tests := []struct {
		name string
		form url.Values
	}{
		{name: "missing url", form: url.Values{}},
		{name: "blank url", form: url.Values{"url": {"   "}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := e.postForm("/submit", tt.form)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
	assert.Equal(t, 0, e.worker.count())
}

func TestService_Control(t *testing.T) {
	tests := []struct {
		name       string
		action     string
		wantStatus int
		check      func(t *testing.T, e *env)
	}{
		{
			name:       "playpause",
			action:     "playpause",
			wantStatus: http.StatusNoContent,
			check:      func(t *testing.T, e *env) { assert.Equal(t, 1, e.player.cycles) },
		},
		{
			name:       "stop",
			action:     "stop",
			wantStatus: http.StatusNoContent,
			check:      func(t *testing.T, e *env) { assert.Equal(t, 1, e.player.stops) },
		},
		{
			name:       "skip",
			action:     "skip",
			wantStatus: http.StatusNoContent,
		},
		{
			name:       "unknown action",
			action:     "rewind",
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "missing action",
			action:     "",
			wantStatus: http.StatusBadRequest,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t)
			rec := e.postForm("/control", url.Values{"action": {tt.action}})
			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.check != nil {
				tt.check(t, e)
			}
		})
	}
}

func TestService_Volume(t *testing.T) {
	e := newEnv(t)

	rec := e.postForm("/volume", url.Values{"volume": {"42.5"}})
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, []float64{42.5}, e.player.volumes)

	rec = e.postForm("/volume", url.Values{"volume": {"loud"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestService_Seek(t *testing.T) {
	e := newEnv(t)

	rec := e.postForm("/seek", url.Values{"position": {"75"}})
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, []float64{75}, e.player.seeks)

	rec = e.postForm("/seek", url.Values{"position": {"middle"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestService_PlayNow(t *testing.T) {
	t.Run("ready item", func(t *testing.T) {
		e := newEnv(t)
		item := e.submitReady(t, "target")

		rec := e.postForm("/play-now", url.Values{"id": {item.ID}})
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, item.ID, e.state.NowPlayingID())
		assert.Equal(t, 0, e.store.Len())
	})

	t.Run("missing id", func(t *testing.T) {
		e := newEnv(t)
		rec := e.postForm("/play-now", url.Values{})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unknown id", func(t *testing.T) {
		e := newEnv(t)
		rec := e.postForm("/play-now", url.Values{"id": {"missing"}})
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("pending item", func(t *testing.T) {
		e := newEnv(t)
		item := e.store.Submit("https://media.example.com/pending")
		rec := e.postForm("/play-now", url.Values{"id": {item.ID}})
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("player refuses load", func(t *testing.T) {
		e := newEnv(t)
		item := e.submitReady(t, "refused")
		e.player.loadErr = errors.New("player unavailable")

		rec := e.postForm("/play-now", url.Values{"id": {item.ID}})
		assert.Equal(t, http.StatusBadGateway, rec.Code)
		assert.Equal(t, 1, e.store.Len(), "failed item stays queued")
	})
}

func TestService_RemoveItem(t *testing.T) {
	e := newEnv(t)
	item := e.submitReady(t, "doomed")

	rec := e.postForm("/remove-item", url.Values{"id": {item.ID}})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, e.store.Len())

	rec = e.postForm("/remove-item", url.Values{"id": {item.ID}})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = e.postForm("/remove-item", url.Values{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestService_MoveUpDown(t *testing.T) {
	e := newEnv(t)
	a := e.store.Submit("https://media.example.com/a")
	b := e.store.Submit("https://media.example.com/b")

	rec := e.postForm("/move-up", url.Values{"id": {b.ID}})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, b.ID, e.store.Items()[0].ID)

	rec = e.postForm("/move-down", url.Values{"id": {b.ID}})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, a.ID, e.store.Items()[0].ID)

	// Boundary moves are fine, unknown IDs are not
	rec = e.postForm("/move-up", url.Values{"id": {a.ID}})
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = e.postForm("/move-up", url.Values{"id": {"missing"}})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = e.postForm("/move-down", url.Values{"id": {"missing"}})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestService_ReorderQueue(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantStatus int
	}{
		{name: "valid", body: `{"oldIndex":0,"newIndex":2}`, wantStatus: http.StatusNoContent},
		{name: "out of range", body: `{"oldIndex":0,"newIndex":9}`, wantStatus: http.StatusBadRequest},
		{name: "missing newIndex", body: `{"oldIndex":0}`, wantStatus: http.StatusBadRequest},
		{name: "missing oldIndex", body: `{"newIndex":1}`, wantStatus: http.StatusBadRequest},
		{name: "not JSON", body: `oldIndex=0`, wantStatus: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t)
			a := e.store.Submit("https://media.example.com/a")
			e.store.Submit("https://media.example.com/b")
			e.store.Submit("https://media.example.com/c")

			rec := e.postJSON("/reorder-queue", tt.body)
			assert.Equal(t, tt.wantStatus, rec.Code)

			items := e.store.Items()
			if tt.wantStatus == http.StatusNoContent {
				assert.Equal(t, a.ID, items[2].ID)
			} else {
				assert.Equal(t, a.ID, items[0].ID, "rejected reorder must not mutate")
			}
		})
	}
}

func TestService_ShuffleAndClear(t *testing.T) {
	e := newEnv(t)
	for i := 0; i < 4; i++ {
		e.submitReady(t, "track")
	}

	rec := e.postJSON("/shuffle-queue", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, 4, e.store.Len())

	rec = e.postJSON("/clear-queue", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, 0, e.store.Len())
}

func TestService_Autoplay(t *testing.T) {
	e := newEnv(t)

	rec := e.get("/autoplay-status")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decodeJSON[autoplayResponse](t, rec.Body).Enabled)

	rec = e.postJSON("/toggle-autoplay", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decodeJSON[autoplayResponse](t, rec.Body).Enabled)

	rec = e.get("/autoplay-status")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decodeJSON[autoplayResponse](t, rec.Body).Enabled)
}

func TestService_Queue(t *testing.T) {
	e := newEnv(t)
	ready := e.submitReady(t, "listed")
	pending := e.store.Submit("https://media.example.com/waiting")

	rec := e.get("/queue")
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeJSON[queueResponse](t, rec.Body)
	require.Len(t, resp.Items, 2)
	assert.Equal(t, ready.ID, resp.Items[0].ID)
	assert.Equal(t, media.StatusReady, resp.Items[0].Status)
	assert.Equal(t, pending.ID, resp.Items[1].ID)
}

func TestService_Status(t *testing.T) {
	e := newEnv(t)

	rec := e.get("/status")
	require.Equal(t, http.StatusOK, rec.Code)

	status := decodeJSON[notification.StatusPayload](t, rec.Body)
	assert.True(t, status.Paused)
	assert.Nil(t, status.Current)
	assert.Equal(t, 50.0, status.Volume)
}

func TestService_DebugQueue(t *testing.T) {
	e := newEnv(t)
	item := e.submitReady(t, "inspected")

	rec := e.get("/debug-queue")
	require.Equal(t, http.StatusOK, rec.Code)

	debug := decodeJSON[playback.DebugInfo](t, rec.Body)
	require.Len(t, debug.Queue, 1)
	assert.Equal(t, item.ID, debug.Queue[0].ID)
	assert.True(t, debug.Queue[0].HasDetails)
	assert.True(t, debug.Autoplay)
}

func TestService_Search(t *testing.T) {
	t.Run("results", func(t *testing.T) {
		e := newEnv(t)
		e.searcher.results = []resolver.SearchResult{
			{Title: "Song A", Uploader: "Artist", URL: "https://media.example.com/a", Duration: 180},
		}

		rec := e.postJSON("/search", `{"query":"song a"}`)
		require.Equal(t, http.StatusOK, rec.Code)

		resp := decodeJSON[searchResponse](t, rec.Body)
		require.Len(t, resp.Results, 1)
		assert.Equal(t, "Song A", resp.Results[0].Title)
	})

	t.Run("empty query", func(t *testing.T) {
		e := newEnv(t)
		rec := e.postJSON("/search", `{"query":"  "}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("resolver failure", func(t *testing.T) {
		e := newEnv(t)
		e.searcher.err = errors.New("resolver down")
		rec := e.postJSON("/search", `{"query":"song"}`)
		assert.Equal(t, http.StatusBadGateway, rec.Code)
	})
}

func TestService_Events(t *testing.T) {
	e := newEnv(t)
	srv := httptest.NewServer(e.mux)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/events")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	readLine := func() string {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		return strings.TrimRight(line, "\n")
	}

	// Greeting: a status snapshot without an id line.
	assert.Equal(t, "event: status", readLine())
	greeting := readLine()
	require.True(t, strings.HasPrefix(greeting, "data: "))
	status := decodeJSON[notification.StatusPayload](t, strings.NewReader(strings.TrimPrefix(greeting, "data: ")))
	assert.True(t, status.Paused)
	assert.Equal(t, "", readLine())

	// A queue mutation is forwarded with its sequence number as the id.
	item := e.store.Submit("https://media.example.com/streamed")
	assert.Equal(t, "id: 1", readLine())
	assert.Equal(t, "event: queue-update", readLine())
	data := readLine()
	require.True(t, strings.HasPrefix(data, "data: "))
	update := decodeJSON[notification.QueueUpdatePayload](t, strings.NewReader(strings.TrimPrefix(data, "data: ")))
	assert.Equal(t, item.ID, update.ID)
	assert.Equal(t, "", readLine())
}

func TestService_EventsStopsOnDisconnect(t *testing.T) {
	e := newEnv(t)
	srv := httptest.NewServer(e.mux)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	cancel()
	assert.Eventually(t, func() bool {
		return e.hub.SubscriberCount() == 0
	}, time.Second, 10*time.Millisecond, "handler must unsubscribe on disconnect")
}
