package manager

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qget/qget/internal/config"
)

type recorder struct {
	mu        sync.Mutex
	started   []string
	percents  []float64
	completed []string
	errors    []*DownloadError
	cancelled []string

	firstProgress chan struct{}
	progressOnce  sync.Once
}

func newRecorder() *recorder {
	return &recorder{firstProgress: make(chan struct{})}
}

func (r *recorder) events() Events {
	return Events{
		OnStarted: func(url, filename, finalPath string) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.started = append(r.started, finalPath)
		},
		OnProgress: func(url string, percent, speed float64) {
			r.mu.Lock()
			r.percents = append(r.percents, percent)
			r.mu.Unlock()
			r.progressOnce.Do(func() { close(r.firstProgress) })
		},
		OnCompleted: func(url, finalPath string) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.completed = append(r.completed, finalPath)
		},
		OnError: func(url string, err *DownloadError) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.errors = append(r.errors, err)
		},
		OnCancelled: func(url string) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.cancelled = append(r.cancelled, url)
		},
	}
}

func (r *recorder) terminalCounts() (completed, failed, cancelled int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.completed), len(r.errors), len(r.cancelled)
}

func newTestManager(t *testing.T, rec *recorder, workers int) (*Manager, string) {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Settings{
		DownloadFolder:      dir,
		ConcurrentDownloads: workers,
		Timeout:             10 * time.Second,
	}
	return New(cfg, nil, rec.events()), dir
}

func requireNoTempFiles(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.HasSuffix(e.Name(), tempSuffix),
			"leftover temp file: %s", e.Name())
	}
}

func TestDownloadCompletes(t *testing.T) {
	payload := make([]byte, 1000)
	for i := range payload {
		payload[i] = byte(i)
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", fmt.Sprint(len(payload)))
		w.Write(payload)
	}))
	defer server.Close()

	rec := newRecorder()
	mgr, dir := newTestManager(t, rec, 2)

	require.NoError(t, mgr.StartDownload(server.URL+"/data.bin"))
	mgr.Wait()

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.started, 1)
	require.Len(t, rec.completed, 1)
	assert.Empty(t, rec.errors)
	assert.Empty(t, rec.cancelled)

	finalPath := rec.completed[0]
	assert.Equal(t, filepath.Join(dir, "data.bin"), finalPath)

	// Progress percents are in range, non-decreasing, and end at 100.
	require.NotEmpty(t, rec.percents)
	last := 0.0
	for _, p := range rec.percents {
		assert.GreaterOrEqual(t, p, last)
		assert.LessOrEqual(t, p, 100.0)
		last = p
	}
	assert.Equal(t, 100.0, last)

	data, err := os.ReadFile(finalPath)
	require.NoError(t, err)
	assert.Equal(t, payload, data)
	requireNoTempFiles(t, dir)
	assert.Empty(t, mgr.Active())
}

func TestDownloadUnknownLength(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		for i := 0; i < 4; i++ {
			w.Write(make([]byte, 512))
			flusher.Flush()
		}
	}))
	defer server.Close()

	rec := newRecorder()
	mgr, dir := newTestManager(t, rec, 1)
	require.NoError(t, mgr.StartDownload(server.URL+"/stream"))
	mgr.Wait()

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.completed, 1)
	for _, p := range rec.percents {
		assert.Equal(t, 0.0, p, "no fabricated percent for unknown length")
	}
	info, err := os.Stat(rec.completed[0])
	require.NoError(t, err)
	assert.Equal(t, int64(2048), info.Size())
	requireNoTempFiles(t, dir)
}

func TestDuplicateStartRejected(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()

	rec := newRecorder()
	mgr, _ := newTestManager(t, rec, 2)
	url := server.URL + "/slow.bin"

	require.NoError(t, mgr.StartDownload(url))
	err := mgr.StartDownload(url)
	require.Error(t, err)
	kind, ok := KindOf(err)
	require.True(t, ok)
	assert.Equal(t, KindAlreadyInProgress, kind)
	assert.Len(t, mgr.Active(), 1)

	close(release)
	mgr.Wait()

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Len(t, rec.started, 1, "no second session was created")
}

func TestCancelBeforeBytes(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	rec := newRecorder()
	mgr, dir := newTestManager(t, rec, 1)
	url := server.URL + "/never.bin"

	require.NoError(t, mgr.StartDownload(url))
	mgr.Cancel(url)
	mgr.Wait()

	completed, failed, cancelled := rec.terminalCounts()
	assert.Equal(t, 0, completed)
	assert.Equal(t, 0, failed)
	assert.Equal(t, 1, cancelled)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "no file remains on disk")
}

func TestCancellationWinsOverLateFinish(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "1024")
		w.Write(make([]byte, 512))
		w.(http.Flusher).Flush()
		select {
		case <-release:
			w.Write(make([]byte, 512))
		case <-r.Context().Done():
		}
	}))
	defer server.Close()

	rec := newRecorder()
	mgr, dir := newTestManager(t, rec, 1)
	url := server.URL + "/race.bin"

	require.NoError(t, mgr.StartDownload(url))
	<-rec.firstProgress

	// Cancel and let the natural end race it; the cancel must win.
	mgr.Cancel(url)
	close(release)
	mgr.Wait()

	completed, failed, cancelled := rec.terminalCounts()
	assert.Equal(t, 0, completed, "late success must be discarded")
	assert.Equal(t, 0, failed)
	assert.Equal(t, 1, cancelled, "exactly one Cancelled event")
	requireNoTempFiles(t, dir)
	_, err := os.Stat(filepath.Join(dir, "race.bin"))
	assert.True(t, os.IsNotExist(err))
}

func TestIncompleteTransfer(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "5000")
		w.Write(make([]byte, 3000))
	}))
	defer server.Close()

	rec := newRecorder()
	mgr, dir := newTestManager(t, rec, 1)
	require.NoError(t, mgr.StartDownload(server.URL+"/short.bin"))
	mgr.Wait()

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.errors, 1)
	assert.Equal(t, KindIncompleteTransfer, rec.errors[0].Kind)
	assert.Empty(t, rec.completed)
	requireNoTempFiles(t, dir)
}

func TestFilenameCollision(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("payload"))
	}))
	defer server.Close()

	rec := newRecorder()
	mgr, dir := newTestManager(t, rec, 2)

	require.NoError(t, mgr.StartDownload(server.URL+"/a/file.bin"))
	mgr.Wait()
	require.NoError(t, mgr.StartDownload(server.URL+"/b/file.bin"))
	mgr.Wait()

	_, err := os.Stat(filepath.Join(dir, "file.bin"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "file_1.bin"))
	assert.NoError(t, err)
}

func TestFilenameCollisionConcurrent(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
			w.Write([]byte("payload"))
		case <-r.Context().Done():
		}
	}))
	defer server.Close()

	rec := newRecorder()
	mgr, _ := newTestManager(t, rec, 2)

	// Both sessions resolve the same candidate name while in flight; the
	// in-flight temp file reserves the first slot.
	require.NoError(t, mgr.StartDownload(server.URL+"/a/file.bin"))
	require.NoError(t, mgr.StartDownload(server.URL+"/b/file.bin"))
	close(release)
	mgr.Wait()

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.completed, 2)
	assert.NotEqual(t, rec.completed[0], rec.completed[1])
}

func TestConcurrencyLimitQueues(t *testing.T) {
	var inFlight, maxInFlight atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cur := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			prev := maxInFlight.Load()
			if cur <= prev || maxInFlight.CompareAndSwap(prev, cur) {
				break
			}
		}
		time.Sleep(50 * time.Millisecond)
		w.Write([]byte("payload"))
	}))
	defer server.Close()

	rec := newRecorder()
	mgr, _ := newTestManager(t, rec, 1)
	require.NoError(t, mgr.StartDownload(server.URL+"/one.bin"))
	require.NoError(t, mgr.StartDownload(server.URL+"/two.bin"))
	mgr.Wait()

	completed, _, _ := rec.terminalCounts()
	assert.Equal(t, 2, completed)
	assert.LessOrEqual(t, maxInFlight.Load(), int32(1), "admission beyond the limit queues")
}

func TestCustomHeadersSent(t *testing.T) {
	var gotToken, gotAgent atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotToken.Store(r.Header.Get("X-Api-Token"))
		gotAgent.Store(r.Header.Get("User-Agent"))
		w.Write([]byte("payload"))
	}))
	defer server.Close()

	rec := newRecorder()
	cfg := config.Settings{
		DownloadFolder:      t.TempDir(),
		ConcurrentDownloads: 1,
		Timeout:             10 * time.Second,
		UserAgent:           "qget-test",
		Headers:             map[string]string{"X-Api-Token": "secret"},
	}
	mgr := New(cfg, nil, rec.events())

	require.NoError(t, mgr.StartDownload(server.URL+"/f.bin"))
	mgr.Wait()

	assert.Equal(t, "secret", gotToken.Load())
	assert.Equal(t, "qget-test", gotAgent.Load())
}

func TestInvalidURL(t *testing.T) {
	rec := newRecorder()
	mgr, _ := newTestManager(t, rec, 1)

	for _, bad := range []string{"", "ftp://example.com/f", "http://", "://nope"} {
		err := mgr.StartDownload(bad)
		require.Error(t, err, bad)
		kind, ok := KindOf(err)
		require.True(t, ok, bad)
		assert.Equal(t, KindInvalidURL, kind, bad)
	}
	assert.Empty(t, mgr.Active())
}

type stubHistory struct {
	exists bool
	added  []string
}

func (s *stubHistory) Add(url, filename, folder string) error {
	s.added = append(s.added, url)
	return nil
}

func (s *stubHistory) FileExists(url string) bool { return s.exists }

func TestAlreadyDownloadedPolicy(t *testing.T) {
	rec := newRecorder()
	dir := t.TempDir()
	cfg := config.Settings{DownloadFolder: dir, ConcurrentDownloads: 1, Timeout: 10 * time.Second}
	mgr := New(cfg, &stubHistory{exists: true}, rec.events())

	err := mgr.StartDownload("https://example.com/f.bin")
	require.Error(t, err)
	kind, ok := KindOf(err)
	require.True(t, ok)
	assert.Equal(t, KindAlreadyDownloaded, kind)
}

func TestHistoryNotifiedOnCompletion(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("payload"))
	}))
	defer server.Close()

	rec := newRecorder()
	hist := &stubHistory{}
	cfg := config.Settings{DownloadFolder: t.TempDir(), ConcurrentDownloads: 1, Timeout: 10 * time.Second}
	mgr := New(cfg, hist, rec.events())

	url := server.URL + "/f.bin"
	require.NoError(t, mgr.StartDownload(url))
	mgr.Wait()

	require.Len(t, hist.added, 1)
	assert.Equal(t, url, hist.added[0])
}

func TestQueryReportsLiveSession(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "1000")
		w.Write(make([]byte, 500))
		w.(http.Flusher).Flush()
		select {
		case <-release:
			w.Write(make([]byte, 500))
		case <-r.Context().Done():
		}
	}))
	defer server.Close()

	rec := newRecorder()
	mgr, _ := newTestManager(t, rec, 1)
	url := server.URL + "/live.bin"
	require.NoError(t, mgr.StartDownload(url))
	<-rec.firstProgress

	info, ok := mgr.Query(url)
	require.True(t, ok)
	assert.Equal(t, "live.bin", info.Filename)
	assert.Equal(t, int64(1000), info.TotalBytes)
	assert.GreaterOrEqual(t, info.BytesReceived, int64(500))

	name, ok := mgr.Filename(url)
	require.True(t, ok)
	assert.Equal(t, "live.bin", name)
	percent, _, ok := mgr.Progress(url)
	require.True(t, ok)
	assert.GreaterOrEqual(t, percent, 50.0)

	close(release)
	mgr.Wait()
	_, ok = mgr.Query(url)
	assert.False(t, ok, "terminal sessions leave the registry")
}
