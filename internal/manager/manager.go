// Package manager implements the download orchestrator: it creates, tracks,
// and tears down one transfer session per URL, streams bodies to disk
// through per-session workers, and resolves the race between transfer
// completion and user cancellation so every session reaches exactly one
// terminal state.
package manager

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"

	"github.com/qget/qget/internal/config"
	"github.com/qget/qget/internal/utils"
)

// HistoryStore is the persistence collaborator notified on successful
// completion and consulted before admission.
type HistoryStore interface {
	Add(url, filename, folder string) error
	FileExists(url string) bool
}

// Manager is the download orchestrator. One worker goroutine runs per
// admitted session; admissions beyond the configured concurrency limit
// queue in Pending until a slot frees up.
type Manager struct {
	folder  string
	client  utils.HTTPDoer
	events  Events
	reg     *registry
	history HistoryStore
	log     zerolog.Logger

	sem     chan struct{}
	wg      sync.WaitGroup
	startMu sync.Mutex
}

// New builds a Manager from settings. history may be nil, in which case the
// already-downloaded policy check is skipped.
func New(cfg config.Settings, history HistoryStore, events Events) *Manager {
	limit := cfg.ConcurrentDownloads
	if limit < 1 {
		limit = 1
	}
	client := utils.NewQgetHTTPClient(utils.HTTPClientConfig{
		Timeout:   cfg.Timeout,
		UserAgent: cfg.UserAgent,
		ProxyURL:  cfg.ProxyURL,
	})
	for key, value := range cfg.Headers {
		client.SetHeader(key, value)
	}
	return &Manager{
		folder:  cfg.DownloadFolder,
		client:  client,
		events:  events,
		reg:     newRegistry(),
		history: history,
		log:     utils.GetLogger("manager"),
		sem:     make(chan struct{}, limit),
	}
}

// StartDownload validates and admits a session for rawURL, opens its temp
// file, emits Started, and spawns the transfer worker. All rejections are
// synchronous and scoped to this URL; an error here never touches other
// sessions.
func (m *Manager) StartDownload(rawURL string) error {
	if err := validateURL(rawURL); err != nil {
		return err
	}
	if m.history != nil && m.history.FileExists(rawURL) {
		return downloadErr(KindAlreadyDownloaded, rawURL, nil)
	}

	m.startMu.Lock()
	sess, err := m.admit(rawURL)
	m.startMu.Unlock()
	if err != nil {
		return err
	}

	m.log.Debug().Msgf("Admitted %s as %s", sess.URL, sess.Filename)
	m.events.started(sess.URL, sess.Filename, sess.FinalPath)

	m.wg.Add(1)
	go m.run(sess)
	return nil
}

// admit performs the registry check, path resolution, and temp file open as
// one serialized step. Callers hold startMu.
func (m *Manager) admit(rawURL string) (*Session, error) {
	if _, exists := m.reg.lookup(rawURL); exists {
		return nil, downloadErr(KindAlreadyInProgress, rawURL, nil)
	}
	if err := os.MkdirAll(m.folder, 0755); err != nil {
		return nil, downloadErr(KindDirectoryCreateFailed, rawURL, err)
	}

	filename := utils.SanitizeFilename(utils.FilenameFromURL(rawURL))
	finalPath := utils.AvailablePath(m.folder, filename)
	sess := newSession(rawURL, filepath.Base(finalPath), finalPath)

	tempFile, err := os.OpenFile(sess.TempPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return nil, downloadErr(KindTempFileOpenFailed, rawURL, err)
	}
	sess.tempFile = tempFile

	if !m.reg.admit(sess) {
		// Unreachable while admissions are serialized, but never leak the
		// temp file if it ever trips.
		tempFile.Close()
		os.Remove(sess.TempPath)
		return nil, downloadErr(KindAlreadyInProgress, rawURL, nil)
	}
	return sess, nil
}

// Cancel requests cancellation for the session owning url. A no-op when no
// session is active. The recorded outcome is Cancelled from the moment the
// request is accepted; the worker may take a moment to release its handles.
func (m *Manager) Cancel(rawURL string) {
	sess, ok := m.reg.lookup(rawURL)
	if !ok {
		return
	}
	m.log.Debug().Msgf("Cancel requested for %s", rawURL)
	sess.requestCancel()
}

// CancelAll requests cancellation of every active session.
func (m *Manager) CancelAll() {
	for _, sess := range m.reg.all() {
		sess.requestCancel()
	}
}

// Wait blocks until every admitted session has reached a terminal state.
func (m *Manager) Wait() {
	m.wg.Wait()
}

// Active returns the URLs of all non-terminal sessions.
func (m *Manager) Active() []string {
	return m.reg.urls()
}

// Query reports a snapshot of the live session for url.
func (m *Manager) Query(rawURL string) (SessionInfo, bool) {
	sess, ok := m.reg.lookup(rawURL)
	if !ok {
		return SessionInfo{}, false
	}
	percent, speed := snapshot(sess)
	return SessionInfo{
		URL:             sess.URL,
		Filename:        sess.Filename,
		FinalPath:       sess.FinalPath,
		State:           sess.State(),
		BytesReceived:   sess.BytesReceived(),
		TotalBytes:      sess.TotalBytes(),
		Percent:         percent,
		BytesPerSec:     speed,
		CancelRequested: sess.CancelRequested(),
	}, true
}

// Progress reports the live percent and transfer speed for url.
func (m *Manager) Progress(rawURL string) (percent, bytesPerSec float64, ok bool) {
	sess, found := m.reg.lookup(rawURL)
	if !found {
		return 0, 0, false
	}
	percent, bytesPerSec = snapshot(sess)
	return percent, bytesPerSec, true
}

// Filename reports the resolved on-disk name for url's session.
func (m *Manager) Filename(rawURL string) (string, bool) {
	sess, found := m.reg.lookup(rawURL)
	if !found {
		return "", false
	}
	return sess.Filename, true
}

// SessionInfo is a point-in-time view of one active session.
type SessionInfo struct {
	URL             string
	Filename        string
	FinalPath       string
	State           State
	BytesReceived   int64
	TotalBytes      int64
	Percent         float64
	BytesPerSec     float64
	CancelRequested bool
}

// run drives one session from admission to its terminal state.
func (m *Manager) run(sess *Session) {
	defer m.wg.Done()

	// Queue for a download slot; a cancel while queued resolves the
	// session without ever touching the network.
	select {
	case m.sem <- struct{}{}:
	case <-sess.ctx.Done():
		m.resolve(sess, outcome{aborted: true})
		return
	}
	defer func() { <-m.sem }()

	if !sess.activate() {
		m.resolve(sess, outcome{aborted: true})
		return
	}

	out := runTransfer(sess, m.client, m.emitProgress)
	m.resolve(sess, out)
}

func (m *Manager) emitProgress(sess *Session) {
	percent, speed := snapshot(sess)
	m.events.progress(sess.URL, percent, speed)
}

// resolve is the cancellation coordinator: it commits the single terminal
// transition for the session, runs cleanup, and emits the one terminal
// event. Cancellation, once requested, wins over a late-arriving success or
// failure from the same session's worker.
func (m *Manager) resolve(sess *Session, out outcome) {
	natural := StateCompleted
	if out.aborted {
		natural = StateCancelled
	} else if out.err != nil {
		natural = StateFailed
	}

	terminal, won := sess.resolveTerminal(natural)
	if !won {
		// Some other path already resolved this session.
		return
	}
	sess.cancel()
	sess.tempFile.Close()

	switch terminal {
	case StateCompleted:
		m.finalize(sess)
	case StateFailed:
		m.removeTemp(sess)
		m.reg.remove(sess.URL)
		m.log.Debug().Err(out.err).Msgf("Download failed for %s", sess.URL)
		m.events.failed(sess.URL, out.err)
	case StateCancelled:
		m.removeTemp(sess)
		m.reg.remove(sess.URL)
		m.log.Debug().Msgf("Download cancelled for %s", sess.URL)
		m.events.cancelled(sess.URL)
	}
}

// finalize promotes the temp file to its public name. This is the only code
// path that creates a file at FinalPath. A pre-existing file there is
// overwritten, last writer wins. On rename failure the session records
// Failed and the temp file stays put for diagnosis.
func (m *Manager) finalize(sess *Session) {
	if _, err := os.Stat(sess.FinalPath); err == nil {
		os.Remove(sess.FinalPath)
	}
	if err := os.Rename(sess.TempPath, sess.FinalPath); err != nil {
		sess.state.Store(int32(StateFailed))
		m.reg.remove(sess.URL)
		m.events.failed(sess.URL, downloadErr(KindRenameFailed, sess.URL, err))
		return
	}
	if m.history != nil {
		if err := m.history.Add(sess.URL, sess.Filename, m.folder); err != nil {
			m.log.Warn().Err(err).Msg("Could not record download in history")
		}
	}
	m.reg.remove(sess.URL)
	m.log.Info().Msgf("Download complete: %s", sess.FinalPath)
	m.events.completed(sess.URL, sess.FinalPath)
}

func (m *Manager) removeTemp(sess *Session) {
	if err := os.Remove(sess.TempPath); err != nil && !os.IsNotExist(err) {
		m.log.Warn().Err(err).Msgf("Could not remove temp file %s", sess.TempPath)
	}
}

func validateURL(rawURL string) error {
	if rawURL == "" {
		return downloadErr(KindInvalidURL, rawURL, fmt.Errorf("URL cannot be empty"))
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return downloadErr(KindInvalidURL, rawURL, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return downloadErr(KindInvalidURL, rawURL, fmt.Errorf("unsupported scheme: %q", parsed.Scheme))
	}
	if parsed.Host == "" {
		return downloadErr(KindInvalidURL, rawURL, fmt.Errorf("missing host"))
	}
	return nil
}
