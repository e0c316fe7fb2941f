package manager

import (
	"errors"
	"fmt"
)

// ErrorKind classifies every fatal per-session failure. Each error is scoped
// to its own session and reported once.
type ErrorKind int

const (
	KindInvalidURL ErrorKind = iota
	KindAlreadyInProgress
	KindAlreadyDownloaded
	KindDirectoryCreateFailed
	KindTempFileOpenFailed
	KindNetworkError
	KindIncompleteTransfer
	KindRenameFailed
)

func (k ErrorKind) String() string {
	switch k {
	case KindInvalidURL:
		return "invalid URL"
	case KindAlreadyInProgress:
		return "download already in progress"
	case KindAlreadyDownloaded:
		return "already downloaded"
	case KindDirectoryCreateFailed:
		return "cannot create directory"
	case KindTempFileOpenFailed:
		return "cannot create temp file"
	case KindNetworkError:
		return "network error"
	case KindIncompleteTransfer:
		return "incomplete transfer"
	case KindRenameFailed:
		return "rename failed"
	}
	return "unknown error"
}

// DownloadError is the typed failure value carried on a session's
// completion path and returned from StartDownload.
type DownloadError struct {
	Kind ErrorKind
	URL  string
	Err  error
}

func (e *DownloadError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return e.Kind.String()
}

func (e *DownloadError) Unwrap() error { return e.Err }

func downloadErr(kind ErrorKind, url string, err error) *DownloadError {
	return &DownloadError{Kind: kind, URL: url, Err: err}
}

// KindOf extracts the ErrorKind from err, or KindNetworkError, false when
// err is not a DownloadError.
func KindOf(err error) (ErrorKind, bool) {
	var de *DownloadError
	if errors.As(err, &de) {
		return de.Kind, true
	}
	return KindNetworkError, false
}
