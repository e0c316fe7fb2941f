package manager

// Events is the notification surface toward the presentation layer, one
// callback per event kind. Nil callbacks are skipped. Callbacks run on the
// session's worker goroutine and must not block.
type Events struct {
	OnStarted   func(url, filename, finalPath string)
	OnProgress  func(url string, percent, bytesPerSec float64)
	OnCompleted func(url, finalPath string)
	OnError     func(url string, err *DownloadError)
	OnCancelled func(url string)
}

func (e Events) started(url, filename, finalPath string) {
	if e.OnStarted != nil {
		e.OnStarted(url, filename, finalPath)
	}
}

func (e Events) progress(url string, percent, bytesPerSec float64) {
	if e.OnProgress != nil {
		e.OnProgress(url, percent, bytesPerSec)
	}
}

func (e Events) completed(url, finalPath string) {
	if e.OnCompleted != nil {
		e.OnCompleted(url, finalPath)
	}
}

func (e Events) failed(url string, err *DownloadError) {
	if e.OnError != nil {
		e.OnError(url, err)
	}
}

func (e Events) cancelled(url string) {
	if e.OnCancelled != nil {
		e.OnCancelled(url)
	}
}
