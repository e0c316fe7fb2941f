package manager

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/qget/qget/internal/utils"
)

const tempSuffix = utils.TempSuffix

// transferBufferSize is the chunk granularity for the stream loop; byte
// counters and progress updates advance once per chunk.
const transferBufferSize = 256 * 1024

// outcome is the typed result a worker hands to the resolver instead of
// signalling across goroutines with ad hoc errors.
type outcome struct {
	// err carries the failure, nil on a clean complete stream.
	err *DownloadError
	// aborted is set when the transfer ended because the cancel token
	// fired; the resolver owns reporting, so no error is attached.
	aborted bool
}

// runTransfer owns one session's network exchange: issue the request,
// stream the body into the open temp file, advance byte counters, and emit
// a progress update per chunk. It observes the session's cancel token at
// the connect and read suspension points.
func runTransfer(sess *Session, client utils.HTTPDoer, onChunk func(*Session)) outcome {
	req, err := http.NewRequestWithContext(sess.ctx, http.MethodGet, sess.URL, nil)
	if err != nil {
		return outcome{err: downloadErr(KindNetworkError, sess.URL, err)}
	}
	req.Header.Set("Connection", "keep-alive")

	resp, err := client.Do(req)
	if err != nil {
		if wasAborted(sess, err) {
			return outcome{aborted: true}
		}
		return outcome{err: downloadErr(KindNetworkError, sess.URL, err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return outcome{err: downloadErr(KindNetworkError, sess.URL,
			fmt.Errorf("unexpected status code: %d", resp.StatusCode))}
	}
	if resp.ContentLength > 0 {
		sess.totalBytes.Store(resp.ContentLength)
	}

	buffer := make([]byte, transferBufferSize)
	for {
		bytesRead, readErr := resp.Body.Read(buffer)
		if bytesRead > 0 {
			if _, writeErr := sess.tempFile.Write(buffer[:bytesRead]); writeErr != nil {
				return outcome{err: downloadErr(KindNetworkError, sess.URL,
					fmt.Errorf("writing temp file: %w", writeErr))}
			}
			sess.bytesReceived.Add(int64(bytesRead))
			onChunk(sess)
		}
		if readErr != nil {
			// An unexpected EOF is a short body; fall through to the
			// length check instead of reporting a transport error.
			if readErr == io.EOF || errors.Is(readErr, io.ErrUnexpectedEOF) {
				break
			}
			if wasAborted(sess, readErr) {
				return outcome{aborted: true}
			}
			return outcome{err: downloadErr(KindNetworkError, sess.URL, readErr)}
		}
	}

	if err := sess.tempFile.Sync(); err != nil {
		logger := utils.GetLogger("worker")
		logger.Debug().Err(err).Msg("Temp file sync failed")
	}

	if total := sess.TotalBytes(); total > 0 && sess.BytesReceived() != total {
		return outcome{err: downloadErr(KindIncompleteTransfer, sess.URL,
			fmt.Errorf("received %d of %d bytes", sess.BytesReceived(), total))}
	}
	return outcome{}
}

// wasAborted distinguishes cancellation-induced transport failures from
// real ones so aborts are not double-reported as network errors.
func wasAborted(sess *Session, err error) bool {
	return sess.ctx.Err() != nil || errors.Is(err, context.Canceled)
}
