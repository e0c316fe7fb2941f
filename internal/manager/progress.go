package manager

import "time"

// speedEpsilon floors the elapsed time in speed math so the first
// measurement tick never divides by zero.
const speedEpsilon = 0.001

// snapshot derives live progress from a session's counters. Pure function
// of session state at the moment of the call.
//
// Percent is clamped to [0,100] and stays 0 for unknown-length bodies; no
// percentage is fabricated when the server sent no Content-Length.
func snapshot(sess *Session) (percent, bytesPerSec float64) {
	received := float64(sess.BytesReceived())
	if total := sess.TotalBytes(); total > 0 {
		percent = received / float64(total) * 100
		if percent < 0 {
			percent = 0
		}
		if percent > 100 {
			percent = 100
		}
	}
	elapsed := time.Since(sess.StartedAt).Seconds()
	if elapsed < speedEpsilon {
		elapsed = speedEpsilon
	}
	bytesPerSec = received / elapsed
	return percent, bytesPerSec
}
