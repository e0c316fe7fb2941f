// Package output renders live download status to the terminal. It consumes
// the manager's event callbacks and redraws one line per session on a
// ticker until stopped.
package output

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/term"
)

type sessionLine struct {
	URL       string
	Filename  string
	Percent   float64
	Speed     float64
	Message   string
	Status    string // pending, active, success, error, cancelled
	StartTime time.Time
	Index     int
}

// Display is the live terminal view of all sessions.
type Display struct {
	mu        sync.RWMutex
	lines     map[string]*sessionLine
	numLines  int
	doneCh    chan struct{}
	displayWg sync.WaitGroup
	tick      time.Duration
	count     int
}

func NewDisplay() *Display {
	return &Display{
		lines:  make(map[string]*sessionLine),
		doneCh: make(chan struct{}),
		tick:   300 * time.Millisecond,
	}
}

// Start begins the redraw loop.
func (d *Display) Start() {
	d.displayWg.Add(1)
	go func() {
		defer d.displayWg.Done()
		ticker := time.NewTicker(d.tick)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				d.redraw()
			case <-d.doneCh:
				d.redraw()
				return
			}
		}
	}()
}

// Stop renders a final frame and stops the loop.
func (d *Display) Stop() {
	close(d.doneCh)
	d.displayWg.Wait()
}

// Started registers a session line.
func (d *Display) Started(url, filename, finalPath string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.count++
	d.lines[url] = &sessionLine{
		URL:       url,
		Filename:  filename,
		Status:    "active",
		Message:   fmt.Sprintf("Downloading %s", filename),
		StartTime: time.Now(),
		Index:     d.count,
	}
}

// Progress updates a session's live counters.
func (d *Display) Progress(url string, percent, speed float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if line, ok := d.lines[url]; ok {
		line.Percent = percent
		line.Speed = speed
	}
}

// Completed marks a session done.
func (d *Display) Completed(url, finalPath string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if line, ok := d.lines[url]; ok {
		line.Status = "success"
		line.Percent = 100
		line.Message = fmt.Sprintf("Saved %s", finalPath)
	}
}

// Failed marks a session errored.
func (d *Display) Failed(url string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if line, ok := d.lines[url]; ok {
		line.Status = "error"
		line.Message = err.Error()
	}
}

// Cancelled marks a session cancelled.
func (d *Display) Cancelled(url string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if line, ok := d.lines[url]; ok {
		line.Status = "cancelled"
		line.Message = "Cancelled"
	}
}

// HadErrors reports whether any session ended in error.
func (d *Display) HadErrors() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, line := range d.lines {
		if line.Status == "error" {
			return true
		}
	}
	return false
}

func statusIndicator(status string) string {
	switch status {
	case "success":
		return successStyle.Render(StyleSymbols["pass"])
	case "error":
		return errorStyle.Render(StyleSymbols["fail"])
	case "cancelled":
		return warningStyle.Render(StyleSymbols["warning"])
	default:
		return pendingStyle.Render(StyleSymbols["pending"])
	}
}

func progressBar(percent float64, width int) string {
	if width <= 0 {
		width = 30
	}
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	filled := int(percent / 100 * float64(width))
	bar := StyleSymbols["bullet"] + strings.Repeat(StyleSymbols["hline"], filled)
	if filled < width {
		bar += strings.Repeat(" ", width-filled)
	}
	bar += StyleSymbols["bullet"]
	return debugStyle.Render(fmt.Sprintf("%s %5.1f%%", bar, percent))
}

func (d *Display) redraw() {
	d.mu.RLock()
	defer d.mu.RUnlock()

	_, termHeight, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || termHeight <= 0 {
		termHeight = 24
	}
	availableLines := termHeight - 2

	if d.numLines > 0 {
		fmt.Printf("\033[%dA\033[J", d.numLines)
	}

	ordered := make([]*sessionLine, 0, len(d.lines))
	for _, line := range d.lines {
		ordered = append(ordered, line)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Index < ordered[j].Index })

	lineCount := 0
	for _, line := range ordered {
		if lineCount >= availableLines {
			break
		}
		indicator := statusIndicator(line.Status)
		switch line.Status {
		case "active":
			speed := humanize.Bytes(uint64(line.Speed)) + "/s"
			fmt.Printf("  %s %s %s %s\n", indicator, progressBar(line.Percent, 30),
				debugStyle.Render(speed), pendingStyle.Render(line.Filename))
		case "success":
			fmt.Printf("  %s %s\n", indicator, successStyle.Render(line.Message))
		case "error":
			fmt.Printf("  %s %s\n", indicator, errorStyle.Render(line.Message))
		default:
			fmt.Printf("  %s %s\n", indicator, warningStyle.Render(line.Message))
		}
		lineCount++
	}
	d.numLines = lineCount
}
