package utils

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"unicode"
)

// TempSuffix marks an in-flight download artifact on disk.
const TempSuffix = ".downloading"

const fallbackName = "download"

const maxFilenameRunes = 255

func isAllowedPunct(r rune) bool {
	switch r {
	case ' ', '-', '_', '.', '(', ')', '[', ']':
		return true
	}
	return false
}

// FilenameFromURL derives a candidate filename from the last path segment
// of the URL, percent-decoded. Returns "download" when the path is empty.
func FilenameFromURL(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Path == "" {
		return fallbackName
	}
	segments := strings.Split(parsed.Path, "/")
	candidate := segments[len(segments)-1]
	if decoded, err := url.PathUnescape(candidate); err == nil {
		candidate = decoded
	}
	if candidate == "" {
		return fallbackName
	}
	return candidate
}

// SanitizeFilename strips everything but letters, digits, and a small
// punctuation allow-list, collapses whitespace runs, caps the length at 255
// runes, and guards against hidden-file names.
func SanitizeFilename(name string) string {
	var b strings.Builder
	for _, r := range name {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || isAllowedPunct(r) {
			b.WriteRune(r)
		}
	}
	safe := strings.Join(strings.Fields(b.String()), " ")
	if runes := []rune(safe); len(runes) > maxFilenameRunes {
		safe = string(runes[:maxFilenameRunes])
	}
	if safe == "" {
		return fallbackName
	}
	if strings.HasPrefix(safe, ".") {
		safe = fallbackName + safe
	}
	return safe
}

// AvailablePath returns dir/name, suffixed _1, _2, ... before the extension
// until a free slot is found. A slot counts as taken if either the final
// path or its in-flight temp twin exists, so concurrent sessions resolving
// to the same candidate land on distinct paths. The check-then-use gap
// against external filesystem writers remains.
func AvailablePath(dir, name string) string {
	desired := filepath.Join(dir, name)
	if !pathTaken(desired) {
		return desired
	}
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)
	for index := 1; ; index++ {
		candidate := filepath.Join(dir, fmt.Sprintf("%s_%d%s", base, index, ext))
		if !pathTaken(candidate) {
			return candidate
		}
	}
}

func pathTaken(path string) bool {
	if _, err := os.Stat(path); err == nil {
		return true
	}
	if _, err := os.Stat(path + TempSuffix); err == nil {
		return true
	}
	return false
}
