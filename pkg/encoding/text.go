// Package encoding provides text encoding utilities for Wavefront asset files.
package encoding

import (
	"strings"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// DecodeText converts raw file bytes to a UTF-8 string.
// A leading UTF-8 or UTF-16 byte order mark selects the source encoding and is
// removed; without one the data is treated as UTF-8. Invalid sequences become
// U+FFFD. CRLF line endings are normalized to LF.
func DecodeText(data []byte) string {
	decoder := unicode.BOMOverride(unicode.UTF8.NewDecoder())
	result, _, err := transform.Bytes(decoder, data)
	if err != nil {
		// Return as-is if decoding fails
		result = data
	}
	return strings.ReplaceAll(string(result), "\r\n", "\n")
}

// SplitLines splits decoded text into lines. A trailing newline does not
// produce an extra empty line.
func SplitLines(text string) []string {
	text = strings.TrimSuffix(text, "\n")
	if text == "" {
		return nil
	}
	return strings.Split(text, "\n")
}

// BaseName returns the final element of a path written with either slash
// or backslash separators. Material libraries exported on Windows commonly
// carry backslash paths.
func BaseName(path string) string {
	path = strings.TrimSpace(path)
	if i := strings.LastIndexAny(path, `/\`); i >= 0 {
		return path[i+1:]
	}
	return path
}

// HasExt reports whether name ends with ext, ignoring case.
// ext includes the leading dot.
func HasExt(name, ext string) bool {
	return len(name) >= len(ext) && strings.EqualFold(name[len(name)-len(ext):], ext)
}
