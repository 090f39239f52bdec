// Package chunker splits text into overlapping fixed-size windows.
//
// Sizes and offsets count Unicode code points, so a window never cuts a
// multi-byte character in half. Each window after the first starts overlap
// code points before the previous window ended; the final window ends at the
// end of the text and may be shorter than size.
package chunker

import (
	"errors"
	"fmt"
)

// Defaults used when callers do not override size or overlap.
const (
	DefaultSize    = 1200
	DefaultOverlap = 150
)

var (
	// ErrInvalidSize is returned when size is not positive.
	ErrInvalidSize = errors.New("chunk size must be positive")

	// ErrInvalidOverlap is returned when overlap is negative or not smaller
	// than size. Such a configuration would never advance.
	ErrInvalidOverlap = errors.New("chunk overlap must be >= 0 and smaller than size")
)

// Window is one chunk with its rune offsets in the source text.
type Window struct {
	Index int
	Start int // inclusive
	End   int // exclusive
	Text  string
}

// Validate checks a size/overlap pair.
func Validate(size, overlap int) error {
	if size <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidSize, size)
	}
	if overlap < 0 || overlap >= size {
		return fmt.Errorf("%w: overlap=%d size=%d", ErrInvalidOverlap, overlap, size)
	}
	return nil
}

// Windows returns the windows covering text. Empty text yields none; text
// of at most size runes yields exactly one.
func Windows(text string, size, overlap int) ([]Window, error) {
	if err := Validate(size, overlap); err != nil {
		return nil, err
	}

	runes := []rune(text)
	n := len(runes)
	if n == 0 {
		return nil, nil
	}

	out := make([]Window, 0, Count(n, size, overlap))
	for start := 0; ; start += size - overlap {
		end := min(n, start+size)
		out = append(out, Window{
			Index: len(out),
			Start: start,
			End:   end,
			Text:  string(runes[start:end]),
		})
		if end >= n {
			return out, nil
		}
	}
}

// Split returns the chunk texts for text, in order.
func Split(text string, size, overlap int) ([]string, error) {
	windows, err := Windows(text, size, overlap)
	if err != nil {
		return nil, err
	}
	chunks := make([]string, len(windows))
	for i, w := range windows {
		chunks[i] = w.Text
	}
	return chunks, nil
}

// Count returns how many windows a text of n runes produces.
// It assumes size and overlap already passed Validate.
func Count(n, size, overlap int) int {
	if n == 0 {
		return 0
	}
	if n <= size {
		return 1
	}
	step := size - overlap
	return (n - overlap + step - 1) / step
}

// Reconstruct reverses Split: the first size-overlap runes of every chunk
// but the last, followed by the last chunk whole.
func Reconstruct(chunks []string, size, overlap int) (string, error) {
	if err := Validate(size, overlap); err != nil {
		return "", err
	}
	if len(chunks) == 0 {
		return "", nil
	}

	step := size - overlap
	out := make([]rune, 0, len(chunks)*step+size)
	for i, c := range chunks {
		r := []rune(c)
		if i == len(chunks)-1 {
			out = append(out, r...)
			break
		}
		if len(r) < step {
			return "", fmt.Errorf("chunk %d has %d runes, want at least %d", i, len(r), step)
		}
		out = append(out, r[:step]...)
	}
	return string(out), nil
}
