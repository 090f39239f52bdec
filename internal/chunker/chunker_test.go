package chunker

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplit_CountFormula(t *testing.T) {
	tests := []struct {
		length, size, overlap int
	}{
		{3000, 1200, 150},
		{1201, 1200, 150},
		{2250, 1200, 150},
		{2251, 1200, 150},
		{10, 3, 1},
		{100, 10, 9},
		{57, 7, 0},
	}

	for _, tt := range tests {
		text := strings.Repeat("x", tt.length)
		chunks, err := Split(text, tt.size, tt.overlap)
		require.NoError(t, err)

		step := tt.size - tt.overlap
		want := (tt.length - tt.overlap + step - 1) / step
		assert.Len(t, chunks, want, "L=%d S=%d o=%d", tt.length, tt.size, tt.overlap)
		assert.Equal(t, want, Count(tt.length, tt.size, tt.overlap))
	}
}

func TestSplit_OverlapAndReconstruction(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 700; i++ {
		b.WriteByte(byte('a' + i%26))
		if i%13 == 0 {
			b.WriteString("é")
		}
	}
	text := b.String()

	for _, cfg := range []struct{ size, overlap int }{{100, 10}, {64, 63}, {50, 0}, {1200, 150}} {
		chunks, err := Split(text, cfg.size, cfg.overlap)
		require.NoError(t, err)

		for i := 0; i+1 < len(chunks); i++ {
			cur, next := []rune(chunks[i]), []rune(chunks[i+1])
			require.Len(t, cur, cfg.size)
			assert.Equal(t,
				string(cur[len(cur)-cfg.overlap:]),
				string(next[:min(cfg.overlap, len(next))]),
				"chunks %d/%d must share %d runes", i, i+1, cfg.overlap)
		}
		for _, c := range chunks {
			assert.LessOrEqual(t, utf8.RuneCountInString(c), cfg.size)
		}

		got, err := Reconstruct(chunks, cfg.size, cfg.overlap)
		require.NoError(t, err)
		assert.Equal(t, text, got)
	}
}

func TestSplit_ShortText(t *testing.T) {
	chunks, err := Split("hello", DefaultSize, DefaultOverlap)
	require.NoError(t, err)
	assert.Equal(t, []string{"hello"}, chunks)

	chunks, err = Split(strings.Repeat("z", DefaultSize), DefaultSize, DefaultOverlap)
	require.NoError(t, err)
	assert.Len(t, chunks, 1)
}

func TestSplit_EmptyText(t *testing.T) {
	chunks, err := Split("", DefaultSize, DefaultOverlap)
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestSplit_InvalidConfig(t *testing.T) {
	tests := []struct {
		name          string
		size, overlap int
		want          error
	}{
		{"zero size", 0, 0, ErrInvalidSize},
		{"negative size", -5, 0, ErrInvalidSize},
		{"overlap equals size", 10, 10, ErrInvalidOverlap},
		{"overlap exceeds size", 10, 20, ErrInvalidOverlap},
		{"negative overlap", 10, -1, ErrInvalidOverlap},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Split("some text", tt.size, tt.overlap)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestWindows_Offsets(t *testing.T) {
	windows, err := Windows(strings.Repeat("A", 3000), 1200, 150)
	require.NoError(t, err)
	require.Len(t, windows, 3)

	assert.Equal(t, Window{Index: 0, Start: 0, End: 1200, Text: strings.Repeat("A", 1200)}, windows[0])
	assert.Equal(t, 1050, windows[1].Start)
	assert.Equal(t, 2250, windows[1].End)
	assert.Equal(t, 2100, windows[2].Start)
	assert.Equal(t, 3000, windows[2].End)
	assert.Equal(t, 2, windows[2].Index)
}

func TestSplit_Restartable(t *testing.T) {
	text := strings.Repeat("abc", 500)
	first, err := Split(text, 100, 20)
	require.NoError(t, err)
	second, err := Split(text, 100, 20)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestReconstruct_RejectsShortInnerChunk(t *testing.T) {
	_, err := Reconstruct([]string{"ab", "cdef"}, 4, 1)
	assert.Error(t, err)
}
