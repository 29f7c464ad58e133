package processor_test

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xhad/hrcopilot/internal/models"
	"github.com/xhad/hrcopilot/internal/types"
	"github.com/xhad/hrcopilot/pkg/processor"
)

func TestChunk_SlidingWindow(t *testing.T) {
	chunks, err := processor.Chunk("A cat sat on a mat.", 10, 2)
	require.NoError(t, err)

	assert.Equal(t, []string{"A cat sat ", "t on a mat", "at."}, chunks)
}

func TestChunk_ShortTextIsSingleChunk(t *testing.T) {
	tests := []string{"", "short", "exactly10!"}

	for _, text := range tests {
		t.Run(text, func(t *testing.T) {
			chunks, err := processor.Chunk(text, 10, 3)
			require.NoError(t, err)
			assert.Equal(t, []string{text}, chunks)
		})
	}
}

func TestChunk_InvalidConfiguration(t *testing.T) {
	tests := []struct {
		name          string
		size, overlap int
	}{
		{"zero size", 0, 0},
		{"negative size", -5, 0},
		{"overlap equals size", 10, 10},
		{"overlap exceeds size", 10, 12},
		{"negative overlap", 10, -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := processor.Chunk("some text that is long enough", tt.size, tt.overlap)
			assert.ErrorIs(t, err, types.ErrInvalidConfiguration)
		})
	}
}

func TestChunk_CountAndCoverage(t *testing.T) {
	text := strings.Repeat("Las vacaciones se solicitan con quince días de antelación. ", 7)
	n := utf8.RuneCountInString(text)

	params := []struct{ size, overlap int }{
		{500, 50}, {100, 0}, {37, 5}, {16, 15}, {1, 0}, {50, 49},
	}

	for _, p := range params {
		chunks, err := processor.Chunk(text, p.size, p.overlap)
		require.NoError(t, err)
		assert.Equal(t, processor.ExpectedChunks(n, p.size, p.overlap), len(chunks), "size=%d overlap=%d", p.size, p.overlap)

		// Every rune index lands in at least one window, and every window is a
		// slice of the original text at its computed offset.
		runes := []rune(text)
		covered := make([]bool, n)
		step := p.size - p.overlap
		for i, c := range chunks {
			start := i * step
			cr := []rune(c)
			assert.Equal(t, string(runes[start:start+len(cr)]), c)
			for j := range cr {
				covered[start+j] = true
			}
		}
		for i, ok := range covered {
			require.True(t, ok, "rune %d not covered (size=%d overlap=%d)", i, p.size, p.overlap)
		}
	}
}

func TestChunk_ZeroOverlapReassembles(t *testing.T) {
	texts := []string{
		"A cat sat on a mat.",
		"El próximo viernes pediré días libres según la política de RRHH.",
		strings.Repeat("x", 1001),
	}

	for _, text := range texts {
		chunks, err := processor.Chunk(text, 7, 0)
		require.NoError(t, err)
		assert.Equal(t, text, strings.Join(chunks, ""))
	}
}

func TestChunk_Deterministic(t *testing.T) {
	text := strings.Repeat("abc def ", 40)
	a, err := processor.Chunk(text, 25, 5)
	require.NoError(t, err)
	b, err := processor.Chunk(text, 25, 5)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestProcessor_Process(t *testing.T) {
	p, err := processor.NewWithConfig(processor.ProcessorConfig{
		ChunkSize:    10,
		ChunkOverlap: 2,
	})
	require.NoError(t, err)

	docs := []models.Document{
		{ID: "cats.txt", RawText: "A cat sat on a mat."},
		{ID: "short.txt", RawText: "Hola."},
	}

	chunks, err := p.Process(docs)
	require.NoError(t, err)
	require.Len(t, chunks, 4)

	assert.Equal(t, "cats.txt", chunks[0].DocumentID)
	assert.Equal(t, 0, chunks[0].Index)
	assert.Equal(t, 2, chunks[2].Index)
	assert.Equal(t, "short.txt", chunks[3].DocumentID)
	assert.Equal(t, 0, chunks[3].Index)
	assert.Equal(t, "Hola.", chunks[3].Text)
}

func TestProcessor_NormalizeWhitespace(t *testing.T) {
	p, err := processor.NewWithConfig(processor.ProcessorConfig{
		ChunkSize:           100,
		NormalizeWhitespace: true,
	})
	require.NoError(t, err)

	chunks, err := p.Process([]models.Document{{ID: "a", RawText: "  one \n\n two\tthree  "}})
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "one two three", chunks[0].Text)
}

func TestNewWithConfig_RejectsBadWindow(t *testing.T) {
	_, err := processor.NewWithConfig(processor.ProcessorConfig{ChunkSize: 50, ChunkOverlap: 50})
	assert.ErrorIs(t, err, types.ErrInvalidConfiguration)
}
