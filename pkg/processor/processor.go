package processor

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/xhad/hrcopilot/internal/models"
	"github.com/xhad/hrcopilot/internal/types"
)

type ProcessorConfig struct {
	ChunkSize           int
	ChunkOverlap        int
	NormalizeWhitespace bool
}

type Processor struct {
	config ProcessorConfig
}

// NewWithConfig validates the window parameters up front so a bad config
// fails before any document is read.
func NewWithConfig(config ProcessorConfig) (*Processor, error) {
	if err := validate(config.ChunkSize, config.ChunkOverlap); err != nil {
		return nil, err
	}
	return &Processor{config: config}, nil
}

// Process splits every document into ordered chunks with dense 0-based
// indices. Vectors are left empty for the embedding stage.
func (p *Processor) Process(docs []models.Document) ([]models.Chunk, error) {
	var out []models.Chunk

	for _, doc := range docs {
		text := doc.RawText
		if p.config.NormalizeWhitespace {
			text = cleanText(text)
		}

		windows, err := Chunk(text, p.config.ChunkSize, p.config.ChunkOverlap)
		if err != nil {
			return nil, fmt.Errorf("failed to chunk document %s: %w", doc.ID, err)
		}

		for i, w := range windows {
			out = append(out, models.Chunk{
				DocumentID: doc.ID,
				Index:      i,
				Text:       w,
			})
		}
	}

	return out, nil
}

// Chunk scans text with a window of size runes, advancing size-overlap runes
// per step, and stops after the window that reaches the end of the text.
func Chunk(text string, size, overlap int) ([]string, error) {
	if err := validate(size, overlap); err != nil {
		return nil, err
	}

	if utf8.RuneCountInString(text) <= size {
		return []string{text}, nil
	}

	runes := []rune(text)
	step := size - overlap
	var chunks []string

	for start := 0; start < len(runes); start += step {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[start:end]))
		if end == len(runes) {
			break
		}
	}

	return chunks, nil
}

// ExpectedChunks is the closed form of the number of windows Chunk emits for
// a text of n runes.
func ExpectedChunks(n, size, overlap int) int {
	if n <= size {
		return 1
	}
	step := size - overlap
	return (n - overlap + step - 1) / step
}

func validate(size, overlap int) error {
	if size <= 0 {
		return fmt.Errorf("%w: chunk size must be positive, got %d", types.ErrInvalidConfiguration, size)
	}
	if overlap < 0 || overlap >= size {
		return fmt.Errorf("%w: chunk overlap must be in [0, %d), got %d", types.ErrInvalidConfiguration, size, overlap)
	}
	return nil
}

func cleanText(text string) string {
	return strings.TrimSpace(strings.Join(strings.Fields(text), " "))
}
