package ingest

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"

	"github.com/xhad/hrcopilot/internal/models"
	"github.com/xhad/hrcopilot/internal/types"
	"github.com/xhad/hrcopilot/pkg/metrics"
	"github.com/xhad/hrcopilot/pkg/processor"
	"github.com/xhad/hrcopilot/pkg/scraper"
	"github.com/xhad/hrcopilot/pkg/telemetry"
)

var tracer = otel.Tracer("github.com/xhad/hrcopilot/pkg/ingest")

// Config describes one ingestion run.
type Config struct {
	// Dir holds .txt and .html documents. Empty skips the directory.
	Dir string
	// URL is crawled when set.
	URL            string
	MaxDepth       int
	RateLimit      float64
	IgnorePatterns []string
	// EmbedRateLimit caps embedding calls per second. Zero is unlimited.
	EmbedRateLimit float64
	BatchSize      int
	Dimension      int
	Metric         types.Metric
	// Keep preserves the existing collection and replaces chunks document by
	// document instead of rebuilding from scratch.
	Keep bool
}

// Progress is called as chunks are stored.
type Progress func(done, total int)

// Summary reports what a run stored.
type Summary struct {
	Documents int
	Chunks    int
	Skipped   int
}

// Ingester loads HR documents, chunks them, embeds every chunk and stores it.
type Ingester struct {
	processor *processor.Processor
	embedder  types.Embedder
	store     types.VectorStore
	config    Config
	limiter   *rate.Limiter
	logger    *log.Logger
	metrics   *metrics.Metrics

	OnProgress Progress
	OnCrawl    func(url string)
}

func New(p *processor.Processor, embedder types.Embedder, store types.VectorStore, config Config, m *metrics.Metrics) (*Ingester, error) {
	if config.Dimension < 1 {
		return nil, fmt.Errorf("%w: dimension must be positive, got %d", types.ErrInvalidConfiguration, config.Dimension)
	}
	if config.BatchSize < 1 {
		config.BatchSize = 100
	}
	if config.Metric == "" {
		config.Metric = types.MetricCosine
	}
	if m == nil {
		m = metrics.New()
	}

	limit := rate.Inf
	if config.EmbedRateLimit > 0 {
		limit = rate.Limit(config.EmbedRateLimit)
	}

	return &Ingester{
		processor: p,
		embedder:  embedder,
		store:     store,
		config:    config,
		limiter:   rate.NewLimiter(limit, 1),
		logger:    log.New(os.Stderr, "[INGEST] ", log.LstdFlags),
		metrics:   m,
	}, nil
}

// Load gathers the documents from the directory and the crawl.
func (in *Ingester) Load(ctx context.Context) ([]models.Document, error) {
	var docs []models.Document

	if in.config.Dir != "" {
		fromDir, err := LoadDir(in.config.Dir)
		if err != nil {
			return nil, err
		}
		docs = append(docs, fromDir...)
	}

	if in.config.URL != "" {
		s, err := scraper.NewWithConfig(scraper.ScraperConfig{
			BaseURL:        in.config.URL,
			MaxDepth:       in.config.MaxDepth,
			RateLimit:      in.config.RateLimit,
			IgnorePatterns: in.config.IgnorePatterns,
			OnProgress:     in.OnCrawl,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %v", types.ErrInvalidConfiguration, err)
		}
		pages, err := s.Scrape(ctx, in.config.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to crawl %s: %w", in.config.URL, err)
		}
		docs = append(docs, pages...)
	}

	return docs, nil
}

// Run loads, chunks, embeds and stores. The collection is recreated first
// unless Keep is set.
func (in *Ingester) Run(ctx context.Context) (Summary, error) {
	ctx, span := tracer.Start(ctx, "ingest.run")
	defer span.End()

	docs, err := in.Load(ctx)
	if err != nil {
		telemetry.RecordError(span, err)
		return Summary{}, err
	}
	summary, err := in.Ingest(ctx, docs)
	span.SetAttributes(
		attribute.Int("ingest.documents", summary.Documents),
		attribute.Int("ingest.chunks", summary.Chunks),
	)
	telemetry.RecordError(span, err)
	return summary, err
}

// Ingest stores docs. With Keep, a document's stored chunks are replaced
// only once all of its new chunks are embedded, so a failed run leaves the
// documents it did not reach as they were.
func (in *Ingester) Ingest(ctx context.Context, docs []models.Document) (Summary, error) {
	var summary Summary

	if err := in.store.CreateCollection(ctx, in.config.Dimension, in.config.Metric, in.config.Keep); err != nil {
		return summary, fmt.Errorf("failed to prepare collection: %w", err)
	}

	chunks, err := in.processor.Process(docs)
	if err != nil {
		return summary, err
	}
	summary.Documents = len(docs)

	batch := make([]models.Chunk, 0, in.config.BatchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := in.store.InsertBatch(ctx, batch); err != nil {
			return fmt.Errorf("failed to store chunks: %w", err)
		}
		in.stored(&summary, len(batch))
		batch = batch[:0]
		return nil
	}

	done := 0
	for _, group := range byDocument(chunks) {
		embedded := make([]models.Chunk, 0, len(group))
		for _, chunk := range group {
			done++
			if strings.TrimSpace(chunk.Text) == "" {
				summary.Skipped++
				continue
			}

			if err := in.limiter.Wait(ctx); err != nil {
				return summary, err
			}
			vec, err := in.embedder.Embed(ctx, chunk.Text)
			if err != nil {
				return summary, fmt.Errorf("failed to embed chunk %d of %s: %w", chunk.Index, chunk.DocumentID, err)
			}
			chunk.Vector = vec

			if in.config.Keep {
				embedded = append(embedded, chunk)
			} else {
				batch = append(batch, chunk)
				if len(batch) == in.config.BatchSize {
					if err := flush(); err != nil {
						return summary, err
					}
				}
			}
			if in.OnProgress != nil {
				in.OnProgress(done, len(chunks))
			}
		}

		if in.config.Keep {
			documentID := group[0].DocumentID
			removed, err := in.store.ReplaceDocument(ctx, documentID, embedded)
			if err != nil {
				return summary, fmt.Errorf("failed to replace document %s: %w", documentID, err)
			}
			if removed > 0 {
				in.logger.Printf("Replaced %d chunks of %s", removed, documentID)
			}
			in.stored(&summary, len(embedded))
		}
	}
	if err := flush(); err != nil {
		return summary, err
	}

	in.logger.Printf("Stored %d chunks from %d documents", summary.Chunks, summary.Documents)
	return summary, nil
}

func (in *Ingester) stored(summary *Summary, n int) {
	summary.Chunks += n
	in.metrics.ChunksIngested.Add(float64(n))
}

// byDocument splits chunks into runs that share a document id.
func byDocument(chunks []models.Chunk) [][]models.Chunk {
	var groups [][]models.Chunk
	start := 0
	for i := 1; i <= len(chunks); i++ {
		if i == len(chunks) || chunks[i].DocumentID != chunks[start].DocumentID {
			groups = append(groups, chunks[start:i])
			start = i
		}
	}
	return groups
}

var extensions = map[string]bool{".txt": true, ".html": true, ".htm": true}

// LoadDir reads every .txt, .html and .htm file under dir in lexical path
// order. Files that hold no text are skipped. The document id is the path
// relative to dir.
func LoadDir(dir string) ([]models.Document, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: cannot read documents directory: %v", types.ErrInvalidConfiguration, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", types.ErrInvalidConfiguration, dir)
	}

	var paths []string
	err = filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && extensions[strings.ToLower(filepath.Ext(path))] {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", dir, err)
	}
	sort.Strings(paths)

	docs := make([]models.Document, 0, len(paths))
	for _, path := range paths {
		doc, err := loadFile(dir, path)
		if err != nil {
			return nil, err
		}
		if strings.TrimSpace(doc.RawText) == "" {
			continue
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func loadFile(dir, path string) (models.Document, error) {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		rel = filepath.Base(path)
	}
	rel = filepath.ToSlash(rel)

	f, err := os.Open(path)
	if err != nil {
		return models.Document{}, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	doc := models.Document{
		ID:     rel,
		Title:  strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
		Source: path,
	}

	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".html" || ext == ".htm" {
		title, text, err := scraper.ExtractText(f)
		if err != nil {
			return models.Document{}, fmt.Errorf("failed to read %s: %w", path, err)
		}
		if title != "" {
			doc.Title = title
		}
		doc.RawText = text
		return doc, nil
	}

	data, err := io.ReadAll(f)
	if err != nil {
		return models.Document{}, fmt.Errorf("failed to read %s: %w", path, err)
	}
	doc.RawText = string(data)
	return doc, nil
}
