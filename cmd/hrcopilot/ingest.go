package main

import (
	"context"
	"fmt"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/xhad/hrcopilot/internal/types"
	"github.com/xhad/hrcopilot/pkg/config"
	"github.com/xhad/hrcopilot/pkg/ingest"
	"github.com/xhad/hrcopilot/pkg/processor"
)

func ingestCMD(configPath *string) *cobra.Command {
	var (
		dir          string
		url          string
		keep         bool
		chunkSize    int
		chunkOverlap int
	)

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Load HR documents into the knowledge base",
		Long: "Reads every .txt and .html file under --dir and, when --url is set, crawls the\n" +
			"intranet from that page. Text is chunked, embedded and stored. The collection\n" +
			"is rebuilt from scratch unless --keep is given.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}

			flags := cmd.Flags()
			if flags.Changed("dir") {
				cfg.Ingest.Dir = dir
			}
			if flags.Changed("url") {
				cfg.Ingest.URL = url
			}
			if flags.Changed("chunk-size") {
				cfg.Processor.ChunkSize = chunkSize
			}
			if flags.Changed("chunk-overlap") {
				cfg.Processor.ChunkOverlap = chunkOverlap
			}
			if err := validate(cfg); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runIngest(ctx, cfg, keep)
		},
	}

	cmd.Flags().StringVar(&dir, "dir", "", "directory of .txt/.html documents (default from config, ./texts)")
	cmd.Flags().StringVar(&url, "url", "", "intranet page to crawl")
	cmd.Flags().BoolVar(&keep, "keep", false, "keep the existing collection and replace documents one by one")
	cmd.Flags().IntVar(&chunkSize, "chunk-size", 0, "chunk size in characters")
	cmd.Flags().IntVar(&chunkOverlap, "chunk-overlap", 0, "overlap between consecutive chunks")
	return cmd
}

func runIngest(ctx context.Context, cfg *config.Config, keep bool) error {
	metric, err := types.ParseMetric(cfg.Database.Metric)
	if err != nil {
		return err
	}
	proc, err := processor.NewWithConfig(processor.ProcessorConfig{
		ChunkSize:           cfg.Processor.ChunkSize,
		ChunkOverlap:        cfg.Processor.ChunkOverlap,
		NormalizeWhitespace: cfg.Processor.NormalizeWhitespace,
	})
	if err != nil {
		return err
	}

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()

	in, err := ingest.New(proc, a.embedder, a.store, ingest.Config{
		Dir:            cfg.Ingest.Dir,
		URL:            cfg.Ingest.URL,
		MaxDepth:       cfg.Ingest.MaxDepth,
		RateLimit:      cfg.Ingest.RateLimit,
		IgnorePatterns: cfg.Ingest.IgnorePatterns,
		EmbedRateLimit: cfg.Ingest.EmbedRateLimit,
		BatchSize:      cfg.Database.BatchSize,
		Dimension:      cfg.Database.VectorDim,
		Metric:         metric,
		Keep:           keep,
	}, a.metrics)
	if err != nil {
		return err
	}

	color.Blue("\nIngesting HR documents from %s", sources(cfg))

	var crawled int32
	var crawlBar *progressbar.ProgressBar
	if cfg.Ingest.URL != "" {
		crawlBar = getProgressBar(-1, "Crawling intranet...")
		in.OnCrawl = func(string) {
			n := atomic.AddInt32(&crawled, 1)
			crawlBar.Set(int(n))
		}
	}

	var storeBar *progressbar.ProgressBar
	start := time.Now()
	in.OnProgress = func(done, total int) {
		if storeBar == nil {
			if crawlBar != nil {
				crawlBar.Finish()
				color.Green("\n✓ Crawled %d pages", atomic.LoadInt32(&crawled))
			}
			storeBar = getProgressBar(total, "Embedding and storing...")
		}
		storeBar.Set(done)
		if elapsed := time.Since(start).Seconds(); elapsed > 0 {
			storeBar.Describe(color.BlueString("Embedding and storing... (%.1f chunks/sec)", float64(done)/elapsed))
		}
	}

	summary, err := in.Run(ctx)
	if storeBar != nil {
		storeBar.Finish()
	}
	if err != nil {
		color.Red("\n✗ Ingestion stopped after %d chunks", summary.Chunks)
		return err
	}

	color.Green("\n✓ Stored %d chunks from %d documents", summary.Chunks, summary.Documents)
	if summary.Skipped > 0 {
		color.Yellow("  %d blank chunks skipped", summary.Skipped)
	}
	return nil
}

func sources(cfg *config.Config) string {
	if cfg.Ingest.URL == "" {
		return cfg.Ingest.Dir
	}
	return fmt.Sprintf("%s and %s", cfg.Ingest.Dir, cfg.Ingest.URL)
}
