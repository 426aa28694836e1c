// Package thumbnail resolves image URLs for enriched items in batches and records one row per
// (item, size, format).
package thumbnail

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/catalog"
	"github.com/JakeFAU/catalog-crawler/internal/metrics"
	"github.com/JakeFAU/catalog-crawler/internal/upstream"
)

// Config controls thumbnail fetching.
type Config struct {
	Enabled   bool   `mapstructure:"enabled"`
	BatchSize int    `mapstructure:"batch_size"`
	Size      string `mapstructure:"size"`
	Format    string `mapstructure:"format"`
}

// DefaultConfig mirrors the upstream defaults.
func DefaultConfig() Config {
	return Config{Enabled: true, BatchSize: 100, Size: "420x420", Format: "Png"}
}

// Client fetches one batch of thumbnails.
type Client interface {
	Batch(ctx context.Context, ids []int64, size, format string) ([]upstream.Thumbnail, error)
}

// Store persists image rows.
type Store interface {
	UpsertImages(ctx context.Context, images []catalog.ItemImage) error
}

// Summary reports one Fetch call.
type Summary struct {
	Requested    int            `json:"requested"`
	Chunks       int            `json:"chunks"`
	FailedChunks int            `json:"failed_chunks"`
	Rows         int            `json:"rows"`
	States       map[string]int `json:"states,omitempty"`
}

// Fetcher walks id lists in BatchSize chunks.
type Fetcher struct {
	cfg    Config
	client Client
	store  Store
	clock  catalog.Clock
	logger *zap.Logger
}

// New builds a Fetcher.
func New(cfg Config, client Client, st Store, clock catalog.Clock, logger *zap.Logger) *Fetcher {
	def := DefaultConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.Size == "" {
		cfg.Size = def.Size
	}
	if cfg.Format == "" {
		cfg.Format = def.Format
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{cfg: cfg, client: client, store: st, clock: clock, logger: logger.Named("thumbnail")}
}

// Fetch resolves thumbnails for ids. An upstream failure skips that chunk; a store failure is returned.
func (f *Fetcher) Fetch(ctx context.Context, ids []int64) (Summary, error) {
	summary := Summary{Requested: len(ids), States: map[string]int{}}
	for start := 0; start < len(ids); start += f.cfg.BatchSize {
		end := min(start+f.cfg.BatchSize, len(ids))
		chunk := ids[start:end]
		summary.Chunks++

		thumbs, err := f.client.Batch(ctx, chunk, f.cfg.Size, f.cfg.Format)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return summary, fmt.Errorf("thumbnails: %w", ctxErr)
			}
			summary.FailedChunks++
			f.logger.Warn("thumbnail chunk failed",
				zap.Int("chunk_size", len(chunk)),
				zap.Int64("first_item_id", chunk[0]),
				zap.Error(err),
			)
			continue
		}

		rows := f.rows(chunk, thumbs)
		if len(rows) == 0 {
			continue
		}
		if err := f.store.UpsertImages(ctx, rows); err != nil {
			return summary, fmt.Errorf("store thumbnails: %w", err)
		}
		summary.Rows += len(rows)
		for _, r := range rows {
			summary.States[r.State]++
		}
	}
	for state, n := range summary.States {
		metrics.ObserveThumbnails(state, n)
	}
	if summary.Chunks > 0 && summary.FailedChunks == summary.Chunks {
		return summary, errors.New("every thumbnail chunk failed")
	}
	return summary, nil
}

// rows keeps one row per requested id; ids the response did not mention are skipped.
func (f *Fetcher) rows(chunk []int64, thumbs []upstream.Thumbnail) []catalog.ItemImage {
	requested := make(map[int64]struct{}, len(chunk))
	for _, id := range chunk {
		requested[id] = struct{}{}
	}
	now := f.clock.Now()
	out := make([]catalog.ItemImage, 0, len(thumbs))
	for _, t := range thumbs {
		if _, ok := requested[t.TargetID]; !ok {
			continue
		}
		delete(requested, t.TargetID)
		out = append(out, catalog.ItemImage{
			ItemID:    t.TargetID,
			Size:      f.cfg.Size,
			Format:    f.cfg.Format,
			State:     t.State,
			ImageURL:  t.ImageURL,
			FetchedAt: now,
		})
	}
	return out
}
