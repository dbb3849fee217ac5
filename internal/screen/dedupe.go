package screen

import (
	"context"

	"github.com/rs/zerolog"

	"horse.fit/amscreen/internal/search"
)

const (
	DefaultDedupeBatchSize = 50

	// DefaultDedupeMinInput is the smallest passed set worth a classifier
	// call; below it title dedup is skipped entirely.
	DefaultDedupeMinInput = 12
)

// TitleGrouper asks the external classifier which titles in a batch refer to
// the same underlying article. Groups are 1-based indices into the batch.
type TitleGrouper interface {
	GroupTitles(ctx context.Context, titles []string, subject string) ([][]int, error)
}

type DeduperOptions struct {
	BatchSize int
	MinInput  int
}

type Deduper struct {
	grouper   TitleGrouper
	batchSize int
	minInput  int
	logger    zerolog.Logger
}

type DedupeOutcome struct {
	Unique     []search.Hit `json:"unique"`
	Duplicates []search.Hit `json:"duplicates"`
	Skipped    bool         `json:"skipped"`
}

func NewDeduper(grouper TitleGrouper, opts DeduperOptions, logger zerolog.Logger) *Deduper {
	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultDedupeBatchSize
	}
	minInput := opts.MinInput
	if minInput <= 0 {
		minInput = DefaultDedupeMinInput
	}
	return &Deduper{
		grouper:   grouper,
		batchSize: batchSize,
		minInput:  minInput,
		logger:    logger,
	}
}

// Run collapses near-duplicate coverage of the same article. The first title
// of every duplicate group is kept; the rest are dropped from the pipeline.
// A classifier failure on a batch keeps that whole batch as unique rather
// than losing articles.
func (d *Deduper) Run(ctx context.Context, hits []search.Hit, subject string, onBatch func(done, total int)) (DedupeOutcome, error) {
	if len(hits) < d.minInput {
		return DedupeOutcome{Unique: hits, Skipped: true}, nil
	}

	batches := ChunkHits(hits, d.batchSize)
	outcome := DedupeOutcome{
		Unique:     make([]search.Hit, 0, len(hits)),
		Duplicates: make([]search.Hit, 0),
	}

	for bi, batch := range batches {
		if err := ctx.Err(); err != nil {
			return outcome, err
		}

		titles := make([]string, 0, len(batch))
		for _, hit := range batch {
			titles = append(titles, hit.Title)
		}

		groups, err := d.grouper.GroupTitles(ctx, titles, subject)
		if err != nil {
			d.logger.Warn().Err(err).Int("batch", bi).Int("batch_size", len(batch)).
				Msg("title grouping failed; keeping batch as unique")
			outcome.Unique = append(outcome.Unique, batch...)
			if onBatch != nil {
				onBatch(bi+1, len(batches))
			}
			continue
		}

		duplicate := make(map[int]struct{})
		for _, group := range groups {
			for i, index := range group {
				if i == 0 {
					continue
				}
				duplicate[index-1] = struct{}{}
			}
		}

		for i, hit := range batch {
			if _, dup := duplicate[i]; dup {
				outcome.Duplicates = append(outcome.Duplicates, hit)
			} else {
				outcome.Unique = append(outcome.Unique, hit)
			}
		}

		if onBatch != nil {
			onBatch(bi+1, len(batches))
		}
	}

	return outcome, nil
}
