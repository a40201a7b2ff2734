package indexing

import (
	"context"
	"fmt"
	"log"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/gcbaptista/go-track-reconciler/index"
	internalErrors "github.com/gcbaptista/go-track-reconciler/internal/errors"
	"github.com/gcbaptista/go-track-reconciler/store"
)

// ProgressFunc receives progress of a long-running indexing operation.
type ProgressFunc func(processed, total int, message string)

// RebuildReport summarizes a RebuildAll run.
type RebuildReport struct {
	Class   index.EntityClass `json:"class"`
	Total   int               `json:"total"`   // Entities of the class
	Indexed int               `json:"indexed"` // Entities whose postings were rewritten
	Skipped int               `json:"skipped"` // Entities skipped on resume
	Batches int               `json:"batches"`
	Orphans int               `json:"orphans"` // Orphan owners swept after the rebuild
	TookMs  int64             `json:"took_ms"`
}

// IndexBatch indexes entities as batches of settings.BatchSize, each batch
// one atomic store write. Postings are built across the worker pool; writes
// are serialized.
func (s *Service) IndexBatch(ctx context.Context, class index.EntityClass, entities []store.NamedEntity, progress ProgressFunc) (int, error) {
	if !class.Valid() {
		return 0, internalErrors.NewValidationError("class", fmt.Sprintf("unknown entity class '%s'", class))
	}

	batchSize := s.settings.BatchSize
	batches := 0
	for start := 0; start < len(entities); start += batchSize {
		if err := ctx.Err(); err != nil {
			return batches, err
		}
		end := start + batchSize
		if end > len(entities) {
			end = len(entities)
		}

		postings, err := s.buildPostings(ctx, entities[start:end])
		if err != nil {
			return batches, err
		}

		s.writeMu.Lock()
		err = s.store.ReplacePostings(ctx, class, postings)
		s.writeMu.Unlock()
		if err != nil {
			return batches, fmt.Errorf("failed to write %s batch starting at %d: %w", class, start, err)
		}
		batches++
		s.notify(class)

		if progress != nil {
			progress(end, len(entities), fmt.Sprintf("Indexed %d/%d %s entities", end, len(entities), class))
		}
	}
	return batches, nil
}

// buildPostings tokenizes a batch of entities, sharding the work across the
// configured number of workers.
func (s *Service) buildPostings(ctx context.Context, entities []store.NamedEntity) (map[int64]index.PostingList, error) {
	lists := make([]index.PostingList, len(entities))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.settings.Workers)
	shard := (len(entities) + s.settings.Workers - 1) / s.settings.Workers
	if shard < 1 {
		shard = 1
	}
	for start := 0; start < len(entities); start += shard {
		start := start
		end := start + shard
		if end > len(entities) {
			end = len(entities)
		}
		g.Go(func() error {
			for i := start; i < end; i++ {
				if err := gctx.Err(); err != nil {
					return err
				}
				lists[i] = index.BuildPostings(entities[i].ID, s.Words(entities[i].Name))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	postings := make(map[int64]index.PostingList, len(entities))
	for i, e := range entities {
		postings[e.ID] = lists[i]
	}
	return postings, nil
}

// RebuildAll regenerates the postings of every entity of class. With resume
// set, entities that already own postings are skipped, so a rebuild that
// stopped part-way continues where it left off. Orphan postings are swept at
// the end.
func (s *Service) RebuildAll(ctx context.Context, class index.EntityClass, resume bool, progress ProgressFunc) (RebuildReport, error) {
	start := time.Now()
	report := RebuildReport{Class: class}

	entities, err := s.store.ListEntityNames(ctx, class)
	if err != nil {
		return report, fmt.Errorf("failed to list %s entities: %w", class, err)
	}
	report.Total = len(entities)

	pending := entities
	if !resume {
		s.writeMu.Lock()
		err := s.store.ClearPostings(ctx, class)
		s.writeMu.Unlock()
		if err != nil {
			return report, fmt.Errorf("failed to clear %s postings: %w", class, err)
		}
		s.notify(class)
	} else {
		indexed, err := s.store.PostingEntityIDs(ctx, class)
		if err != nil {
			return report, fmt.Errorf("failed to list indexed %s entities: %w", class, err)
		}
		done := make(map[int64]struct{}, len(indexed))
		for _, id := range indexed {
			done[id] = struct{}{}
		}
		pending = make([]store.NamedEntity, 0, len(entities))
		for _, e := range entities {
			if _, ok := done[e.ID]; ok {
				report.Skipped++
				continue
			}
			pending = append(pending, e)
		}
	}

	log.Printf("Info: Rebuilding %s index: %d entities, %d skipped", class, len(pending), report.Skipped)

	report.Batches, err = s.IndexBatch(ctx, class, pending, func(processed, total int, message string) {
		log.Printf("Rebuilt %d/%d postings for %s", processed, total, class)
		if progress != nil {
			progress(processed, total, message)
		}
	})
	if err != nil {
		report.TookMs = time.Since(start).Milliseconds()
		return report, err
	}
	report.Indexed = len(pending)

	report.Orphans, err = s.RepairOrphans(ctx, class)
	report.TookMs = time.Since(start).Milliseconds()
	if err != nil {
		return report, err
	}

	log.Printf("Info: Rebuild of %s index completed in %dms (%d batches)", class, report.TookMs, report.Batches)
	return report, nil
}
