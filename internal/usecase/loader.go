package usecase

import (
	"context"
	"fmt"
	"log/slog"

	"ChannelPipeline/internal/domain"
	"ChannelPipeline/internal/metrics"
	"ChannelPipeline/internal/ports"
)

// LoaderDeps wires the artifact store and the raw repository.
type LoaderDeps struct {
	Store      ports.BatchStore
	Repository ports.MessageRepository
	Logger     *slog.Logger
}

// Loader moves batch artifacts into the raw message table.
type Loader struct {
	store      ports.BatchStore
	repository ports.MessageRepository
	logger     *slog.Logger
}

// LoadSummary counts the outcome of one LoadAll pass.
type LoadSummary struct {
	Files    int
	Loaded   int
	Skipped  int
	Failed   int
	Messages int
	Inserted int
}

// NewLoader constructs the loader.
func NewLoader(deps LoaderDeps) *Loader {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{
		store:      deps.Store,
		repository: deps.Repository,
		logger:     logger.With("component", "loader"),
	}
}

// LoadRawMessages inserts records and returns how many were new.
// Records whose message id already exists are skipped.
func (l *Loader) LoadRawMessages(ctx context.Context, records []domain.RawMessage) (int, error) {
	inserted, err := l.repository.InsertRawMessages(ctx, records)
	if err != nil {
		return 0, err
	}
	metrics.LoadedRows.Add(float64(inserted))
	return inserted, nil
}

// LoadFile reads one artifact and loads it in a single transaction.
func (l *Loader) LoadFile(ctx context.Context, path string) (total, inserted int, err error) {
	records, err := l.store.Read(path)
	if err != nil {
		return 0, 0, err
	}
	inserted, err = l.LoadRawMessages(ctx, records)
	if err != nil {
		return len(records), 0, fmt.Errorf("load %s: %w", path, err)
	}
	return len(records), inserted, nil
}

// LoadAll loads every discovered artifact. Artifacts already loaded with the
// same checksum are skipped unless force is set. A failing artifact is
// logged and counted; the remaining ones are still loaded.
func (l *Loader) LoadAll(ctx context.Context, force bool) (LoadSummary, error) {
	var summary LoadSummary

	paths, err := l.store.Discover()
	if err != nil {
		return summary, fmt.Errorf("discover artifacts: %w", err)
	}
	summary.Files = len(paths)

	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		logger := l.logger.With("path", path)

		checksum, err := l.store.Checksum(path)
		if err != nil {
			summary.Failed++
			logger.Error("checksum artifact", "error", err)
			continue
		}

		if !force {
			loaded, err := l.repository.BatchLoaded(ctx, path, checksum)
			if err != nil {
				return summary, err
			}
			if loaded {
				summary.Skipped++
				logger.Debug("artifact already loaded")
				continue
			}
		}

		total, inserted, err := l.LoadFile(ctx, path)
		if err != nil {
			summary.Failed++
			logger.Error("abandon artifact", "error", err)
			continue
		}

		if err := l.repository.RecordBatch(ctx, path, checksum, total, inserted); err != nil {
			logger.Warn("record artifact", "error", err)
		}

		summary.Loaded++
		summary.Messages += total
		summary.Inserted += inserted
		logger.Info("artifact loaded", "messages", total, "inserted", inserted, "duplicates", total-inserted)
	}

	l.logger.Info("load finished",
		"files", summary.Files,
		"loaded", summary.Loaded,
		"skipped", summary.Skipped,
		"failed", summary.Failed,
		"inserted", summary.Inserted,
	)
	return summary, nil
}
