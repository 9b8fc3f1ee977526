package ingest

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/addisanalytics/medtel-warehouse/internal/metrics"
	"github.com/addisanalytics/medtel-warehouse/internal/store"
)

// MessageStore is the slice of the raw store the loader needs.
type MessageStore interface {
	UpsertMessages(ctx context.Context, records []store.MessageRecord) (store.LoadReport, error)
}

// Loader reads scraped message partitions and upserts them into the raw
// store. It backs the load stage of the pipeline.
type Loader struct {
	dir    string
	store  MessageStore
	logger *zap.Logger
}

// NewLoader builds a Loader over the partition directory.
func NewLoader(dir string, st MessageStore, logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	return &Loader{dir: dir, store: st, logger: logger.Named("loader")}
}

// Run loads every readable partition file into the store.
func (l *Loader) Run(ctx context.Context) error {
	records, skippedFiles, err := ReadMessageFiles(l.dir, l.logger)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		l.logger.Info("no message records to load", zap.Int("skipped_files", skippedFiles))
		return nil
	}

	report, err := l.store.UpsertMessages(ctx, records)
	if err != nil {
		return fmt.Errorf("load messages: %w", err)
	}
	metrics.ObserveLoad("raw.telegram_messages", report.Attempted, report.Skipped)

	for channel, count := range report.PerChannel {
		l.logger.Info("channel loaded", zap.String("channel", channel), zap.Int("records", count))
	}
	l.logger.Info("message load finished",
		zap.Int("attempted", report.Attempted),
		zap.Int("skipped_records", report.Skipped),
		zap.Int("skipped_files", skippedFiles),
	)
	return nil
}
