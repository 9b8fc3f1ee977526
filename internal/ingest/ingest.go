// Package ingest reads the scrape and enrichment artifacts from disk and
// feeds them into the raw store.
package ingest

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/addisanalytics/medtel-warehouse/internal/store"
)

// ReadMessageFiles walks <dir>/<date>/<channel>.json partitions and returns
// all message records found. A file with unparsable JSON is logged and
// skipped; one corrupt file never aborts the batch. The returned count is
// the number of skipped files.
func ReadMessageFiles(dir string, logger *zap.Logger) ([]store.MessageRecord, int, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if _, err := os.Stat(dir); err != nil {
		if os.IsNotExist(err) {
			logger.Warn("message directory does not exist", zap.String("dir", dir))
			return nil, 0, nil
		}
		return nil, 0, fmt.Errorf("stat message dir %s: %w", dir, err)
	}

	var paths []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(d.Name(), ".json") {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, 0, fmt.Errorf("walk message dir %s: %w", dir, err)
	}

	var (
		records      []store.MessageRecord
		skippedFiles int
	)
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			logger.Warn("skipping unreadable message file", zap.String("path", path), zap.Error(err))
			skippedFiles++
			continue
		}
		var batch []store.MessageRecord
		if err := json.Unmarshal(data, &batch); err != nil {
			logger.Warn("skipping invalid JSON file", zap.String("path", path), zap.Error(err))
			skippedFiles++
			continue
		}
		records = append(records, batch...)
	}
	logger.Info("read message partitions",
		zap.Int("files", len(paths)),
		zap.Int("skipped_files", skippedFiles),
		zap.Int("records", len(records)),
	)
	return records, skippedFiles, nil
}

// DetectionCSVHeader is the column order of the enrichment artifact.
var DetectionCSVHeader = []string{
	"message_id", "channel_name", "detected_objects", "confidence_score", "image_category",
}

// ReadDetectionsCSV parses the enrichment artifact written by the detect
// step. A missing or malformed confidence value defaults to 0.0 rather than
// failing the row.
func ReadDetectionsCSV(path string, logger *zap.Logger) ([]store.DetectionRecord, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open detections csv %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = len(DetectionCSVHeader)

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read detections csv %s: %w", path, err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	records := make([]store.DetectionRecord, 0, len(rows)-1)
	for i, row := range rows {
		if i == 0 {
			// header row
			continue
		}
		confidence, err := strconv.ParseFloat(strings.TrimSpace(row[3]), 64)
		if err != nil {
			logger.Warn("defaulting malformed confidence to 0.0",
				zap.String("message_id", row[0]), zap.String("value", row[3]))
			confidence = 0.0
		}
		records = append(records, store.DetectionRecord{
			MessageID:       row[0],
			ChannelName:     row[1],
			DetectedObjects: row[2],
			ConfidenceScore: confidence,
			ImageCategory:   row[4],
		})
	}
	return records, nil
}
