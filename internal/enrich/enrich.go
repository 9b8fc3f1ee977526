// Package enrich runs the object-detection model over downloaded images,
// classifies each one and materializes the results as a CSV artifact that
// the detection loader ingests into the raw store.
package enrich

import (
	"context"
	"encoding/csv"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/addisanalytics/medtel-warehouse/internal/classifier"
	"github.com/addisanalytics/medtel-warehouse/internal/detector"
	"github.com/addisanalytics/medtel-warehouse/internal/ingest"
	"github.com/addisanalytics/medtel-warehouse/internal/metrics"
	"github.com/addisanalytics/medtel-warehouse/internal/store"
)

// Runner is the detect step: images in, CSV artifact out.
type Runner struct {
	imagesDir string
	artifact  string
	det       detector.Detector
	cls       *classifier.Classifier
	logger    *zap.Logger
}

// NewRunner builds the detect step. The artifact is written to
// <processedDir>/image_detections.csv.
func NewRunner(imagesDir, processedDir string, det detector.Detector, cls *classifier.Classifier, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	return &Runner{
		imagesDir: imagesDir,
		artifact:  filepath.Join(processedDir, "image_detections.csv"),
		det:       det,
		cls:       cls,
		logger:    logger.Named("enrich"),
	}
}

// ArtifactPath returns where the CSV artifact is written.
func (r *Runner) ArtifactPath() string { return r.artifact }

// Run detects and classifies every image under <imagesDir>/<channel>/ one at
// a time. A model failure on one image is logged, counted and skipped. The
// artifact is written even when no images exist so the load step always has
// a file to read.
func (r *Runner) Run(ctx context.Context) error {
	images, err := r.listImages()
	if err != nil {
		return err
	}

	var (
		rows    [][]string
		skipped int
	)
	for _, img := range images {
		if err := ctx.Err(); err != nil {
			return err
		}
		dets, err := r.det.Detect(ctx, img.path)
		if err != nil {
			r.logger.Warn("detector failed, skipping image",
				zap.String("image", img.path), zap.Error(err))
			metrics.ObserveDetectorFailure()
			skipped++
			continue
		}
		result := r.cls.Classify(dets)
		rows = append(rows, []string{
			img.messageID,
			img.channel,
			strings.Join(result.Labels, ", "),
			strconv.FormatFloat(result.Confidence, 'f', 4, 64),
			string(result.Category),
		})
	}

	if err := r.writeArtifact(rows); err != nil {
		return err
	}
	r.logger.Info("enrichment artifact written",
		zap.String("path", r.artifact),
		zap.Int("images", len(images)),
		zap.Int("classified", len(rows)),
		zap.Int("skipped", skipped),
	)
	return nil
}

type imageRef struct {
	path      string
	channel   string
	messageID string
}

func (r *Runner) listImages() ([]imageRef, error) {
	if _, err := os.Stat(r.imagesDir); err != nil {
		if os.IsNotExist(err) {
			r.logger.Warn("images directory does not exist", zap.String("dir", r.imagesDir))
			return nil, nil
		}
		return nil, fmt.Errorf("stat images dir %s: %w", r.imagesDir, err)
	}

	var refs []imageRef
	err := filepath.WalkDir(r.imagesDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		switch strings.ToLower(filepath.Ext(d.Name())) {
		case ".jpg", ".jpeg", ".png":
		default:
			return nil
		}
		rel, err := filepath.Rel(r.imagesDir, path)
		if err != nil {
			return err
		}
		parts := strings.Split(filepath.ToSlash(rel), "/")
		if len(parts) < 2 {
			// Images live under a per-channel directory.
			return nil
		}
		name := d.Name()
		refs = append(refs, imageRef{
			path:      path,
			channel:   parts[0],
			messageID: strings.TrimSuffix(name, filepath.Ext(name)),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk images dir %s: %w", r.imagesDir, err)
	}

	sort.Slice(refs, func(i, j int) bool { return refs[i].path < refs[j].path })
	return refs, nil
}

func (r *Runner) writeArtifact(rows [][]string) error {
	if err := os.MkdirAll(filepath.Dir(r.artifact), 0o750); err != nil {
		return fmt.Errorf("create processed dir: %w", err)
	}
	f, err := os.Create(r.artifact)
	if err != nil {
		return fmt.Errorf("create artifact %s: %w", r.artifact, err)
	}
	defer func() { _ = f.Close() }()

	w := csv.NewWriter(f)
	if err := w.Write(ingest.DetectionCSVHeader); err != nil {
		return fmt.Errorf("write artifact header: %w", err)
	}
	for _, row := range rows {
		if err := w.Write(row); err != nil {
			return fmt.Errorf("write artifact row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flush artifact: %w", err)
	}
	return f.Close()
}

// DetectionStore is the slice of the raw store the loader needs.
type DetectionStore interface {
	InsertDetections(ctx context.Context, records []store.DetectionRecord) (int, error)
}

// Loader is the load step: it reads the CSV artifact back and inserts the
// rows into the raw store.
type Loader struct {
	artifact string
	store    DetectionStore
	logger   *zap.Logger
}

// NewLoader builds the detection loader.
func NewLoader(artifact string, st DetectionStore, logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	return &Loader{artifact: artifact, store: st, logger: logger.Named("enrich")}
}

// Run ingests the artifact into raw.image_detections.
func (l *Loader) Run(ctx context.Context) error {
	records, err := ingest.ReadDetectionsCSV(l.artifact, l.logger)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		l.logger.Info("no detections to load", zap.String("artifact", l.artifact))
		return nil
	}

	n, err := l.store.InsertDetections(ctx, records)
	if err != nil {
		return fmt.Errorf("load detections: %w", err)
	}
	metrics.ObserveLoad("raw.image_detections", n, 0)
	l.logger.Info("detections loaded", zap.Int("records", n))
	return nil
}
