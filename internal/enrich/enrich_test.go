package enrich

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/addisanalytics/medtel-warehouse/internal/classifier"
	"github.com/addisanalytics/medtel-warehouse/internal/detector"
	"github.com/addisanalytics/medtel-warehouse/internal/ingest"
	"github.com/addisanalytics/medtel-warehouse/internal/store"
)

type fakeDetector struct {
	results map[string][]detector.Detection
	failOn  string
}

func (f fakeDetector) Detect(_ context.Context, imagePath string) ([]detector.Detection, error) {
	if f.failOn != "" && filepath.Base(imagePath) == f.failOn {
		return nil, errors.New("model unreachable")
	}
	return f.results[filepath.Base(imagePath)], nil
}

func writeImage(t *testing.T, dir, channel, name string) {
	t.Helper()
	channelDir := filepath.Join(dir, channel)
	require.NoError(t, os.MkdirAll(channelDir, 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(channelDir, name), []byte("img"), 0o600))
}

func TestRunWritesClassifiedArtifact(t *testing.T) {
	t.Parallel()

	imagesDir := t.TempDir()
	processedDir := t.TempDir()
	writeImage(t, imagesDir, "tikvahpharma", "101.jpg")
	writeImage(t, imagesDir, "tikvahpharma", "102.jpg")

	det := fakeDetector{results: map[string][]detector.Detection{
		"101.jpg": {
			{Label: "person", Confidence: 0.9},
			{Label: "bottle", Confidence: 0.8},
		},
		"102.jpg": {
			{Label: "person", Confidence: 0.7},
		},
	}}
	cls := classifier.New([]string{"bottle"})

	r := NewRunner(imagesDir, processedDir, det, cls, nil)
	require.NoError(t, r.Run(context.Background()))

	records, err := ingest.ReadDetectionsCSV(r.ArtifactPath(), nil)
	require.NoError(t, err)
	require.Len(t, records, 2)

	require.Equal(t, "101", records[0].MessageID)
	require.Equal(t, "tikvahpharma", records[0].ChannelName)
	require.Equal(t, "bottle, person", records[0].DetectedObjects)
	require.Equal(t, 0.9, records[0].ConfidenceScore)
	require.Equal(t, "promotional", records[0].ImageCategory)

	require.Equal(t, "lifestyle", records[1].ImageCategory)
}

func TestRunSkipsFailingImage(t *testing.T) {
	t.Parallel()

	imagesDir := t.TempDir()
	processedDir := t.TempDir()
	writeImage(t, imagesDir, "ch", "1.jpg")
	writeImage(t, imagesDir, "ch", "2.jpg")

	det := fakeDetector{
		results: map[string][]detector.Detection{
			"2.jpg": {{Label: "bottle", Confidence: 0.6}},
		},
		failOn: "1.jpg",
	}

	r := NewRunner(imagesDir, processedDir, det, classifier.New([]string{"bottle"}), nil)
	require.NoError(t, r.Run(context.Background()))

	records, err := ingest.ReadDetectionsCSV(r.ArtifactPath(), nil)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, "2", records[0].MessageID)
}

func TestRunMissingImagesDirWritesEmptyArtifact(t *testing.T) {
	t.Parallel()

	processedDir := t.TempDir()
	r := NewRunner(filepath.Join(t.TempDir(), "absent"), processedDir, fakeDetector{}, classifier.New([]string{"bottle"}), nil)
	require.NoError(t, r.Run(context.Background()))

	records, err := ingest.ReadDetectionsCSV(r.ArtifactPath(), nil)
	require.NoError(t, err)
	require.Empty(t, records)
}

func TestRunIgnoresTopLevelFiles(t *testing.T) {
	t.Parallel()

	imagesDir := t.TempDir()
	processedDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(imagesDir, "stray.jpg"), []byte("img"), 0o600))

	r := NewRunner(imagesDir, processedDir, fakeDetector{}, classifier.New([]string{"bottle"}), nil)
	require.NoError(t, r.Run(context.Background()))

	records, err := ingest.ReadDetectionsCSV(r.ArtifactPath(), nil)
	require.NoError(t, err)
	require.Empty(t, records)
}

type fakeDetectionStore struct {
	inserted []store.DetectionRecord
	err      error
}

func (f *fakeDetectionStore) InsertDetections(_ context.Context, records []store.DetectionRecord) (int, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.inserted = append(f.inserted, records...)
	return len(records), nil
}

func TestLoaderInsertsArtifactRows(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "image_detections.csv")
	content := "message_id,channel_name,detected_objects,confidence_score,image_category\n" +
		"101,tikvahpharma,\"bottle, person\",0.9000,promotional\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	st := &fakeDetectionStore{}
	l := NewLoader(path, st, nil)
	require.NoError(t, l.Run(context.Background()))
	require.Len(t, st.inserted, 1)
	require.Equal(t, "promotional", st.inserted[0].ImageCategory)
}

func TestLoaderEmptyArtifactIsNoOp(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "image_detections.csv")
	require.NoError(t, os.WriteFile(path, []byte("message_id,channel_name,detected_objects,confidence_score,image_category\n"), 0o600))

	st := &fakeDetectionStore{}
	l := NewLoader(path, st, nil)
	require.NoError(t, l.Run(context.Background()))
	require.Empty(t, st.inserted)
}

func TestLoaderSurfacesStoreError(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "image_detections.csv")
	content := "message_id,channel_name,detected_objects,confidence_score,image_category\n" +
		"1,ch,bottle,0.5,product_display\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	l := NewLoader(path, &fakeDetectionStore{err: errors.New("connection reset")}, nil)
	require.Error(t, l.Run(context.Background()))
}
