package ingest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReadMessageFilesSkipsCorruptFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	dateDir := filepath.Join(dir, "2026-01-17")
	require.NoError(t, os.MkdirAll(dateDir, 0o750))

	good := `[
		{"message_id": 1, "channel_name": "tikvahpharma", "message_text": "hello", "views": 10, "has_media": false},
		{"message_id": 2, "channel_name": "tikvahpharma", "message_text": "promo", "views": 5, "has_media": true, "image_path": "data/raw/images/tikvahpharma/2.jpg"}
	]`
	require.NoError(t, os.WriteFile(filepath.Join(dateDir, "tikvahpharma.json"), []byte(good), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dateDir, "broken.json"), []byte("{not json"), 0o600))

	records, skipped, err := ReadMessageFiles(dir, nil)
	require.NoError(t, err)
	require.Equal(t, 1, skipped)
	require.Len(t, records, 2)
	require.Equal(t, int64(2), records[1].MessageID)
	require.NotNil(t, records[1].ImagePath)
}

func TestReadMessageFilesMissingDirIsEmpty(t *testing.T) {
	t.Parallel()

	records, skipped, err := ReadMessageFiles(filepath.Join(t.TempDir(), "nope"), nil)
	require.NoError(t, err)
	require.Zero(t, skipped)
	require.Empty(t, records)
}

func TestReadDetectionsCSV(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "image_detections.csv")
	content := "message_id,channel_name,detected_objects,confidence_score,image_category\n" +
		"101,lobelia4cosmetics,\"bottle, person\",0.9235,promotional\n" +
		"102,CheMed123,person,,lifestyle\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	records, err := ReadDetectionsCSV(path, nil)
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, "bottle, person", records[0].DetectedObjects)
	require.Equal(t, 0.9235, records[0].ConfidenceScore)
	// Missing confidence defaults to zero, the row is kept.
	require.Equal(t, 0.0, records[1].ConfidenceScore)
	require.Equal(t, "lifestyle", records[1].ImageCategory)
}

func TestReadDetectionsCSVMissingFileErrors(t *testing.T) {
	t.Parallel()

	_, err := ReadDetectionsCSV(filepath.Join(t.TempDir(), "absent.csv"), nil)
	require.Error(t, err)
}
