package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/addisanalytics/medtel-warehouse/internal/store"
)

type fakeMessageStore struct {
	upserted []store.MessageRecord
	err      error
}

func (f *fakeMessageStore) UpsertMessages(_ context.Context, records []store.MessageRecord) (store.LoadReport, error) {
	if f.err != nil {
		return store.LoadReport{}, f.err
	}
	f.upserted = append(f.upserted, records...)
	return store.LoadReport{Attempted: len(records)}, nil
}

func TestLoaderUpsertsPartitions(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	dateDir := filepath.Join(dir, "2026-01-17")
	require.NoError(t, os.MkdirAll(dateDir, 0o750))
	content := `[{"message_id": 1, "channel_name": "tikvahpharma", "message_text": "hi"}]`
	require.NoError(t, os.WriteFile(filepath.Join(dateDir, "tikvahpharma.json"), []byte(content), 0o600))

	st := &fakeMessageStore{}
	l := NewLoader(dir, st, nil)
	require.NoError(t, l.Run(context.Background()))
	require.Len(t, st.upserted, 1)
}

func TestLoaderNoPartitionsIsNoOp(t *testing.T) {
	t.Parallel()

	st := &fakeMessageStore{}
	l := NewLoader(filepath.Join(t.TempDir(), "absent"), st, nil)
	require.NoError(t, l.Run(context.Background()))
	require.Empty(t, st.upserted)
}

func TestLoaderSurfacesStoreError(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	dateDir := filepath.Join(dir, "2026-01-17")
	require.NoError(t, os.MkdirAll(dateDir, 0o750))
	content := `[{"message_id": 2, "channel_name": "ch"}]`
	require.NoError(t, os.WriteFile(filepath.Join(dateDir, "ch.json"), []byte(content), 0o600))

	l := NewLoader(dir, &fakeMessageStore{err: errors.New("connection reset")}, nil)
	require.Error(t, l.Run(context.Background()))
}
