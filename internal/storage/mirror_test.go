package storage_test

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/addisanalytics/medtel-warehouse/internal/storage"
	"github.com/addisanalytics/medtel-warehouse/internal/storage/memory"
)

type failingStore struct{ err error }

func (f failingStore) PutObject(context.Context, string, string, io.Reader) (string, error) {
	return "", f.err
}

func TestMirrorWritesBothStores(t *testing.T) {
	t.Parallel()

	primary := memory.NewBlobStore()
	secondary := memory.NewBlobStore()
	m := storage.NewMirror(primary, secondary)

	uri, err := m.PutObject(context.Background(), "ch/1.jpg", "image/jpeg", strings.NewReader("jpegbytes"))
	if err != nil {
		t.Fatalf("PutObject() error = %v", err)
	}
	if uri != "memory://ch/1.jpg" {
		t.Fatalf("uri = %q, want primary store URI", uri)
	}

	for name, s := range map[string]*memory.BlobStore{"primary": primary, "secondary": secondary} {
		if blob, ok := s.Object("ch/1.jpg"); !ok || string(blob) != "jpegbytes" {
			t.Fatalf("%s store object = %q ok=%v", name, blob, ok)
		}
	}
}

func TestMirrorPrimaryFailureFailsPut(t *testing.T) {
	t.Parallel()

	secondary := memory.NewBlobStore()
	m := storage.NewMirror(failingStore{err: errors.New("bucket gone")}, secondary)

	if _, err := m.PutObject(context.Background(), "ch/1.jpg", "image/jpeg", strings.NewReader("x")); err == nil {
		t.Fatal("expected primary store failure to surface")
	}
}

func TestMirrorSecondaryFailureFailsPut(t *testing.T) {
	t.Parallel()

	m := storage.NewMirror(memory.NewBlobStore(), failingStore{err: errors.New("disk full")})

	_, err := m.PutObject(context.Background(), "ch/1.jpg", "image/jpeg", strings.NewReader("x"))
	if err == nil || !strings.Contains(err.Error(), "mirror object") {
		t.Fatalf("error = %v, want mirror failure", err)
	}
}
