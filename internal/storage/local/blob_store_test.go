package local

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewRequiresBaseDir(t *testing.T) {
	t.Parallel()

	if _, err := New(Config{}); err == nil {
		t.Fatal("expected error for empty base dir")
	}
}

func TestNewCreatesMissingBaseDir(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "media")
	if _, err := New(Config{BaseDir: dir}); err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if _, err := os.Stat(dir); err != nil {
		t.Fatalf("base dir was not created: %v", err)
	}
}

func TestPutObjectWritesFileAndReturnsURI(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	bs, err := New(Config{BaseDir: dir})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	uri, err := bs.PutObject(context.Background(), "images/chemed123/42.jpg", "image/jpeg", strings.NewReader("jpegbytes"))
	if err != nil {
		t.Fatalf("PutObject() error = %v", err)
	}
	if !strings.HasPrefix(uri, "file://") {
		t.Fatalf("uri = %q, want file:// prefix", uri)
	}

	data, err := os.ReadFile(filepath.Join(dir, "images", "chemed123", "42.jpg"))
	if err != nil {
		t.Fatalf("read written object: %v", err)
	}
	if string(data) != "jpegbytes" {
		t.Fatalf("object content = %q", data)
	}
}

func TestPutObjectRejectsPathTraversal(t *testing.T) {
	t.Parallel()

	bs, err := New(Config{BaseDir: t.TempDir()})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if _, err := bs.PutObject(context.Background(), "../escape.jpg", "", strings.NewReader("x")); err == nil {
		t.Fatal("expected path traversal rejection")
	}
}

func TestPutObjectRequiresPath(t *testing.T) {
	t.Parallel()

	bs, err := New(Config{BaseDir: t.TempDir()})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if _, err := bs.PutObject(context.Background(), "  ", "", strings.NewReader("x")); err == nil {
		t.Fatal("expected error for empty path")
	}
}
