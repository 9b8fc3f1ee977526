package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/addisanalytics/medtel-warehouse/internal/storage"
	"github.com/addisanalytics/medtel-warehouse/internal/storage/local"
	"github.com/addisanalytics/medtel-warehouse/internal/storage/memory"
	"github.com/addisanalytics/medtel-warehouse/internal/store"
)

type fixedClock struct{ at time.Time }

func (c fixedClock) Now() time.Time { return c.at }

type stubFetcher struct {
	pages map[string][]byte
	err   error
	calls int
}

func (f *stubFetcher) FetchPage(_ context.Context, url string) ([]byte, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	page, ok := f.pages[url]
	if !ok {
		return nil, fmt.Errorf("no page for %s", url)
	}
	return page, nil
}

func testClock() fixedClock {
	return fixedClock{at: time.Date(2026, 1, 17, 12, 0, 0, 0, time.UTC)}
}

func TestRunWritesPartitionAndArchivesPhotos(t *testing.T) {
	t.Parallel()

	photos := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("jpegbytes"))
	}))
	defer photos.Close()

	fixture := strings.ReplaceAll(previewFixture, "https://cdn.example.org/file/photo101.jpg", photos.URL+"/photo101.jpg")

	dir := t.TempDir()
	blobs := memory.NewBlobStore()
	fast := &stubFetcher{pages: map[string][]byte{
		"https://t.me/s/tikvahpharma": []byte(fixture),
	}}

	s := NewScraper(Config{
		Channels:    []string{"tikvahpharma"},
		FetchLimit:  20,
		BaseURL:     "https://t.me/s",
		MessagesDir: dir,
	}, fast, nil, blobs, testClock(), nil)

	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "2026-01-17", "tikvahpharma.json"))
	if err != nil {
		t.Fatalf("read partition: %v", err)
	}
	var records []store.MessageRecord
	if err := json.Unmarshal(data, &records); err != nil {
		t.Fatalf("unmarshal partition: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}
	if records[0].ImagePath == nil || *records[0].ImagePath != "memory://tikvahpharma/101.jpg" {
		t.Fatalf("image path = %v", records[0].ImagePath)
	}
	if records[1].ImagePath != nil {
		t.Fatal("text-only message must not carry an image path")
	}

	if blob, ok := blobs.Object("tikvahpharma/101.jpg"); !ok || string(blob) != "jpegbytes" {
		t.Fatalf("archived photo = %q ok=%v", blob, ok)
	}
}

func TestRunMirroredPhotosLandInImagesDir(t *testing.T) {
	t.Parallel()

	photos := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("jpegbytes"))
	}))
	defer photos.Close()

	fixture := strings.ReplaceAll(previewFixture, "https://cdn.example.org/file/photo101.jpg", photos.URL+"/photo101.jpg")

	imagesDir := t.TempDir()
	disk, err := local.New(local.Config{BaseDir: imagesDir})
	if err != nil {
		t.Fatalf("local store: %v", err)
	}
	remote := memory.NewBlobStore()
	blobs := storage.NewMirror(remote, disk)

	fast := &stubFetcher{pages: map[string][]byte{
		"https://t.me/s/tikvahpharma": []byte(fixture),
	}}
	s := NewScraper(Config{
		Channels:    []string{"tikvahpharma"},
		BaseURL:     "https://t.me/s",
		MessagesDir: t.TempDir(),
	}, fast, nil, blobs, testClock(), nil)

	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	// The enrich walk reads <images_dir>/<channel>/<message_id>.<ext>.
	data, err := os.ReadFile(filepath.Join(imagesDir, "tikvahpharma", "101.jpg"))
	if err != nil {
		t.Fatalf("mirrored photo missing from images dir: %v", err)
	}
	if string(data) != "jpegbytes" {
		t.Fatalf("mirrored photo = %q", data)
	}
	if _, ok := remote.Object("tikvahpharma/101.jpg"); !ok {
		t.Fatal("photo missing from primary store")
	}
}

func TestRunPromotesToHeadlessOnAppShell(t *testing.T) {
	t.Parallel()

	shell := []byte(`<html><body><div id="app"></div></body></html>`)
	fixture := strings.ReplaceAll(previewFixture,
		`style="width:100%;background-image:url('https://cdn.example.org/file/photo101.jpg')"`, "")

	fast := &stubFetcher{pages: map[string][]byte{"https://t.me/s/tikvahpharma": shell}}
	headless := &stubFetcher{pages: map[string][]byte{"https://t.me/s/tikvahpharma": []byte(fixture)}}

	s := NewScraper(Config{
		Channels:    []string{"tikvahpharma"},
		BaseURL:     "https://t.me/s",
		MessagesDir: t.TempDir(),
	}, fast, headless, memory.NewBlobStore(), testClock(), nil)

	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if headless.calls != 1 {
		t.Fatalf("headless calls = %d, want 1", headless.calls)
	}
}

func TestRunToleratesPartialChannelFailure(t *testing.T) {
	t.Parallel()

	fixture := strings.ReplaceAll(previewFixture,
		`style="width:100%;background-image:url('https://cdn.example.org/file/photo101.jpg')"`, "")
	fixture = strings.ReplaceAll(fixture, "tikvahpharma", "chemed123")

	fast := &stubFetcher{pages: map[string][]byte{
		"https://t.me/s/chemed123": []byte(fixture),
	}}

	s := NewScraper(Config{
		Channels:    []string{"deadchannel", "chemed123"},
		BaseURL:     "https://t.me/s",
		MessagesDir: t.TempDir(),
	}, fast, nil, memory.NewBlobStore(), testClock(), nil)

	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run() should tolerate one failing channel, got %v", err)
	}
}

func TestRunFailsWhenAllChannelsFail(t *testing.T) {
	t.Parallel()

	fast := &stubFetcher{err: errors.New("connection refused")}
	s := NewScraper(Config{
		Channels:    []string{"a", "b"},
		BaseURL:     "https://t.me/s",
		MessagesDir: t.TempDir(),
	}, fast, nil, memory.NewBlobStore(), testClock(), nil)

	err := s.Run(context.Background())
	if err == nil {
		t.Fatal("expected failure when every channel fails")
	}
	if !strings.Contains(err.Error(), "all 2 channels failed") {
		t.Fatalf("error = %q", err)
	}
}

func TestRunAppliesFetchLimit(t *testing.T) {
	t.Parallel()

	var b strings.Builder
	b.WriteString("<html><body>")
	for i := 1; i <= 5; i++ {
		fmt.Fprintf(&b, `<div class="tgme_widget_message" data-post="ch/%d"><div class="tgme_widget_message_text">m%d</div></div>`, i, i)
	}
	b.WriteString("</body></html>")

	dir := t.TempDir()
	fast := &stubFetcher{pages: map[string][]byte{"https://t.me/s/ch": []byte(b.String())}}
	s := NewScraper(Config{
		Channels:    []string{"ch"},
		FetchLimit:  2,
		BaseURL:     "https://t.me/s",
		MessagesDir: dir,
	}, fast, nil, memory.NewBlobStore(), testClock(), nil)

	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "2026-01-17", "ch.json"))
	if err != nil {
		t.Fatalf("read partition: %v", err)
	}
	var records []store.MessageRecord
	if err := json.Unmarshal(data, &records); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records, want fetch limit 2", len(records))
	}
	// Most recent messages are kept.
	if records[0].MessageID != 4 || records[1].MessageID != 5 {
		t.Fatalf("kept ids %d,%d, want 4,5", records[0].MessageID, records[1].MessageID)
	}
}
