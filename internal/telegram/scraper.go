package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/addisanalytics/medtel-warehouse/internal/metrics"
	"github.com/addisanalytics/medtel-warehouse/internal/storage"
	"github.com/addisanalytics/medtel-warehouse/internal/store"
)

// Config controls which channels are scraped and where output lands.
type Config struct {
	Channels    []string
	FetchLimit  int
	BaseURL     string
	MessagesDir string
}

// Clock supplies the partition date.
type Clock interface {
	Now() time.Time
}

// Scraper fetches channel previews, archives photos through the blob store
// and writes date-partitioned JSON message files.
type Scraper struct {
	cfg      Config
	fast     PageFetcher
	headless PageFetcher
	blobs    storage.BlobStore
	client   *http.Client
	clock    Clock
	logger   *zap.Logger
}

// NewScraper builds a Scraper. headless may be nil to disable the fallback.
func NewScraper(cfg Config, fast PageFetcher, headless PageFetcher, blobs storage.BlobStore, clock Clock, logger *zap.Logger) *Scraper {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	return &Scraper{
		cfg:      cfg,
		fast:     fast,
		headless: headless,
		blobs:    blobs,
		client:   &http.Client{Timeout: 30 * time.Second},
		clock:    clock,
		logger:   logger.Named("scraper"),
	}
}

// Run scrapes every configured channel. A failing channel is logged and
// skipped; the run fails only when no channel could be scraped at all.
func (s *Scraper) Run(ctx context.Context) error {
	if len(s.cfg.Channels) == 0 {
		return fmt.Errorf("no channels configured")
	}

	var (
		succeeded int
		lastErr   error
	)
	for _, channel := range s.cfg.Channels {
		count, err := s.scrapeChannel(ctx, channel)
		if err != nil {
			s.logger.Warn("channel scrape failed, skipping",
				zap.String("channel", channel), zap.Error(err))
			lastErr = err
			continue
		}
		succeeded++
		metrics.ObserveScrape(channel, count)
		s.logger.Info("channel scraped",
			zap.String("channel", channel), zap.Int("messages", count))
	}

	if succeeded == 0 {
		return fmt.Errorf("all %d channels failed: %w", len(s.cfg.Channels), lastErr)
	}
	return nil
}

func (s *Scraper) scrapeChannel(ctx context.Context, channel string) (int, error) {
	url := fmt.Sprintf("%s/%s", s.cfg.BaseURL, channel)

	html, err := s.fast.FetchPage(ctx, url)
	if err != nil {
		return 0, err
	}
	msgs, err := ParseMessages(html, channel)
	if err != nil {
		return 0, err
	}

	// An empty page is usually the JS app shell served instead of the
	// preview; render it for real before giving up on the channel.
	if len(msgs) == 0 && s.headless != nil {
		s.logger.Info("no message widgets, promoting to headless", zap.String("channel", channel))
		html, err = s.headless.FetchPage(ctx, url)
		if err != nil {
			return 0, fmt.Errorf("headless fallback: %w", err)
		}
		msgs, err = ParseMessages(html, channel)
		if err != nil {
			return 0, err
		}
	}
	if len(msgs) == 0 {
		return 0, fmt.Errorf("no message widgets found at %s", url)
	}

	if s.cfg.FetchLimit > 0 && len(msgs) > s.cfg.FetchLimit {
		// The preview lists oldest first; keep the most recent.
		msgs = msgs[len(msgs)-s.cfg.FetchLimit:]
	}

	records := make([]store.MessageRecord, 0, len(msgs))
	for _, msg := range msgs {
		rec := msg.Record
		if msg.PhotoURL != "" {
			uri, err := s.archivePhoto(ctx, channel, rec.MessageID, msg.PhotoURL)
			if err != nil {
				s.logger.Warn("photo archive failed",
					zap.String("channel", channel),
					zap.Int64("message_id", rec.MessageID),
					zap.Error(err),
				)
			} else {
				rec.ImagePath = &uri
			}
		}
		records = append(records, rec)
	}

	if err := s.writePartition(channel, records); err != nil {
		return 0, err
	}
	return len(records), nil
}

func (s *Scraper) archivePhoto(ctx context.Context, channel string, messageID int64, photoURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, photoURL, nil)
	if err != nil {
		return "", fmt.Errorf("build photo request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("download photo: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download photo: unexpected status %d", resp.StatusCode)
	}

	key := fmt.Sprintf("%s/%d.jpg", channel, messageID)
	uri, err := s.blobs.PutObject(ctx, key, "image/jpeg", resp.Body)
	if err != nil {
		return "", fmt.Errorf("store photo %s: %w", key, err)
	}
	return uri, nil
}

func (s *Scraper) writePartition(channel string, records []store.MessageRecord) error {
	dir := filepath.Join(s.cfg.MessagesDir, s.clock.Now().Format("2006-01-02"))
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create partition dir: %w", err)
	}

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal messages: %w", err)
	}

	path := filepath.Join(dir, channel+".json")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write partition %s: %w", path, err)
	}
	return nil
}
