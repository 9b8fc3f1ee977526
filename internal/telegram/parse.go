package telegram

import (
	"bytes"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/addisanalytics/medtel-warehouse/internal/store"
)

// ScrapedMessage pairs a message record with the photo URL found in its
// markup, if any. The photo is downloaded separately.
type ScrapedMessage struct {
	Record   store.MessageRecord
	PhotoURL string
}

var backgroundImageRe = regexp.MustCompile(`background-image:\s*url\('([^']+)'\)`)

// ParseMessages extracts message records from a t.me/s preview page. An app
// shell page without message widgets yields an empty slice, which the
// scraper treats as a signal to retry headless.
func ParseMessages(html []byte, channel string) ([]ScrapedMessage, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse channel page: %w", err)
	}

	var out []ScrapedMessage
	doc.Find(".tgme_widget_message").Each(func(_ int, sel *goquery.Selection) {
		post, ok := sel.Attr("data-post")
		if !ok {
			return
		}
		id := parseMessageID(post)
		if id == 0 {
			return
		}

		rec := store.MessageRecord{
			MessageID:   id,
			ChannelName: channel,
			MessageText: strings.TrimSpace(sel.Find(".tgme_widget_message_text").First().Text()),
			Views:       parseCount(sel.Find(".tgme_widget_message_views").First().Text()),
			Forwards:    parseCount(sel.Find(".tgme_widget_message_forwards").First().Text()),
		}

		if datetime, ok := sel.Find("time").First().Attr("datetime"); ok {
			if when, err := time.Parse(time.RFC3339, datetime); err == nil {
				utc := when.UTC()
				rec.MessageDate = &utc
			}
		}

		var photoURL string
		if style, ok := sel.Find(".tgme_widget_message_photo_wrap").First().Attr("style"); ok {
			if m := backgroundImageRe.FindStringSubmatch(style); m != nil {
				photoURL = m[1]
			}
		}
		rec.HasMedia = photoURL != ""

		out = append(out, ScrapedMessage{Record: rec, PhotoURL: photoURL})
	})
	return out, nil
}

// parseMessageID extracts the numeric ID from a data-post value such as
// "tikvahpharma/12345".
func parseMessageID(post string) int64 {
	idx := strings.LastIndex(post, "/")
	if idx < 0 || idx == len(post)-1 {
		return 0
	}
	id, err := strconv.ParseInt(post[idx+1:], 10, 64)
	if err != nil {
		return 0
	}
	return id
}

// parseCount turns display counts like "884", "1.2K" or "3M" into integers.
// Unparsable values count as zero.
func parseCount(raw string) int {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0
	}
	multiplier := 1.0
	switch {
	case strings.HasSuffix(s, "K"):
		multiplier = 1e3
		s = strings.TrimSuffix(s, "K")
	case strings.HasSuffix(s, "M"):
		multiplier = 1e6
		s = strings.TrimSuffix(s, "M")
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return int(n * multiplier)
}
