// Package warehouse computes per-channel rollups from the raw detection
// store for the analytical query layer.
package warehouse

import (
	"context"
	"fmt"
	"sort"

	"github.com/addisanalytics/medtel-warehouse/internal/store"
)

// ChannelAggregate summarizes image classifications for one channel.
type ChannelAggregate struct {
	ChannelName   string  `json:"channel_name"`
	ImagePosts    int     `json:"image_posts"`
	AvgConfidence float64 `json:"avg_confidence"`
	TopCategory   string  `json:"top_category"`
}

// DetectionSource provides the rows to aggregate. *store.Store satisfies it.
type DetectionSource interface {
	ListDetections(ctx context.Context) ([]store.DetectionRecord, error)
}

// Engine computes aggregates on demand; nothing is persisted.
type Engine struct {
	source DetectionSource
}

// NewEngine wraps a detection source.
func NewEngine(source DetectionSource) *Engine {
	return &Engine{source: source}
}

// AggregateByChannel fetches all detections and rolls them up per channel.
func (e *Engine) AggregateByChannel(ctx context.Context) ([]ChannelAggregate, error) {
	rows, err := e.source.ListDetections(ctx)
	if err != nil {
		return nil, fmt.Errorf("load detections for aggregation: %w", err)
	}
	return Aggregate(rows), nil
}

type categoryStats struct {
	count   int
	confSum float64
}

// Aggregate groups detections by channel, then by category within each
// channel. The dominant category is the one with the highest count; ties
// break lexically so the result is deterministic. AvgConfidence is the
// unweighted mean of each category's mean confidence, matching the
// warehouse's historical rollup, not a row-weighted mean. Channels with no
// detections simply do not appear.
func Aggregate(rows []store.DetectionRecord) []ChannelAggregate {
	byChannel := make(map[string]map[string]*categoryStats)
	for _, row := range rows {
		channel := store.NormalizeChannel(row.ChannelName)
		if channel == "" {
			continue
		}
		cats, ok := byChannel[channel]
		if !ok {
			cats = make(map[string]*categoryStats)
			byChannel[channel] = cats
		}
		stats, ok := cats[row.ImageCategory]
		if !ok {
			stats = &categoryStats{}
			cats[row.ImageCategory] = stats
		}
		stats.count++
		stats.confSum += row.ConfidenceScore
	}

	out := make([]ChannelAggregate, 0, len(byChannel))
	for channel, cats := range byChannel {
		agg := ChannelAggregate{ChannelName: channel}

		categories := make([]string, 0, len(cats))
		for cat := range cats {
			categories = append(categories, cat)
		}
		sort.Strings(categories)

		var avgSum float64
		topCount := -1
		for _, cat := range categories {
			stats := cats[cat]
			agg.ImagePosts += stats.count
			avgSum += stats.confSum / float64(stats.count)
			if stats.count > topCount {
				topCount = stats.count
				agg.TopCategory = cat
			}
		}
		agg.AvgConfidence = avgSum / float64(len(categories))
		out = append(out, agg)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].ImagePosts != out[j].ImagePosts {
			return out[i].ImagePosts > out[j].ImagePosts
		}
		return out[i].ChannelName < out[j].ChannelName
	})
	return out
}
