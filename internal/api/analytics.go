package api

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
)

// Querier is the read-only database surface the analytics handlers need.
// *pgxpool.Pool satisfies it, as does pgxmock in tests.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Analytics runs the warehouse queries behind the report endpoints. The
// queries target the dbt marts, not the raw tables.
type Analytics struct {
	db Querier
}

// NewAnalytics wraps a database handle.
func NewAnalytics(db Querier) *Analytics {
	return &Analytics{db: db}
}

// TopProduct is one entry of the top-products report.
type TopProduct struct {
	Term  string `json:"term"`
	Count int    `json:"count"`
}

// ActivityBucket is one day of a channel's posting activity.
type ActivityBucket struct {
	Day      string  `json:"day"`
	Messages int     `json:"messages"`
	AvgViews float64 `json:"avg_views"`
}

// SearchResult is one message matched by the search endpoint.
type SearchResult struct {
	MessageID   int64      `json:"message_id"`
	ChannelName string     `json:"channel_name"`
	MessageDate *time.Time `json:"message_date"`
	MessageText string     `json:"message_text"`
	Views       int        `json:"views"`
}

const (
	selectMessageTextsSQL = `SELECT message_text FROM fct_messages WHERE message_text IS NOT NULL AND message_text <> ''`

	selectChannelActivitySQL = `SELECT CAST(message_date AS DATE) AS day,
		COUNT(*) AS messages,
		COALESCE(AVG(views), 0) AS avg_views
	FROM fct_messages
	WHERE channel_name = $1
	GROUP BY day
	ORDER BY day`

	searchMessagesSQL = `SELECT message_id, channel_name, message_date, message_text, views
	FROM fct_messages
	WHERE message_text ILIKE '%' || $1 || '%'
	ORDER BY message_date DESC
	LIMIT $2`
)

// stopWords filters marketing and contact boilerplate out of the
// top-products term counts.
var stopWords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "with": {}, "you": {}, "your": {},
	"from": {}, "this": {}, "that": {}, "are": {}, "our": {}, "all": {},
	"now": {}, "new": {}, "not": {}, "can": {}, "has": {}, "have": {},
	"price": {}, "birr": {}, "etb": {}, "free": {}, "available": {},
	"delivery": {}, "order": {}, "call": {}, "contact": {}, "phone": {},
	"address": {}, "telegram": {}, "channel": {}, "join": {},
	"https": {}, "http": {}, "www": {}, "com": {},
}

var termRe = regexp.MustCompile(`[a-z0-9]+`)

// TopProducts tokenizes warehouse message texts and returns the most
// frequent terms after stop-word filtering.
func (a *Analytics) TopProducts(ctx context.Context, limit int) ([]TopProduct, error) {
	rows, err := a.db.Query(ctx, selectMessageTextsSQL)
	if err != nil {
		return nil, fmt.Errorf("query message texts: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var text string
		if err := rows.Scan(&text); err != nil {
			return nil, fmt.Errorf("scan message text: %w", err)
		}
		for _, term := range extractTerms(text) {
			counts[term]++
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate message texts: %w", err)
	}

	out := make([]TopProduct, 0, len(counts))
	for term, count := range counts {
		out = append(out, TopProduct{Term: term, Count: count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Term < out[j].Term
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// extractTerms lowercases, tokenizes and filters one message text.
func extractTerms(text string) []string {
	var terms []string
	for _, term := range termRe.FindAllString(strings.ToLower(text), -1) {
		if len(term) < 3 {
			continue
		}
		if isNumeric(term) {
			continue
		}
		if _, ok := stopWords[term]; ok {
			continue
		}
		terms = append(terms, term)
	}
	return terms
}

func isNumeric(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// ChannelActivity returns daily post counts and average views for one
// channel.
func (a *Analytics) ChannelActivity(ctx context.Context, channel string) ([]ActivityBucket, error) {
	rows, err := a.db.Query(ctx, selectChannelActivitySQL, channel)
	if err != nil {
		return nil, fmt.Errorf("query channel activity: %w", err)
	}
	defer rows.Close()

	var out []ActivityBucket
	for rows.Next() {
		var (
			day      time.Time
			bucket   ActivityBucket
			avgViews float64
		)
		if err := rows.Scan(&day, &bucket.Messages, &avgViews); err != nil {
			return nil, fmt.Errorf("scan activity row: %w", err)
		}
		bucket.Day = day.Format("2006-01-02")
		bucket.AvgViews = avgViews
		out = append(out, bucket)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate activity rows: %w", err)
	}
	return out, nil
}

// SearchMessages matches messages whose text contains the sanitized query.
// Untrusted input is stripped to letters, digits and spaces before it
// reaches the LIKE pattern.
func (a *Analytics) SearchMessages(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	sanitized := SanitizeQuery(query)
	if sanitized == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}

	rows, err := a.db.Query(ctx, searchMessagesSQL, sanitized, limit)
	if err != nil {
		return nil, fmt.Errorf("search messages: %w", err)
	}
	defer rows.Close()

	var out []SearchResult
	for rows.Next() {
		var res SearchResult
		if err := rows.Scan(&res.MessageID, &res.ChannelName, &res.MessageDate, &res.MessageText, &res.Views); err != nil {
			return nil, fmt.Errorf("scan search row: %w", err)
		}
		out = append(out, res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate search rows: %w", err)
	}
	return out, nil
}

var sanitizeRe = regexp.MustCompile(`[^a-zA-Z0-9 ]+`)

// SanitizeQuery strips everything but letters, digits and spaces and
// collapses the remainder.
func SanitizeQuery(q string) string {
	cleaned := sanitizeRe.ReplaceAllString(q, " ")
	return strings.Join(strings.Fields(cleaned), " ")
}
