package messenger

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis keys for search trend tracking.
const (
	trendingKey         = "search:trending"
	recentSearchPrefix  = "search:recent:"
	recentSearchMaxRank = -1
)

// TrendingTerm is one entry in the global trending-search ranking.
type TrendingTerm struct {
	Term  string
	Score float64
}

// trendTracker records search activity in Redis sorted sets. A nil
// client disables tracking; recording is best-effort and never fails
// the search that triggered it.
type trendTracker struct {
	client redis.UniversalClient
	logger *slog.Logger
	size   int
}

func newTrendTracker(client redis.UniversalClient, o *options) *trendTracker {
	return &trendTracker{
		client: client,
		logger: o.logger,
		size:   o.trendingSize,
	}
}

// record bumps the term's global popularity and appends it to the
// user's recent-search list, trimming the list to the configured size.
func (t *trendTracker) record(ctx context.Context, userID, query string) {
	if t.client == nil {
		return
	}
	term := strings.ToLower(strings.TrimSpace(query))
	if term == "" {
		return
	}

	pipe := t.client.Pipeline()
	pipe.ZIncrBy(ctx, trendingKey, 1, term)

	recentKey := recentSearchPrefix + userID
	pipe.ZAdd(ctx, recentKey, redis.Z{
		Score:  float64(time.Now().UnixNano()),
		Member: term,
	})
	// Keep only the newest entries.
	pipe.ZRemRangeByRank(ctx, recentKey, 0, int64(-t.size-1))

	if _, err := pipe.Exec(ctx); err != nil {
		t.logger.Debug("failed to record search trend", "error", err)
	}
}

// Trending returns the top search terms by popularity, highest first.
func (s *service) Trending(ctx context.Context, limit int) ([]TrendingTerm, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if s.trends.client == nil {
		return nil, nil
	}
	if limit <= 0 || limit > s.opts.trendingSize {
		limit = s.opts.trendingSize
	}

	entries, err := s.trends.client.ZRevRangeWithScores(ctx, trendingKey, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("fetch trending terms: %w", err)
	}
	terms := make([]TrendingTerm, 0, len(entries))
	for _, e := range entries {
		term, ok := e.Member.(string)
		if !ok {
			continue
		}
		terms = append(terms, TrendingTerm{Term: term, Score: e.Score})
	}
	return terms, nil
}

// RecentSearches returns a user's recent search terms, newest first.
func (s *service) RecentSearches(ctx context.Context, userID string) ([]string, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if !isValidUserID(userID) {
		return nil, newValidationError("user_id", ErrInvalidUserID, userID)
	}
	if s.trends.client == nil {
		return nil, nil
	}

	terms, err := s.trends.client.ZRevRange(ctx, recentSearchPrefix+userID, 0, recentSearchMaxRank).Result()
	if err != nil {
		return nil, fmt.Errorf("fetch recent searches: %w", err)
	}
	return terms, nil
}
