package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"llm-trading-arena/internal/cache"
	"llm-trading-arena/internal/market"
)

// queryAlt returns the first non-empty value among the given query keys.
// Older dashboard builds send camelCase parameters.
func queryAlt(c *gin.Context, keys ...string) string {
	for _, k := range keys {
		if v := c.Query(k); v != "" {
			return v
		}
	}
	return ""
}

func (s *Server) handlePrices(c *gin.Context) {
	ok(c, s.deps.Market.Quotes())
}

func (s *Server) handleKlines(c *gin.Context) {
	symbol := queryAlt(c, "symbol")
	if symbol == "" {
		failMsg(c, http.StatusBadRequest, "symbol is required")
		return
	}
	interval := queryAlt(c, "interval")
	if interval == "" {
		interval = "3m"
	}
	limit := limitQuery(c, 100)

	bars := s.deps.Market.Klines(symbol, interval, limit)

	start, okStart, err := msQuery(c, "start_time", "startTime")
	if err != nil {
		failMsg(c, http.StatusBadRequest, "start_time must be a millisecond timestamp")
		return
	}
	end, okEnd, err := msQuery(c, "end_time", "endTime")
	if err != nil {
		failMsg(c, http.StatusBadRequest, "end_time must be a millisecond timestamp")
		return
	}
	if okStart || okEnd {
		filtered := bars[:0]
		for _, b := range bars {
			if okStart && b.OpenTimeMs < start {
				continue
			}
			if okEnd && b.OpenTimeMs > end {
				continue
			}
			filtered = append(filtered, b)
		}
		bars = filtered
	}
	ok(c, bars)
}

// msQuery parses an optional epoch-ms query parameter.
func msQuery(c *gin.Context, keys ...string) (int64, bool, error) {
	raw := queryAlt(c, keys...)
	if raw == "" {
		return 0, false, nil
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false, err
	}
	return ms, true, nil
}

func (s *Server) handleIndicators(c *gin.Context) {
	symbol := c.Param("symbol")
	if symbol == "" {
		symbol = queryAlt(c, "symbol")
	}
	if symbol == "" {
		failMsg(c, http.StatusBadRequest, "symbol is required")
		return
	}
	intervals := s.deps.Market.IntervalsFor(symbol)
	if iv := queryAlt(c, "interval"); iv != "" {
		intervals = []string{iv}
	}

	var change float64
	if q, found := s.deps.Market.Quote(symbol); found {
		change = q.Change24h
	}

	now := time.Now()
	byInterval := make(map[string]market.Indicators, len(intervals))
	for _, iv := range intervals {
		ind := market.ComputeIndicators(symbol, iv, s.deps.Market.ClosedKlines(symbol, iv, now))
		ind.Change24h = change
		byInterval[iv] = ind
	}
	ok(c, gin.H{"symbol": symbol, "change_24h": change, "intervals": byInterval})
}

func (s *Server) handleLeaderboardFull(c *gin.Context) {
	ok(c, s.leaderboardSnapshot(c))
}

func (s *Server) handleLeaderboard(gainers bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		snap := s.leaderboardSnapshot(c)
		entries := snap.Losers
		if gainers {
			entries = snap.Gainers
		}
		if n := limitQuery(c, 0); n > 0 && len(entries) > n {
			entries = entries[:n]
		}
		ok(c, gin.H{"entries": entries, "paused": snap.Paused, "updated_at": snap.UpdatedAt})
	}
}

// leaderboardSnapshot serves from Redis when possible so a dashboard poll
// storm does not hammer the in-process board.
func (s *Server) leaderboardSnapshot(c *gin.Context) *market.LeaderboardSnapshot {
	ctx := c.Request.Context()
	var cached market.LeaderboardSnapshot
	if err := s.deps.KV.GetJSON(ctx, cache.KeyLeaderboard, &cached); err == nil {
		// The cached copy may predate a pause toggle.
		cached.Paused = s.deps.Leaderboard.Snapshot().Paused
		return &cached
	}
	snap := s.deps.Leaderboard.Snapshot()
	if !snap.UpdatedAt.IsZero() {
		if err := s.deps.KV.SetJSON(ctx, cache.KeyLeaderboard, snap, cache.LeaderboardTTL); err != nil && err != cache.ErrUnavailable {
			s.log.Warn().Err(err).Msg("leaderboard cache write failed")
		}
	}
	return snap
}

func (s *Server) handleLeaderboardPause(pause bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		if pause {
			s.deps.Leaderboard.Pause()
		} else {
			s.deps.Leaderboard.Resume()
		}
		ok(c, gin.H{"paused": pause})
	}
}
