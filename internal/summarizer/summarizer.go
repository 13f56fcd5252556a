// Package summarizer condenses each day's conversations into stored
// summaries while the house sleeps. Dailies roll up into weeklies on
// Monday and monthlies on the first, so "war der letzte Winter teuer?"
// has something to search years later.
package summarizer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"

	"github.com/Goifal/mindhome-assistant/internal/episodic"
	"github.com/Goifal/mindhome-assistant/internal/llm"
	"github.com/Goifal/mindhome-assistant/internal/memory"
	"github.com/Goifal/mindhome-assistant/internal/proactive"
)

const (
	dailyPrefix   = "mindhome:summary:daily:"
	weeklyPrefix  = "mindhome:summary:weekly:"
	monthlyPrefix = "mindhome:summary:monthly:"

	// DefaultSchedule runs the nightly pass at 03:00.
	DefaultSchedule = "0 3 * * *"
)

// Config tunes the summarizer.
type Config struct {
	Schedule string
	Model    string // capable tier
}

// Summarizer generates and stores period summaries.
type Summarizer struct {
	cfg      Config
	llm      *llm.Client
	rdb      *redis.Client
	working  *memory.Working
	episodes *episodic.Store
	logger   *slog.Logger
	cron     *cron.Cron
	now      func() time.Time
}

// New creates a summarizer.
func New(cfg Config, client *llm.Client, rdb *redis.Client, working *memory.Working,
	episodes *episodic.Store, logger *slog.Logger) *Summarizer {

	if cfg.Schedule == "" {
		cfg.Schedule = DefaultSchedule
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Summarizer{
		cfg:      cfg,
		llm:      client,
		rdb:      rdb,
		working:  working,
		episodes: episodes,
		logger:   logger,
		now:      time.Now,
	}
}

// Start schedules the nightly run. Call Stop on shutdown.
func (s *Summarizer) Start() error {
	s.cron = cron.New()
	_, err := s.cron.AddFunc(s.cfg.Schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()
		s.RunNightly(ctx)
	})
	if err != nil {
		return fmt.Errorf("schedule summarizer: %w", err)
	}
	s.cron.Start()
	s.logger.Info("summarizer scheduled", "schedule", s.cfg.Schedule)
	return nil
}

// Stop halts the schedule and waits for a running job.
func (s *Summarizer) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
}

// RunNightly summarizes yesterday, then rolls up the week on Mondays
// and the month on the first. Each stage is independent; one failing
// does not stop the others.
func (s *Summarizer) RunNightly(ctx context.Context) {
	now := s.now()
	yesterday := now.AddDate(0, 0, -1)

	if err := s.SummarizeDay(ctx, yesterday); err != nil {
		s.logger.Error("daily summary failed", "date", yesterday.Format("2006-01-02"), "error", err)
	}

	if now.Weekday() == time.Monday {
		if err := s.SummarizeWeek(ctx, now); err != nil {
			s.logger.Error("weekly summary failed", "error", err)
		}
	}

	if now.Day() == 1 {
		if err := s.SummarizeMonth(ctx, now); err != nil {
			s.logger.Error("monthly summary failed", "error", err)
		}
	}
}

// SummarizeDay builds and stores the summary for one day. Idempotent:
// an existing summary is kept.
func (s *Summarizer) SummarizeDay(ctx context.Context, date time.Time) error {
	key := dailyPrefix + date.Format("2006-01-02")
	if exists, _ := s.rdb.Exists(ctx, key).Result(); exists > 0 {
		s.logger.Debug("daily summary already exists", "date", date.Format("2006-01-02"))
		return nil
	}

	turns, err := s.working.TurnsForDate(ctx, date)
	if err != nil {
		return fmt.Errorf("load turns: %w", err)
	}
	delivered, err := proactive.DeliveredForDate(ctx, s.rdb, date)
	if err != nil {
		s.logger.Warn("delivered archive unavailable", "date", date.Format("2006-01-02"), "error", err)
	}
	if len(turns) == 0 && len(delivered) == 0 {
		s.logger.Debug("nothing to summarize", "date", date.Format("2006-01-02"))
		return nil
	}

	var transcript strings.Builder
	for _, t := range turns {
		fmt.Fprintf(&transcript, "%s: %s\nAssistent: %s\n", t.Person, t.UserText, t.Response)
	}
	for _, d := range delivered {
		fmt.Fprintf(&transcript, "Benachrichtigung (%s): %s\n", d.EventType, d.Text)
	}

	summary, err := s.llm.Generate(ctx, s.cfg.Model,
		"Fasse den folgenden Tag im Haushalt in etwa 200 Wörtern zusammen: wer was wollte, welche Aktionen liefen, was auffiel. Deutsch, sachlich.",
		transcript.String(), &llm.Options{Temperature: 0.3, NumPredict: 512})
	if err != nil {
		return fmt.Errorf("generate summary: %w", err)
	}

	return s.store(ctx, key, "Tag "+date.Format("2006-01-02")+": "+summary)
}

// SummarizeWeek rolls the past seven daily summaries into one.
func (s *Summarizer) SummarizeWeek(ctx context.Context, now time.Time) error {
	year, week := now.ISOWeek()
	key := fmt.Sprintf("%s%d-W%02d", weeklyPrefix, year, week)
	if exists, _ := s.rdb.Exists(ctx, key).Result(); exists > 0 {
		return nil
	}

	dailies := s.collect(ctx, dailyPrefix, now, 7)
	if len(dailies) == 0 {
		return nil
	}

	summary, err := s.llm.Generate(ctx, s.cfg.Model,
		"Fasse die folgenden Tageszusammenfassungen zu einer Wochenzusammenfassung zusammen. Deutsch, kompakt.",
		strings.Join(dailies, "\n\n"), &llm.Options{Temperature: 0.3, NumPredict: 384})
	if err != nil {
		return fmt.Errorf("generate weekly summary: %w", err)
	}

	return s.store(ctx, key, fmt.Sprintf("Woche %d/W%02d: %s", year, week, summary))
}

// SummarizeMonth rolls the previous month's dailies into one.
func (s *Summarizer) SummarizeMonth(ctx context.Context, now time.Time) error {
	prev := now.AddDate(0, -1, 0)
	key := monthlyPrefix + prev.Format("2006-01")
	if exists, _ := s.rdb.Exists(ctx, key).Result(); exists > 0 {
		return nil
	}

	daysInMonth := time.Date(prev.Year(), prev.Month()+1, 0, 0, 0, 0, 0, prev.Location()).Day()
	dailies := s.collect(ctx, dailyPrefix, now, daysInMonth)
	if len(dailies) == 0 {
		return nil
	}

	summary, err := s.llm.Generate(ctx, s.cfg.Model,
		"Fasse die folgenden Tageszusammenfassungen zu einer Monatszusammenfassung zusammen: wiederkehrende Muster, besondere Ereignisse. Deutsch.",
		strings.Join(dailies, "\n\n"), &llm.Options{Temperature: 0.3, NumPredict: 512})
	if err != nil {
		return fmt.Errorf("generate monthly summary: %w", err)
	}

	return s.store(ctx, key, "Monat "+prev.Format("2006-01")+": "+summary)
}

// Search finds stored summaries matching the query via the episodic
// vector index.
func (s *Summarizer) Search(ctx context.Context, query string, k int) ([]episodic.SearchResult, error) {
	return s.episodes.Search(ctx, query, episodic.KindSummary, k)
}

// Get returns a stored summary by its full key date, "" when absent.
func (s *Summarizer) Get(ctx context.Context, period, date string) (string, error) {
	var key string
	switch period {
	case "daily":
		key = dailyPrefix + date
	case "weekly":
		key = weeklyPrefix + date
	case "monthly":
		key = monthlyPrefix + date
	default:
		return "", fmt.Errorf("unknown period: %s", period)
	}

	val, err := s.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return val, err
}

// store writes the summary to Redis for key lookup and to the episodic
// index for semantic search.
func (s *Summarizer) store(ctx context.Context, key, text string) error {
	if err := s.rdb.Set(ctx, key, text, 0).Err(); err != nil {
		return fmt.Errorf("store summary: %w", err)
	}
	if _, err := s.episodes.Store(ctx, episodic.KindSummary, "", text); err != nil {
		// Redis copy exists; the vector copy is best effort.
		s.logger.Warn("episodic summary store failed", "key", key, "error", err)
	}
	s.logger.Info("summary stored", "key", key, "len", len(text))
	return nil
}

// collect gathers up to n prior daily summaries counting back from now.
func (s *Summarizer) collect(ctx context.Context, prefix string, now time.Time, n int) []string {
	var out []string
	for i := 1; i <= n; i++ {
		key := prefix + now.AddDate(0, 0, -i).Format("2006-01-02")
		val, err := s.rdb.Get(ctx, key).Result()
		if err != nil {
			continue
		}
		out = append(out, val)
	}
	// Collected newest first; reverse to chronological order.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}
