// Package scraper drives the provider session channel by channel and
// publishes one atomic batch artifact per channel.
package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"ChannelPipeline/internal/domain"
	"ChannelPipeline/internal/metrics"
	"ChannelPipeline/internal/ports"
)

const serializationNote = "serialization failed (message contains values that cannot be encoded as JSON)"

// Locker guards a run against concurrent runs over the same artifact root.
type Locker interface {
	Lock() (func() error, error)
}

// Options tunes a scrape run.
type Options struct {
	MessageLimit  int
	ChannelDelay  time.Duration
	DownloadMedia bool
}

// Deps wires the scraper collaborators. Sleep and Now default to real time.
type Deps struct {
	Session ports.Session
	Store   ports.BatchStore
	Locker  Locker
	Logger  *slog.Logger
	Sleep   func(ctx context.Context, d time.Duration) error
	Now     func() time.Time
}

// Scraper owns the session handle for the duration of a run.
type Scraper struct {
	session ports.Session
	store   ports.BatchStore
	locker  Locker
	logger  *slog.Logger
	sleep   func(ctx context.Context, d time.Duration) error
	now     func() time.Time
	opts    Options

	connected bool
}

var _ ports.ChannelScraper = (*Scraper)(nil)

// New constructs the scraper.
func New(deps Deps, opts Options) *Scraper {
	s := &Scraper{
		session: deps.Session,
		store:   deps.Store,
		locker:  deps.Locker,
		logger:  deps.Logger,
		sleep:   deps.Sleep,
		now:     deps.Now,
		opts:    opts,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.sleep == nil {
		s.sleep = sleepContext
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// ScrapeAll scrapes every target in order with a fixed delay between
// channels. A failed channel never stops the remaining ones.
func (s *Scraper) ScrapeAll(ctx context.Context, targets []domain.ChannelTarget) (domain.RunSummary, error) {
	summary := domain.RunSummary{RunID: uuid.NewString(), StartedAt: s.now().UTC()}
	logger := s.logger.With("run_id", summary.RunID)

	if s.locker != nil {
		unlock, err := s.locker.Lock()
		if err != nil {
			return summary, fmt.Errorf("lock scrape run: %w", err)
		}
		defer func() {
			if err := unlock(); err != nil {
				logger.Warn("release scrape lock", "error", err)
			}
		}()
	}

	defer s.disconnect()

	logger.Info("scrape run started", "channels", len(targets))
	for i, target := range targets {
		if i > 0 && s.opts.ChannelDelay > 0 {
			if err := s.sleep(ctx, s.opts.ChannelDelay); err != nil {
				summary.FinishedAt = s.now().UTC()
				return summary, err
			}
		}

		batch := s.ScrapeChannel(ctx, target)
		summary.Add(batch)

		if err := ctx.Err(); err != nil {
			summary.FinishedAt = s.now().UTC()
			return summary, err
		}
	}
	summary.FinishedAt = s.now().UTC()

	logger.Info("scrape run finished",
		"successful", summary.Successful,
		"channels", len(summary.Batches),
		"messages", summary.TotalMessages,
	)
	for _, failed := range summary.Failed() {
		logger.Warn("channel failed", "channel", failed.Channel, "reason", failed.Error)
	}
	return summary, nil
}

// ScrapeChannel runs the state machine for one channel and always returns a
// batch describing the outcome.
func (s *Scraper) ScrapeChannel(ctx context.Context, target domain.ChannelTarget) domain.ScrapeBatch {
	name := channelName(target)
	logger := s.logger.With("channel", name)
	started := s.now()
	batch := domain.ScrapeBatch{Channel: name, StartedAt: started.UTC()}

	state := StatePending
	transition := func(next State) {
		logger.Debug("state transition", "from", state, "to", next)
		state = next
	}

	finish := func(status domain.ScrapeStatus, reason string) domain.ScrapeBatch {
		transition(StateDone)
		batch.Status = status
		batch.Error = reason
		batch.FinishedAt = s.now().UTC()
		batch.Duration = batch.FinishedAt.Sub(batch.StartedAt)
		metrics.ChannelRuns.WithLabelValues(string(status)).Inc()
		logger.Info("channel done",
			"status", status,
			"messages", batch.MessageCount,
			"skipped", batch.Skipped,
			"retries", batch.Retries,
			"duration", batch.Duration,
		)
		return batch
	}

	if !s.connected {
		transition(StateConnecting)
		if err := s.session.Connect(ctx); err != nil {
			batch.Unreachable = true
			return finish(domain.StatusError, describe(err))
		}
		s.connected = true
	}

	transition(StateFetching)
	messages, fetchErr := s.fetch(ctx, target, &batch, logger, transition)

	if len(messages) == 0 {
		if fetchErr != nil {
			return finish(domain.StatusError, describe(fetchErr))
		}
		return finish(domain.StatusNoMessages, "")
	}

	transition(StateSerializing)
	artifact, err := s.store.Write(started.UTC(), name, messages)
	if err != nil {
		return finish(domain.StatusError, describe(err))
	}
	batch.Path = artifact
	batch.MessageCount = len(messages)
	metrics.ScrapedMessages.WithLabelValues(name).Add(float64(len(messages)))

	if fetchErr != nil {
		// collected messages are kept; the channel still reports the failure
		return finish(domain.StatusError, describe(fetchErr))
	}
	return finish(domain.StatusSuccess, "")
}

func (s *Scraper) fetch(ctx context.Context, target domain.ChannelTarget, batch *domain.ScrapeBatch, logger *slog.Logger, transition func(State)) ([]domain.RawMessage, error) {
	var (
		messages []domain.RawMessage
		seen     = map[int64]struct{}{}
		offset   int64
		fetched  int
	)

	for {
		req := ports.HistoryRequest{Channel: target, OffsetID: offset}
		if s.opts.MessageLimit > 0 {
			req.Limit = s.opts.MessageLimit - fetched
			if req.Limit <= 0 {
				return messages, nil
			}
		}

		var (
			wait        time.Duration
			rateLimited bool
			fetchErr    error
		)
		for pm, err := range s.session.IterateHistory(ctx, req) {
			if err != nil {
				var rl *domain.RateLimitedError
				if errors.As(err, &rl) {
					rateLimited, wait = true, rl.Wait
				} else {
					fetchErr = err
				}
				break
			}

			offset = pm.ID
			fetched++
			if _, dup := seen[pm.ID]; dup {
				continue
			}
			seen[pm.ID] = struct{}{}

			if !pm.HasText() {
				batch.Skipped++
				continue
			}

			msg := toRawMessage(target, pm, s.now())
			if s.opts.DownloadMedia && pm.MediaURL != "" {
				transition(StateDownloading)
				if mediaPath, ok := s.download(ctx, target, pm, batch, logger); ok {
					msg.MediaPath = &mediaPath
					batch.MediaFiles++
				}
				transition(StateFetching)
			}
			messages = append(messages, msg)
		}

		if fetchErr != nil {
			return messages, fetchErr
		}
		if !rateLimited {
			return messages, nil
		}

		batch.Retries++
		metrics.RateLimitWaits.Inc()
		logger.Warn("rate limited, waiting", "wait", wait, "resume_before", offset)
		if err := s.sleep(ctx, wait); err != nil {
			return messages, err
		}
	}
}

// download fetches one attachment synchronously. Rate limits are waited
// out; any other failure is logged and leaves the media path empty.
func (s *Scraper) download(ctx context.Context, target domain.ChannelTarget, pm domain.ProviderMessage, batch *domain.ScrapeBatch, logger *slog.Logger) (string, bool) {
	dest := s.store.MediaPath(channelName(target), pm.Date, pm.ID, mediaExt(pm))
	for {
		saved, err := s.session.DownloadMedia(ctx, pm, dest)
		if err == nil {
			return saved, true
		}

		var rl *domain.RateLimitedError
		if !errors.As(err, &rl) {
			logger.Warn("media download failed", "message_id", pm.ID, "error", err)
			return "", false
		}

		batch.Retries++
		metrics.RateLimitWaits.Inc()
		logger.Warn("rate limited during media download", "message_id", pm.ID, "wait", rl.Wait)
		if err := s.sleep(ctx, rl.Wait); err != nil {
			return "", false
		}
	}
}

func (s *Scraper) disconnect() {
	if s.session != nil {
		s.session.Disconnect()
	}
	s.connected = false
}

// describe normalizes failures into the reason recorded on the batch.
func describe(err error) string {
	var (
		connErr      *domain.ConnectionError
		inaccessible *domain.ChannelInaccessibleError
	)
	switch {
	case errors.Is(err, domain.ErrSerialization):
		detail := strings.TrimPrefix(err.Error(), domain.ErrSerialization.Error()+": ")
		return fmt.Sprintf("%s: %s", serializationNote, detail)
	case errors.As(err, &connErr):
		return connErr.Error()
	case errors.As(err, &inaccessible):
		return inaccessible.Error()
	default:
		return err.Error()
	}
}

func mediaExt(pm domain.ProviderMessage) string {
	if pm.MediaURL != "" {
		if ext := path.Ext(strings.SplitN(pm.MediaURL, "?", 2)[0]); ext != "" && len(ext) <= 5 {
			return ext
		}
	}
	switch pm.MediaType {
	case "photo":
		return ".jpg"
	case "video":
		return ".mp4"
	default:
		return ""
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
