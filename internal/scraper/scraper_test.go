package scraper

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ChannelPipeline/internal/domain"
	"ChannelPipeline/internal/infrastructure/batchfile"
	"ChannelPipeline/internal/logging"
	"ChannelPipeline/internal/ports"
)

type scriptedCall struct {
	messages []domain.ProviderMessage
	err      error
}

type fakeSession struct {
	connectErrs []error
	connects    int
	disconnects int
	scripts     map[string][]scriptedCall
	calls       map[string]int
	requests    []ports.HistoryRequest
	downloads   map[int64][]error
}

func newFakeSession() *fakeSession {
	return &fakeSession{
		scripts:   map[string][]scriptedCall{},
		calls:     map[string]int{},
		downloads: map[int64][]error{},
	}
}

func (f *fakeSession) Connect(context.Context) error {
	f.connects++
	if len(f.connectErrs) > 0 {
		err := f.connectErrs[0]
		f.connectErrs = f.connectErrs[1:]
		return err
	}
	return nil
}

func (f *fakeSession) Disconnect() { f.disconnects++ }

func (f *fakeSession) IterateHistory(_ context.Context, req ports.HistoryRequest) iter.Seq2[domain.ProviderMessage, error] {
	f.requests = append(f.requests, req)
	name := req.Channel.Username()
	script := f.scripts[name]
	idx := f.calls[name]
	f.calls[name]++

	return func(yield func(domain.ProviderMessage, error) bool) {
		if idx >= len(script) {
			return
		}
		call := script[idx]
		emitted := 0
		for _, msg := range call.messages {
			if req.OffsetID > 0 && msg.ID >= req.OffsetID {
				continue
			}
			if !yield(msg, nil) {
				return
			}
			emitted++
			if req.Limit > 0 && emitted >= req.Limit {
				return
			}
		}
		if call.err != nil {
			yield(domain.ProviderMessage{}, call.err)
		}
	}
}

func (f *fakeSession) DownloadMedia(_ context.Context, msg domain.ProviderMessage, dest string) (string, error) {
	if errs := f.downloads[msg.ID]; len(errs) > 0 {
		f.downloads[msg.ID] = errs[1:]
		if errs[0] != nil {
			return "", errs[0]
		}
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", err
	}
	return dest, os.WriteFile(dest, []byte("img"), 0o644)
}

type sleepRecorder struct {
	waits []time.Duration
}

func (s *sleepRecorder) Sleep(_ context.Context, d time.Duration) error {
	s.waits = append(s.waits, d)
	return nil
}

var fixedNow = time.Date(2025, time.May, 12, 6, 0, 0, 0, time.UTC)

func text(id int64, body string) domain.ProviderMessage {
	return domain.ProviderMessage{
		ID:     id,
		ChatID: 100,
		Text:   body,
		Date:   time.Date(2025, time.May, 11, 8, 0, 0, 0, time.UTC),
	}
}

func newScraper(t *testing.T, session *fakeSession, opts Options) (*Scraper, *batchfile.Store, *sleepRecorder) {
	t.Helper()
	store := batchfile.NewStore(t.TempDir(), t.TempDir())
	sleeper := &sleepRecorder{}
	s := New(Deps{
		Session: session,
		Store:   store,
		Locker:  store,
		Logger:  logging.Discard(),
		Sleep:   sleeper.Sleep,
		Now:     func() time.Time { return fixedNow },
	}, opts)
	return s, store, sleeper
}

func TestScrapeAllIsolatesChannelFailures(t *testing.T) {
	t.Parallel()

	session := newFakeSession()
	session.scripts["alpha"] = []scriptedCall{{messages: []domain.ProviderMessage{text(3, "c"), text(2, "b"), text(1, "a")}}}
	session.scripts["beta"] = []scriptedCall{{err: &domain.ChannelInaccessibleError{Channel: "beta", Reason: "private"}}}

	s, store, sleeper := newScraper(t, session, Options{ChannelDelay: 2 * time.Second})
	summary, err := s.ScrapeAll(context.Background(), []domain.ChannelTarget{{Name: "alpha"}, {Name: "beta"}})
	require.NoError(t, err)

	require.Len(t, summary.Batches, 2)
	assert.NotEmpty(t, summary.RunID)
	assert.Equal(t, 1, summary.Successful)
	assert.Equal(t, 3, summary.TotalMessages)

	alpha := summary.Batches[0]
	assert.Equal(t, domain.StatusSuccess, alpha.Status)
	assert.Equal(t, 3, alpha.MessageCount)

	beta := summary.Batches[1]
	assert.Equal(t, domain.StatusError, beta.Status)
	assert.Contains(t, beta.Error, "private")
	assert.Empty(t, beta.Path)

	assert.Equal(t, []time.Duration{2 * time.Second}, sleeper.waits)
	assert.Equal(t, 1, session.connects)
	assert.Equal(t, 1, session.disconnects)
	assert.Len(t, summary.Failed(), 1)

	written, err := store.Read(alpha.Path)
	require.NoError(t, err)
	assert.Len(t, written, 3)
}

func TestScrapeChannelResumesAfterRateLimit(t *testing.T) {
	t.Parallel()

	session := newFakeSession()
	all := []domain.ProviderMessage{text(10, "j"), text(9, "i"), text(8, "h"), text(7, "g")}
	session.scripts["alpha"] = []scriptedCall{
		{messages: all[:2], err: &domain.RateLimitedError{Wait: 5 * time.Second}},
		{messages: all},
	}

	s, store, sleeper := newScraper(t, session, Options{})
	batch := s.ScrapeChannel(context.Background(), domain.ChannelTarget{Name: "alpha"})

	assert.Equal(t, domain.StatusSuccess, batch.Status)
	assert.Equal(t, 1, batch.Retries)
	assert.Equal(t, []time.Duration{5 * time.Second}, sleeper.waits)
	require.Len(t, session.requests, 2)
	assert.EqualValues(t, 9, session.requests[1].OffsetID)

	written, err := store.Read(batch.Path)
	require.NoError(t, err)
	var ids []int64
	for _, m := range written {
		ids = append(ids, m.MessageID)
	}
	assert.Equal(t, []int64{10, 9, 8, 7}, ids)
}

func TestScrapeChannelLimitSpansResumes(t *testing.T) {
	t.Parallel()

	session := newFakeSession()
	all := []domain.ProviderMessage{text(5, "e"), text(4, "d"), text(3, "c"), text(2, "b")}
	session.scripts["alpha"] = []scriptedCall{
		{messages: all[:1], err: &domain.RateLimitedError{Wait: time.Second}},
		{messages: all},
	}

	s, _, _ := newScraper(t, session, Options{MessageLimit: 3})
	batch := s.ScrapeChannel(context.Background(), domain.ChannelTarget{Name: "alpha"})

	assert.Equal(t, 3, batch.MessageCount)
	assert.Equal(t, 2, session.requests[1].Limit)
}

func TestScrapeChannelSkipsNonTextAndDuplicates(t *testing.T) {
	t.Parallel()

	session := newFakeSession()
	photoOnly := domain.ProviderMessage{ID: 4, MediaType: "photo", MediaURL: "http://cdn/x.jpg"}
	session.scripts["alpha"] = []scriptedCall{{messages: []domain.ProviderMessage{
		text(5, "keep"), photoOnly, text(5, "dup"), text(3, "   "), text(2, "also keep"),
	}}}

	s, store, _ := newScraper(t, session, Options{})
	batch := s.ScrapeChannel(context.Background(), domain.ChannelTarget{Name: "alpha"})

	assert.Equal(t, domain.StatusSuccess, batch.Status)
	assert.Equal(t, 2, batch.MessageCount)
	assert.Equal(t, 2, batch.Skipped)

	written, err := store.Read(batch.Path)
	require.NoError(t, err)
	for _, m := range written {
		assert.NotEmpty(t, strings.TrimSpace(m.Text()))
	}
	assert.Equal(t, "keep", written[0].Text())
}

func TestScrapeChannelNoMessages(t *testing.T) {
	t.Parallel()

	session := newFakeSession()
	session.scripts["alpha"] = []scriptedCall{{messages: []domain.ProviderMessage{{ID: 1}}}}

	s, store, _ := newScraper(t, session, Options{})
	batch := s.ScrapeChannel(context.Background(), domain.ChannelTarget{Name: "alpha"})

	assert.Equal(t, domain.StatusNoMessages, batch.Status)
	assert.Empty(t, batch.Error)
	paths, err := store.Discover()
	require.NoError(t, err)
	assert.Empty(t, paths)
}

func TestScrapeChannelConnectionFailureIsRetriedForNextChannel(t *testing.T) {
	t.Parallel()

	session := newFakeSession()
	session.connectErrs = []error{&domain.ConnectionError{Err: errors.New("dial tcp: refused")}}
	session.scripts["beta"] = []scriptedCall{{messages: []domain.ProviderMessage{text(1, "hello")}}}

	s, _, _ := newScraper(t, session, Options{})
	summary, err := s.ScrapeAll(context.Background(), []domain.ChannelTarget{{Name: "alpha"}, {Name: "beta"}})
	require.NoError(t, err)

	assert.Equal(t, domain.StatusError, summary.Batches[0].Status)
	assert.True(t, strings.HasPrefix(summary.Batches[0].Error, "connection failed"))
	assert.True(t, summary.Batches[0].Unreachable)
	assert.False(t, summary.Unreachable())
	assert.Equal(t, domain.StatusSuccess, summary.Batches[1].Status)
	assert.Equal(t, 2, session.connects)
}

func TestScrapeChannelKeepsPartialResultsOnError(t *testing.T) {
	t.Parallel()

	session := newFakeSession()
	session.scripts["alpha"] = []scriptedCall{{
		messages: []domain.ProviderMessage{text(9, "a"), text(8, "b")},
		err:      &domain.TransientError{Err: errors.New("connection reset")},
	}}

	s, store, _ := newScraper(t, session, Options{})
	batch := s.ScrapeChannel(context.Background(), domain.ChannelTarget{Name: "alpha"})

	assert.Equal(t, domain.StatusError, batch.Status)
	assert.Contains(t, batch.Error, "connection reset")
	require.NotEmpty(t, batch.Path)
	written, err := store.Read(batch.Path)
	require.NoError(t, err)
	assert.Len(t, written, 2)
}

func TestScrapeChannelDownloadsMedia(t *testing.T) {
	t.Parallel()

	session := newFakeSession()
	withPhoto := text(7, "photo post")
	withPhoto.MediaType = "photo"
	withPhoto.MediaURL = "http://cdn/file/7.png"
	broken := text(6, "broken photo")
	broken.MediaType = "photo"
	broken.MediaURL = "http://cdn/file/6.jpg"
	session.scripts["alpha"] = []scriptedCall{{messages: []domain.ProviderMessage{withPhoto, broken}}}
	session.downloads[7] = []error{&domain.RateLimitedError{Wait: 3 * time.Second}}
	session.downloads[6] = []error{errors.New("gone")}

	s, store, sleeper := newScraper(t, session, Options{DownloadMedia: true})
	batch := s.ScrapeChannel(context.Background(), domain.ChannelTarget{Name: "alpha"})

	assert.Equal(t, domain.StatusSuccess, batch.Status)
	assert.Equal(t, 1, batch.MediaFiles)
	assert.Equal(t, 1, batch.Retries)
	assert.Equal(t, []time.Duration{3 * time.Second}, sleeper.waits)

	written, err := store.Read(batch.Path)
	require.NoError(t, err)
	require.Len(t, written, 2)
	require.NotNil(t, written[0].MediaPath)
	assert.Equal(t, store.MediaPath("alpha", withPhoto.Date, 7, ".png"), *written[0].MediaPath)
	assert.FileExists(t, *written[0].MediaPath)
	assert.Nil(t, written[1].MediaPath)
	assert.True(t, written[1].HasMedia)
}

type failingStore struct {
	*batchfile.Store
}

func (failingStore) Write(time.Time, string, []domain.RawMessage) (string, error) {
	return "", fmt.Errorf("%w: %w", domain.ErrSerialization, errors.New("json: unsupported value: NaN"))
}

func TestScrapeChannelReportsSerializationFailure(t *testing.T) {
	t.Parallel()

	session := newFakeSession()
	session.scripts["alpha"] = []scriptedCall{{messages: []domain.ProviderMessage{text(1, "a")}}}

	s := New(Deps{
		Session: session,
		Store:   failingStore{batchfile.NewStore(t.TempDir(), t.TempDir())},
		Logger:  logging.Discard(),
		Sleep:   (&sleepRecorder{}).Sleep,
	}, Options{})
	batch := s.ScrapeChannel(context.Background(), domain.ChannelTarget{Name: "alpha"})

	assert.Equal(t, domain.StatusError, batch.Status)
	assert.Equal(t, serializationNote+": json: unsupported value: NaN", batch.Error)
}

func TestScrapeAllRefusesConcurrentRun(t *testing.T) {
	t.Parallel()

	session := newFakeSession()
	s, store, _ := newScraper(t, session, Options{})
	unlock, err := store.Lock()
	require.NoError(t, err)
	defer func() { _ = unlock() }()

	_, err = s.ScrapeAll(context.Background(), []domain.ChannelTarget{{Name: "alpha"}})
	require.ErrorIs(t, err, batchfile.ErrLocked)
	assert.Zero(t, session.connects)
}
