package telegram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/time/rate"

	"ChannelPipeline/internal/domain"
	"ChannelPipeline/internal/infrastructure/parser"
	"ChannelPipeline/internal/ports"
)

const (
	// DefaultBaseURL is the public web preview host.
	DefaultBaseURL = "https://t.me"

	defaultTimeout    = 20 * time.Second
	defaultRetryAfter = 30 * time.Second
)

var errNotConnected = errors.New("session is not connected")

// WebSession reads channel history from the public web preview at
// <base>/s/<channel>. One session is shared by every channel of a run.
type WebSession struct {
	baseURL    string
	userAgent  string
	retryAfter time.Duration
	timeout    time.Duration
	client     *http.Client
	limiter    *rate.Limiter
	logger     *slog.Logger

	mu        sync.Mutex
	connected bool
}

var _ ports.Session = (*WebSession)(nil)

// SessionOption configures the WebSession.
type SessionOption func(*WebSession)

// WithBaseURL overrides the preview host.
func WithBaseURL(baseURL string) SessionOption {
	return func(s *WebSession) {
		s.baseURL = strings.TrimSuffix(baseURL, "/")
	}
}

// WithHTTPClient sets a custom HTTP client. Redirects are never followed.
func WithHTTPClient(client *http.Client) SessionOption {
	return func(s *WebSession) {
		s.client = client
	}
}

// WithRateLimit paces outgoing requests.
func WithRateLimit(requestsPerSecond float64) SessionOption {
	return func(s *WebSession) {
		if requestsPerSecond > 0 {
			s.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), 1)
		}
	}
}

// WithTimeout bounds each request of the default client.
func WithTimeout(timeout time.Duration) SessionOption {
	return func(s *WebSession) {
		if timeout > 0 {
			s.timeout = timeout
		}
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(userAgent string) SessionOption {
	return func(s *WebSession) {
		s.userAgent = userAgent
	}
}

// WithDefaultRetryAfter sets the wait reported when a 429 carries no Retry-After.
func WithDefaultRetryAfter(wait time.Duration) SessionOption {
	return func(s *WebSession) {
		if wait > 0 {
			s.retryAfter = wait
		}
	}
}

// WithLogger sets a logger.
func WithLogger(logger *slog.Logger) SessionOption {
	return func(s *WebSession) {
		s.logger = logger
	}
}

// NewWebSession builds a session; Connect must be called before use.
func NewWebSession(opts ...SessionOption) *WebSession {
	s := &WebSession{
		baseURL:    DefaultBaseURL,
		userAgent:  "ChannelPipeline/1.0",
		retryAfter: defaultRetryAfter,
		timeout:    defaultTimeout,
		limiter:    rate.NewLimiter(rate.Limit(1), 1),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.client == nil {
		jar, _ := cookiejar.New(nil)
		s.client = &http.Client{Timeout: s.timeout, Jar: jar}
	}
	s.client.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}
	return s
}

// Connect probes the preview host once per process lifetime.
func (s *WebSession) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.connected {
		return nil
	}

	resp, err := s.do(ctx, s.baseURL+"/")
	if err != nil {
		return &domain.ConnectionError{Err: err}
	}
	_ = resp.Body.Close()
	if resp.StatusCode >= http.StatusInternalServerError {
		return &domain.ConnectionError{Err: fmt.Errorf("probe returned %s", resp.Status)}
	}

	s.connected = true
	s.logger.Debug("session connected", "base_url", s.baseURL)
	return nil
}

// Disconnect drops idle connections. Safe to call at any time.
func (s *WebSession) Disconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client != nil {
		s.client.CloseIdleConnections()
	}
	s.connected = false
}

func (s *WebSession) isConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// IterateHistory walks the channel newest to oldest, one page per request.
// The sequence stops after the first error.
func (s *WebSession) IterateHistory(ctx context.Context, req ports.HistoryRequest) iter.Seq2[domain.ProviderMessage, error] {
	return func(yield func(domain.ProviderMessage, error) bool) {
		if !s.isConnected() {
			yield(domain.ProviderMessage{}, &domain.ConnectionError{Err: errNotConnected})
			return
		}

		channel := req.Channel.Username()
		before := req.OffsetID
		emitted := 0
		for {
			page, err := s.fetchPage(ctx, channel, before)
			if err != nil {
				yield(domain.ProviderMessage{}, err)
				return
			}

			progressed := false
			for i := len(page.Messages) - 1; i >= 0; i-- {
				msg := page.Messages[i]
				if before > 0 && msg.ID >= before {
					continue
				}
				progressed = true
				before = msg.ID
				if !yield(msg, nil) {
					return
				}
				emitted++
				if req.Limit > 0 && emitted >= req.Limit {
					return
				}
			}

			if !progressed || before <= 1 {
				return
			}
		}
	}
}

func (s *WebSession) fetchPage(ctx context.Context, channel string, before int64) (parser.Page, error) {
	pageURL := fmt.Sprintf("%s/s/%s", s.baseURL, url.PathEscape(channel))
	if before > 0 {
		pageURL += "?before=" + strconv.FormatInt(before, 10)
	}

	resp, err := s.do(ctx, pageURL)
	if err != nil {
		return parser.Page{}, err
	}
	defer resp.Body.Close()

	if err := s.classify(resp, channel); err != nil {
		return parser.Page{}, err
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return parser.Page{}, &domain.TransientError{Err: fmt.Errorf("parse document: %w", err)}
	}

	page, err := parser.ParseChannelPage(doc, channel)
	if err != nil {
		return parser.Page{}, fmt.Errorf("channel %s: %w", channel, err)
	}
	if before == 0 && !page.HasHistory {
		return parser.Page{}, &domain.ChannelInaccessibleError{Channel: channel, Reason: "no public message history"}
	}

	s.logger.Debug("fetched history page", "channel", channel, "before", before, "messages", len(page.Messages))
	return page, nil
}

// DownloadMedia stores the attachment at dest, replacing any earlier copy.
func (s *WebSession) DownloadMedia(ctx context.Context, msg domain.ProviderMessage, dest string) (string, error) {
	if !s.isConnected() {
		return "", &domain.ConnectionError{Err: errNotConnected}
	}
	if msg.MediaURL == "" {
		return "", fmt.Errorf("message %d has no downloadable media", msg.ID)
	}

	resp, err := s.do(ctx, msg.MediaURL)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if err := s.classify(resp, ""); err != nil {
		return "", err
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", fmt.Errorf("create media dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(dest), ".media-*.part")
	if err != nil {
		return "", fmt.Errorf("create temp media: %w", err)
	}
	if _, err := io.Copy(tmp, resp.Body); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return "", &domain.TransientError{Err: fmt.Errorf("download media: %w", err)}
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("close temp media: %w", err)
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("publish media: %w", err)
	}
	return dest, nil
}

func (s *WebSession) do(ctx context.Context, target string) (*http.Response, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", s.userAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &domain.TransientError{Err: err}
	}
	return resp, nil
}

// classify maps provider status codes onto the failure taxonomy.
func (s *WebSession) classify(resp *http.Response, channel string) error {
	switch {
	case resp.StatusCode == http.StatusOK:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return &domain.RateLimitedError{Wait: s.retryAfterFrom(resp.Header.Get("Retry-After"))}
	case resp.StatusCode >= 300 && resp.StatusCode < 400:
		return &domain.ChannelInaccessibleError{Channel: channel, Reason: "preview unavailable (private, deleted or restricted)"}
	case resp.StatusCode == http.StatusForbidden:
		return &domain.ChannelInaccessibleError{Channel: channel, Reason: "access denied"}
	case resp.StatusCode == http.StatusNotFound:
		return &domain.ChannelInaccessibleError{Channel: channel, Reason: "not found"}
	case resp.StatusCode >= http.StatusInternalServerError:
		return &domain.TransientError{Err: fmt.Errorf("provider returned %s", resp.Status)}
	default:
		return fmt.Errorf("unexpected status %s", resp.Status)
	}
}

func (s *WebSession) retryAfterFrom(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return s.retryAfter
	}
	if seconds, err := strconv.Atoi(header); err == nil && seconds >= 0 {
		return time.Duration(seconds) * time.Second
	}
	if at, err := http.ParseTime(header); err == nil {
		if wait := time.Until(at); wait > 0 {
			return wait
		}
		return 0
	}
	return s.retryAfter
}
