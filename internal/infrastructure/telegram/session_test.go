package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ChannelPipeline/internal/domain"
	"ChannelPipeline/internal/ports"
)

func bubble(channel string, id int64, text string) string {
	return fmt.Sprintf(`<div class="tgme_widget_message" data-post="%s/%d">
  <div class="tgme_widget_message_text">%s</div>
  <a class="tgme_widget_message_date"><time datetime="2025-05-11T09:%02d:00+00:00"></time></a>
</div>`, channel, id, text, id)
}

func historyPage(channel string, ids ...int64) string {
	var sb strings.Builder
	sb.WriteString(`<html><div class="tgme_channel_info_header_title">Alpha</div><section class="tgme_channel_history">`)
	for _, id := range ids {
		sb.WriteString(bubble(channel, id, fmt.Sprintf("message %d", id)))
	}
	sb.WriteString(`</section></html>`)
	return sb.String()
}

func newTestSession(t *testing.T, handler http.HandlerFunc) *WebSession {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	s := NewWebSession(
		WithBaseURL(server.URL),
		WithHTTPClient(server.Client()),
		WithRateLimit(1000),
	)
	require.NoError(t, s.Connect(context.Background()))
	return s
}

func collect(t *testing.T, s *WebSession, req ports.HistoryRequest) ([]int64, error) {
	t.Helper()
	var ids []int64
	for msg, err := range s.IterateHistory(context.Background(), req) {
		if err != nil {
			return ids, err
		}
		ids = append(ids, msg.ID)
	}
	return ids, nil
}

func pagedHandler(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == "/":
		_, _ = w.Write([]byte("ok"))
	case r.URL.Path == "/s/alpha" && r.URL.Query().Get("before") == "":
		_, _ = w.Write([]byte(historyPage("alpha", 3, 4, 5)))
	case r.URL.Path == "/s/alpha" && r.URL.Query().Get("before") == "3":
		_, _ = w.Write([]byte(historyPage("alpha", 1, 2)))
	case r.URL.Path == "/s/alpha":
		_, _ = w.Write([]byte(historyPage("alpha")))
	default:
		http.NotFound(w, r)
	}
}

func TestIterateHistoryWalksNewestToOldest(t *testing.T) {
	t.Parallel()

	s := newTestSession(t, pagedHandler)
	ids, err := collect(t, s, ports.HistoryRequest{Channel: domain.ChannelTarget{Name: "alpha"}})
	require.NoError(t, err)
	assert.Equal(t, []int64{5, 4, 3, 2, 1}, ids)
}

func TestIterateHistoryHonoursLimitAndOffset(t *testing.T) {
	t.Parallel()

	s := newTestSession(t, pagedHandler)

	ids, err := collect(t, s, ports.HistoryRequest{Channel: domain.ChannelTarget{URL: "https://t.me/alpha"}, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, []int64{5, 4}, ids)

	ids, err = collect(t, s, ports.HistoryRequest{Channel: domain.ChannelTarget{Name: "alpha"}, OffsetID: 3})
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 1}, ids)
}

func TestIterateHistoryMapsProviderFailures(t *testing.T) {
	t.Parallel()

	s := newTestSession(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/":
			_, _ = w.Write([]byte("ok"))
		case "/s/flooded":
			w.Header().Set("Retry-After", "7")
			w.WriteHeader(http.StatusTooManyRequests)
		case "/s/private":
			http.Redirect(w, r, "/private", http.StatusFound)
		case "/s/broken":
			w.WriteHeader(http.StatusBadGateway)
		case "/s/empty":
			_, _ = w.Write([]byte(`<html><div class="tgme_page_title">Nothing here</div></html>`))
		default:
			http.NotFound(w, r)
		}
	})

	_, err := collect(t, s, ports.HistoryRequest{Channel: domain.ChannelTarget{Name: "flooded"}})
	var rateLimited *domain.RateLimitedError
	require.True(t, errors.As(err, &rateLimited), "got %v", err)
	assert.Equal(t, 7*time.Second, rateLimited.Wait)

	var inaccessible *domain.ChannelInaccessibleError
	for _, name := range []string{"private", "missing", "empty"} {
		_, err = collect(t, s, ports.HistoryRequest{Channel: domain.ChannelTarget{Name: name}})
		require.True(t, errors.As(err, &inaccessible), "%s: got %v", name, err)
	}

	var transient *domain.TransientError
	_, err = collect(t, s, ports.HistoryRequest{Channel: domain.ChannelTarget{Name: "broken"}})
	require.True(t, errors.As(err, &transient), "got %v", err)
}

func TestIterateHistoryRequiresConnect(t *testing.T) {
	t.Parallel()

	s := NewWebSession(WithBaseURL("http://127.0.0.1:0"))
	_, err := collect(t, s, ports.HistoryRequest{Channel: domain.ChannelTarget{Name: "alpha"}})
	var connErr *domain.ConnectionError
	require.True(t, errors.As(err, &connErr))

	s.Disconnect()
	s.Disconnect()
}

func TestConnectFailure(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	s := NewWebSession(WithBaseURL(server.URL), WithHTTPClient(server.Client()), WithRateLimit(1000))
	err := s.Connect(context.Background())
	var connErr *domain.ConnectionError
	require.True(t, errors.As(err, &connErr))
}

func TestDownloadMediaWritesFile(t *testing.T) {
	t.Parallel()

	s := newTestSession(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/":
			_, _ = w.Write([]byte("ok"))
		case "/file/abc.jpg":
			_, _ = w.Write([]byte("jpeg-bytes"))
		default:
			http.NotFound(w, r)
		}
	})

	dest := filepath.Join(t.TempDir(), "alpha", "2025-05-11", "9.jpg")
	msg := domain.ProviderMessage{ID: 9, MediaType: "photo", MediaURL: s.baseURL + "/file/abc.jpg"}

	path, err := s.DownloadMedia(context.Background(), msg, dest)
	require.NoError(t, err)
	assert.Equal(t, dest, path)

	raw, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "jpeg-bytes", string(raw))

	_, err = s.DownloadMedia(context.Background(), domain.ProviderMessage{ID: 10}, dest)
	require.Error(t, err)
}

func TestRetryAfterFallsBackToDefault(t *testing.T) {
	t.Parallel()

	s := NewWebSession(WithDefaultRetryAfter(12 * time.Second))
	assert.Equal(t, 12*time.Second, s.retryAfterFrom(""))
	assert.Equal(t, 12*time.Second, s.retryAfterFrom("soon"))
	assert.Equal(t, 3*time.Second, s.retryAfterFrom("3"))
}
