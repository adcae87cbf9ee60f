// Package batchfile publishes per-channel scrape batches as JSON artifacts.
package batchfile

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gofrs/flock"

	"ChannelPipeline/internal/domain"
	"ChannelPipeline/internal/ports"
)

const (
	artifactName = "messages.json"
	tempPattern  = ".messages-*.tmp"
	lockName     = ".scrape.lock"
	dayLayout    = "2006-01-02"
)

// ErrLocked is returned when another run holds the raw-data lock.
var ErrLocked = errors.New("another scrape run holds the lock")

// Store lays artifacts out as <raw>/<YYYY-MM-DD>/<channel>/messages.json and
// media as <media>/<channel>/<YYYY-MM-DD>/<message id><ext>.
type Store struct {
	rawRoot   string
	mediaRoot string
}

var _ ports.BatchStore = (*Store)(nil)

// NewStore wires artifact and media roots.
func NewStore(rawRoot, mediaRoot string) *Store {
	return &Store{rawRoot: rawRoot, mediaRoot: mediaRoot}
}

// RawRoot returns the artifact root directory.
func (s *Store) RawRoot() string {
	return s.rawRoot
}

// Write publishes the batch atomically: the array is written to a temp file
// in the target directory, synced, then renamed over messages.json.
func (s *Store) Write(day time.Time, channel string, messages []domain.RawMessage) (string, error) {
	if messages == nil {
		messages = []domain.RawMessage{}
	}

	payload, err := encode(messages)
	if err != nil {
		return "", err
	}

	dir := filepath.Join(s.rawRoot, day.Format(dayLayout), sanitize(channel))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create batch dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, tempPattern)
	if err != nil {
		return "", fmt.Errorf("create temp artifact: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		if tmpName != "" {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(payload); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("write temp artifact: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("sync temp artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close temp artifact: %w", err)
	}

	target := filepath.Join(dir, artifactName)
	if err := os.Rename(tmpName, target); err != nil {
		return "", fmt.Errorf("publish artifact: %w", err)
	}
	tmpName = ""

	return target, nil
}

// Read decodes a published artifact.
func (s *Store) Read(path string) ([]domain.RawMessage, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read artifact: %w", err)
	}

	var messages []domain.RawMessage
	if err := json.Unmarshal(raw, &messages); err != nil {
		return nil, fmt.Errorf("decode artifact %s: %w", path, err)
	}
	return messages, nil
}

// Discover lists every published artifact under the raw root in path order.
// Temp files of in-flight writes are never returned.
func (s *Store) Discover() ([]string, error) {
	var paths []string
	err := filepath.WalkDir(s.rawRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && path == s.rawRoot {
				return filepath.SkipAll
			}
			return err
		}
		if d.IsDir() || d.Name() != artifactName {
			return nil
		}
		paths = append(paths, path)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan raw root: %w", err)
	}

	sort.Strings(paths)
	return paths, nil
}

// Checksum returns the hex sha256 of the artifact content.
func (s *Store) Checksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open artifact: %w", err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash artifact: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// MediaPath derives the attachment location so re-runs overwrite the same file.
func (s *Store) MediaPath(channel string, date time.Time, messageID int64, ext string) string {
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	name := strconv.FormatInt(messageID, 10) + ext
	return filepath.Join(s.mediaRoot, sanitize(channel), date.UTC().Format(dayLayout), name)
}

// Lock takes the single-run lock for the raw root.
func (s *Store) Lock() (func() error, error) {
	if err := os.MkdirAll(s.rawRoot, 0o755); err != nil {
		return nil, fmt.Errorf("create raw root: %w", err)
	}

	lock := flock.New(filepath.Join(s.rawRoot, lockName))
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return nil, ErrLocked
	}
	return lock.Unlock, nil
}

func encode(messages []domain.RawMessage) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(messages); err != nil {
		if isSerializationError(err) {
			return nil, fmt.Errorf("%w: %w", domain.ErrSerialization, err)
		}
		return nil, fmt.Errorf("encode batch: %w", err)
	}
	return buf.Bytes(), nil
}

func isSerializationError(err error) bool {
	var (
		typeErr    *json.UnsupportedTypeError
		valueErr   *json.UnsupportedValueError
		marshalErr *json.MarshalerError
	)
	return errors.As(err, &typeErr) || errors.As(err, &valueErr) || errors.As(err, &marshalErr)
}

func sanitize(channel string) string {
	channel = strings.TrimPrefix(strings.TrimSpace(channel), "@")
	channel = strings.ReplaceAll(channel, string(os.PathSeparator), "_")
	if channel == "" || channel == "." || channel == ".." {
		return "unknown"
	}
	return channel
}
