// Package fetch acquires rendered page documents.
//
// A Session loads one URL at a time and must be closed on every exit path.
// An Opener creates sessions; Extract opens a fresh session per attempt and
// retries transient failures with bounded exponential backoff.
package fetch

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/gridstat/pfr-crawler/pkg/utils"
)

// Session is a page acquisition handle.
//
// Load navigates to url and returns the rendered HTML. When ctx expires
// before the page finishes loading, Load stops the load and returns whatever
// was rendered so far together with an error wrapping ErrPageLoadTimeout.
type Session interface {
	Load(ctx context.Context, url string) (string, error)
	Close() error
}

// Opener creates sessions.
type Opener interface {
	Open(ctx context.Context) (Session, error)
}

// PageFilename maps a page URL to the file name used by the replay and
// recording openers.
func PageFilename(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return utils.SanitizeFilename(rawURL) + ".html"
	}
	name := u.Host + u.Path
	if u.RawQuery != "" {
		name += "?" + u.RawQuery
	}
	return utils.SanitizeFilename(name) + ".html"
}

// RecordingOpener wraps another opener and saves every non-empty loaded page
// to Dir, so a crawl can later be replayed with DirOpener.
type RecordingOpener struct {
	Next Opener
	Dir  string
	Log  *logrus.Entry
}

func (r *RecordingOpener) Open(ctx context.Context) (Session, error) {
	s, err := r.Next.Open(ctx)
	if err != nil {
		return nil, err
	}
	return &recordingSession{Session: s, dir: r.Dir, log: r.Log}, nil
}

type recordingSession struct {
	Session
	dir string
	log *logrus.Entry
}

func (s *recordingSession) Load(ctx context.Context, rawURL string) (string, error) {
	html, err := s.Session.Load(ctx, rawURL)
	if html == "" || err != nil {
		return html, err
	}
	if werr := savePage(s.dir, rawURL, html); werr != nil {
		s.log.WithField("url", rawURL).Warnf("Failed to record page: %v", werr)
	}
	return html, nil
}

func savePage(dir, rawURL, html string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("%w: creating record dir '%s': %w", utils.ErrFilesystem, dir, err)
	}
	path := filepath.Join(dir, PageFilename(rawURL))
	if err := os.WriteFile(path, []byte(html), 0644); err != nil {
		return fmt.Errorf("%w: writing '%s': %w", utils.ErrFilesystem, path, err)
	}
	return nil
}
