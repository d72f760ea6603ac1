package fetch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gridstat/pfr-crawler/pkg/utils"
)

// DirOpener replays pages saved by RecordingOpener. A page missing from the
// directory reads like a 404.
type DirOpener struct {
	Dir string
}

func (d *DirOpener) Open(ctx context.Context) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return dirSession{dir: d.Dir}, nil
}

type dirSession struct {
	dir string
}

func (s dirSession) Load(ctx context.Context, rawURL string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: %w", utils.ErrPageLoadTimeout, err)
	}
	path := filepath.Join(s.dir, PageFilename(rawURL))
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("%w: status 404 no saved page for %s", utils.ErrClientHTTPError, rawURL)
	}
	if err != nil {
		return "", fmt.Errorf("%w: reading '%s': %w", utils.ErrFilesystem, path, err)
	}
	return string(data), nil
}

func (dirSession) Close() error { return nil }
