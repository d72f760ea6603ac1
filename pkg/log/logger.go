package log

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/gridstat/pfr-crawler/pkg/config"
	"github.com/gridstat/pfr-crawler/pkg/utils"
)

// New creates the application logger. Output goes to console and, when
// cfg.File is set, to a size-rotated log file as well. The returned closer
// releases the file; it is a no-op without one.
func New(cfg config.LogConfig, console io.Writer) (*logrus.Logger, io.Closer, error) {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "15:04:05.000",
	})

	level := logrus.InfoLevel
	if cfg.Level != "" {
		parsed, err := logrus.ParseLevel(strings.ToLower(cfg.Level))
		if err != nil {
			return nil, nil, fmt.Errorf("%w: invalid log level %q: %w", utils.ErrConfigValidation, cfg.Level, err)
		}
		level = parsed
	}
	logger.SetLevel(level)

	if console == nil {
		console = os.Stderr
	}
	if cfg.File == "" {
		logger.SetOutput(console)
		return logger, nopCloser{}, nil
	}

	if err := os.MkdirAll(filepath.Dir(cfg.File), 0755); err != nil {
		return nil, nil, fmt.Errorf("%w: creating log directory for '%s': %w", utils.ErrFilesystem, cfg.File, err)
	}
	rotator := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	}
	logger.SetOutput(io.MultiWriter(console, rotator))
	return logger, rotator, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
