package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/sirupsen/logrus"

	"github.com/gridstat/pfr-crawler/pkg/config"
	"github.com/gridstat/pfr-crawler/pkg/utils"
)

// RodOpener drives one headless Chrome process per run. Every session is its
// own incognito context with a single page, so cookies and storage never
// leak between attempts.
type RodOpener struct {
	launcher  *launcher.Launcher
	browser   *rod.Browser
	hosts     *HostSemaphorePool
	userAgent string
	log       *logrus.Entry
}

// NewRodOpener launches the browser.
func NewRodOpener(cfg config.SessionConfig, headless bool, log *logrus.Entry) (*RodOpener, error) {
	l := launcher.New().Headless(headless)
	if cfg.ChromePath != "" {
		l = l.Bin(cfg.ChromePath)
	}
	controlURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("%w: launching browser: %w", utils.ErrNavigation, err)
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		l.Kill()
		return nil, fmt.Errorf("%w: connecting to browser: %w", utils.ErrNavigation, err)
	}
	log.WithFields(logrus.Fields{"headless": headless, "bin": cfg.ChromePath}).Info("Browser started")

	return &RodOpener{
		launcher:  l,
		browser:   browser,
		hosts:     NewHostSemaphorePool(cfg.MaxPages, log),
		userAgent: cfg.UserAgent,
		log:       log,
	}, nil
}

func (o *RodOpener) Open(ctx context.Context) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	incognito, err := o.browser.Incognito()
	if err != nil {
		return nil, fmt.Errorf("%w: creating browser context: %w", utils.ErrNavigation, err)
	}
	page, err := incognito.Page(proto.TargetCreateTarget{})
	if err != nil {
		incognito.Close()
		return nil, fmt.Errorf("%w: opening page: %w", utils.ErrNavigation, err)
	}
	if o.userAgent != "" {
		if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: o.userAgent}); err != nil {
			o.log.Warnf("Failed to set user agent: %v", err)
		}
	}
	return &rodSession{o: o, incognito: incognito, page: page}, nil
}

// Close shuts the browser down and removes its temporary profile.
func (o *RodOpener) Close() error {
	err := o.browser.Close()
	o.launcher.Kill()
	o.launcher.Cleanup()
	return err
}

type rodSession struct {
	o         *RodOpener
	incognito *rod.Browser
	page      *rod.Page
}

func (s *rodSession) Load(ctx context.Context, rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("%w: URL '%s': %w", utils.ErrParsing, rawURL, err)
	}
	if err := s.o.hosts.Acquire(ctx, u.Hostname()); err != nil {
		return "", fmt.Errorf("%w: waiting for a page slot: %w", utils.ErrPageLoadTimeout, err)
	}
	defer s.o.hosts.Release(u.Hostname())

	bounded := s.page.Context(ctx)
	err = bounded.Navigate(rawURL)
	if err == nil {
		err = bounded.WaitLoad()
	}
	if err == nil {
		html, herr := s.page.HTML()
		if herr != nil {
			return "", fmt.Errorf("%w: reading document: %w", utils.ErrNavigation, herr)
		}
		return html, nil
	}

	if !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
		return "", fmt.Errorf("%w: %s: %w", utils.ErrNavigation, rawURL, err)
	}

	// Load did not finish in time: stop it and keep what has rendered.
	if serr := (proto.PageStopLoading{}).Call(s.page); serr != nil {
		s.o.log.WithField("url", rawURL).Debugf("Stop loading failed: %v", serr)
	}
	html, herr := s.page.HTML()
	if herr != nil {
		html = ""
	}
	return html, fmt.Errorf("%w: %s: %w", utils.ErrPageLoadTimeout, rawURL, err)
}

func (s *rodSession) Close() error {
	perr := s.page.Close()
	if err := s.incognito.Close(); err != nil {
		return err
	}
	return perr
}
