package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/gridstat/pfr-crawler/pkg/config"
	"github.com/gridstat/pfr-crawler/pkg/utils"
)

// HTTPOpener loads pages with plain GET requests. It suits pages whose
// tables are present in the served HTML, and rendering proxies.
type HTTPOpener struct {
	client    *http.Client
	limiter   *RateLimiter
	hosts     *HostSemaphorePool
	delay     time.Duration
	userAgent string
	log       *logrus.Entry
}

// NewHTTPOpener builds the shared client, politeness limiter and host pool.
func NewHTTPOpener(cfg config.SessionConfig, log *logrus.Entry) *HTTPOpener {
	return &HTTPOpener{
		client:    NewClient(cfg.HTTP, log),
		limiter:   NewRateLimiter(cfg.DelayPerHost, log),
		hosts:     NewHostSemaphorePool(cfg.MaxPages, log),
		delay:     cfg.DelayPerHost,
		userAgent: cfg.UserAgent,
		log:       log,
	}
}

// Open returns a session sharing the opener's client. HTTP sessions hold no
// per-page resources.
func (o *HTTPOpener) Open(ctx context.Context) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &httpSession{o: o}, nil
}

type httpSession struct {
	o *HTTPOpener
}

func (s *httpSession) Close() error { return nil }

func (s *httpSession) Load(ctx context.Context, rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("%w: URL '%s': %w", utils.ErrParsing, rawURL, err)
	}
	host := u.Hostname()

	if err := s.o.hosts.Acquire(ctx, host); err != nil {
		return "", fmt.Errorf("%w: waiting for a slot on %s: %w", utils.ErrPageLoadTimeout, host, err)
	}
	defer s.o.hosts.Release(host)

	s.o.limiter.ApplyDelay(ctx, host, s.o.delay)
	defer s.o.limiter.UpdateLastRequestTime(host)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %w", utils.ErrRequestCreation, err)
	}
	if s.o.userAgent != "" {
		req.Header.Set("User-Agent", s.o.userAgent)
	}

	resp, err := s.o.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("%w: %s: %w", utils.ErrPageLoadTimeout, rawURL, err)
		}
		return "", fmt.Errorf("%w: %s: %w", utils.ErrNavigation, rawURL, err)
	}
	defer resp.Body.Close()

	statusCode := resp.StatusCode
	resLog := s.o.log.WithFields(logrus.Fields{"url": rawURL, "status_code": statusCode})
	switch {
	case statusCode >= 200 && statusCode < 300:
	case statusCode >= 500:
		resLog.Warn("Server error")
		return "", fmt.Errorf("%w: status %d %s", utils.ErrServerHTTPError, statusCode, resp.Status)
	case statusCode >= 400:
		resLog.Warn("Client error (4xx)")
		return "", fmt.Errorf("%w: status %d %s", utils.ErrClientHTTPError, statusCode, resp.Status)
	default:
		resLog.Warnf("Unexpected status: %d", statusCode)
		return "", fmt.Errorf("%w: status %d %s", utils.ErrOtherHTTPError, statusCode, resp.Status)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctx.Err() != nil {
			return string(body), fmt.Errorf("%w: body of %s cut after %d bytes: %w",
				utils.ErrPageLoadTimeout, rawURL, len(body), err)
		}
		return "", fmt.Errorf("%w: %s: %w", utils.ErrResponseBodyRead, rawURL, err)
	}
	return string(body), nil
}
