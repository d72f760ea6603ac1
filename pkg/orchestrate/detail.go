package orchestrate

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/gridstat/pfr-crawler/pkg/catalog"
	"github.com/gridstat/pfr-crawler/pkg/fetch"
	"github.com/gridstat/pfr-crawler/pkg/models"
)

// detailCache fetches entity detail pages at most once per run. Concurrent
// requests for the same entity share one fetch. Failures are cached too, as
// a nil map.
type detailCache struct {
	retrying    *fetch.Retrying
	loadTimeout time.Duration
	log         *logrus.Entry

	group   singleflight.Group
	mu      sync.Mutex
	entries map[string]map[string]models.Value

	fetched atomic.Int64
	failed  atomic.Int64
}

func newDetailCache(r *fetch.Retrying, loadTimeout time.Duration, log *logrus.Entry) *detailCache {
	return &detailCache{
		retrying:    r,
		loadTimeout: loadTimeout,
		log:         log,
		entries:     make(map[string]map[string]models.Value),
	}
}

func (d *detailCache) get(ctx context.Context, page *catalog.DetailPage, id string) (map[string]models.Value, bool) {
	key := string(page.Kind) + ":" + id

	d.mu.Lock()
	vals, hit := d.entries[key]
	d.mu.Unlock()
	if hit {
		return vals, vals != nil
	}

	v, _, _ := d.group.Do(key, func() (any, error) {
		d.mu.Lock()
		vals, hit := d.entries[key]
		d.mu.Unlock()
		if hit {
			return vals, nil
		}
		url := page.URL.Expand(map[string]string{"id": id})
		vals, _, err := fetch.Extract(ctx, d.retrying, fetch.Target{URL: url, LoadTimeout: d.loadTimeout}, page.Parse)
		d.fetched.Add(1)
		if err != nil {
			d.failed.Add(1)
			d.log.WithFields(logrus.Fields{"entity": key, "url": url}).Warnf("Detail page failed, fields left absent: %v", err)
			vals = nil
		}
		// Failures caused by cancellation are not cached.
		if ctx.Err() == nil || err == nil {
			d.mu.Lock()
			d.entries[key] = vals
			d.mu.Unlock()
		}
		return vals, nil
	})
	vals, _ = v.(map[string]models.Value)
	return vals, vals != nil
}

// expand fills the detail columns of records from their entity pages. It
// returns the number of records whose detail page could not be read.
func (d *detailCache) expand(ctx context.Context, page *catalog.DetailPage, fields, columns []string, records []models.Record) int {
	idIdx := -1
	targets := make(map[string]int)
	for i, name := range columns {
		if name == page.IDColumn {
			idIdx = i
		}
	}
	if idIdx < 0 {
		return 0
	}
	for _, name := range fields {
		for i, col := range columns {
			if col == name {
				targets[name] = i
			}
		}
	}

	failures := 0
	for _, r := range records {
		if ctx.Err() != nil {
			break
		}
		id := r.Values[idIdx]
		if id.IsAbsent() {
			continue
		}
		vals, ok := d.get(ctx, page, id.String())
		if !ok {
			failures++
			continue
		}
		for name, i := range targets {
			if v, found := vals[name]; found {
				r.Values[i] = v
			}
		}
	}
	return failures
}
