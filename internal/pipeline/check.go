package pipeline

import (
	"errors"
	"time"

	"ncmcheck/internal/metrics"
	"ncmcheck/internal/ncm"
)

var ErrNoRegistry = errors.New("no registry loaded")

// Result is a report together with the snapshot it was checked against.
type Result struct {
	Report   ncm.Report
	Snapshot *ncm.Snapshot
}

type Checker struct {
	store   *ncm.Store
	metrics *metrics.Metrics
	loc     *time.Location
	now     func() time.Time
}

// NewChecker reads registries from store. Reference dates are taken in loc,
// so "today" follows the local calendar rather than UTC.
func NewChecker(store *ncm.Store, m *metrics.Metrics, loc *time.Location) *Checker {
	if loc == nil {
		loc = time.UTC
	}
	return &Checker{store: store, metrics: m, loc: loc, now: time.Now}
}

func (c *Checker) Now() time.Time {
	return c.now().In(c.loc)
}

// Check builds the report for text as of at, or as of now when at is zero.
func (c *Checker) Check(text string, at time.Time) (Result, error) {
	snap := c.store.Current()
	if snap == nil {
		return Result{}, ErrNoRegistry
	}
	return c.checkSnapshot(snap, text, at), nil
}

func (c *Checker) checkSnapshot(snap *ncm.Snapshot, text string, at time.Time) Result {
	if at.IsZero() {
		at = c.Now()
	} else {
		at = at.In(c.loc)
	}
	start := time.Now()
	report := ncm.BuildReport(text, snap.Registry, at)
	c.metrics.ObserveReport(report, time.Since(start))
	return Result{Report: report, Snapshot: snap}
}

// ParseReferenceDate reads an optional yyyy-mm-dd or dd/mm/yyyy date as a
// calendar day in loc. An empty string yields the zero time.
func ParseReferenceDate(s string, loc *time.Location) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if loc == nil {
		loc = time.UTC
	}
	for _, layout := range []string{"2006-01-02", ncm.DisplayDateLayout} {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, errors.New("invalid reference date, want yyyy-mm-dd or dd/mm/yyyy: " + s)
}
