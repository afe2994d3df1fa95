package usage

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"cleanupd/internal/index"
	"cleanupd/internal/logging"
	"cleanupd/internal/policy"
)

const (
	defaultConcurrency = 8
	defaultStatTimeout = 5 * time.Second
)

// StatsSource supplies index totals.
type StatsSource interface {
	Stats(ctx context.Context) (index.Stats, error)
}

// Target combines a target's index statistics with its filesystem capacity.
type Target struct {
	PolicyID      string    `json:"policy_id,omitempty"`
	TargetPath    string    `json:"target_path"`
	MonitorMethod string    `json:"monitor_method,omitempty"`
	MaxSizeBytes  int64     `json:"max_size_bytes,omitempty"`
	Entries       int64     `json:"entries"`
	IndexedBytes  int64     `json:"indexed_bytes"`
	PrunedDirs    int       `json:"pruned_dirs"`
	RefreshedAt   time.Time `json:"refreshed_at,omitzero"`
	Disk          *Disk     `json:"disk,omitempty"`
	DiskError     string    `json:"disk_error,omitempty"`
}

// Report is the metrics read model.
type Report struct {
	GeneratedAt   time.Time `json:"generated_at"`
	TotalEntries  int64     `json:"total_entries"`
	TotalBytes    int64     `json:"total_bytes"`
	LastRefreshed time.Time `json:"last_refreshed,omitzero"`
	Targets       []Target  `json:"targets"`
}

// Option customizes a Collector.
type Option func(*Collector)

// WithStatfs replaces the capacity probe.
func WithStatfs(fn StatfsFunc) Option {
	return func(c *Collector) {
		if fn != nil {
			c.statfs = fn
		}
	}
}

// WithConcurrency bounds how many targets are probed at once.
func WithConcurrency(n int) Option {
	return func(c *Collector) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

// WithStatTimeout bounds how long one target's probe may take.
func WithStatTimeout(d time.Duration) Option {
	return func(c *Collector) {
		if d > 0 {
			c.statTimeout = d
		}
	}
}

// Collector builds Reports. It only reads.
type Collector struct {
	stats       StatsSource
	statfs      StatfsFunc
	concurrency int
	statTimeout time.Duration
	logger      *slog.Logger
	now         func() time.Time
}

// NewCollector constructs a Collector.
func NewCollector(stats StatsSource, logger *slog.Logger, opts ...Option) *Collector {
	c := &Collector{
		stats:       stats,
		statfs:      Statfs,
		concurrency: defaultConcurrency,
		statTimeout: defaultStatTimeout,
		logger:      logging.NewComponentLogger(logger, "usage"),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Collect merges index statistics with per-target filesystem capacity.
// Targets come from the given policies plus any target still present in the
// index. A target whose probe fails or times out carries DiskError; only an
// index read failure fails the whole report.
func (c *Collector) Collect(ctx context.Context, policies []policy.DirectoryPolicy) (Report, error) {
	stats, err := c.stats.Stats(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("read index stats: %w", err)
	}
	report := Report{
		GeneratedAt:   c.now().UTC(),
		TotalEntries:  stats.TotalEntries,
		TotalBytes:    stats.TotalBytes,
		LastRefreshed: stats.LastRefreshed,
		Targets:       mergeTargets(policies, stats.Targets),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for i := range report.Targets {
		t := &report.Targets[i]
		g.Go(func() error {
			disk, err := c.probe(gctx, t.TargetPath)
			if err != nil {
				t.DiskError = err.Error()
				c.logger.Debug("capacity probe failed",
					logging.Target(t.TargetPath),
					logging.Error(err),
				)
				return nil
			}
			t.Disk = &disk
			return nil
		})
	}
	_ = g.Wait()
	return report, nil
}

// probe runs statfs in its own goroutine so a hung mount costs at most the
// stat timeout. The goroutine is abandoned if it never returns.
func (c *Collector) probe(ctx context.Context, path string) (Disk, error) {
	ctx, cancel := context.WithTimeout(ctx, c.statTimeout)
	defer cancel()

	type outcome struct {
		disk Disk
		err  error
	}
	done := make(chan outcome, 1)
	go func() {
		disk, err := c.statfs(path)
		done <- outcome{disk: disk, err: err}
	}()
	select {
	case out := <-done:
		return out.disk, out.err
	case <-ctx.Done():
		return Disk{}, fmt.Errorf("statfs %s: %w", path, ctx.Err())
	}
}

func mergeTargets(policies []policy.DirectoryPolicy, indexed []index.TargetStats) []Target {
	byPath := make(map[string]*Target)
	var order []string
	add := func(path string) *Target {
		if t, ok := byPath[path]; ok {
			return t
		}
		t := &Target{TargetPath: path}
		byPath[path] = t
		order = append(order, path)
		return t
	}
	for _, p := range policies {
		t := add(p.TargetPath)
		t.PolicyID = p.ID
		t.MonitorMethod = string(p.MonitorMethod)
		if p.MonitorMethod == policy.MethodSize {
			t.MaxSizeBytes = p.MaxSizeBytes
		}
	}
	for _, s := range indexed {
		t := add(s.TargetPath)
		t.Entries = s.Entries
		t.IndexedBytes = s.TotalBytes
		t.PrunedDirs = s.PrunedDirs
		t.RefreshedAt = s.RefreshedAt
	}
	sort.Strings(order)
	out := make([]Target, 0, len(order))
	for _, path := range order {
		out = append(out, *byPath[path])
	}
	return out
}
