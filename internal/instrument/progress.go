package instrument

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/goatkit/tickettransfer/internal/logger"
)

// Progress is a point-in-time view of a tracker.
type Progress struct {
	Name      string
	Done      int
	Total     int
	Elapsed   time.Duration
	Rate      float64
	Remaining time.Duration
}

// Percent returns completion in the range 0-100.
func (p Progress) Percent() float64 {
	if p.Total <= 0 {
		return 0
	}
	return float64(p.Done) * 100 / float64(p.Total)
}

// ProgressTracker counts completed items and estimates the time left.
// Safe for concurrent use.
type ProgressTracker struct {
	mu    sync.Mutex
	name  string
	total int
	done  int
	start time.Time
	now   func() time.Time
	log   logrus.FieldLogger
}

// NewProgressTracker starts tracking total items.
func NewProgressTracker(name string, total int, log logrus.FieldLogger) *ProgressTracker {
	return &ProgressTracker{
		name:  name,
		total: total,
		start: time.Now(),
		now:   time.Now,
		log:   logger.Component(log, "progress"),
	}
}

// Add records n more completed items and returns the new snapshot.
func (t *ProgressTracker) Add(n int) Progress {
	t.mu.Lock()
	t.done += n
	if t.total > 0 && t.done > t.total {
		t.done = t.total
	}
	p := t.snapshotLocked()
	t.mu.Unlock()

	t.log.WithFields(logrus.Fields{
		"task":    p.Name,
		"done":    p.Done,
		"total":   p.Total,
		"percent": int(p.Percent()),
	}).Debug("progress")
	return p
}

// Snapshot returns the current progress.
func (t *ProgressTracker) Snapshot() Progress {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

// Finish logs the final rate and returns the last snapshot.
func (t *ProgressTracker) Finish() Progress {
	p := t.Snapshot()
	t.log.WithFields(logrus.Fields{
		"task":    p.Name,
		"done":    p.Done,
		"total":   p.Total,
		"elapsed": p.Elapsed.Round(time.Millisecond).String(),
	}).Infof("%s finished at %.1f items/s", p.Name, p.Rate)
	return p
}

func (t *ProgressTracker) snapshotLocked() Progress {
	elapsed := t.now().Sub(t.start)
	p := Progress{Name: t.name, Done: t.done, Total: t.total, Elapsed: elapsed}
	if elapsed > 0 {
		p.Rate = float64(t.done) / elapsed.Seconds()
	}
	if p.Rate > 0 && t.total > t.done {
		p.Remaining = time.Duration(float64(t.total-t.done) / p.Rate * float64(time.Second))
	}
	return p
}
