package tasks

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/goatkit/tickettransfer/internal/logger"
	"github.com/goatkit/tickettransfer/internal/runner"
)

// Pruner drops idle state. *middleware.RateLimiter implements it.
type Pruner interface {
	Prune() int
}

// RateLimitPruneTask drops idle rate limit buckets every ten minutes.
type RateLimitPruneTask struct {
	pruner Pruner
	log    logrus.FieldLogger
}

// NewRateLimitPruneTask creates the task.
func NewRateLimitPruneTask(p Pruner, log logrus.FieldLogger) runner.Task {
	return &RateLimitPruneTask{pruner: p, log: logger.Component(log, "rate-limit-prune")}
}

func (t *RateLimitPruneTask) Name() string           { return "rate-limit-prune" }
func (t *RateLimitPruneTask) Schedule() string       { return "0 */10 * * * *" }
func (t *RateLimitPruneTask) Timeout() time.Duration { return time.Minute }

// Run never fails.
func (t *RateLimitPruneTask) Run(context.Context) error {
	if n := t.pruner.Prune(); n > 0 {
		t.log.WithField("buckets", n).Debug("pruned idle rate limit buckets")
	}
	return nil
}
