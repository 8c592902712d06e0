package api

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/mag/policy-engine/portfolio"
	"github.com/stretchr/testify/assert"
)

type countingApplier struct {
	mu    sync.Mutex
	calls int
	res   portfolio.ApplyResult
	err   error
}

func (a *countingApplier) ApplyRules(ctx context.Context, opts portfolio.ApplyOptions) (portfolio.ApplyResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	return a.res, a.err
}

func (a *countingApplier) Calls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

func TestRulesScheduler_RunNow(t *testing.T) {
	var buf bytes.Buffer
	applier := &countingApplier{res: portfolio.ApplyResult{Processed: 3, Updated: 1}}
	rs := NewRulesScheduler(applier, time.Hour, slog.New(slog.NewTextHandler(&buf, nil)))

	rs.RunNow()

	assert.Equal(t, 1, applier.Calls())
	assert.Contains(t, buf.String(), "updated=1")
}

func TestRulesScheduler_RunNowLogsFailure(t *testing.T) {
	var buf bytes.Buffer
	applier := &countingApplier{err: errors.New("store unavailable")}
	rs := NewRulesScheduler(applier, time.Hour, slog.New(slog.NewTextHandler(&buf, nil)))

	rs.RunNow()

	assert.Contains(t, buf.String(), "scheduled rules application failed")
	assert.Contains(t, buf.String(), "store unavailable")
}

func TestRulesScheduler_DisabledWithoutInterval(t *testing.T) {
	applier := &countingApplier{}
	rs := NewRulesScheduler(applier, 0, nil)

	rs.Start()
	rs.Stop()

	assert.Equal(t, 0, applier.Calls())
}

func TestRulesScheduler_StartRunsImmediately(t *testing.T) {
	applier := &countingApplier{}
	rs := NewRulesScheduler(applier, time.Hour, nil)

	// GIVEN: A started scheduler with a long interval
	rs.Start()
	rs.Start() // second Start is ignored

	// WHEN: The first pass has happened
	assert.Eventually(t, func() bool { return applier.Calls() >= 1 }, time.Second, 5*time.Millisecond)
	rs.Stop()

	// THEN: Exactly one pass ran and Stop is idempotent
	assert.Equal(t, 1, applier.Calls())
	rs.Stop()
}
