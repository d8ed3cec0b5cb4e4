package worker

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"ingest_server/pkg/apperr"
)

type countingProcessor struct {
	mu    sync.Mutex
	calls map[string]int
	fn    func(msg *Message, attempt int) error
}

func newCountingProcessor(fn func(msg *Message, attempt int) error) *countingProcessor {
	return &countingProcessor{calls: make(map[string]int), fn: fn}
}

func (p *countingProcessor) Process(_ context.Context, msg *Message) error {
	p.mu.Lock()
	p.calls[msg.ID]++
	attempt := p.calls[msg.ID]
	p.mu.Unlock()
	return p.fn(msg, attempt)
}

func (p *countingProcessor) attempts(id string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[id]
}

type recordingNotifier struct {
	mu       sync.Mutex
	subjects []string
	bodies   []string
}

func (n *recordingNotifier) SendAlert(_ context.Context, subject, body string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.subjects = append(n.subjects, subject)
	n.bodies = append(n.bodies, body)
	return nil
}

func (n *recordingNotifier) alerts() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.subjects...)
}

func testConfig() *PoolConfig {
	cfg := DefaultPoolConfig()
	cfg.MaxWorkers = 2
	cfg.BatchSize = 1
	cfg.WorkerChanSize = 1
	return cfg
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met within timeout")
}

func TestPoolProcessesJob(t *testing.T) {
	var processed int64
	proc := newCountingProcessor(func(_ *Message, _ int) error {
		atomic.AddInt64(&processed, 1)
		return nil
	})

	p := NewPool(proc, testConfig(), nil, zerolog.Nop())
	p.Start()
	defer p.Stop()

	if !p.Submit(NewMessage(JobGraphMailChange, map[string]any{"subscription_id": "sub-1"})) {
		t.Fatal("Submit returned false")
	}

	waitFor(t, 3*time.Second, func() bool {
		return atomic.LoadInt64(&processed) == 1
	})

	if m := p.GetMetrics(); m.JobsProcessed != 1 {
		t.Errorf("JobsProcessed = %d, want 1", m.JobsProcessed)
	}
}

func TestPoolRetriesTransientFailure(t *testing.T) {
	if testing.Short() {
		t.Skip("retry backoff takes seconds")
	}
	msg := NewMessage(JobGoogleNotification, map[string]any{"email_address": "a@b.c"})

	proc := newCountingProcessor(func(_ *Message, attempt int) error {
		if attempt < 3 {
			return apperr.ProviderTransient("gmail", nil)
		}
		return nil
	})

	p := NewPool(proc, testConfig(), nil, zerolog.Nop())
	p.Start()
	defer p.Stop()

	p.Submit(msg)

	// Backoff is 2s then 4s before the third attempt succeeds
	waitFor(t, 15*time.Second, func() bool {
		return proc.attempts(msg.ID) == 3
	})

	if m := p.GetMetrics(); m.JobsRetried != 2 {
		t.Errorf("JobsRetried = %d, want 2", m.JobsRetried)
	}
}

func TestPoolNonRetryableGoesStraightToDLQ(t *testing.T) {
	msg := NewMessage(JobGraphMailChange, map[string]any{"subscription_id": "sub-1"})

	proc := newCountingProcessor(func(_ *Message, _ int) error {
		return apperr.Decrypt(nil)
	})
	notifier := &recordingNotifier{}

	p := NewPool(proc, testConfig(), notifier, zerolog.Nop())
	p.Start()
	defer p.Stop()

	p.Submit(msg)

	waitFor(t, 3*time.Second, func() bool {
		return len(notifier.alerts()) == 1
	})

	if got := proc.attempts(msg.ID); got != 1 {
		t.Errorf("attempts = %d, want 1 (no retries for decrypt failures)", got)
	}
	if subj := notifier.alerts()[0]; subj != AlertSubject {
		t.Errorf("alert subject = %q, want %q", subj, AlertSubject)
	}
}

func TestPoolAlertsAfterExhaustedRetries(t *testing.T) {
	if testing.Short() {
		t.Skip("retry backoff takes seconds")
	}
	msg := NewMessage(JobGraphContactChange, map[string]any{"subscription_id": "sub-2"})

	proc := newCountingProcessor(func(_ *Message, _ int) error {
		return apperr.ProviderTransient("graph", nil)
	})
	notifier := &recordingNotifier{}

	p := NewPool(proc, testConfig(), notifier, zerolog.Nop())
	p.Start()
	defer p.Stop()

	p.Submit(msg)

	// 1 initial + 3 retries with 2s/4s/8s backoff
	waitFor(t, 30*time.Second, func() bool {
		return len(notifier.alerts()) == 1
	})

	if got := proc.attempts(msg.ID); got != MaxRetries+1 {
		t.Errorf("attempts = %d, want %d", got, MaxRetries+1)
	}

	notifier.mu.Lock()
	body := notifier.bodies[0]
	notifier.mu.Unlock()
	if !strings.Contains(body, msg.ID) || !strings.Contains(body, JobGraphContactChange) {
		t.Errorf("alert body missing job details: %q", body)
	}
}

func TestPoolConfiguredRetryLimit(t *testing.T) {
	if testing.Short() {
		t.Skip("retry backoff takes seconds")
	}
	msg := NewMessage(JobGraphMailChange, map[string]any{"subscription_id": "sub-3"})

	proc := newCountingProcessor(func(_ *Message, _ int) error {
		return apperr.ProviderTransient("graph", nil)
	})
	notifier := &recordingNotifier{}

	cfg := testConfig()
	cfg.MaxRetries = 1
	p := NewPool(proc, cfg, notifier, zerolog.Nop())
	p.Start()
	defer p.Stop()

	p.Submit(msg)

	waitFor(t, 15*time.Second, func() bool {
		return len(notifier.alerts()) == 1
	})

	if got := proc.attempts(msg.ID); got != 2 {
		t.Errorf("attempts = %d, want 2 (1 initial + 1 configured retry)", got)
	}
}

func TestPoolRetryResubmitFailureGoesToDLQ(t *testing.T) {
	if testing.Short() {
		t.Skip("retry backoff takes seconds")
	}
	msg := NewMessage(JobGoogleNotification, map[string]any{"email_address": "a@b.c"})

	proc := newCountingProcessor(func(_ *Message, _ int) error {
		return apperr.ProviderTransient("gmail", nil)
	})
	notifier := &recordingNotifier{}

	p := NewPool(proc, testConfig(), notifier, zerolog.Nop())
	p.Start()
	defer p.Stop()

	p.Submit(msg)

	waitFor(t, 3*time.Second, func() bool {
		return proc.attempts(msg.ID) == 1
	})

	// Drain the rate limiter so the delayed resubmit is refused
	p.rateLimiter.SetRate(0)
	atomic.StoreInt64(&p.rateLimiter.tokens, 0)

	waitFor(t, 15*time.Second, func() bool {
		return len(notifier.alerts()) == 1
	})

	if got := proc.attempts(msg.ID); got != 1 {
		t.Errorf("attempts = %d, want 1 (resubmit refused)", got)
	}
	notifier.mu.Lock()
	body := notifier.bodies[0]
	notifier.mu.Unlock()
	if !strings.Contains(body, "Retries: 1") {
		t.Errorf("alert body should carry the retry count: %q", body)
	}
}

func TestPoolSubmitBeforeStart(t *testing.T) {
	proc := newCountingProcessor(func(_ *Message, _ int) error { return nil })
	p := NewPool(proc, testConfig(), nil, zerolog.Nop())

	if p.Submit(NewMessage(JobBacklogSync, nil)) {
		t.Error("Submit before Start should return false")
	}
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(5, time.Second)

	allowed := 0
	for i := 0; i < 10; i++ {
		if rl.Allow() {
			allowed++
		}
	}
	if allowed != 5 {
		t.Errorf("allowed = %d, want 5", allowed)
	}
}

func TestParsePayload(t *testing.T) {
	msg := NewMessage(JobGoogleNotification, map[string]any{
		"email_address": "user@gmail.com",
		"history_id":    uint64(42),
		"ack_id":        "msg-7",
	})

	payload, err := ParsePayload[GoogleNotificationPayload](msg)
	if err != nil {
		t.Fatalf("ParsePayload: %v", err)
	}
	if payload.EmailAddress != "user@gmail.com" || payload.HistoryID != 42 || payload.AckID != "msg-7" {
		t.Errorf("unexpected payload: %+v", payload)
	}
}

func TestPriorityMessage(t *testing.T) {
	m := NewPriorityMessage(JobGraphLifecycle, nil, PriorityHigh)
	if !m.IsPriority() {
		t.Error("PriorityHigh message should report IsPriority")
	}
	if NewMessage(JobBacklogSync, nil).IsPriority() {
		t.Error("normal message should not report IsPriority")
	}
}
