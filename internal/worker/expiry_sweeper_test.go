package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/mail-ticket-service/internal/config"
	"github.com/spec-kit/mail-ticket-service/internal/domain"
	"github.com/spec-kit/mail-ticket-service/internal/observability"
	"github.com/spec-kit/mail-ticket-service/internal/service"
	"github.com/spec-kit/mail-ticket-service/internal/testutil"
)

func newService(t *testing.T) (*service.TicketService, *testutil.Clock) {
	t.Helper()
	clock := testutil.NewClock(time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC))
	svc := service.NewTicketService(testutil.NewTestStore(t), service.WithClock(clock.Now))
	return svc, clock
}

func createTicket(t *testing.T, svc *service.TicketService, priority domain.TicketPriority) *domain.Ticket {
	t.Helper()
	ticket, err := svc.CreateTicket(context.Background(), service.CreateTicketInput{
		Subject:    "Monitor flickers",
		Message:    "since this morning",
		CategoryID: "hardware",
		FunctionID: "it-support",
		OrdererID:  "u-3",
		Priority:   priority,
	})
	if err != nil {
		t.Fatalf("CreateTicket: %v", err)
	}
	return ticket
}

func TestSweepExpiresOnlyDueTickets(t *testing.T) {
	svc, clock := newService(t)
	ctx := context.Background()
	high := createTicket(t, svc, domain.TicketPriorityHigh)
	low := createTicket(t, svc, domain.TicketPriorityLow)
	processing := createTicket(t, svc, domain.TicketPriorityHigh)
	if _, err := svc.Transition(ctx, processing.ID, domain.TicketStatusProcess, "agent-1"); err != nil {
		t.Fatalf("Transition: %v", err)
	}

	metrics := observability.NewMetrics()
	sweeper := NewExpirySweeper(svc, config.LifecycleConfig{SweepBatchSize: 1, SweepConcurrency: 4}, zap.NewNop(), metrics)

	clock.Advance(25 * time.Hour)
	result, err := sweeper.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if result.Expired != 2 || result.Failed != 0 {
		t.Fatalf("result = %+v, want 2 expired", result)
	}

	for id, want := range map[int64]domain.TicketStatus{
		high.ID:       domain.TicketStatusExpired,
		processing.ID: domain.TicketStatusExpired,
		low.ID:        domain.TicketStatusOpen,
	} {
		got, err := svc.GetTicket(ctx, id)
		if err != nil {
			t.Fatalf("GetTicket: %v", err)
		}
		if got.Status != want {
			t.Errorf("ticket %d status = %s, want %s", id, got.Status, want)
		}
	}

	again, err := sweeper.Sweep(ctx)
	if err != nil {
		t.Fatalf("second Sweep: %v", err)
	}
	if again.Scanned != 0 {
		t.Errorf("second sweep scanned %d tickets", again.Scanned)
	}
	if got := metrics.Counter(observability.CounterSweepRuns); got != 2 {
		t.Errorf("sweep runs = %d", got)
	}
}

func TestConcurrentSweepsWriteOneRecord(t *testing.T) {
	svc, clock := newService(t)
	ctx := context.Background()
	var ids []int64
	for i := 0; i < 10; i++ {
		ids = append(ids, createTicket(t, svc, domain.TicketPriorityHigh).ID)
	}
	clock.Advance(48 * time.Hour)

	cfg := config.LifecycleConfig{SweepBatchSize: 5, SweepConcurrency: 3}
	var wg sync.WaitGroup
	results := make([]SweepResult, 3)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _ = NewExpirySweeper(svc, cfg, zap.NewNop(), nil).Sweep(ctx)
		}(i)
	}
	wg.Wait()

	expired := 0
	for _, r := range results {
		expired += r.Expired
	}
	if expired != len(ids) {
		t.Fatalf("expired across sweeps = %d, want %d", expired, len(ids))
	}
	for _, id := range ids {
		entries, err := svc.ListHistory(ctx, id)
		if err != nil {
			t.Fatalf("ListHistory: %v", err)
		}
		if len(entries) != 2 {
			t.Errorf("ticket %d history len = %d, want 2", id, len(entries))
		}
	}
}

type flakyExpirer struct {
	mu    sync.Mutex
	due   []domain.Ticket
	calls int
}

func (f *flakyExpirer) ListDue(ctx context.Context, limit int) ([]domain.Ticket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.Ticket(nil), f.due...), nil
}

func (f *flakyExpirer) ExpireTicket(ctx context.Context, id int64, observed domain.TicketStatus) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if id%2 == 0 {
		return false, errors.New("store unavailable")
	}
	return true, nil
}

func TestSweepContinuesPastFailures(t *testing.T) {
	fake := &flakyExpirer{}
	for i := int64(1); i <= 4; i++ {
		fake.due = append(fake.due, domain.Ticket{ID: i, Status: domain.TicketStatusOpen})
	}
	sweeper := NewExpirySweeper(fake, config.LifecycleConfig{SweepBatchSize: 10, SweepConcurrency: 2}, zap.NewNop(), nil)

	result, err := sweeper.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if result.Expired != 2 || result.Failed != 2 || fake.calls != 4 {
		t.Errorf("result = %+v calls = %d", result, fake.calls)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	fake := &flakyExpirer{}
	sweeper := NewExpirySweeper(fake, config.LifecycleConfig{SweepInterval: 10 * time.Millisecond}, zap.NewNop(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sweeper.Run(ctx) }()
	time.Sleep(30 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
