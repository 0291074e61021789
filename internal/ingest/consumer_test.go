package ingest

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spec-kit/mail-ticket-service/internal/config"
	"github.com/spec-kit/mail-ticket-service/internal/domain"
	"github.com/spec-kit/mail-ticket-service/internal/mailbox"
	"github.com/spec-kit/mail-ticket-service/internal/observability"
	"github.com/spec-kit/mail-ticket-service/internal/repository"
	"github.com/spec-kit/mail-ticket-service/internal/repository/sqlite"
	"github.com/spec-kit/mail-ticket-service/internal/service"
	"github.com/spec-kit/mail-ticket-service/internal/testutil"
	apperrors "github.com/spec-kit/mail-ticket-service/pkg/util/errorutil"
)

const vpnMail = "From: Dana <dana@example.com>\r\n" +
	"Subject: VPN issue\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"\r\n" +
	"Cannot connect\r\n"

type fakeMailbox struct {
	mu          sync.Mutex
	events      chan struct{}
	messages    map[uint32][]byte
	seen        map[uint32]bool
	fetches     int
	markSeenErr error
	listErr     error
	fetchErr    error
}

func newFakeMailbox() *fakeMailbox {
	return &fakeMailbox{
		events:   make(chan struct{}, 1),
		messages: map[uint32][]byte{},
		seen:     map[uint32]bool{},
	}
}

func (f *fakeMailbox) put(uid uint32, raw string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages[uid] = []byte(raw)
}

func (f *fakeMailbox) isSeen(uid uint32) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.seen[uid]
}

func (f *fakeMailbox) handle(uid uint32) mailbox.Handle {
	return mailbox.Handle{Mailbox: "INBOX", UIDValidity: 9, UID: uid}
}

func (f *fakeMailbox) Events() <-chan struct{} { return f.events }

func (f *fakeMailbox) ListUnseen(context.Context) ([]mailbox.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	var uids []uint32
	for uid := range f.messages {
		if !f.seen[uid] {
			uids = append(uids, uid)
		}
	}
	slices.Sort(uids)
	out := make([]mailbox.Handle, 0, len(uids))
	for _, uid := range uids {
		out = append(out, f.handle(uid))
	}
	return out, nil
}

func (f *fakeMailbox) Fetch(_ context.Context, h mailbox.Handle) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	raw, ok := f.messages[h.UID]
	if !ok {
		return nil, &mailbox.FetchError{Handle: h, Err: mailbox.ErrMessageGone}
	}
	return raw, nil
}

func (f *fakeMailbox) MarkSeen(_ context.Context, h mailbox.Handle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.markSeenErr != nil {
		return f.markSeenErr
	}
	f.seen[h.UID] = true
	return nil
}

type harness struct {
	consumer *Consumer
	mailbox  *fakeMailbox
	svc      *service.TicketService
	store    *sqlite.Store
	metrics  *observability.Metrics
}

var ingestCfg = config.IngestConfig{
	FallbackUserID:    "helpdesk",
	DefaultCategoryID: "general",
	DefaultFunctionID: "it-support",
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store := testutil.NewTestStore(t)
	clock := testutil.NewClock(time.Date(2026, 5, 4, 8, 0, 0, 0, time.UTC))
	svc := service.NewTicketService(store, service.WithClock(clock.Now))
	mb := newFakeMailbox()
	metrics := observability.NewMetrics()
	consumer := NewConsumer(mb, svc, repository.NewUserDirectory(store.Users()), ingestCfg, WithMetrics(metrics))
	return &harness{consumer: consumer, mailbox: mb, svc: svc, store: store, metrics: metrics}
}

func TestDrainCreatesTicketOnceAcrossRedelivery(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	testutil.SeedUser(t, h.store, "u-dana", "dana@example.com")
	h.mailbox.put(42, vpnMail)

	// Ticket is committed but the seen flag is lost, so the message comes back.
	h.mailbox.markSeenErr = errors.New("NO store rejected")
	stats, err := h.consumer.Drain(ctx)
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if stats.Created != 1 {
		t.Fatalf("stats = %+v", stats)
	}
	if h.mailbox.isSeen(42) {
		t.Fatal("message should still be unseen")
	}

	h.mailbox.markSeenErr = nil
	stats, err = h.consumer.Drain(ctx)
	if err != nil {
		t.Fatalf("second Drain: %v", err)
	}
	if stats.Created != 0 || stats.Duplicates != 1 {
		t.Fatalf("second stats = %+v", stats)
	}
	if !h.mailbox.isSeen(42) {
		t.Fatal("duplicate should be marked seen")
	}

	key := h.mailbox.handle(42).Key()
	ticket, found, err := h.svc.FindBySourceKey(ctx, key)
	if err != nil || !found {
		t.Fatalf("FindBySourceKey: found=%v err=%v", found, err)
	}
	if ticket.Subject != "VPN issue" || ticket.Status != domain.TicketStatusOpen || ticket.Priority != domain.TicketPriorityLow {
		t.Fatalf("ticket = %+v", ticket)
	}
	if ticket.OrdererID != "u-dana" || ticket.OrdererEmail != "dana@example.com" {
		t.Fatalf("orderer = %s <%s>", ticket.OrdererID, ticket.OrdererEmail)
	}
	if ticket.CategoryID != "general" || ticket.FunctionID != "it-support" {
		t.Fatalf("routing = %s/%s", ticket.CategoryID, ticket.FunctionID)
	}

	messages, err := h.svc.ListMessages(ctx, ticket.ID)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(messages) != 1 || messages[0].Content != "Cannot connect" {
		t.Fatalf("messages = %+v", messages)
	}
	if h.mailbox.fetches != 1 {
		t.Fatalf("duplicate should not be fetched again, fetches = %d", h.mailbox.fetches)
	}
	if h.metrics.Counter(observability.CounterIngestCreated) != 1 || h.metrics.Counter(observability.CounterIngestDuplicates) != 1 {
		t.Fatalf("counters = %+v", h.metrics.Snapshot().Counters)
	}
}

func TestDrainFallsBackForUnknownSender(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.mailbox.put(1, strings.Replace(vpnMail, "dana@example.com", "stranger@elsewhere.org", 1))
	h.mailbox.put(2, "Subject: anonymous\r\n\r\nhello\r\n")

	stats, err := h.consumer.Drain(ctx)
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if stats.Created != 2 {
		t.Fatalf("stats = %+v", stats)
	}
	for _, uid := range []uint32{1, 2} {
		ticket, _, err := h.svc.FindBySourceKey(ctx, h.mailbox.handle(uid).Key())
		if err != nil {
			t.Fatalf("FindBySourceKey: %v", err)
		}
		if ticket.OrdererID != "helpdesk" {
			t.Fatalf("uid %d orderer = %q", uid, ticket.OrdererID)
		}
	}
}

func TestDrainSplitsQuoteAndRecordsAttachments(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	raw := "From: dana@example.com\r\n" +
		"Subject: Re: VPN issue\r\n" +
		"MIME-Version: 1.0\r\n" +
		"Content-Type: multipart/mixed; boundary=b1\r\n" +
		"\r\n" +
		"--b1\r\n" +
		"Content-Type: text/plain\r\n" +
		"\r\n" +
		"Still failing.\r\n" +
		"\r\n" +
		"On Monday Support wrote:\r\n" +
		"> Try again\r\n" +
		"--b1\r\n" +
		"Content-Type: image/png\r\n" +
		"Content-Disposition: attachment; filename=\"screen.png\"\r\n" +
		"\r\n" +
		"PNGDATA\r\n" +
		"--b1--\r\n"
	h.mailbox.put(5, raw)

	if _, err := h.consumer.Drain(ctx); err != nil {
		t.Fatalf("Drain: %v", err)
	}
	ticket, found, err := h.svc.FindBySourceKey(ctx, h.mailbox.handle(5).Key())
	if err != nil || !found {
		t.Fatalf("FindBySourceKey: %v %v", found, err)
	}
	if ticket.AttachmentRef == nil || !strings.Contains(*ticket.AttachmentRef, `"filename":"screen.png"`) {
		t.Fatalf("attachment ref = %v", ticket.AttachmentRef)
	}
	messages, _ := h.svc.ListMessages(ctx, ticket.ID)
	if len(messages) != 1 || messages[0].Content != "Still failing." || messages[0].Quote != "Try again" {
		t.Fatalf("messages = %+v", messages)
	}
}

func TestDrainLeavesUnparseableMailUnseen(t *testing.T) {
	h := newHarness(t)
	h.mailbox.put(3, "garbage without headers\r\n\r\n")
	h.mailbox.put(4, vpnMail)

	stats, err := h.consumer.Drain(context.Background())
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if stats.ParseErrors != 1 || stats.Created != 1 {
		t.Fatalf("stats = %+v", stats)
	}
	if h.mailbox.isSeen(3) {
		t.Fatal("unparseable message must stay unseen")
	}
	if !h.mailbox.isSeen(4) {
		t.Fatal("parseable message should be seen")
	}
}

type failingCreator struct {
	err error
}

func (f failingCreator) CreateTicket(context.Context, service.CreateTicketInput) (*domain.Ticket, error) {
	return nil, f.err
}

func (f failingCreator) FindBySourceKey(context.Context, string) (*domain.Ticket, bool, error) {
	return nil, false, nil
}

type emptyDirectory struct{}

func (emptyDirectory) ResolveByEmail(context.Context, string) (string, bool, error) {
	return "", false, nil
}

func TestDrainLeavesMailUnseenWhenStoreFails(t *testing.T) {
	mb := newFakeMailbox()
	mb.put(7, vpnMail)
	metrics := observability.NewMetrics()
	consumer := NewConsumer(mb, failingCreator{err: apperrors.NewStoreUnavailable(errors.New("disk full"))},
		emptyDirectory{}, ingestCfg, WithMetrics(metrics))

	stats, err := consumer.Drain(context.Background())
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if stats.Failed != 1 || mb.isSeen(7) {
		t.Fatalf("stats = %+v seen = %v", stats, mb.isSeen(7))
	}
	if metrics.Counter(observability.CounterIngestStoreErrors) != 1 {
		t.Fatalf("store errors = %d", metrics.Counter(observability.CounterIngestStoreErrors))
	}
}

func TestDrainAbortsOnConnectionLoss(t *testing.T) {
	h := newHarness(t)
	h.mailbox.put(1, vpnMail)
	h.mailbox.put(2, vpnMail)
	h.mailbox.fetchErr = &mailbox.ConnectionError{Op: "fetch", Err: mailbox.ErrCommandTimeout}

	stats, err := h.consumer.Drain(context.Background())
	if !mailbox.IsConnectionError(err) {
		t.Fatalf("expected connection error, got %v", err)
	}
	if h.mailbox.fetches != 1 || stats.Created != 0 {
		t.Fatalf("pass should stop at the first failure: fetches=%d stats=%+v", h.mailbox.fetches, stats)
	}
}

func TestDrainSkipsMessagesClaimedElsewhere(t *testing.T) {
	h := newHarness(t)
	claims := NewMemoryClaims()
	h.consumer.claims = claims
	h.mailbox.put(8, vpnMail)

	release, ok, _ := claims.Claim(context.Background(), h.mailbox.handle(8).Key())
	if !ok {
		t.Fatal("claim")
	}
	stats, err := h.consumer.Drain(context.Background())
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if stats.Claimed != 1 || h.mailbox.isSeen(8) {
		t.Fatalf("stats = %+v", stats)
	}

	release()
	stats, _ = h.consumer.Drain(context.Background())
	if stats.Created != 1 {
		t.Fatalf("after release stats = %+v", stats)
	}
}

func TestRunDrainsOnEvents(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.consumer.Run(ctx) }()

	h.mailbox.put(11, vpnMail)
	h.mailbox.events <- struct{}{}

	deadline := time.After(2 * time.Second)
	for !h.mailbox.isSeen(11) {
		select {
		case <-deadline:
			cancel()
			t.Fatal("message not ingested after event")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}
}
