package mailbox

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapserver"
	"github.com/emersion/go-imap/v2/imapserver/imapmemserver"
	"go.uber.org/zap"

	"github.com/spec-kit/mail-ticket-service/internal/config"
)

const (
	testUser     = "helpdesk"
	testPassword = "secret"
)

func rawMail(subject string) []byte {
	return []byte("From: erin@example.com\r\n" +
		"Subject: " + subject + "\r\n" +
		"Content-Type: text/plain; charset=utf-8\r\n" +
		"\r\n" +
		"Body of " + subject + "\r\n")
}

// newMemMailbox starts an in-memory IMAP server whose INBOX holds the given
// subjects, and returns a connector config pointing at it.
func newMemMailbox(t *testing.T, subjects ...string) (config.MailboxConfig, *imapmemserver.User) {
	t.Helper()
	user := imapmemserver.NewUser(testUser, testPassword)
	if err := user.Create("INBOX", nil); err != nil {
		t.Fatalf("create INBOX: %v", err)
	}
	for _, s := range subjects {
		appendMail(t, user, s)
	}

	mem := imapmemserver.New()
	mem.AddUser(user)
	server := imapserver.New(&imapserver.Options{
		NewSession: func(*imapserver.Conn) (imapserver.Session, *imapserver.GreetingData, error) {
			return mem.NewSession(), nil, nil
		},
		Caps:         imap.CapSet{imap.CapIMAP4rev1: {}, imap.CapIMAP4rev2: {}},
		InsecureAuth: true,
	})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go func() { _ = server.Serve(ln) }()
	t.Cleanup(func() { _ = server.Close() })

	host, port, _ := net.SplitHostPort(ln.Addr().String())
	return config.MailboxConfig{
		Host:           host,
		Port:           port,
		Username:       testUser,
		Password:       testPassword,
		Mailbox:        "INBOX",
		TLS:            false,
		Mode:           config.MailboxModeIdle,
		CommandTimeout: 2 * time.Second,
		ReconnectMin:   10 * time.Millisecond,
		ReconnectMax:   50 * time.Millisecond,
	}, user
}

func appendMail(t *testing.T, user *imapmemserver.User, subject string) {
	t.Helper()
	if _, err := user.Append("INBOX", bytes.NewReader(rawMail(subject)), &imap.AppendOptions{}); err != nil {
		t.Fatalf("append %s: %v", subject, err)
	}
}

func connect(t *testing.T, cfg config.MailboxConfig) *Connector {
	t.Helper()
	c := NewConnector(cfg, zap.NewNop())
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func uids(handles []Handle) []uint32 {
	out := make([]uint32, 0, len(handles))
	for _, h := range handles {
		out = append(out, h.UID)
	}
	return out
}

func TestListUnseenOldestFirst(t *testing.T) {
	cfg, _ := newMemMailbox(t, "printer", "vpn", "laptop")
	c := connect(t, cfg)

	handles, err := c.ListUnseen(context.Background())
	if err != nil {
		t.Fatalf("ListUnseen: %v", err)
	}
	if got := fmt.Sprint(uids(handles)); got != "[1 2 3]" {
		t.Fatalf("uids = %s", got)
	}
	for _, h := range handles {
		if h.Mailbox != "INBOX" || h.UIDValidity == 0 {
			t.Fatalf("handle = %+v", h)
		}
	}
}

func TestFetchDoesNotMarkSeen(t *testing.T) {
	cfg, _ := newMemMailbox(t, "printer", "vpn")
	c := connect(t, cfg)
	ctx := context.Background()

	handles, err := c.ListUnseen(ctx)
	if err != nil || len(handles) != 2 {
		t.Fatalf("ListUnseen: %v %v", handles, err)
	}
	raw, err := c.Fetch(ctx, handles[0])
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if !bytes.Contains(raw, []byte("Subject: printer")) || !bytes.Contains(raw, []byte("Body of printer")) {
		t.Fatalf("raw = %q", raw)
	}

	after, err := c.ListUnseen(ctx)
	if err != nil {
		t.Fatalf("ListUnseen: %v", err)
	}
	if len(after) != 2 {
		t.Fatalf("fetch changed unseen set: %v", uids(after))
	}
}

func TestMarkSeenIsRepeatable(t *testing.T) {
	cfg, _ := newMemMailbox(t, "printer", "vpn")
	c := connect(t, cfg)
	ctx := context.Background()

	handles, _ := c.ListUnseen(ctx)
	for i := 0; i < 2; i++ {
		if err := c.MarkSeen(ctx, handles[0]); err != nil {
			t.Fatalf("MarkSeen #%d: %v", i+1, err)
		}
	}
	after, err := c.ListUnseen(ctx)
	if err != nil {
		t.Fatalf("ListUnseen: %v", err)
	}
	if got := fmt.Sprint(uids(after)); got != "[2]" {
		t.Fatalf("unseen after mark = %s", got)
	}
}

func TestFetchStaleOrMissingHandle(t *testing.T) {
	cfg, _ := newMemMailbox(t, "printer")
	c := connect(t, cfg)
	ctx := context.Background()

	handles, _ := c.ListUnseen(ctx)
	missing := handles[0]
	missing.UID = 99
	_, err := c.Fetch(ctx, missing)
	var fetchErr *FetchError
	if !errors.As(err, &fetchErr) || !errors.Is(err, ErrMessageGone) {
		t.Fatalf("missing uid: %v", err)
	}

	stale := handles[0]
	stale.UIDValidity++
	if _, err := c.Fetch(ctx, stale); !errors.Is(err, ErrStaleHandle) {
		t.Fatalf("stale epoch: %v", err)
	}
	if err := c.MarkSeen(ctx, stale); !errors.Is(err, ErrStaleHandle) {
		t.Fatalf("stale mark: %v", err)
	}

	// Handle errors keep the session.
	if _, err := c.Fetch(ctx, handles[0]); err != nil {
		t.Fatalf("Fetch after handle errors: %v", err)
	}
}

func idleActive(c *Connector) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.idle != nil
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestIdleRearmsAfterCommand(t *testing.T) {
	cfg, user := newMemMailbox(t, "printer")
	c := NewConnector(cfg, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	select {
	case <-c.Events():
	case <-time.After(3 * time.Second):
		t.Fatal("no event after connect")
	}
	waitFor(t, "idle", func() bool { return idleActive(c) })

	if _, err := c.ListUnseen(context.Background()); err != nil {
		t.Fatalf("ListUnseen: %v", err)
	}
	waitFor(t, "idle re-armed", func() bool { return idleActive(c) })

	appendMail(t, user, "vpn")
	select {
	case <-c.Events():
	case <-time.After(3 * time.Second):
		t.Fatal("new mail during idle did not signal")
	}

	handles, err := c.ListUnseen(context.Background())
	if err != nil || len(handles) != 2 {
		t.Fatalf("ListUnseen: %v %v", handles, err)
	}
}

// newStallingServer speaks enough IMAP to log in and select. When ackIdle is
// set IDLE gets its continuation; either way the server goes silent after
// IDLE and ignores DONE.
func newStallingServer(t *testing.T, ackIdle bool) config.MailboxConfig {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go serveStalling(conn, ackIdle)
		}
	}()

	host, port, _ := net.SplitHostPort(ln.Addr().String())
	return config.MailboxConfig{
		Host:           host,
		Port:           port,
		Username:       testUser,
		Password:       testPassword,
		Mailbox:        "INBOX",
		Mode:           config.MailboxModeIdle,
		CommandTimeout: 300 * time.Millisecond,
	}
}

func serveStalling(conn net.Conn, ackIdle bool) {
	defer conn.Close()
	fmt.Fprint(conn, "* OK [CAPABILITY IMAP4rev1 IDLE] ready\r\n")

	silent := false
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		if silent {
			continue
		}
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			continue
		}
		tag, cmd := fields[0], strings.ToUpper(fields[1])
		switch cmd {
		case "CAPABILITY":
			fmt.Fprintf(conn, "* CAPABILITY IMAP4rev1 IDLE\r\n%s OK done\r\n", tag)
		case "LOGIN":
			fmt.Fprintf(conn, "%s OK [CAPABILITY IMAP4rev1 IDLE] logged in\r\n", tag)
		case "SELECT":
			fmt.Fprintf(conn, "* FLAGS (\\Seen)\r\n* 0 EXISTS\r\n* OK [UIDVALIDITY 7] ok\r\n* OK [UIDNEXT 1] ok\r\n%s OK [READ-WRITE] selected\r\n", tag)
		case "IDLE":
			if ackIdle {
				fmt.Fprint(conn, "+ idling\r\n")
			}
			silent = true
		case "LOGOUT":
			fmt.Fprintf(conn, "* BYE\r\n%s OK bye\r\n", tag)
			return
		default:
			fmt.Fprintf(conn, "%s OK done\r\n", tag)
		}
	}
}

func TestCommandAfterUnfinishedIdleTimesOut(t *testing.T) {
	c := connect(t, newStallingServer(t, true))
	if err := c.startIdle(context.Background()); err != nil {
		t.Fatalf("startIdle: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	start := time.Now()
	_, err := c.ListUnseen(ctx)
	if !IsConnectionError(err) || !errors.Is(err, ErrCommandTimeout) {
		t.Fatalf("ListUnseen: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("ListUnseen took %v", elapsed)
	}

	// The session is gone; later commands fail fast.
	if _, err := c.ListUnseen(ctx); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("after timeout: %v", err)
	}
}

func TestIdleWithoutAcknowledgementTimesOut(t *testing.T) {
	c := connect(t, newStallingServer(t, false))

	start := time.Now()
	err := c.startIdle(context.Background())
	if !IsConnectionError(err) || !errors.Is(err, ErrCommandTimeout) {
		t.Fatalf("startIdle: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("startIdle took %v", elapsed)
	}
	if idleActive(c) {
		t.Fatal("idle recorded after failure")
	}
}

func TestRunStopsWhenIdleNeverCompletes(t *testing.T) {
	c := NewConnector(newStallingServer(t, true), zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	waitFor(t, "idle", func() bool { return idleActive(c) })
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}
