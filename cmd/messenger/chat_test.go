package main

import (
	"bytes"
	"context"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/homefix/messenger/internal/model"
	"github.com/homefix/messenger/internal/testserver"
)

// lockedBuffer collects output written by background handlers.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// newCLIEnv points the CLI at a fake API with a fresh token directory and
// logs in as u-1.
func newCLIEnv(t *testing.T) *testserver.Server {
	t.Helper()
	srv := testserver.New()
	t.Cleanup(srv.Close)
	srv.SetUserID("u-1")

	t.Setenv("NEXT_PUBLIC_API_BASE_URL", srv.URL())
	t.Setenv("MESSENGER_TOKEN_BACKEND", "pebble")
	t.Setenv("MESSENGER_TOKEN_DIR", t.TempDir())
	t.Setenv("NATS_URL", "")
	t.Setenv("METRICS_ADDR", "")

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "jane@example.com", "role": "homeowner", "user_id": "u-1",
	}).SignedString([]byte("test-key"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	if out, err := runCLI(t, "", "login", token); err != nil {
		t.Fatalf("login: %v\n%s", err, out)
	}
	return srv
}

func runCLI(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	out := &lockedBuffer{}
	rootCmd.SetOut(out)
	rootCmd.SetErr(out)
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetIn(nil)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := rootCmd.ExecuteContext(ctx)
	return out.String(), err
}

// ---------------------------------------------------------------------------
// chat
// ---------------------------------------------------------------------------

func TestChat_HistoryFailureKeepsSessionOpen(t *testing.T) {
	srv := newCLIEnv(t)
	srv.SetContacts(model.Contact{ID: "p1", Name: "Ana Plumber"})
	srv.Fail("conversation", http.StatusInternalServerError)

	out, err := runCLI(t, "hello\n/quit\n", "chat", "p1")
	if err != nil {
		t.Fatalf("chat should survive a history failure, got %v\n%s", err, out)
	}
	if !strings.Contains(out, "load_messages failed") {
		t.Errorf("expected a notice for the failed history fetch:\n%s", out)
	}
	if !strings.Contains(out, "you: hello") {
		t.Errorf("expected the session to keep accepting input:\n%s", out)
	}
	if n := srv.Count(http.MethodPost, "/messages/send"); n != 1 {
		t.Errorf("expected 1 send, got %d", n)
	}
}

func TestChat_ContactsFailureKeepsSessionOpen(t *testing.T) {
	srv := newCLIEnv(t)
	srv.Fail("contacts", http.StatusInternalServerError)

	out, err := runCLI(t, "/quit\n", "chat")
	if err != nil {
		t.Fatalf("chat should survive a contacts failure, got %v\n%s", err, out)
	}
	if !strings.Contains(out, "load_contacts failed") {
		t.Errorf("expected a notice for the failed contact list:\n%s", out)
	}
}

func TestChat_InvalidLinkIsReported(t *testing.T) {
	newCLIEnv(t)

	out, err := runCLI(t, "/quit\n", "chat", "https://app.example.com/messages?other=1")
	if err != nil {
		t.Fatalf("chat should report a bad link and continue, got %v\n%s", err, out)
	}
	if !strings.Contains(out, "no contact parameter") {
		t.Errorf("expected the link error to be printed:\n%s", out)
	}
}

// ---------------------------------------------------------------------------
// history
// ---------------------------------------------------------------------------

func TestHistory_ContactsFailureStillShowsHistory(t *testing.T) {
	srv := newCLIEnv(t)
	srv.Fail("contacts", http.StatusInternalServerError)
	srv.AddProfile(model.Profile{ID: "p1", Name: "Ana Plumber"})
	srv.SetConversation("p1", model.Message{ID: "m1", SenderID: "p1", SenderName: "Ana", Content: "on my way", Timestamp: time.Now()})

	out, err := runCLI(t, "", "history", "p1")
	if err != nil {
		t.Fatalf("history: %v\n%s", err, out)
	}
	if !strings.Contains(out, "warning: contact list unavailable") {
		t.Errorf("expected a warning for the contact list:\n%s", out)
	}
	if !strings.Contains(out, "Ana: on my way") {
		t.Errorf("expected the history to be printed:\n%s", out)
	}
}
