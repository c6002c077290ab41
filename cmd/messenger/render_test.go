package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/homefix/messenger/internal/apperr"
	"github.com/homefix/messenger/internal/config"
	"github.com/homefix/messenger/internal/model"
	"github.com/homefix/messenger/internal/tokenstore"
)

func TestPreview(t *testing.T) {
	if got := preview("short", 40); got != "short" {
		t.Errorf("preview(short) = %q", got)
	}
	if got := preview("a  b\n c", 40); got != "a b c" {
		t.Errorf("whitespace not collapsed: %q", got)
	}
	got := preview(strings.Repeat("ü", 50), 10)
	if n := len([]rune(got)); n != 10 {
		t.Errorf("expected 10 runes, got %d (%q)", n, got)
	}
	if !strings.HasSuffix(got, "…") {
		t.Errorf("expected ellipsis, got %q", got)
	}
}

func TestPlural(t *testing.T) {
	if plural(1, "message") != "message" {
		t.Error("singular expected for 1")
	}
	if plural(0, "message") != "messages" || plural(3, "message") != "messages" {
		t.Error("plural expected for 0 and 3")
	}
}

func TestPrintContacts(t *testing.T) {
	var buf bytes.Buffer
	printContacts(&buf, nil)
	if !strings.Contains(buf.String(), "No conversations") {
		t.Errorf("empty list output: %q", buf.String())
	}

	buf.Reset()
	printContacts(&buf, []model.Contact{
		{ID: "p1", Name: "Ana Plumber", LastMessage: "on my way", LastMessageTime: time.Now(), Unread: true},
		{ID: "p2"},
	})
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d: %q", len(lines), buf.String())
	}
	if !strings.HasPrefix(lines[0], "*") || !strings.Contains(lines[0], "Ana Plumber") {
		t.Errorf("unread contact not marked: %q", lines[0])
	}
	if !strings.Contains(lines[1], "p2") || !strings.Contains(lines[1], "never") {
		t.Errorf("nameless contact should fall back to id: %q", lines[1])
	}
}

func TestPrintMessageSelf(t *testing.T) {
	var buf bytes.Buffer
	printMessage(&buf, model.Message{SenderID: "u1", SenderName: "Me", Content: "hi"}, "u1")
	if !strings.Contains(buf.String(), "you: hi") {
		t.Errorf("own message should be labelled you: %q", buf.String())
	}

	buf.Reset()
	printMessage(&buf, model.Message{SenderID: "p1", Content: "hello"}, "u1")
	if !strings.Contains(buf.String(), "p1: hello") {
		t.Errorf("nameless sender should fall back to id: %q", buf.String())
	}
}

func TestPrintYAMLHidesToken(t *testing.T) {
	var buf bytes.Buffer
	id := &model.Identity{UserID: "u1", Role: "homeowner", Email: "a@b.c", Token: "secret"}
	if err := printYAML(&buf, id); err != nil {
		t.Fatalf("printYAML: %v", err)
	}
	if strings.Contains(buf.String(), "secret") {
		t.Errorf("token leaked into yaml: %q", buf.String())
	}
	if !strings.Contains(buf.String(), "user_id: u1") {
		t.Errorf("missing user_id: %q", buf.String())
	}
}

func TestOpenSlotMemory(t *testing.T) {
	c := config.Default()
	c.TokenBackend = config.BackendMemory
	c.TokenKey = config.AdminTokenKey
	slot, err := openSlot(c)
	if err != nil {
		t.Fatalf("openSlot: %v", err)
	}
	defer slot.Close()
	if _, ok := slot.(*tokenstore.Memory); !ok {
		t.Fatalf("expected memory slot, got %T", slot)
	}
	if slot.Key() != config.AdminTokenKey {
		t.Errorf("slot key = %q", slot.Key())
	}
}

func TestContactLabel(t *testing.T) {
	if got := contactLabel(model.Contact{ID: "p1"}); got != "p1" {
		t.Errorf("contactLabel = %q", got)
	}
	if got := contactLabel(model.Contact{ID: "p1", Name: "Ana"}); got != "Ana (p1)" {
		t.Errorf("contactLabel = %q", got)
	}
}

func TestConsoleReject_OnlyLocalErrors(t *testing.T) {
	var buf bytes.Buffer
	con := &console{w: &buf}

	con.reject(apperr.NetworkFailure("api: send", nil))
	if buf.Len() != 0 {
		t.Fatalf("backend failure printed twice: %q", buf.String())
	}
	con.reject(apperr.InvalidArg("message is empty"))
	if !strings.Contains(buf.String(), "message is empty") {
		t.Errorf("validation error not printed: %q", buf.String())
	}
}
