package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"

	"github.com/homefix/messenger/internal/model"
)

// printYAML writes v as a YAML document.
func printYAML(w io.Writer, v interface{}) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode yaml: %w", err)
	}
	return enc.Close()
}

func ago(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return humanize.Time(t)
}

func printContacts(w io.Writer, contacts []model.Contact) {
	if len(contacts) == 0 {
		fmt.Fprintln(w, "No conversations yet.")
		return
	}
	for _, c := range contacts {
		mark := " "
		if c.Unread {
			mark = "*"
		}
		name := c.Name
		if name == "" {
			name = c.ID
		}
		fmt.Fprintf(w, "%s %-24s %-12s %s  (%s)\n", mark, name, c.ID, preview(c.LastMessage, 40), ago(c.LastMessageTime))
	}
}

func printMessage(w io.Writer, m model.Message, selfID string) {
	who := m.SenderName
	if m.SenderID == selfID {
		who = "you"
	} else if who == "" {
		who = m.SenderID
	}
	fmt.Fprintf(w, "[%s] %s: %s\n", ago(m.Timestamp), who, m.Content)
}

func printMessages(w io.Writer, msgs []model.Message, selfID string) {
	if len(msgs) == 0 {
		fmt.Fprintln(w, "No messages yet.")
		return
	}
	for _, m := range msgs {
		printMessage(w, m, selfID)
	}
}

func preview(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
