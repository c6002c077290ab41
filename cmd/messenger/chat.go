package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/homefix/messenger/internal/apperr"
	"github.com/homefix/messenger/internal/conversation"
	"github.com/homefix/messenger/internal/messaging"
	"github.com/homefix/messenger/internal/model"
)

func init() {
	listenCmd.Flags().StringVar(&listenContact, "contact", "", "also follow the conversation with this contact id or link")
	listenCmd.Flags().BoolVarP(&listenQuiet, "quiet", "q", false, "do not print incoming messages")
	rootCmd.AddCommand(chatCmd, listenCmd)
}

var (
	listenContact string
	listenQuiet   bool
)

var chatCmd = &cobra.Command{
	Use:   "chat [contact-id|link]",
	Short: "Interactive conversation with live updates",
	Long: `Open an interactive conversation. Lines typed on stdin are sent to the
selected contact; incoming messages appear as they arrive.

Commands:
  /open <id|link>   switch conversation
  /contacts         list conversations
  /refresh          reload the current conversation
  /quit             leave`,
	Args: cobra.MaximumNArgs(1),
	RunE: runChat,
}

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Follow incoming messages and publish them to NATS",
	Long: `Keep the realtime channel open and print incoming messages. When NATS_URL
is set, conversation events are also published to
messenger.<user_id>.{messages,contacts,notices}.`,
	Args: cobra.NoArgs,
	RunE: runListen,
}

// console serializes writes from the input loop and background handlers.
type console struct {
	mu     sync.Mutex
	w      io.Writer
	selfID string
}

func (c *console) printf(format string, args ...interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.w, format, args...)
}

func (c *console) do(fn func(w io.Writer)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(c.w)
}

// OnEvent prints appended messages and failure notices.
func (c *console) OnEvent(ev conversation.Event) {
	switch ev.Type {
	case conversation.EventMessageAppended:
		c.do(func(w io.Writer) { printMessage(w, *ev.Message, c.selfID) })
	case conversation.EventNotice:
		c.printf("! %s failed: %v\n", ev.Notice.Op, ev.Notice.Err)
	}
}

// reject prints errors raised before any REST call. Backend failures already
// reached the console as notices.
func (c *console) reject(err error) {
	switch apperr.CodeOf(err) {
	case apperr.CodeInvalidArgument, apperr.CodeFailedPrecondition:
		c.printf("! %v\n", err)
	}
}

func (c *console) connection(connected bool) {
	if connected {
		c.printf("(live)\n")
	} else {
		c.printf("(offline, reconnecting)\n")
	}
}

func runChat(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	id, err := a.requireIdentity()
	if err != nil {
		return err
	}
	unsubscribe := a.session.Subscribe(func(cur *model.Identity) {
		if cur == nil {
			cancel()
		}
	})
	defer unsubscribe()

	con := &console{w: cmd.OutOrStdout(), selfID: id.UserID}
	r := a.reconciler(conversation.WithObserver(con))

	// REST failures below are already shown as notices; the session keeps
	// running so the channel can still deliver and /open can retry.
	_ = r.LoadContacts(ctx)
	if len(args) == 1 {
		if err := openConversation(ctx, r, con, args[0]); err != nil {
			con.reject(err)
		}
	} else {
		con.do(func(w io.Writer) { printContacts(w, r.Snapshot().Contacts) })
		con.printf("Use /open <id> to pick a conversation.\n")
	}

	m, err := a.channel(id, r)
	if err != nil {
		return err
	}
	m.OnConnectionChange(con.connection)
	m.OnMessage(func(msg model.Message) {
		if msg.SenderID != r.Snapshot().Selected {
			con.printf("* new message from %s\n", senderLabel(msg))
		}
	})
	defer m.Close()

	runErr := make(chan error, 1)
	go func() { runErr <- m.Run(ctx) }()

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(cmd.InOrStdin())
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-runErr:
			return err
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if quit := handleLine(ctx, r, con, line); quit {
				return nil
			}
		}
	}
}

// handleLine runs one line of chat input and reports whether to quit.
func handleLine(ctx context.Context, r *conversation.Reconciler, con *console, line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}
	if !strings.HasPrefix(line, "/") {
		if _, err := r.Send(ctx, line); err != nil {
			con.reject(err)
		}
		return false
	}

	fields := strings.Fields(line)
	switch fields[0] {
	case "/quit", "/exit":
		return true
	case "/contacts":
		con.do(func(w io.Writer) { printContacts(w, r.Snapshot().Contacts) })
	case "/refresh":
		if err := r.LoadMessages(ctx); err != nil {
			con.reject(err)
			return false
		}
		con.do(func(w io.Writer) { printMessages(w, r.Snapshot().Messages, con.selfID) })
	case "/open":
		if len(fields) < 2 {
			con.printf("usage: /open <id|link>\n")
			return false
		}
		if err := openConversation(ctx, r, con, fields[1]); err != nil {
			con.reject(err)
		}
	default:
		con.printf("unknown command %s\n", fields[0])
	}
	return false
}

func openConversation(ctx context.Context, r *conversation.Reconciler, con *console, target string) error {
	if err := r.SelectDeepLink(ctx, target); err != nil {
		return err
	}
	view := r.Snapshot()
	con.do(func(w io.Writer) {
		for _, c := range view.Contacts {
			if c.ID == view.Selected {
				fmt.Fprintf(w, "--- %s ---\n", contactLabel(c))
				break
			}
		}
		printMessages(w, view.Messages, con.selfID)
	})
	return nil
}

func runListen(cmd *cobra.Command, _ []string) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	id, err := a.requireIdentity()
	if err != nil {
		return err
	}
	unsubscribe := a.session.Subscribe(func(cur *model.Identity) {
		if cur == nil {
			cancel()
		}
	})
	defer unsubscribe()

	var con *console
	if !listenQuiet {
		con = &console{w: cmd.OutOrStdout(), selfID: id.UserID}
	}

	r := a.reconciler()
	if con != nil {
		r.AddObserver(conversation.ObserverFunc(func(ev conversation.Event) {
			if ev.Type == conversation.EventNotice {
				con.OnEvent(ev)
			}
		}))
	}
	if cfg.NATSURL != "" {
		natsCfg := messaging.DefaultNATSConfig()
		natsCfg.URL = cfg.NATSURL
		nc, err := messaging.NewNATSClient(natsCfg)
		if err != nil {
			return err
		}
		defer nc.Close()
		r.AddObserver(messaging.NewPublisher(nc, id.UserID))
	}

	// Contacts and history are best effort; pushes still arrive without them.
	_ = r.LoadContacts(ctx)
	if listenContact != "" {
		err := r.SelectDeepLink(ctx, listenContact)
		if apperr.Is(err, apperr.CodeInvalidArgument) {
			return err
		}
	}

	m, err := a.channel(id, r)
	if err != nil {
		return err
	}
	if con != nil {
		m.OnConnectionChange(con.connection)
		m.OnMessage(func(msg model.Message) {
			con.do(func(w io.Writer) { printMessage(w, msg, id.UserID) })
		})
	}
	defer m.Close()

	return m.Run(ctx)
}

func senderLabel(m model.Message) string {
	if m.SenderName != "" {
		return m.SenderName
	}
	return m.SenderID
}

func contactLabel(c model.Contact) string {
	if c.Name == "" {
		return c.ID
	}
	return fmt.Sprintf("%s (%s)", c.Name, c.ID)
}
