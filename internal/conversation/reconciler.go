// Package conversation merges the REST contact list, REST message history
// and realtime pushes into one consistent view: an ordered contact list, the
// selected contact and that contact's message sequence.
package conversation

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/homefix/messenger/internal/api"
	"github.com/homefix/messenger/internal/apperr"
	"github.com/homefix/messenger/internal/logger"
	"github.com/homefix/messenger/internal/metrics"
	"github.com/homefix/messenger/internal/model"
)

// GreetingSummary is the summary shown for a freshly initiated conversation.
const GreetingSummary = "Start a conversation"

// Backend is the part of the REST client the reconciler calls.
type Backend interface {
	Contacts(ctx context.Context, creds api.Credentials) ([]model.Contact, error)
	Conversation(ctx context.Context, creds api.Credentials, contactID string) ([]model.Message, error)
	Initiate(ctx context.Context, creds api.Credentials, providerID string) (*model.Profile, error)
	Send(ctx context.Context, creds api.Credentials, receiverID, content string) (*model.Message, error)
}

// View is a copy of the reconciled state.
type View struct {
	Contacts []model.Contact `json:"contacts" yaml:"contacts"`
	Selected string          `json:"selected" yaml:"selected"`
	Messages []model.Message `json:"messages" yaml:"messages"`
	ScrollTo string          `json:"scroll_to,omitempty" yaml:"scroll_to,omitempty"`
}

// Option customises a Reconciler.
type Option func(*Reconciler)

// WithObserver registers o for view events.
func WithObserver(o Observer) Option {
	return func(r *Reconciler) { r.observers = append(r.observers, o) }
}

// WithClock replaces time.Now for synthesised timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) { r.now = now }
}

// Reconciler owns the conversation view. All methods are safe for
// concurrent use; REST calls are made without holding the lock.
type Reconciler struct {
	backend Backend
	creds   func() api.Credentials
	now     func() time.Time
	log     *zap.SugaredLogger

	obsMu     sync.Mutex
	observers []Observer

	mu       sync.Mutex
	contacts []model.Contact
	selected string
	messages []model.Message
	seen     map[string]struct{} // ids in messages
	scrollTo string
	gen      uint64          // latest history fetch issued
	fetching bool            // gen's response has not landed yet
	pending  []model.Message // merged while fetching
}

// New creates an empty Reconciler. creds is consulted on every REST call so
// the view always uses the session's current credentials.
func New(backend Backend, creds func() api.Credentials, opts ...Option) *Reconciler {
	r := &Reconciler{
		backend: backend,
		creds:   creds,
		now:     time.Now,
		log:     logger.Named("conversation"),
		seen:    make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// AddObserver registers o for view events.
func (r *Reconciler) AddObserver(o Observer) {
	r.obsMu.Lock()
	r.observers = append(r.observers, o)
	r.obsMu.Unlock()
}

// Snapshot returns a copy of the current view.
func (r *Reconciler) Snapshot() View {
	r.mu.Lock()
	defer r.mu.Unlock()
	return View{
		Contacts: append([]model.Contact{}, r.contacts...),
		Selected: r.selected,
		Messages: append([]model.Message{}, r.messages...),
		ScrollTo: r.scrollTo,
	}
}

// ---------------------------------------------------------------------------
// Contacts
// ---------------------------------------------------------------------------

// LoadContacts fetches the contact list and makes it the baseline,
// deduplicated by id with the first occurrence kept. Contacts initiated
// locally and not yet known to the server stay at the front. On failure a
// notice is raised and the list is left unchanged.
func (r *Reconciler) LoadContacts(ctx context.Context) error {
	list, err := r.backend.Contacts(ctx, r.creds())
	if err != nil {
		r.notice("load_contacts", err)
		return err
	}
	fetched := dedupeContacts(list)

	r.mu.Lock()
	known := make(map[string]struct{}, len(fetched))
	for _, c := range fetched {
		known[c.ID] = struct{}{}
	}
	var local []model.Contact
	for _, c := range r.contacts {
		if _, ok := known[c.ID]; !ok {
			local = append(local, c)
		}
	}
	merged := append(local, fetched...)
	if i := indexOf(merged, r.selected); i >= 0 {
		merged[i].Unread = false
	}
	r.contacts = merged
	ev := r.contactsEventLocked()
	r.mu.Unlock()

	r.log.Debugw("contacts loaded", "fetched", len(list), "kept", len(merged))
	r.emit(ev)
	return nil
}

// InitializeConversation opens a conversation with counterpartyID and
// inserts a synthesised contact at the front of the list. If the id is
// already present the existing entry is kept and returned.
func (r *Reconciler) InitializeConversation(ctx context.Context, counterpartyID string) (model.Contact, error) {
	if counterpartyID == "" {
		return model.Contact{}, apperr.InvalidArg("conversation: initiate: empty counterparty id")
	}
	profile, err := r.backend.Initiate(ctx, r.creds(), counterpartyID)
	if err != nil {
		r.notice("initiate", err)
		return model.Contact{}, err
	}

	c := model.Contact{
		ID:              profile.ID,
		Name:            profile.Name,
		Email:           profile.Email,
		Image:           profile.Image,
		LastMessage:     GreetingSummary,
		LastMessageTime: r.now(),
	}
	if c.ID == "" {
		c.ID = counterpartyID
	}

	r.mu.Lock()
	if i := indexOf(r.contacts, c.ID); i >= 0 {
		existing := r.contacts[i]
		r.mu.Unlock()
		return existing, nil
	}
	r.contacts = append([]model.Contact{c}, r.contacts...)
	ev := r.contactsEventLocked()
	r.mu.Unlock()

	r.log.Infow("conversation initiated", "contact_id", c.ID)
	r.emit(ev)
	return c, nil
}

// ---------------------------------------------------------------------------
// Selection and history
// ---------------------------------------------------------------------------

// Select makes contactID the active conversation, initiating it first when
// it is not in the list. It clears the contact's unread flag, empties the
// sequence and fetches the history exactly once.
func (r *Reconciler) Select(ctx context.Context, contactID string) error {
	if contactID == "" {
		return apperr.InvalidArg("conversation: select: empty contact id")
	}

	r.mu.Lock()
	exists := indexOf(r.contacts, contactID) >= 0
	r.mu.Unlock()
	if !exists {
		c, err := r.InitializeConversation(ctx, contactID)
		if err != nil {
			return err
		}
		contactID = c.ID
	}

	r.mu.Lock()
	r.selected = contactID
	if i := indexOf(r.contacts, contactID); i >= 0 {
		r.contacts[i].Unread = false
	}
	r.messages = nil
	r.seen = make(map[string]struct{})
	r.scrollTo = ""
	gen := r.bumpLocked()
	events := []Event{
		r.contactsEventLocked(),
		{Type: EventMessagesReplaced, ContactID: contactID, Messages: []model.Message{}},
	}
	r.mu.Unlock()

	r.emit(events...)
	return r.loadMessages(ctx, contactID, gen)
}

// SelectDeepLink selects the contact named by raw, which is either a bare
// contact id or a URL carrying a contact= or provider= query parameter.
func (r *Reconciler) SelectDeepLink(ctx context.Context, raw string) error {
	id, err := ParseDeepLink(raw)
	if err != nil {
		return err
	}
	return r.Select(ctx, id)
}

// ParseDeepLink extracts the contact id from a deep link.
func ParseDeepLink(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", apperr.InvalidArg("conversation: deep link: empty")
	}
	if !strings.ContainsAny(raw, "?/=") {
		return raw, nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", apperr.InvalidArg(fmt.Sprintf("conversation: deep link: %v", err))
	}
	q := u.Query()
	if !strings.Contains(raw, "?") {
		// "contact=p1" without a path.
		if q, err = url.ParseQuery(raw); err != nil {
			return "", apperr.InvalidArg(fmt.Sprintf("conversation: deep link: %v", err))
		}
	}
	for _, key := range []string{"contact", "provider"} {
		if v := strings.TrimSpace(q.Get(key)); v != "" {
			return v, nil
		}
	}
	return "", apperr.InvalidArg("conversation: deep link: no contact parameter")
}

// LoadMessages refetches the history of the selected contact.
func (r *Reconciler) LoadMessages(ctx context.Context) error {
	r.mu.Lock()
	id := r.selected
	if id == "" {
		r.mu.Unlock()
		return apperr.FailedPrecondition("conversation: load messages: no contact selected")
	}
	gen := r.bumpLocked()
	r.mu.Unlock()
	return r.loadMessages(ctx, id, gen)
}

// loadMessages fetches the history of contactID tagged with gen. A response
// whose generation is no longer the latest is dropped.
func (r *Reconciler) loadMessages(ctx context.Context, contactID string, gen uint64) error {
	history, err := r.backend.Conversation(ctx, r.creds(), contactID)

	r.mu.Lock()
	if gen != r.gen {
		r.mu.Unlock()
		r.log.Debugw("stale history response dropped", "contact_id", contactID, "gen", gen)
		return nil
	}
	r.fetching = false
	if err != nil {
		r.pending = nil
		r.mu.Unlock()
		r.notice("load_messages", err)
		return err
	}

	// Messages merged while the fetch was in flight survive the replace.
	pending := r.pending
	r.pending = nil
	r.messages = make([]model.Message, 0, len(history)+len(pending))
	r.seen = make(map[string]struct{}, len(history)+len(pending))
	for _, m := range history {
		if m.ID != "" {
			if _, dup := r.seen[m.ID]; dup {
				continue
			}
			r.seen[m.ID] = struct{}{}
		}
		r.messages = append(r.messages, m)
	}
	for _, m := range pending {
		r.insertLocked(m)
	}
	events := []Event{{
		Type:      EventMessagesReplaced,
		ContactID: contactID,
		Messages:  append([]model.Message{}, r.messages...),
	}}
	if ev, ok := r.scrollLocked(); ok {
		events = append(events, ev)
	}
	r.mu.Unlock()

	r.log.Debugw("history loaded", "contact_id", contactID, "messages", len(history))
	r.emit(events...)
	return nil
}

// ---------------------------------------------------------------------------
// Realtime and send
// ---------------------------------------------------------------------------

// Receive merges a pushed message. It is appended only when its sender is
// the selected contact. The sender's contact summary is updated and marked
// unread unless selected. A sender missing from the list changes nothing
// in the list.
func (r *Reconciler) Receive(msg model.Message) {
	r.mu.Lock()
	var events []Event
	if r.selected != "" && msg.SenderID == r.selected && r.mergeLocked(msg) {
		metrics.MessagesTotal.WithLabelValues("received").Inc()
		m := msg
		events = append(events, Event{Type: EventMessageAppended, ContactID: r.selected, Message: &m})
		if ev, ok := r.scrollLocked(); ok {
			events = append(events, ev)
		}
	}
	if r.summarizeLocked(msg.SenderID, msg, msg.SenderID != r.selected) {
		events = append(events, r.contactsEventLocked())
	}
	r.mu.Unlock()

	r.emit(events...)
}

// Send validates content and posts it to the selected contact. The
// server's canonical message is appended only after the call succeeds.
func (r *Reconciler) Send(ctx context.Context, content string) (model.Message, error) {
	text, err := ValidateContent(content)
	if err != nil {
		return model.Message{}, err
	}

	r.mu.Lock()
	to := r.selected
	r.mu.Unlock()
	if to == "" {
		return model.Message{}, apperr.FailedPrecondition("conversation: send: no contact selected")
	}

	msg, err := r.backend.Send(ctx, r.creds(), to, text)
	if err != nil {
		r.notice("send", err)
		return model.Message{}, err
	}
	metrics.MessagesTotal.WithLabelValues("sent").Inc()

	r.mu.Lock()
	var events []Event
	if r.selected == to && r.mergeLocked(*msg) {
		m := *msg
		events = append(events, Event{Type: EventMessageAppended, ContactID: to, Message: &m})
		if ev, ok := r.scrollLocked(); ok {
			events = append(events, ev)
		}
	}
	if r.summarizeLocked(to, *msg, false) {
		events = append(events, r.contactsEventLocked())
	}
	r.mu.Unlock()

	r.emit(events...)
	return *msg, nil
}

// ---------------------------------------------------------------------------
// Internals (r.mu held unless noted)
// ---------------------------------------------------------------------------

// bumpLocked issues a new history generation and forgets messages merged
// under the previous one.
func (r *Reconciler) bumpLocked() uint64 {
	r.gen++
	r.fetching = true
	r.pending = nil
	return r.gen
}

// mergeLocked inserts a pushed or sent message. While a history fetch is
// in flight the message is also kept for re-insertion after the replace.
func (r *Reconciler) mergeLocked(m model.Message) bool {
	if !r.insertLocked(m) {
		return false
	}
	if r.fetching {
		r.pending = append(r.pending, m)
	}
	return true
}

// insertLocked places m by its ordering key and reports whether it was
// added. Messages whose id is already present are ignored.
func (r *Reconciler) insertLocked(m model.Message) bool {
	if m.ID != "" {
		if _, dup := r.seen[m.ID]; dup {
			return false
		}
		r.seen[m.ID] = struct{}{}
	}
	i := len(r.messages)
	for i > 0 && orderedBefore(m, r.messages[i-1]) {
		i--
	}
	r.messages = append(r.messages, model.Message{})
	copy(r.messages[i+1:], r.messages[i:])
	r.messages[i] = m
	return true
}

// orderedBefore reports whether a sorts strictly before b. Sequence numbers
// win when both carry one; timestamps are the fallback. Messages without
// comparable keys keep arrival order.
func orderedBefore(a, b model.Message) bool {
	if a.Seq > 0 && b.Seq > 0 {
		return a.Seq < b.Seq
	}
	if !a.Timestamp.IsZero() && !b.Timestamp.IsZero() {
		return a.Timestamp.Before(b.Timestamp)
	}
	return false
}

// summarizeLocked updates the summary of contactID from msg and reports
// whether a contact was changed.
func (r *Reconciler) summarizeLocked(contactID string, msg model.Message, markUnread bool) bool {
	i := indexOf(r.contacts, contactID)
	if i < 0 {
		return false
	}
	c := &r.contacts[i]
	c.LastMessage = msg.Content
	c.LastMessageTime = msg.Timestamp
	if c.LastMessageTime.IsZero() {
		c.LastMessageTime = r.now()
	}
	if markUnread {
		c.Unread = true
	}
	return true
}

func (r *Reconciler) scrollLocked() (Event, bool) {
	if len(r.messages) == 0 {
		return Event{}, false
	}
	r.scrollTo = r.messages[len(r.messages)-1].ID
	return Event{Type: EventScroll, ContactID: r.selected, ScrollTo: r.scrollTo}, true
}

func (r *Reconciler) contactsEventLocked() Event {
	return Event{
		Type:      EventContactsChanged,
		ContactID: r.selected,
		Contacts:  append([]model.Contact{}, r.contacts...),
	}
}

// notice reports a failed operation. Called without r.mu.
func (r *Reconciler) notice(op string, err error) {
	metrics.Notices.WithLabelValues(op).Inc()
	r.log.Warnw("operation failed", "op", op, "code", apperr.CodeOf(err), "err", err)

	r.mu.Lock()
	selected := r.selected
	r.mu.Unlock()
	r.emit(Event{
		Type:      EventNotice,
		ContactID: selected,
		Notice:    &Notice{Op: op, Err: err, At: r.now()},
	})
}

// emit delivers events to every observer. Called without r.mu.
func (r *Reconciler) emit(events ...Event) {
	if len(events) == 0 {
		return
	}
	r.obsMu.Lock()
	observers := append([]Observer(nil), r.observers...)
	r.obsMu.Unlock()
	for _, ev := range events {
		for _, o := range observers {
			o.OnEvent(ev)
		}
	}
}

func indexOf(contacts []model.Contact, id string) int {
	if id == "" {
		return -1
	}
	for i := range contacts {
		if contacts[i].ID == id {
			return i
		}
	}
	return -1
}

func dedupeContacts(list []model.Contact) []model.Contact {
	seen := make(map[string]struct{}, len(list))
	out := make([]model.Contact, 0, len(list))
	for _, c := range list {
		if _, dup := seen[c.ID]; dup {
			continue
		}
		seen[c.ID] = struct{}{}
		out = append(out, c)
	}
	return out
}
