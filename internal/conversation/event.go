package conversation

import (
	"time"

	"github.com/homefix/messenger/internal/model"
)

// EventType names a change to the conversation view.
type EventType string

const (
	EventContactsChanged  EventType = "contacts_changed"  // Contacts holds the full list
	EventMessagesReplaced EventType = "messages_replaced" // Messages holds the full sequence
	EventMessageAppended  EventType = "message_appended"  // Message holds the new entry
	EventScroll           EventType = "scroll"            // ScrollTo holds the newest message id
	EventNotice           EventType = "notice"            // Notice holds the failure
)

// Event is delivered to observers after every view change. Only the fields
// relevant to Type are set.
type Event struct {
	Type      EventType
	ContactID string // selected contact at the time of the event
	Contacts  []model.Contact
	Messages  []model.Message
	Message   *model.Message
	ScrollTo  string
	Notice    *Notice
}

// Notice is a transient, user-visible failure report. The view state is
// left as it was before the failed operation.
type Notice struct {
	Op  string // "load_contacts", "load_messages", "initiate", "send"
	Err error
	At  time.Time
}

// Observer receives view events. Calls are made outside the reconciler's
// lock, in the order changes were applied by a single goroutine.
type Observer interface {
	OnEvent(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

func (f ObserverFunc) OnEvent(e Event) { f(e) }
