package messaging

import (
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/homefix/messenger/internal/apperr"
	"github.com/homefix/messenger/internal/conversation"
	"github.com/homefix/messenger/internal/logger"
	"github.com/homefix/messenger/internal/model"
)

// MessageEvent is published to messenger.<user_id>.messages whenever a
// message joins the selected conversation.
type MessageEvent struct {
	UserID    string        `json:"user_id"`
	ContactID string        `json:"contact_id"`
	Message   model.Message `json:"message"`
}

// ContactsEvent is published to messenger.<user_id>.contacts with the full
// contact list after every change.
type ContactsEvent struct {
	UserID   string          `json:"user_id"`
	Contacts []model.Contact `json:"contacts"`
}

// NoticeEvent is published to messenger.<user_id>.notices for every failed
// operation.
type NoticeEvent struct {
	UserID string    `json:"user_id"`
	Op     string    `json:"op"`
	Code   string    `json:"code"`
	Error  string    `json:"error"`
	At     time.Time `json:"at"`
}

// Sink is where encoded events go. *NATSClient satisfies it.
type Sink interface {
	Publish(subject string, data []byte) error
}

// Publisher relays conversation events for one user to a Sink. It
// implements conversation.Observer.
type Publisher struct {
	sink   Sink
	userID string
	log    *zap.SugaredLogger
}

// NewPublisher creates a Publisher for userID's events.
func NewPublisher(sink Sink, userID string) *Publisher {
	return &Publisher{
		sink:   sink,
		userID: userID,
		log:    logger.Named("messaging").With("user_id", userID),
	}
}

// OnEvent publishes ev. Events with no external meaning (replaces, scrolls)
// are skipped. Publish failures are logged and never reach the caller.
func (p *Publisher) OnEvent(ev conversation.Event) {
	subject, data, err := p.encode(ev)
	if err != nil {
		p.log.Warnw("encode event", "type", ev.Type, "err", err)
		return
	}
	if subject == "" {
		return
	}
	if err := p.sink.Publish(subject, data); err != nil {
		p.log.Warnw("publish event", "subject", subject, "err", err)
	}
}

func (p *Publisher) encode(ev conversation.Event) (string, []byte, error) {
	var (
		kind    string
		payload interface{}
	)
	switch ev.Type {
	case conversation.EventMessageAppended:
		if ev.Message == nil {
			return "", nil, fmt.Errorf("messaging: %s without message", ev.Type)
		}
		kind = KindMessages
		payload = MessageEvent{UserID: p.userID, ContactID: ev.ContactID, Message: *ev.Message}
	case conversation.EventContactsChanged:
		kind = KindContacts
		payload = ContactsEvent{UserID: p.userID, Contacts: ev.Contacts}
	case conversation.EventNotice:
		if ev.Notice == nil {
			return "", nil, fmt.Errorf("messaging: %s without notice", ev.Type)
		}
		n := NoticeEvent{UserID: p.userID, Op: ev.Notice.Op, At: ev.Notice.At}
		if ev.Notice.Err != nil {
			n.Code = string(apperr.CodeOf(ev.Notice.Err))
			n.Error = ev.Notice.Err.Error()
		}
		kind = KindNotices
		payload = n
	default:
		return "", nil, nil
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return "", nil, fmt.Errorf("messaging: marshal %s: %w", kind, err)
	}
	return Subject(p.userID, kind), data, nil
}

var _ conversation.Observer = (*Publisher)(nil)
