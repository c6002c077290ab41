// Package model defines the records exchanged with the marketplace messaging
// API and held in memory by the session and conversation packages.
package model

import "time"

// Identity is the decoded view of the current user's bearer token. It is
// derived once per token value and replaced wholesale on re-login.
type Identity struct {
	UserID string `json:"user_id" yaml:"user_id"`
	Role   string `json:"role" yaml:"role"`
	Email  string `json:"email" yaml:"email"`
	Token  string `json:"-" yaml:"-"`
}

// Contact is the counterparty of a 1:1 conversation plus the summary fields
// shown in the contact list.
type Contact struct {
	ID              string    `json:"id" yaml:"id"`
	Name            string    `json:"name" yaml:"name"`
	Email           string    `json:"email" yaml:"email"`
	Image           string    `json:"image,omitempty" yaml:"image,omitempty"`
	LastMessage     string    `json:"lastMessage,omitempty" yaml:"last_message,omitempty"`
	LastMessageTime time.Time `json:"lastMessageTime,omitempty" yaml:"last_message_time,omitempty"`
	Unread          bool      `json:"unread" yaml:"unread"`
}

// Message is a single chat message. Messages are immutable once created.
type Message struct {
	ID         string    `json:"id" yaml:"id"`
	SenderID   string    `json:"sender_id" yaml:"sender_id"`
	SenderName string    `json:"senderName" yaml:"sender_name"`
	SenderRole string    `json:"senderRole" yaml:"sender_role"`
	Content    string    `json:"content" yaml:"content"`
	Timestamp  time.Time `json:"timestamp" yaml:"timestamp"`
	Read       bool      `json:"read" yaml:"read"`
	Seq        int64     `json:"seq,omitempty" yaml:"seq,omitempty"` // server-issued ordering key, 0 if absent
}

// Profile is the canonical counterparty data returned when a conversation is
// initiated.
type Profile struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Image string `json:"image,omitempty"`
}

// Stats is the dashboard summary returned by the stats endpoint.
type Stats struct {
	UnreadMessages int `json:"unread_messages" yaml:"unread_messages"`
}
