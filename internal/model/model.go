// Package model defines domain entities used by services and repositories.
package model

import (
	"time"

	"github.com/gofrs/uuid/v5"
)

// MessageKind classifies a stored message.
type MessageKind string

// Message kinds.
const (
	KindText   MessageKind = "TEXT"
	KindSystem MessageKind = "SYSTEM"
	KindJoin   MessageKind = "JOIN"
	KindLeave  MessageKind = "LEAVE"
)

// Account is a registered user. Password material never leaves the server.
type Account struct {
	ID          int64      `json:"-"`           // surrogate PK
	ExternalID  uuid.UUID  `json:"id"`          // stable public id
	DisplayName string     `json:"displayName"` // unique
	PwdHash     []byte     `json:"-"`           // Argon2id(password, Salt)
	Salt        []byte     `json:"-"`
	CreatedAt   time.Time  `json:"createdAt"`
	LastLogin   *time.Time `json:"lastLogin,omitempty"`
}

// Group is a named chat room. An empty PwdHash means no password.
type Group struct {
	ID         int64       `json:"-"`
	ExternalID uuid.UUID   `json:"id"`
	Name       string      `json:"name"`
	PwdHash    []byte      `json:"-"`
	Salt       []byte      `json:"-"`
	OwnerID    uuid.UUID   `json:"ownerId"`
	CreatedAt  time.Time   `json:"createdAt"`
	Members    []uuid.UUID `json:"members,omitempty"`
}

// HasPassword reports whether joining the group requires a password.
func (g *Group) HasPassword() bool { return len(g.PwdHash) != 0 }

// Message is an immutable chat or system message. SenderID is nil for system
// messages and for senders whose account has been removed.
type Message struct {
	ID         int64       `json:"-"`
	ExternalID uuid.UUID   `json:"id"`
	GroupID    uuid.UUID   `json:"groupId"`
	SenderID   *uuid.UUID  `json:"senderId,omitempty"`
	SenderName string      `json:"senderName"`
	Content    string      `json:"content"`
	Kind       MessageKind `json:"kind"`
	CreatedAt  time.Time   `json:"createdAt"`
}
