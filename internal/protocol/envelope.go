// Package protocol defines the JSON envelope exchanged over the websocket and
// the closed vocabulary of envelope types.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/and161185/grouptalk/internal/errs"
)

// Type names an envelope kind.
type Type string

// Envelope types. The set is closed; anything else is answered with TypeError.
const (
	TypeLogin         Type = "LOGIN"
	TypeLoginSuccess  Type = "LOGIN_SUCCESS"
	TypeLoginFailed   Type = "LOGIN_FAILED"
	TypeRegister      Type = "REGISTER"
	TypeRegisterOK    Type = "REGISTER_SUCCESS"
	TypeRegisterFail  Type = "REGISTER_FAILED"
	TypeLogout        Type = "LOGOUT"
	TypeCreateGroup   Type = "CREATE_GROUP"
	TypeCreateOK      Type = "CREATE_GROUP_SUCCESS"
	TypeCreateFail    Type = "CREATE_GROUP_FAILED"
	TypeDeleteGroup   Type = "DELETE_GROUP"
	TypeDeleteOK      Type = "DELETE_GROUP_SUCCESS"
	TypeDeleteFail    Type = "DELETE_GROUP_FAILED"
	TypeJoinGroup     Type = "JOIN_GROUP"
	TypeJoinOK        Type = "JOIN_GROUP_SUCCESS"
	TypeJoinFail      Type = "JOIN_GROUP_FAILED"
	TypeLeaveGroup    Type = "LEAVE_GROUP"
	TypeLeaveOK       Type = "LEAVE_GROUP_SUCCESS"
	TypeLeaveFail     Type = "LEAVE_GROUP_FAILED"
	TypeListGroups    Type = "LIST_GROUPS"
	TypeChatMessage   Type = "CHAT_MESSAGE"
	TypeBroadcast     Type = "BROADCAST_MESSAGE"
	TypeUserJoin      Type = "USER_JOIN"
	TypeUserLeave     Type = "USER_LEAVE"
	TypeOnlineUsers   Type = "ONLINE_USERS"
	TypeGroupInfo     Type = "GROUP_INFO"
	TypeGetHistory    Type = "GET_HISTORY"
	TypeGetRecent     Type = "GET_RECENT_MESSAGES"
	TypeHistory       Type = "HISTORY_RESPONSE"
	TypeError         Type = "ERROR"
	TypeSuccess       Type = "SUCCESS"
	TypeHeartbeat     Type = "HEARTBEAT"
)

var known = map[Type]struct{}{
	TypeLogin: {}, TypeLoginSuccess: {}, TypeLoginFailed: {},
	TypeRegister: {}, TypeRegisterOK: {}, TypeRegisterFail: {},
	TypeLogout:      {},
	TypeCreateGroup: {}, TypeCreateOK: {}, TypeCreateFail: {},
	TypeDeleteGroup: {}, TypeDeleteOK: {}, TypeDeleteFail: {},
	TypeJoinGroup: {}, TypeJoinOK: {}, TypeJoinFail: {},
	TypeLeaveGroup: {}, TypeLeaveOK: {}, TypeLeaveFail: {},
	TypeListGroups: {}, TypeChatMessage: {}, TypeBroadcast: {},
	TypeUserJoin: {}, TypeUserLeave: {}, TypeOnlineUsers: {}, TypeGroupInfo: {},
	TypeGetHistory: {}, TypeGetRecent: {}, TypeHistory: {},
	TypeError: {}, TypeSuccess: {}, TypeHeartbeat: {},
}

// Known reports whether t belongs to the protocol vocabulary.
func (t Type) Known() bool {
	_, ok := known[t]
	return ok
}

// Envelope is one protocol frame. Timestamp is unix milliseconds set by the sender.
type Envelope struct {
	Type             Type            `json:"type"`
	FromUserID       string          `json:"fromUserId,omitempty"`
	FromUserNickname string          `json:"fromUserNickname,omitempty"`
	ToGroupID        string          `json:"toGroupId,omitempty"`
	Content          string          `json:"content,omitempty"`
	Data             json.RawMessage `json:"data,omitempty"`
	Timestamp        int64           `json:"timestamp"`
}

// New builds a server envelope stamped with the current time.
func New(t Type, content string) Envelope {
	return Envelope{Type: t, Content: content, Timestamp: time.Now().UnixMilli()}
}

// WithData returns a copy of e carrying v encoded as data.
func (e Envelope) WithData(v any) (Envelope, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return e, fmt.Errorf("encode data: %w", err)
	}
	e.Data = raw
	return e, nil
}

// WithGroup returns a copy of e addressed to group id.
func (e Envelope) WithGroup(id string) Envelope {
	e.ToGroupID = id
	return e
}

// WithSender returns a copy of e carrying sender identity.
func (e Envelope) WithSender(id, nickname string) Envelope {
	e.FromUserID = id
	e.FromUserNickname = nickname
	return e
}

// Encode serializes an envelope for a text frame.
func Encode(e Envelope) ([]byte, error) {
	if e.Timestamp == 0 {
		e.Timestamp = time.Now().UnixMilli()
	}
	return json.Marshal(e)
}

// Decode parses a text frame. A frame that is not a JSON object or has no type
// is reported as errs.ErrInvalidInput.
func Decode(raw []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(raw, &e); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", errs.ErrInvalidInput, err)
	}
	if e.Type == "" {
		return Envelope{}, fmt.Errorf("%w: missing type", errs.ErrInvalidInput)
	}
	return e, nil
}
