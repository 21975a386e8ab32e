package realtime

import (
	"encoding/json"
	"fmt"
	"time"
)

// Server-to-client events.
const (
	EventNewMessage         = "newMessage"
	EventNewChannel         = "newChannel"
	EventPrivateMessage     = "privateMessage"
	EventThreadReply        = "threadReply"
	EventPrivateThreadReply = "privateThreadReply"
	EventUserStatusUpdate   = "userStatusUpdate"
	EventUserTyping         = "userTyping"
	EventUserPrivateTyping  = "userPrivateTyping"
	EventReactionAdded      = "reactionAdded"
)

// Client-to-server events.
const (
	ActionJoinChannel   = "joinChannel"
	ActionJoinChannels  = "joinChannels"
	ActionTyping        = "typing"
	ActionPrivateTyping = "privateTyping"
	ActionAddReaction   = "addReaction"
	ActionSubscribePush = "subscribePush"
)

// Envelope is the wire frame in both directions: an event name plus its
// JSON payload.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// PresenceRoom is joined by every authenticated connection, so a status
// change reaches all clients without a true global broadcast.
const PresenceRoom = "presence"

func ChannelRoom(channelID uint) string { return fmt.Sprintf("channel-%d", channelID) }
func UserRoom(userID uint) string       { return fmt.Sprintf("user-%d", userID) }

// Emitter is what the message pipeline and reaction service fan out through.
// The in-process hub is the only implementation; a cross-process broker
// could slot in behind the same interface.
type Emitter interface {
	EmitToRoom(room string, event string, data interface{})
	EmitToUser(userID uint, event string, data interface{})
}

type StatusUpdate struct {
	UserID   uint       `json:"userId"`
	IsOnline bool       `json:"isOnline"`
	LastSeen *time.Time `json:"lastSeen,omitempty"`
}

type TypingUpdate struct {
	UserID    uint   `json:"userId"`
	Username  string `json:"username"`
	ChannelID uint   `json:"channelId,omitempty"`
	IsTyping  bool   `json:"isTyping"`
}

type ReactionUpdate struct {
	MessageID uint   `json:"messageId"`
	Emoji     string `json:"emoji"`
	UserID    uint   `json:"userId"`
}
