package models

import (
	"encoding/json"
	"sort"
	"time"

	"gorm.io/gorm"
)

// Message kinds. The kind is inferred from the request body: an uploaded
// file yields image/file, otherwise text.
const (
	MessageTypeText  = "text"
	MessageTypeImage = "image"
	MessageTypeFile  = "file"
)

// Message belongs to exactly one of a channel or a private (sender, receiver)
// pair, never both. A non-nil ParentMessageID marks a thread reply; the
// reply counters live on the parent only.
type Message struct {
	gorm.Model
	ChannelID  *uint `json:"channel,omitempty" gorm:"index"`
	SenderID   uint  `json:"senderID" gorm:"not null;index"`
	Sender     User  `json:"sender" gorm:"foreignKey:SenderID"`
	ReceiverID *uint `json:"receiverID,omitempty" gorm:"index"`
	Receiver   *User `json:"receiver,omitempty" gorm:"foreignKey:ReceiverID"`

	Content  string `json:"content" gorm:"type:text"`
	Type     string `json:"type" gorm:"size:16"` // text | image | file
	FileURL  string `json:"fileUrl,omitempty" gorm:"size:512"`
	FileName string `json:"fileName,omitempty" gorm:"size:256"`

	IsPrivate bool `json:"isPrivate" gorm:"index"`
	Read      bool `json:"read"` // private messages only

	ParentMessageID *uint      `json:"parentMessage,omitempty" gorm:"index"`
	ThreadReplies   int        `json:"threadReplies"`
	LastReplyAt     *time.Time `json:"lastReplyAt,omitempty"`

	Reactions []MessageReaction `json:"-" gorm:"foreignKey:MessageID"`
}

// MessageReaction stores one user's reaction with one emoji. The composite
// unique index makes the add a conflict-free insert, so two racing adds of
// the same (message, emoji, user) cannot duplicate.
type MessageReaction struct {
	ID        uint   `gorm:"primaryKey"`
	MessageID uint   `gorm:"not null;uniqueIndex:idx_reaction_message_emoji_user"`
	Emoji     string `gorm:"size:32;not null;uniqueIndex:idx_reaction_message_emoji_user"`
	UserID    uint   `gorm:"not null;uniqueIndex:idx_reaction_message_emoji_user"`
}

// ReactionGroup is the wire shape of reactions: one emoji with the set of
// users who reacted with it.
type ReactionGroup struct {
	Emoji string `json:"emoji"`
	Users []uint `json:"users"`
}

// GroupedReactions folds reaction rows into per-emoji user sets, ordered by
// emoji for stable output.
func (m *Message) GroupedReactions() []ReactionGroup {
	byEmoji := map[string][]uint{}
	for _, r := range m.Reactions {
		byEmoji[r.Emoji] = append(byEmoji[r.Emoji], r.UserID)
	}
	groups := make([]ReactionGroup, 0, len(byEmoji))
	for emoji, users := range byEmoji {
		groups = append(groups, ReactionGroup{Emoji: emoji, Users: users})
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].Emoji < groups[j].Emoji })
	return groups
}

// Custom JSON marshaling so reaction rows render as emoji -> users groups
func (m *Message) MarshalJSON() ([]byte, error) {
	type Alias Message
	return json.Marshal(&struct {
		Reactions []ReactionGroup `json:"reactions"`
		*Alias
	}{
		Reactions: m.GroupedReactions(),
		Alias:     (*Alias)(m),
	})
}
