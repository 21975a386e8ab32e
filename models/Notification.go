package models

import (
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	NotificationTypeMessage        = "message"
	NotificationTypeMention        = "mention"
	NotificationTypeChannelInvite  = "channel_invite"
	NotificationTypePrivateMessage = "private_message"
)

// Notification is created as a side effect of message delivery. Rows are
// never mutated individually, only bulk-marked read.
type Notification struct {
	gorm.Model
	UserID uint           `json:"userID" gorm:"not null;index"`
	Type   string         `json:"type" gorm:"size:32;not null"`
	Title  string         `json:"title" gorm:"not null"`
	Body   string         `json:"body" gorm:"not null"`
	Data   datatypes.JSON `json:"data"`
	Read   bool           `json:"read" gorm:"index"`
}
