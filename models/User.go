package models

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const DefaultProfilePicture = "/default-avatar.png"

type User struct {
	gorm.Model
	Email          string `json:"email" gorm:"uniqueIndex;not null"`
	Password       string `json:"-"`
	GoogleID       string `json:"-" gorm:"index"` // set when the account is linked to Google SSO
	Username       string `json:"username" gorm:"not null"`
	ProfilePicture string `json:"profilePicture"`
	IsOnline       bool   `json:"isOnline" gorm:"index"`
	// LastSeen is only written on disconnect; the presence tracker owns both
	// presence fields.
	LastSeen         *time.Time     `json:"lastSeen,omitempty"`
	PushSubscription datatypes.JSON `json:"-"`
	Channels         []Channel      `json:"joinedChannels,omitempty" gorm:"many2many:channel_members;"`
}
