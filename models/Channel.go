package models

import "gorm.io/gorm"

type Channel struct {
	gorm.Model
	Name        string `json:"name" gorm:"not null"`
	Description string `json:"description"`
	CreatorID   uint   `json:"creator" gorm:"not null;index"`
	Members     []User `json:"members,omitempty" gorm:"many2many:channel_members;"`
	IsPrivate   bool   `json:"isPrivate"`
}

// ChannelMember is the join row behind the many2many association. The
// composite primary key makes membership inserts conflict-free: re-joining
// an already joined channel is a no-op.
type ChannelMember struct {
	ChannelID uint `gorm:"primaryKey"`
	UserID    uint `gorm:"primaryKey"`
}
