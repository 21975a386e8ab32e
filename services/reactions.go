package services

import (
	"fmt"

	"github.com/patry77/techniki-czatt/models"
	"github.com/patry77/techniki-czatt/realtime"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ReactionService attaches emoji reactions to messages. Adding behaves as a
// set union: a (message, emoji, user) triple exists at most once, enforced
// by the unique index so concurrent adds of the same triple collapse into
// one row.
type ReactionService struct {
	db      *gorm.DB
	emitter realtime.Emitter
	log     *zap.SugaredLogger
}

func NewReactionService(db *gorm.DB, emitter realtime.Emitter, log *zap.SugaredLogger) *ReactionService {
	return &ReactionService{db: db, emitter: emitter, log: log}
}

// AddReaction records the actor's reaction and broadcasts it to everyone who
// can see the message: the channel room for channel messages, both
// participants' rooms for private ones. Duplicate adds are silent no-ops
// but still broadcast, so late subscribers converge.
func (s *ReactionService) AddReaction(messageID uint, emoji string, actorID uint) error {
	if emoji == "" {
		return fmt.Errorf("empty emoji")
	}

	var message models.Message
	if err := s.db.First(&message, messageID).Error; err != nil {
		return fmt.Errorf("message: %w", err)
	}

	reaction := models.MessageReaction{
		MessageID: messageID,
		Emoji:     emoji,
		UserID:    actorID,
	}
	if err := s.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&reaction).Error; err != nil {
		return fmt.Errorf("creating reaction: %w", err)
	}

	update := realtime.ReactionUpdate{
		MessageID: messageID,
		Emoji:     emoji,
		UserID:    actorID,
	}
	if message.ChannelID != nil {
		s.emitter.EmitToRoom(realtime.ChannelRoom(*message.ChannelID), realtime.EventReactionAdded, update)
	} else if message.ReceiverID != nil {
		s.emitter.EmitToUser(message.SenderID, realtime.EventReactionAdded, update)
		s.emitter.EmitToUser(*message.ReceiverID, realtime.EventReactionAdded, update)
	}
	return nil
}
