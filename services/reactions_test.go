package services

import (
	"testing"

	"github.com/patry77/techniki-czatt/models"
	"github.com/patry77/techniki-czatt/realtime"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func TestAddReactionIsSetUnion(t *testing.T) {
	db := openServiceDB(t)
	ala := seedUser(t, db, "ala")
	ola := seedUser(t, db, "ola")
	channel := seedChannel(t, db, "general", ala, ola)

	emitter := &stubEmitter{}
	pipeline := newTestPipeline(db, emitter)
	reactions := NewReactionService(db, emitter, zap.NewNop().Sugar())

	message, err := pipeline.SubmitChannelMessage(channel.ID, ala.ID, MessageBody{Content: "hej"})
	require.NoError(t, err)

	require.NoError(t, reactions.AddReaction(message.ID, "👍", ola.ID))
	require.NoError(t, reactions.AddReaction(message.ID, "👍", ola.ID))
	require.NoError(t, reactions.AddReaction(message.ID, "👍", ala.ID))
	require.NoError(t, reactions.AddReaction(message.ID, "🎉", ola.ID))

	var rows []models.MessageReaction
	require.NoError(t, db.Where("message_id = ?", message.ID).Find(&rows).Error)
	require.Len(t, rows, 3)

	var reloaded models.Message
	require.NoError(t, db.Preload("Reactions").First(&reloaded, message.ID).Error)
	groups := reloaded.GroupedReactions()
	require.Len(t, groups, 2)
	require.Equal(t, "👍", groups[1].Emoji)
	require.Len(t, groups[1].Users, 2)
}

func TestAddReactionBroadcast(t *testing.T) {
	db := openServiceDB(t)
	ala := seedUser(t, db, "ala")
	ola := seedUser(t, db, "ola")
	channel := seedChannel(t, db, "general", ala, ola)

	emitter := &stubEmitter{}
	pipeline := newTestPipeline(db, emitter)
	reactions := NewReactionService(db, emitter, zap.NewNop().Sugar())

	channelMsg, err := pipeline.SubmitChannelMessage(channel.ID, ala.ID, MessageBody{Content: "hej"})
	require.NoError(t, err)
	privateMsg, err := pipeline.SubmitPrivateMessage(ola.ID, ala.ID, MessageBody{Content: "psst"})
	require.NoError(t, err)

	before := len(emitter.all())
	require.NoError(t, reactions.AddReaction(channelMsg.ID, "👍", ola.ID))

	events := emitter.all()
	require.Len(t, events, before+1)
	require.Equal(t, realtime.ChannelRoom(channel.ID), events[before].Room)
	require.Equal(t, realtime.EventReactionAdded, events[before].Event)
	update := events[before].Data.(realtime.ReactionUpdate)
	require.Equal(t, channelMsg.ID, update.MessageID)
	require.Equal(t, ola.ID, update.UserID)

	// a private message fans out to both participants
	before = len(emitter.all())
	require.NoError(t, reactions.AddReaction(privateMsg.ID, "🎉", ala.ID))
	events = emitter.all()
	require.Len(t, events, before+2)
	rooms := []string{events[before].Room, events[before+1].Room}
	require.Contains(t, rooms, realtime.UserRoom(ala.ID))
	require.Contains(t, rooms, realtime.UserRoom(ola.ID))
}

func TestAddReactionMissingMessage(t *testing.T) {
	db := openServiceDB(t)
	ala := seedUser(t, db, "ala")

	emitter := &stubEmitter{}
	reactions := NewReactionService(db, emitter, zap.NewNop().Sugar())

	err := reactions.AddReaction(12345, "👍", ala.ID)
	require.ErrorIs(t, err, gorm.ErrRecordNotFound)
	require.Empty(t, emitter.all())
}
