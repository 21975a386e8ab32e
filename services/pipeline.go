package services

import (
	"errors"
	"fmt"
	"time"

	"github.com/patry77/techniki-czatt/models"
	"github.com/patry77/techniki-czatt/realtime"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	ErrEmptyContent   = errors.New("text message requires content")
	ErrMissingFile    = errors.New("file message requires an upload")
	ErrThreadMismatch = errors.New("thread reply must stay in its parent's conversation")
)

// MessageBody is the validated input of a single send: either text content
// or a stored file reference, optionally marked as a thread reply.
type MessageBody struct {
	Content         string
	Type            string // text | image | file; empty means text
	FileURL         string
	FileName        string
	ParentMessageID *uint
}

// MessagePipeline validates and persists messages, maintains the parent
// thread counters, resolves the delivery rooms and triggers fan-out plus
// notification creation. Ordering is fixed: persistence and counters
// complete before fan-out, fan-out is best-effort before notifications,
// and notification failures only get logged.
type MessagePipeline struct {
	db            *gorm.DB
	emitter       realtime.Emitter
	notifications *NotificationService
	log           *zap.SugaredLogger
}

func NewMessagePipeline(db *gorm.DB, emitter realtime.Emitter, notifications *NotificationService, log *zap.SugaredLogger) *MessagePipeline {
	return &MessagePipeline{
		db:            db,
		emitter:       emitter,
		notifications: notifications,
		log:           log,
	}
}

// SubmitChannelMessage persists a message addressed to a channel and fans it
// out to the channel room. Sending does not require membership: channels
// are open-by-default broadcast targets.
func (p *MessagePipeline) SubmitChannelMessage(channelID, senderID uint, body MessageBody) (*models.Message, error) {
	return p.submitChannel(channelID, senderID, body, realtime.EventNewMessage)
}

// SubmitPrivateMessage persists a message addressed to a (sender, receiver)
// pair and fans it out to both per-user rooms, so every session of either
// participant receives it.
func (p *MessagePipeline) SubmitPrivateMessage(receiverID, senderID uint, body MessageBody) (*models.Message, error) {
	return p.submitPrivate(receiverID, senderID, body, realtime.EventPrivateMessage)
}

// ReplyInThread resolves the parent's addressing mode and delegates to the
// matching submit path, but with the dedicated thread-reply event so
// clients can route it to an open thread view instead of the timeline.
func (p *MessagePipeline) ReplyInThread(parentMessageID, senderID uint, body MessageBody) (*models.Message, error) {
	var parent models.Message
	if err := p.db.First(&parent, parentMessageID).Error; err != nil {
		return nil, fmt.Errorf("parent message: %w", err)
	}

	body.ParentMessageID = &parent.ID

	if parent.ChannelID != nil {
		return p.submitChannel(*parent.ChannelID, senderID, body, realtime.EventThreadReply)
	}
	if parent.IsPrivate && parent.ReceiverID != nil {
		receiverID := parent.SenderID
		if parent.SenderID == senderID {
			receiverID = *parent.ReceiverID
		}
		return p.submitPrivate(receiverID, senderID, body, realtime.EventPrivateThreadReply)
	}
	return nil, ErrThreadMismatch
}

func (p *MessagePipeline) submitChannel(channelID, senderID uint, body MessageBody, event string) (*models.Message, error) {
	if err := normalizeBody(&body); err != nil {
		return nil, err
	}
	if err := p.checkUserExists(senderID, "sender"); err != nil {
		return nil, err
	}

	var channel models.Channel
	if err := p.db.First(&channel, channelID).Error; err != nil {
		return nil, fmt.Errorf("channel: %w", err)
	}

	if body.ParentMessageID != nil {
		var parent models.Message
		if err := p.db.First(&parent, *body.ParentMessageID).Error; err != nil {
			return nil, fmt.Errorf("parent message: %w", err)
		}
		if parent.ChannelID == nil || *parent.ChannelID != channelID {
			return nil, ErrThreadMismatch
		}
	}

	message := models.Message{
		ChannelID:       &channelID,
		SenderID:        senderID,
		Content:         body.Content,
		Type:            body.Type,
		FileURL:         body.FileURL,
		FileName:        body.FileName,
		ParentMessageID: body.ParentMessageID,
	}
	persisted, err := p.persist(&message)
	if err != nil {
		return nil, err
	}

	p.emitter.EmitToRoom(realtime.ChannelRoom(channelID), event, persisted)

	if err := p.notifications.NotifyChannelMessage(persisted, &channel); err != nil {
		p.log.Errorw("creating channel notifications", "messageID", persisted.ID, "error", err)
	}

	return persisted, nil
}

func (p *MessagePipeline) submitPrivate(receiverID, senderID uint, body MessageBody, event string) (*models.Message, error) {
	if err := normalizeBody(&body); err != nil {
		return nil, err
	}
	if err := p.checkUserExists(senderID, "sender"); err != nil {
		return nil, err
	}
	if err := p.checkUserExists(receiverID, "receiver"); err != nil {
		return nil, err
	}

	if body.ParentMessageID != nil {
		var parent models.Message
		if err := p.db.First(&parent, *body.ParentMessageID).Error; err != nil {
			return nil, fmt.Errorf("parent message: %w", err)
		}
		if !parent.IsPrivate || parent.ReceiverID == nil || !samePair(parent.SenderID, *parent.ReceiverID, senderID, receiverID) {
			return nil, ErrThreadMismatch
		}
	}

	message := models.Message{
		SenderID:        senderID,
		ReceiverID:      &receiverID,
		IsPrivate:       true,
		Content:         body.Content,
		Type:            body.Type,
		FileURL:         body.FileURL,
		FileName:        body.FileName,
		ParentMessageID: body.ParentMessageID,
	}
	persisted, err := p.persist(&message)
	if err != nil {
		return nil, err
	}

	p.emitter.EmitToUser(receiverID, event, persisted)
	p.emitter.EmitToUser(senderID, event, persisted)

	if err := p.notifications.NotifyPrivateMessage(persisted); err != nil {
		p.log.Errorw("creating private notification", "messageID", persisted.ID, "error", err)
	}

	return persisted, nil
}

// persist writes the message, bumps the parent counters atomically and
// reloads the row with sender/receiver populated for the response and the
// fan-out payload.
func (p *MessagePipeline) persist(message *models.Message) (*models.Message, error) {
	if err := p.db.Create(message).Error; err != nil {
		return nil, fmt.Errorf("creating message: %w", err)
	}

	if message.ParentMessageID != nil {
		err := p.db.Model(&models.Message{}).
			Where("id = ?", *message.ParentMessageID).
			Updates(map[string]interface{}{
				"thread_replies": gorm.Expr("thread_replies + ?", 1),
				"last_reply_at":  time.Now(),
			}).Error
		if err != nil {
			return nil, fmt.Errorf("updating thread counters: %w", err)
		}
	}

	var loaded models.Message
	query := p.db.Preload("Sender").Preload("Reactions")
	if message.IsPrivate {
		query = query.Preload("Receiver")
	}
	if err := query.First(&loaded, message.ID).Error; err != nil {
		return nil, fmt.Errorf("reloading message: %w", err)
	}
	return &loaded, nil
}

func (p *MessagePipeline) checkUserExists(id uint, role string) error {
	var user models.User
	if err := p.db.Select("id").First(&user, id).Error; err != nil {
		return fmt.Errorf("%s: %w", role, err)
	}
	return nil
}

func normalizeBody(body *MessageBody) error {
	if body.Type == "" {
		body.Type = models.MessageTypeText
	}
	switch body.Type {
	case models.MessageTypeText:
		if body.Content == "" {
			return ErrEmptyContent
		}
	case models.MessageTypeImage, models.MessageTypeFile:
		if body.FileURL == "" {
			return ErrMissingFile
		}
	default:
		return fmt.Errorf("unsupported message type %q", body.Type)
	}
	return nil
}

func samePair(a1, a2, b1, b2 uint) bool {
	return (a1 == b1 && a2 == b2) || (a1 == b2 && a2 == b1)
}
