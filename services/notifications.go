package services

import (
	"encoding/json"
	"fmt"

	"github.com/patry77/techniki-czatt/models"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// PushSender delivers a payload to a user's registered push subscription.
// The delivery mechanics live outside this system; the default sender only
// records the attempt.
type PushSender func(subscription datatypes.JSON, title, body string) error

// NotificationService persists notification rows and hands them to the push
// sender. Failures here never roll back the message that caused them.
type NotificationService struct {
	db   *gorm.DB
	push PushSender
	log  *zap.SugaredLogger
}

func NewNotificationService(db *gorm.DB, log *zap.SugaredLogger) *NotificationService {
	ns := &NotificationService{db: db, log: log}
	ns.push = func(subscription datatypes.JSON, title, body string) error {
		ns.log.Debugw("push delivery skipped (no sender configured)", "title", title)
		return nil
	}
	return ns
}

// SetPushSender swaps in a real delivery backend.
func (ns *NotificationService) SetPushSender(sender PushSender) {
	if sender != nil {
		ns.push = sender
	}
}

// NotifyChannelMessage creates one notification per channel member other
// than the sender.
func (ns *NotificationService) NotifyChannelMessage(message *models.Message, channel *models.Channel) error {
	var members []models.User
	if err := ns.db.Model(channel).Association("Members").Find(&members); err != nil {
		return fmt.Errorf("loading channel members: %w", err)
	}

	title := fmt.Sprintf("New message in #%s", channel.Name)
	body := fmt.Sprintf("%s: %s", message.Sender.Username, previewBody(message))
	data := mustJSON(map[string]interface{}{
		"channelId": channel.ID,
		"messageId": message.ID,
	})

	for _, member := range members {
		if member.ID == message.SenderID {
			continue
		}
		if err := ns.create(member, models.Notification{
			UserID: member.ID,
			Type:   models.NotificationTypeMessage,
			Title:  title,
			Body:   body,
			Data:   data,
		}); err != nil {
			return err
		}
	}
	return nil
}

// NotifyPrivateMessage creates a notification for the receiver.
func (ns *NotificationService) NotifyPrivateMessage(message *models.Message) error {
	if message.ReceiverID == nil {
		return fmt.Errorf("private message %d has no receiver", message.ID)
	}

	var receiver models.User
	if err := ns.db.First(&receiver, *message.ReceiverID).Error; err != nil {
		return fmt.Errorf("loading receiver: %w", err)
	}

	return ns.create(receiver, models.Notification{
		UserID: receiver.ID,
		Type:   models.NotificationTypePrivateMessage,
		Title:  fmt.Sprintf("New message from %s", message.Sender.Username),
		Body:   previewBody(message),
		Data: mustJSON(map[string]interface{}{
			"senderId":  message.SenderID,
			"messageId": message.ID,
		}),
	})
}

func (ns *NotificationService) create(target models.User, notification models.Notification) error {
	if err := ns.db.Create(&notification).Error; err != nil {
		return fmt.Errorf("creating notification: %w", err)
	}
	if target.PushSubscription != nil {
		if err := ns.push(target.PushSubscription, notification.Title, notification.Body); err != nil {
			ns.log.Warnw("push delivery failed", "userID", target.ID, "error", err)
		}
	}
	return nil
}

// previewBody truncates text to 100 characters, the same preview length the
// clients render.
func previewBody(message *models.Message) string {
	if message.Type != models.MessageTypeText {
		return "Sent a file"
	}
	content := message.Content
	if len(content) > 100 {
		content = content[:100]
	}
	return content
}

func mustJSON(v map[string]interface{}) datatypes.JSON {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return datatypes.JSON(raw)
}
