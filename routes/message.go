package routes

import (
	"time"

	"github.com/patry77/techniki-czatt/models"
	"github.com/patry77/techniki-czatt/storage"
	"github.com/patry77/techniki-czatt/utils"

	"github.com/kataras/iris/v12"
)

// GetPrivateMessages pages the direct conversation with another user and
// marks the fetched direction as read: opening the conversation is the read
// receipt.
func GetPrivateMessages(ctx iris.Context) {
	userID := ctx.Values().Get("userID").(uint)
	otherID, err := ctx.Params().GetUint("userId")
	if err != nil {
		ctx.StopWithStatus(iris.StatusBadRequest)
		return
	}

	limit := ctx.URLParamIntDefault("limit", 50)
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	query := storage.DB.
		Where("is_private = ? AND parent_message_id IS NULL", true).
		Where("(sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)",
			userID, otherID, otherID, userID).
		Preload("Sender").
		Preload("Receiver").
		Preload("Reactions")

	if before := ctx.URLParam("before"); before != "" {
		cursor, parseErr := time.Parse(time.RFC3339, before)
		if parseErr != nil {
			utils.CreateError(iris.StatusBadRequest, "Pagination Error", "before must be an RFC 3339 timestamp.", ctx)
			return
		}
		query = query.Where("created_at < ?", cursor)
	}

	var messages []models.Message
	if err := query.Order("created_at DESC").Limit(limit).Find(&messages).Error; err != nil {
		utils.CreateInternalServerError(ctx)
		return
	}

	// reverse to chronological
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}

	// marking read is best-effort: a failure must not hide the conversation
	if err := storage.DB.Model(&models.Message{}).
		Where("sender_id = ? AND receiver_id = ? AND read = ?", otherID, userID, false).
		Update("read", true).Error; err != nil {
		utils.Logger.Warnw("marking conversation read", "userID", userID, "senderID", otherID, "error", err)
	}

	ctx.JSON(iris.Map{"success": true, "messages": messages})
}

// SendPrivateMessage submits a direct message to another user.
func SendPrivateMessage(ctx iris.Context) {
	userID := ctx.Values().Get("userID").(uint)
	otherID, err := ctx.Params().GetUint("userId")
	if err != nil {
		ctx.StopWithStatus(iris.StatusBadRequest)
		return
	}

	body, ok := readMessageBody(ctx)
	if !ok {
		return
	}

	var message *models.Message
	var submitErr error
	if body.ParentMessageID != nil {
		message, submitErr = Pipeline.ReplyInThread(*body.ParentMessageID, userID, body)
	} else {
		message, submitErr = Pipeline.SubmitPrivateMessage(otherID, userID, body)
	}
	if submitErr != nil {
		handlePipelineError(submitErr, ctx)
		return
	}

	ctx.StatusCode(iris.StatusCreated)
	ctx.JSON(message)
}

// GetUnreadCounts returns, per sender, how many private messages the caller
// has not read yet.
func GetUnreadCounts(ctx iris.Context) {
	userID := ctx.Values().Get("userID").(uint)

	type unreadRow struct {
		SenderID uint  `json:"senderId"`
		Count    int64 `json:"count"`
	}

	var rows []unreadRow
	err := storage.DB.Model(&models.Message{}).
		Select("sender_id, COUNT(*) as count").
		Where("receiver_id = ? AND is_private = ? AND read = ?", userID, true, false).
		Group("sender_id").
		Scan(&rows).Error
	if err != nil {
		utils.CreateInternalServerError(ctx)
		return
	}

	counts := map[uint]int64{}
	for _, row := range rows {
		counts[row.SenderID] = row.Count
	}

	ctx.JSON(iris.Map{"success": true, "unread": counts})
}

// GetConversations lists the caller's direct conversations, newest first,
// each with the partner, the latest message and the unread count.
func GetConversations(ctx iris.Context) {
	userID := ctx.Values().Get("userID").(uint)

	type conversationRow struct {
		PartnerID     uint
		LastMessageAt time.Time
		UnreadCount   int64
	}

	var rows []conversationRow
	err := storage.DB.Raw(`
		SELECT
			CASE WHEN sender_id = ? THEN receiver_id ELSE sender_id END AS partner_id,
			MAX(created_at) AS last_message_at,
			SUM(CASE WHEN receiver_id = ? AND read = ? THEN 1 ELSE 0 END) AS unread_count
		FROM messages
		WHERE is_private = ? AND deleted_at IS NULL AND (sender_id = ? OR receiver_id = ?)
		GROUP BY partner_id
		ORDER BY last_message_at DESC`,
		userID, userID, false, true, userID, userID).
		Scan(&rows).Error
	if err != nil {
		utils.CreateInternalServerError(ctx)
		return
	}

	conversations := make([]iris.Map, 0, len(rows))
	for _, row := range rows {
		var partner models.User
		if err := storage.DB.First(&partner, row.PartnerID).Error; err != nil {
			continue
		}

		var lastMessage models.Message
		storage.DB.
			Where("is_private = ?", true).
			Where("(sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)",
				userID, row.PartnerID, row.PartnerID, userID).
			Preload("Sender").
			Order("created_at DESC").
			First(&lastMessage)

		conversations = append(conversations, iris.Map{
			"user":        partner,
			"lastMessage": &lastMessage,
			"unreadCount": row.UnreadCount,
		})
	}

	ctx.JSON(iris.Map{"success": true, "conversations": conversations})
}

// GetThread returns a parent message and its replies in chronological order.
func GetThread(ctx iris.Context) {
	messageID, err := ctx.Params().GetUint("id")
	if err != nil {
		ctx.StopWithStatus(iris.StatusBadRequest)
		return
	}

	var parent models.Message
	if err := storage.DB.
		Preload("Sender").
		Preload("Reactions").
		First(&parent, messageID).Error; err != nil {
		utils.CreateNotFound(ctx)
		return
	}

	var replies []models.Message
	if err := storage.DB.
		Where("parent_message_id = ?", messageID).
		Preload("Sender").
		Preload("Reactions").
		Order("created_at ASC").
		Find(&replies).Error; err != nil {
		utils.CreateInternalServerError(ctx)
		return
	}

	ctx.JSON(iris.Map{
		"success":        true,
		"parentMessage":  &parent,
		"threadMessages": replies,
	})
}

// ReplyInThread posts a reply under a parent message, channel or private.
func ReplyInThread(ctx iris.Context) {
	userID := ctx.Values().Get("userID").(uint)
	messageID, err := ctx.Params().GetUint("id")
	if err != nil {
		ctx.StopWithStatus(iris.StatusBadRequest)
		return
	}

	body, ok := readMessageBody(ctx)
	if !ok {
		return
	}

	message, submitErr := Pipeline.ReplyInThread(messageID, userID, body)
	if submitErr != nil {
		handlePipelineError(submitErr, ctx)
		return
	}

	ctx.StatusCode(iris.StatusCreated)
	ctx.JSON(message)
}

type addReactionInput struct {
	Emoji string `json:"emoji" validate:"required,max=32"`
}

// AddReaction records an emoji reaction over HTTP; the broadcast mirrors the
// WebSocket path.
func AddReaction(ctx iris.Context) {
	userID := ctx.Values().Get("userID").(uint)
	messageID, err := ctx.Params().GetUint("id")
	if err != nil {
		ctx.StopWithStatus(iris.StatusBadRequest)
		return
	}

	var input addReactionInput
	if err := ctx.ReadJSON(&input); err != nil {
		utils.HandleValidationErrors(err, ctx)
		return
	}

	if err := Reactions.AddReaction(messageID, input.Emoji, userID); err != nil {
		handlePipelineError(err, ctx)
		return
	}

	var message models.Message
	if err := storage.DB.Preload("Sender").Preload("Reactions").First(&message, messageID).Error; err != nil {
		utils.CreateInternalServerError(ctx)
		return
	}

	ctx.JSON(&message)
}
