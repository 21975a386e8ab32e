package routes

import (
	"errors"
	"strings"
	"time"

	"github.com/patry77/techniki-czatt/models"
	"github.com/patry77/techniki-czatt/realtime"
	"github.com/patry77/techniki-czatt/services"
	"github.com/patry77/techniki-czatt/storage"
	"github.com/patry77/techniki-czatt/utils"

	"github.com/kataras/iris/v12"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type CreateChannelInput struct {
	Name        string `json:"name" validate:"required,max=256"`
	Description string `json:"description" validate:"max=1024"`
	IsPrivate   bool   `json:"isPrivate"`
}

// CreateChannel creates a channel with the caller as first member. Public
// channels are announced to every connected user so sidebars update live.
func CreateChannel(ctx iris.Context) {
	userID := ctx.Values().Get("userID").(uint)

	var input CreateChannelInput
	if err := ctx.ReadJSON(&input); err != nil {
		utils.HandleValidationErrors(err, ctx)
		return
	}

	channel := models.Channel{
		Name:        input.Name,
		Description: input.Description,
		CreatorID:   userID,
		IsPrivate:   input.IsPrivate,
	}
	if err := storage.DB.Create(&channel).Error; err != nil {
		utils.CreateInternalServerError(ctx)
		return
	}

	membership := models.ChannelMember{ChannelID: channel.ID, UserID: userID}
	if err := storage.DB.Clauses(clause.OnConflict{DoNothing: true}).Create(&membership).Error; err != nil {
		utils.CreateInternalServerError(ctx)
		return
	}

	if !channel.IsPrivate && Emitter != nil {
		Emitter.EmitToRoom(realtime.PresenceRoom, realtime.EventNewChannel, channel)
	}

	ctx.StatusCode(iris.StatusCreated)
	ctx.JSON(channel)
}

// ListChannels returns every channel visible to the caller: all public ones
// plus private ones they belong to.
func ListChannels(ctx iris.Context) {
	userID := ctx.Values().Get("userID").(uint)

	var channels []models.Channel
	err := storage.DB.
		Joins("LEFT JOIN channel_members ON channel_members.channel_id = channels.id AND channel_members.user_id = ?", userID).
		Where("channels.is_private = ? OR channel_members.user_id IS NOT NULL", false).
		Distinct("channels.*").
		Find(&channels).Error
	if err != nil {
		utils.CreateInternalServerError(ctx)
		return
	}

	ctx.JSON(channels)
}

// GetChannel returns one channel with its member list.
func GetChannel(ctx iris.Context) {
	channelID, err := ctx.Params().GetUint("id")
	if err != nil {
		ctx.StopWithStatus(iris.StatusBadRequest)
		return
	}

	var channel models.Channel
	if err := storage.DB.Preload("Members").First(&channel, channelID).Error; err != nil {
		utils.CreateNotFound(ctx)
		return
	}

	ctx.JSON(channel)
}

// JoinChannel adds the caller to the member list. Joining twice is a no-op
// and still returns success.
func JoinChannel(ctx iris.Context) {
	userID := ctx.Values().Get("userID").(uint)
	channelID, err := ctx.Params().GetUint("id")
	if err != nil {
		ctx.StopWithStatus(iris.StatusBadRequest)
		return
	}

	var channel models.Channel
	if err := storage.DB.First(&channel, channelID).Error; err != nil {
		utils.CreateNotFound(ctx)
		return
	}

	membership := models.ChannelMember{ChannelID: channelID, UserID: userID}
	if err := storage.DB.Clauses(clause.OnConflict{DoNothing: true}).Create(&membership).Error; err != nil {
		utils.CreateInternalServerError(ctx)
		return
	}

	ctx.JSON(iris.Map{"success": true, "channelId": channelID})
}

// GetChannelMessages pages the channel timeline backwards. Thread replies
// are excluded; they load through the thread endpoint.
func GetChannelMessages(ctx iris.Context) {
	channelID, err := ctx.Params().GetUint("id")
	if err != nil {
		ctx.StopWithStatus(iris.StatusBadRequest)
		return
	}

	var channel models.Channel
	if err := storage.DB.First(&channel, channelID).Error; err != nil {
		utils.CreateNotFound(ctx)
		return
	}

	limit := ctx.URLParamIntDefault("limit", 50)
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	query := storage.DB.
		Where("channel_id = ? AND parent_message_id IS NULL", channelID).
		Preload("Sender").
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

	ctx.JSON(iris.Map{"success": true, "messages": messages})
}

// SendChannelMessage accepts a JSON text message or a multipart upload and
// pushes it through the pipeline. Replies carry parentMessageId and are
// routed as thread replies.
func SendChannelMessage(ctx iris.Context) {
	userID := ctx.Values().Get("userID").(uint)
	channelID, err := ctx.Params().GetUint("id")
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
		message, submitErr = Pipeline.SubmitChannelMessage(channelID, userID, body)
	}
	if submitErr != nil {
		handlePipelineError(submitErr, ctx)
		return
	}

	ctx.StatusCode(iris.StatusCreated)
	ctx.JSON(message)
}

type sendMessageInput struct {
	Content         string `json:"content"`
	ParentMessageID *uint  `json:"parentMessageId"`
}

// readMessageBody decodes either a JSON payload or a multipart form with an
// optional file part into a pipeline body. Uploads are stored before the
// message is submitted; a rejected file never produces a message.
func readMessageBody(ctx iris.Context) (services.MessageBody, bool) {
	if strings.HasPrefix(ctx.GetContentTypeRequested(), "multipart/form-data") {
		ctx.SetMaxRequestBodySize(storage.MaxUploadSize)

		body := services.MessageBody{Content: ctx.FormValue("content")}
		if parentID, err := ctx.PostValueInt("parentMessageId"); err == nil && parentID > 0 {
			p := uint(parentID)
			body.ParentMessageID = &p
		}

		_, header, err := ctx.FormFile("file")
		if err != nil {
			if body.Content == "" {
				utils.CreateError(iris.StatusBadRequest, "Message Error", "A message needs text or a file.", ctx)
				return body, false
			}
			return body, true
		}

		fileURL, saveErr := storage.SaveUpload(header)
		if saveErr != nil {
			handleUploadError(saveErr, ctx)
			return body, false
		}

		body.FileURL = fileURL
		body.FileName = header.Filename
		if storage.IsImageExtension(header.Filename) {
			body.Type = models.MessageTypeImage
		} else {
			body.Type = models.MessageTypeFile
		}
		return body, true
	}

	var input sendMessageInput
	if err := ctx.ReadJSON(&input); err != nil {
		utils.HandleValidationErrors(err, ctx)
		return services.MessageBody{}, false
	}
	return services.MessageBody{
		Content:         input.Content,
		ParentMessageID: input.ParentMessageID,
	}, true
}

func handleUploadError(err error, ctx iris.Context) {
	switch {
	case errors.Is(err, storage.ErrFileTooLarge):
		utils.CreateError(iris.StatusRequestEntityTooLarge, "Upload Error", "File exceeds the 10 MB limit.", ctx)
	case errors.Is(err, storage.ErrFileTypeDenied):
		utils.CreateError(iris.StatusBadRequest, "Upload Error", "File type is not allowed.", ctx)
	default:
		utils.CreateInternalServerError(ctx)
	}
}

func handlePipelineError(err error, ctx iris.Context) {
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		utils.CreateNotFound(ctx)
	case errors.Is(err, services.ErrEmptyContent),
		errors.Is(err, services.ErrMissingFile),
		errors.Is(err, services.ErrThreadMismatch):
		utils.CreateError(iris.StatusBadRequest, "Message Error", err.Error(), ctx)
	default:
		utils.CreateInternalServerError(ctx)
	}
}
