package routes

import (
	"github.com/patry77/techniki-czatt/models"
	"github.com/patry77/techniki-czatt/storage"
	"github.com/patry77/techniki-czatt/utils"

	"github.com/kataras/iris/v12"
)

// GetNotifications returns the caller's 20 most recent notifications.
func GetNotifications(ctx iris.Context) {
	userID := ctx.Values().Get("userID").(uint)

	var notifications []models.Notification
	if err := storage.DB.
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(20).
		Find(&notifications).Error; err != nil {
		utils.CreateInternalServerError(ctx)
		return
	}

	ctx.JSON(iris.Map{"success": true, "notifications": notifications})
}

// MarkNotificationsRead marks every unread notification of the caller as
// read in one statement.
func MarkNotificationsRead(ctx iris.Context) {
	userID := ctx.Values().Get("userID").(uint)

	result := storage.DB.Model(&models.Notification{}).
		Where("user_id = ? AND read = ?", userID, false).
		Update("read", true)
	if result.Error != nil {
		utils.CreateInternalServerError(ctx)
		return
	}

	ctx.JSON(iris.Map{"success": true, "updated": result.RowsAffected})
}
