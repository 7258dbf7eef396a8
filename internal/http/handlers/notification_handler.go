package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-recovery-backend/internal/domain"
)

// NotificationsResponse lists the caller's notifications, newest first.
type NotificationsResponse struct {
	Notifications []domain.Notification `json:"notifications"`
}

// ListNotifications godoc
// @ID          listNotifications
// @Summary     List the caller's notifications
// @Description Drivers get their own notifications; other users those addressed to their role.
// @Tags        Notifications
// @Produce     json
//
// @Success     200  {object}  handlers.NotificationsResponse
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /notifications [get]
func (h *Handlers) ListNotifications(c *gin.Context) {
	list, err := h.notifications.ListForUser(c.Request.Context(), currentUser(c))
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	if list == nil {
		list = []domain.Notification{}
	}
	ok(c, http.StatusOK, NotificationsResponse{Notifications: list})
}

// MarkNotificationRead godoc
// @ID          markNotificationRead
// @Summary     Mark a notification as read
// @Tags        Notifications
//
// @Param       id  path  string  true  "Notification ID"
//
// @Success     204  {string}  string  "No Content"
// @Failure     404  {object}  handlers.ErrorResponse  "Notification not found"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /notifications/{id}/read [post]
func (h *Handlers) MarkNotificationRead(c *gin.Context) {
	if err := h.notifications.MarkRead(c.Request.Context(), c.Param("id")); err != nil {
		failErr(c, err, ErrCodeUpdateFailed)
		return
	}
	noContent(c)
}
