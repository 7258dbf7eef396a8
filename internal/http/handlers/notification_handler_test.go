package handlers

import (
	"context"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tbourn/go-recovery-backend/internal/domain"
	"github.com/tbourn/go-recovery-backend/internal/services"
)

func TestNotifications_PlannerInbox(t *testing.T) {
	e := newEnv(t)

	w := e.json(http.MethodGet, "/notifications", planner, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"notifications":[]}`, w.Body.String())

	w = e.json(http.MethodPost, "/recoveries/send", cashier, obj{"reference": ref42})
	require.Equal(t, http.StatusCreated, w.Code)
	d := decode[services.SendResult](t, w).Declaration
	// same message for the same declaration is stored once
	require.Equal(t, http.StatusOK, e.json(http.MethodPost, "/recoveries/send", cashier, obj{"reference": ref42}).Code)

	w = e.json(http.MethodGet, "/notifications", planner, nil)
	require.Equal(t, http.StatusOK, w.Code)
	inbox := decode[NotificationsResponse](t, w).Notifications
	require.Len(t, inbox, 1)
	n := inbox[0]
	assert.Equal(t, d.ID, n.DeclarationID)
	assert.Equal(t, ref42, n.ProgramReference)
	assert.True(t, strings.HasPrefix(n.Message, ref42), n.Message)
	assert.False(t, n.Read)

	w = e.json(http.MethodGet, "/notifications", cashier, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decode[NotificationsResponse](t, w).Notifications)

	w = e.json(http.MethodPost, "/notifications/"+n.ID+"/read", planner, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = e.json(http.MethodGet, "/notifications", planner, nil)
	assert.True(t, decode[NotificationsResponse](t, w).Notifications[0].Read)

	expectError(t, e.json(http.MethodPost, "/notifications/missing/read", planner, nil), http.StatusNotFound, ErrCodeNotFound)

	require.Equal(t, http.StatusOK, e.json(http.MethodPost, "/declarations/"+d.ID+"/revoke", planner, nil).Code)
	w = e.json(http.MethodGet, "/notifications", planner, nil)
	assert.Len(t, decode[NotificationsResponse](t, w).Notifications, 2)
}

func TestNotifications_DriverInbox(t *testing.T) {
	e := newEnv(t)
	ch := e.seedChauffeur("Sami", "Haddad", domain.EmployeeInternal)
	d := e.draft(ref42, ch.ID)

	svc := &services.NotificationService{DB: e.db}
	_, created, err := svc.Notify(context.Background(), services.NotificationRequest{
		DeclarationID: d.ID,
		ChauffeurID:   ch.ID,
		Message:       "Reçu refusé. Motif: photo floue",
	})
	require.NoError(t, err)
	require.True(t, created)

	driver := domain.User{ID: ch.ID, Role: domain.RoleChauffeur}
	w := e.json(http.MethodGet, "/notifications", driver, nil)
	require.Equal(t, http.StatusOK, w.Code)
	inbox := decode[NotificationsResponse](t, w).Notifications
	require.Len(t, inbox, 1)
	assert.NotContains(t, inbox[0].Message, "Motif")

	w = e.json(http.MethodGet, "/notifications", planner, nil)
	assert.Empty(t, decode[NotificationsResponse](t, w).Notifications)
}
