package handlers

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamChanges_UnknownCollectionAndNoBroker(t *testing.T) {
	e := newEnv(t)
	expectError(t, e.json(http.MethodGet, "/stream/invoices", planner, nil), http.StatusNotFound, ErrCodeNotFound)

	e = newEnv(t, func(d *Deps) { d.Broker = nil })
	expectError(t, e.json(http.MethodGet, "/stream/payments", planner, nil), http.StatusServiceUnavailable, ErrCodeInternal)
}

func TestStreamChanges_DeliversCommittedEvents(t *testing.T) {
	e := newEnv(t)
	srv := httptest.NewServer(e.engine)
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+base+"/stream/payments", nil)
	require.NoError(t, err)
	identify(req, planner)

	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	// the subscription is live once headers arrive
	p := e.receipt(cashier, nil)
	e.seedCompany("Atlas Distribution") // other collection, filtered out

	sc := bufio.NewScanner(resp.Body)
	var event, data string
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		}
		if event != "" && data != "" {
			break
		}
	}
	require.NoError(t, sc.Err())
	assert.Equal(t, "created", event)
	assert.Contains(t, data, `"collection":"payments"`)
	assert.Contains(t, data, p.ID)
	cancel()
}

func TestStreamChanges_Heartbeat(t *testing.T) {
	e := newEnv(t, func(d *Deps) { d.StreamHeartbeat = 20 * time.Millisecond })
	srv := httptest.NewServer(e.engine)
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+base+"/stream/all", nil)
	require.NoError(t, err)
	identify(req, planner)

	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	sc := bufio.NewScanner(resp.Body)
	require.True(t, sc.Scan(), "no line before deadline: %v", sc.Err())
	assert.Equal(t, "event:ping", sc.Text())
	cancel()
}
