package notify

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/linkeye/internal/models"
	"github.com/slack-go/slack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlack_SendWithAcceptButton(t *testing.T) {
	var form map[string][]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		form = r.PostForm
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true,"channel":"C1","ts":"1700000000.000100"}`))
	}))
	defer srv.Close()

	s := NewSlack("xoxb-test", "C1", slack.OptionAPIURL(srv.URL+"/"))
	err := s.Send(context.Background(), Message{
		EventID:     "ev-1",
		Detector:    models.DetectorDrift,
		Level:       models.AlertLevelWarning,
		LinkName:    "Paris-Lyon",
		Title:       "Loss drift on Paris-Lyon",
		CurrentLoss: 16.2,
		Actions: []Action{{
			ID:    ActionAcceptLevel,
			Label: "Accept this level for 24h",
			Value: AcceptLevelValue("BOA100", 16.2),
		}},
		FiredAt: time.Now(),
	})

	require.NoError(t, err)
	assert.Equal(t, "C1", form["channel"][0])
	require.NotEmpty(t, form["blocks"])
	assert.Contains(t, form["blocks"][0], ActionAcceptLevel)
	assert.Contains(t, form["blocks"][0], "BOA100|16.20")
}

func TestSlack_SendError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":false,"error":"channel_not_found"}`))
	}))
	defer srv.Close()

	s := NewSlack("xoxb-test", "C404", slack.OptionAPIURL(srv.URL+"/"))
	err := s.Send(context.Background(), Message{Title: "x", FiredAt: time.Now()})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "channel_not_found")
}

func TestAcceptedLevel(t *testing.T) {
	cb := slack.InteractionCallback{}
	cb.ActionCallback.BlockActions = []*slack.BlockAction{
		{ActionID: "other", Value: "x"},
		{ActionID: ActionAcceptLevel, Value: "BOA100|16.20"},
	}

	serial, loss, ok := AcceptedLevel(cb)

	require.True(t, ok)
	assert.Equal(t, "BOA100", serial)
	assert.InDelta(t, 16.2, loss, 1e-9)

	_, _, ok = AcceptedLevel(slack.InteractionCallback{})
	assert.False(t, ok)
}
