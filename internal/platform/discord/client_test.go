package discord

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcldev/tokenarena/internal/domain"
)

func TestPostResult_SendsEmbedWithMention(t *testing.T) {
	var gotAuth, gotPath string
	var gotBody messagePayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		raw, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(raw, &gotBody))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "tok123")
	err := c.PostResult(context.Background(), "chan1", domain.SettlementNotice{
		Title:  "Prediction resolved",
		Lines:  []string{"SOL went UP", "You won 400 points"},
		UserID: "user42",
	})
	require.NoError(t, err)

	assert.Equal(t, "Bot tok123", gotAuth)
	assert.Equal(t, "/channels/chan1/messages", gotPath)
	assert.Equal(t, "<@user42>", gotBody.Content)
	require.Len(t, gotBody.Embeds, 1)
	assert.Equal(t, "Prediction resolved", gotBody.Embeds[0].Title)
	assert.Equal(t, "SOL went UP\nYou won 400 points", gotBody.Embeds[0].Description)
	assert.Equal(t, embedColor, gotBody.Embeds[0].Color)
}

func TestPostResult_NoMentionWithoutUserID(t *testing.T) {
	var gotBody messagePayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(raw, &gotBody))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "tok")
	require.NoError(t, c.PostResult(context.Background(), "chan1", domain.SettlementNotice{
		Title: "Battle refunded",
		Lines: []string{"Price data was unavailable at settlement time."},
	}))
	assert.Empty(t, gotBody.Content)
}

func TestDeleteMessage_UsesDeleteVerb(t *testing.T) {
	var gotMethod, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "tok")
	require.NoError(t, c.DeleteMessage(context.Background(), "chan1", "msg9"))
	assert.Equal(t, http.MethodDelete, gotMethod)
	assert.Equal(t, "/channels/chan1/messages/msg9", gotPath)
}

func TestPostResult_SurfacesAPIErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"Missing Access"}`, http.StatusForbidden)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "tok")
	err := c.PostResult(context.Background(), "chan1", domain.SettlementNotice{Title: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 403")
}
