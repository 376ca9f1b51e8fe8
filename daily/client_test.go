package daily

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/voiceflow/config"
	"github.com/BaSui01/voiceflow/testutil"
	"github.com/BaSui01/voiceflow/types"
)

func testClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := NewClient(config.DailyConfig{
		APIKey:     "test-key",
		BaseURL:    srv.URL,
		RoomExpiry: time.Hour,
	}, zap.NewNop())
	// Replace the TLS-enforcing client so the plain httptest server works.
	c.client = srv.Client()
	return c
}

func TestClient_CreateRoom(t *testing.T) {
	var gotAuth string
	var gotBody createRoomRequest
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/rooms", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		json.NewEncoder(w).Encode(Room{URL: "https://x.daily.co/abc", Name: "abc"})
	})
	now := time.Now()
	c.now = func() time.Time { return now }

	room, err := c.CreateRoom(testutil.TestContext(t), "")
	require.NoError(t, err)
	assert.Equal(t, "abc", room.Name)
	assert.Equal(t, "https://x.daily.co/abc", room.URL)
	assert.Equal(t, "Bearer test-key", gotAuth)

	assert.Equal(t, now.Add(time.Hour).Unix(), gotBody.Properties.Exp)
	assert.False(t, gotBody.Properties.EnableChat)
	assert.False(t, gotBody.Properties.EnableScreenshare)
	assert.False(t, gotBody.Properties.EnableKnocking)
	assert.False(t, gotBody.Properties.EnablePrejoinUI)
	assert.True(t, gotBody.Properties.StartVideoOff)
	assert.False(t, gotBody.Properties.StartAudioOff)
}

func TestClient_CreateRoomProxiesUpstreamStatus(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"error":"invalid-api-key"}`))
	})

	_, err := c.CreateRoom(testutil.TestContext(t), "")
	require.Error(t, err)
	assert.Equal(t, types.ErrProvisioningFailed, types.GetErrorCode(err))

	var typed *types.Error
	require.ErrorAs(t, err, &typed)
	assert.Equal(t, http.StatusForbidden, typed.HTTPStatus)
	assert.Contains(t, typed.Message, "invalid-api-key")
}

func TestClient_MeetingToken(t *testing.T) {
	var gotBody tokenRequest
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/meeting-tokens", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		json.NewEncoder(w).Encode(tokenResponse{Token: "jwt-token"})
	})

	token, err := c.MeetingToken(testutil.TestContext(t), "abc", true, "Institute Assistant")
	require.NoError(t, err)
	assert.Equal(t, "jwt-token", token)
	assert.Equal(t, "abc", gotBody.Properties.RoomName)
	assert.True(t, gotBody.Properties.IsOwner)
	assert.Equal(t, "Institute Assistant", gotBody.Properties.UserName)
}

func TestClient_DeleteRoom(t *testing.T) {
	deleted := ""
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodDelete, r.Method)
		deleted = r.URL.Path
		json.NewEncoder(w).Encode(map[string]bool{"deleted": true})
	})

	require.NoError(t, c.DeleteRoom(testutil.TestContext(t), "abc"))
	assert.Equal(t, "/rooms/abc", deleted)
}

func TestClient_DeleteRoomNotFound(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"not-found"}`))
	})

	err := c.DeleteRoom(testutil.TestContext(t), "missing")
	require.Error(t, err)
	var typed *types.Error
	require.ErrorAs(t, err, &typed)
	assert.Equal(t, http.StatusNotFound, typed.HTTPStatus)
}

func TestClient_Configured(t *testing.T) {
	assert.False(t, NewClient(config.DailyConfig{}, zap.NewNop()).Configured())
	assert.True(t, NewClient(config.DailyConfig{APIKey: "k"}, zap.NewNop()).Configured())
}
