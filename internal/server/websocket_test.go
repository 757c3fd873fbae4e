package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/tandem/internal/protocol"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func websocketURL(serverURL, path string) string {
	return "ws" + strings.TrimPrefix(serverURL, "http") + path
}

func mustDial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err, "failed to dial %s", url)
	t.Cleanup(func() {
		_ = conn.Close()
	})
	return conn
}

func mustWrite(t *testing.T, conn *websocket.Conn, frame string) {
	t.Helper()
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(frame)), "failed to write frame")
}

// mustRead reads the next frame, requires it to carry event and decodes its data into target.
func mustRead(t *testing.T, conn *websocket.Conn, event string, target any) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, frame, err := conn.ReadMessage()
	require.NoError(t, err, "failed to read %s", event)
	envelope, err := protocol.Decode(frame)
	require.NoError(t, err, "failed to decode frame")
	require.Equal(t, event, envelope.Event, "unexpected frame %s", frame)
	require.NoError(t, envelope.DecodePayload(target), "failed to decode %s payload", event)
}

func TestWebSocketCollaboration(t *testing.T) {
	loop, _ := mustSessions(t)
	server := httptest.NewServer(mustHandlerWithIDs(t, loop, &sequentialIDs{}))
	t.Cleanup(server.Close)

	ada := mustDial(t, websocketURL(server.URL, "/ws?displayName=Ada"))
	mustWrite(t, ada, `{"event":"join_room","data":"abc"}`)

	var document string
	mustRead(t, ada, protocol.EventInitCode, &document)
	assert.Equal(t, "// Welcome to abc", document)
	var names []string
	mustRead(t, ada, protocol.EventCurrentUserList, &names)
	assert.Equal(t, []string{"Ada"}, names)

	bob := mustDial(t, websocketURL(server.URL, "/ws"))
	mustWrite(t, bob, `{"event":"join_room","data":{"roomId":"abc","displayName":"Bob"}}`)
	mustRead(t, bob, protocol.EventInitCode, &document)
	mustRead(t, bob, protocol.EventCurrentUserList, &names)
	assert.Equal(t, []string{"Ada", "Bob"}, names)

	var joined protocol.NewUserJoined
	mustRead(t, ada, protocol.EventNewUserJoined, &joined)
	assert.Equal(t, "Bob", joined.DisplayName)
	assert.Equal(t, "conn-2", joined.ConnectionID)
	assert.NotEmpty(t, joined.Color)

	mustWrite(t, bob, `{"event":"code_delta","data":{"roomId":"abc","changes":[{"rangeOffset":0,"rangeLength":0,"text":"x"}]}}`)
	var delta protocol.ReceiveDelta
	mustRead(t, ada, protocol.EventReceiveDelta, &delta)
	assert.Equal(t, `[{"rangeOffset":0,"rangeLength":0,"text":"x"}]`, string(delta.Changes))

	response, err := http.Get(server.URL + "/rooms/abc")
	require.NoError(t, err, "failed to fetch room")
	defer response.Body.Close()
	var room roomResponsePayload
	require.NoError(t, json.NewDecoder(response.Body).Decode(&room))
	assert.Equal(t, "x// Welcome to abc", room.Document)

	mustWrite(t, ada, `{"event":"cursor_move","data":{"roomId":"abc","position":{"lineNumber":1,"column":2}}}`)
	var cursor protocol.ReceiveCursor
	mustRead(t, bob, protocol.EventReceiveCursor, &cursor)
	assert.Equal(t, "Ada", cursor.DisplayName)

	require.NoError(t, bob.Close())
	var departed string
	mustRead(t, ada, protocol.EventUserLeft, &departed)
	assert.Equal(t, joined.ConnectionID, departed)
}

func TestWebSocketRejectsForeignOrigin(t *testing.T) {
	loop, _ := mustSessions(t)
	server := httptest.NewServer(mustHandler(t, loop))
	t.Cleanup(server.Close)

	header := http.Header{}
	header.Set("Origin", "https://elsewhere.example")
	_, response, err := websocket.DefaultDialer.Dial(websocketURL(server.URL, "/ws"), header)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.NotNil(t, response)
	assert.Equal(t, http.StatusForbidden, response.StatusCode)
}

func TestWSConnClosesWhenSendBufferOverflows(t *testing.T) {
	accepted := make(chan *websocket.Conn, 1)
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		accepted <- ws
	}))
	t.Cleanup(server.Close)

	client := mustDial(t, websocketURL(server.URL, "/"))
	conn := newWSConn("conn-slow", "", <-accepted, nil, WebSocketConfig{SendBuffer: 1}, zap.NewNop())

	require.NoError(t, conn.Send([]byte("first")), "first frame should queue")
	assert.ErrorIs(t, conn.Send([]byte("second")), errSendBufferFull)
	assert.ErrorIs(t, conn.Send([]byte("third")), websocket.ErrCloseSent)

	require.NoError(t, client.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := client.ReadMessage()
	assert.Error(t, err, "the overflowing connection should be closed")
}
