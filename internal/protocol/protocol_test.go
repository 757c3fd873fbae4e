package protocol

import (
	"encoding/json"
	"testing"

	"github.com/MarcoPoloResearchLab/tandem/internal/patch"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeRejectsMalformedFrames(t *testing.T) {
	testCases := []struct {
		name  string
		frame string
	}{
		{name: "not-json", frame: `hello`},
		{name: "missing-event", frame: `{"data":{"roomId":"abc"}}`},
		{name: "blank-event", frame: `{"event":"  ","data":{}}`},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			_, err := Decode([]byte(testCase.frame))
			assert.ErrorIs(t, err, ErrMalformedFrame)
		})
	}
}

func TestJoinRoomAcceptsObjectAndBareString(t *testing.T) {
	testCases := []struct {
		name  string
		frame string
		want  JoinRoom
	}{
		{
			name:  "object",
			frame: `{"event":"join_room","data":{"roomId":"abc","displayName":"Ada"}}`,
			want:  JoinRoom{RoomID: "abc", DisplayName: "Ada"},
		},
		{
			name:  "bare-string",
			frame: `{"event":"join_room","data":"abc"}`,
			want:  JoinRoom{RoomID: "abc"},
		},
		{
			name:  "padded-room-kept",
			frame: `{"event":"join_room","data":" abc "}`,
			want:  JoinRoom{RoomID: " abc "},
		},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			envelope, err := Decode([]byte(testCase.frame))
			require.NoError(t, err)
			assert.Equal(t, EventJoinRoom, envelope.Event)
			var payload JoinRoom
			require.NoError(t, envelope.DecodePayload(&payload))
			assert.Equal(t, testCase.want, payload)
		})
	}
}

func TestRequestFullSyncAcceptsBareString(t *testing.T) {
	envelope, err := Decode([]byte(`{"event":"request_full_sync","data":"room-7"}`))
	require.NoError(t, err)
	var payload RequestFullSync
	require.NoError(t, envelope.DecodePayload(&payload))
	assert.Equal(t, "room-7", payload.RoomID)
}

func TestDecodePayloadRequiresData(t *testing.T) {
	envelope, err := Decode([]byte(`{"event":"join_room"}`))
	require.NoError(t, err)
	var payload JoinRoom
	assert.ErrorIs(t, envelope.DecodePayload(&payload), ErrMalformedPayload)
}

func TestCodeDeltaEdits(t *testing.T) {
	var payload CodeDelta
	raw := `{"roomId":"abc","changes":[
		{"range":{"startLineNumber":1,"startColumn":1,"endLineNumber":1,"endColumn":1},"rangeOffset":0,"rangeLength":0,"text":"let x=1;"},
		{"rangeOffset":4,"rangeLength":2,"replacementText":"yz"}
	]}`
	require.NoError(t, json.Unmarshal([]byte(raw), &payload))

	edits, err := payload.Edits()
	require.NoError(t, err)
	assert.Equal(t, []patch.Edit{
		{RangeOffset: 0, RangeLength: 0, Text: "let x=1;"},
		{RangeOffset: 4, RangeLength: 2, Text: "yz"},
	}, edits)
}

func TestCodeDeltaEditsRejectsNonArray(t *testing.T) {
	payload := CodeDelta{RoomID: "abc", Changes: json.RawMessage(`{"rangeOffset":1}`)}
	_, err := payload.Edits()
	assert.ErrorIs(t, err, ErrMalformedPayload)
}

func TestEncodeWrapsPayload(t *testing.T) {
	frame, err := Encode(EventReceiveDelta, ReceiveDelta{Changes: json.RawMessage(`[{"rangeOffset":0,"rangeLength":0,"text":"a"}]`)})
	require.NoError(t, err)
	assert.Equal(t, `{"event":"receive_delta","data":{"changes":[{"rangeOffset":0,"rangeLength":0,"text":"a"}]}}`, string(frame))
}

func TestSelectionCollapsed(t *testing.T) {
	assert.True(t, Selection{StartLine: 2, StartCol: 5, EndLine: 2, EndCol: 5}.Collapsed(), "zero-width selection")
	assert.False(t, Selection{StartLine: 2, StartCol: 5, EndLine: 2, EndCol: 6}.Collapsed(), "one-character selection")
}
