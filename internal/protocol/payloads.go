package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/MarcoPoloResearchLab/tandem/internal/patch"
)

// JoinRoom is the join_room payload. A bare JSON string is read as the room id.
type JoinRoom struct {
	RoomID      string `json:"roomId"`
	DisplayName string `json:"displayName"`
}

func (payload *JoinRoom) UnmarshalJSON(data []byte) error {
	if roomID, ok := bareString(data); ok {
		*payload = JoinRoom{RoomID: roomID}
		return nil
	}
	type plain JoinRoom
	var decoded plain
	if err := json.Unmarshal(data, &decoded); err != nil {
		return err
	}
	*payload = JoinRoom(decoded)
	return nil
}

// RequestFullSync is the request_full_sync payload. A bare JSON string is read as the room id.
type RequestFullSync struct {
	RoomID string `json:"roomId"`
}

func (payload *RequestFullSync) UnmarshalJSON(data []byte) error {
	if roomID, ok := bareString(data); ok {
		*payload = RequestFullSync{RoomID: roomID}
		return nil
	}
	type plain RequestFullSync
	var decoded plain
	if err := json.Unmarshal(data, &decoded); err != nil {
		return err
	}
	*payload = RequestFullSync(decoded)
	return nil
}

// CodeDelta is the code_delta payload. Changes stays raw so it can be relayed verbatim.
type CodeDelta struct {
	RoomID  string          `json:"roomId"`
	Changes json.RawMessage `json:"changes"`
}

type wireEdit struct {
	RangeOffset     int     `json:"rangeOffset"`
	RangeLength     int     `json:"rangeLength"`
	Text            *string `json:"text"`
	ReplacementText *string `json:"replacementText"`
}

// Edits decodes the batch. Each change may name its replacement "text" or "replacementText".
func (payload CodeDelta) Edits() ([]patch.Edit, error) {
	if len(payload.Changes) == 0 {
		return nil, nil
	}
	var changes []wireEdit
	if err := json.Unmarshal(payload.Changes, &changes); err != nil {
		return nil, fmt.Errorf("%w: changes: %v", ErrMalformedPayload, err)
	}
	edits := make([]patch.Edit, 0, len(changes))
	for _, change := range changes {
		edit := patch.Edit{RangeOffset: change.RangeOffset, RangeLength: change.RangeLength}
		switch {
		case change.Text != nil:
			edit.Text = *change.Text
		case change.ReplacementText != nil:
			edit.Text = *change.ReplacementText
		}
		edits = append(edits, edit)
	}
	return edits, nil
}

// CursorMove is the cursor_move payload. Position is relayed as sent.
type CursorMove struct {
	RoomID   string          `json:"roomId"`
	Position json.RawMessage `json:"position"`
}

// Selection is a line/column range inside the document.
type Selection struct {
	StartLine int `json:"startLine"`
	StartCol  int `json:"startCol"`
	EndLine   int `json:"endLine"`
	EndCol    int `json:"endCol"`
}

// Collapsed reports whether the selection has zero width.
func (selection Selection) Collapsed() bool {
	return selection.StartLine == selection.EndLine && selection.StartCol == selection.EndCol
}

// SelectionChange is the selection_change payload.
type SelectionChange struct {
	RoomID    string     `json:"roomId"`
	Selection *Selection `json:"selection"`
}

// NewUserJoined announces a participant to the rest of its room.
type NewUserJoined struct {
	ConnectionID string `json:"connectionId"`
	DisplayName  string `json:"displayName"`
	Color        string `json:"color"`
}

// ReceiveDelta relays an edit batch to the rest of the room.
type ReceiveDelta struct {
	Changes json.RawMessage `json:"changes"`
}

// ReceiveCursor relays a cursor position enriched with the sender's identity.
type ReceiveCursor struct {
	ConnectionID string          `json:"connectionId"`
	Position     json.RawMessage `json:"position"`
	Color        string          `json:"color"`
	DisplayName  string          `json:"displayName"`
}

// ReceiveSelection relays a selection. A nil Selection with Cleared set means
// the sender no longer selects anything.
type ReceiveSelection struct {
	ConnectionID string     `json:"connectionId"`
	Selection    *Selection `json:"selection"`
	Cleared      bool       `json:"cleared"`
	Color        string     `json:"color"`
	DisplayName  string     `json:"displayName"`
}

func bareString(data []byte) (string, bool) {
	var value string
	if err := json.Unmarshal(data, &value); err != nil {
		return "", false
	}
	return value, true
}
