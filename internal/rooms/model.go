package rooms

import (
	"errors"
	"fmt"
)

const placeholderPrefix = "// Welcome to "

var (
	// ErrInvalidRoomID indicates that a room identifier is empty.
	ErrInvalidRoomID = errors.New("rooms: invalid room id")
)

// RoomID is an opaque, client-supplied room identifier. Any non-empty string
// is valid and is kept byte for byte, whitespace and length included.
type RoomID string

// NewRoomID rejects the empty string and returns raw input unchanged otherwise.
func NewRoomID(rawInput string) (RoomID, error) {
	if rawInput == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidRoomID)
	}
	return RoomID(rawInput), nil
}

// String returns the underlying string identifier.
func (id RoomID) String() string {
	return string(id)
}

// Placeholder returns the document a room starts with.
func Placeholder(id RoomID) string {
	return placeholderPrefix + id.String()
}

// RoomDocument stores the current text of a room.
type RoomDocument struct {
	RoomID    string `gorm:"column:room_id;primaryKey;type:text;not null"`
	Document  string `gorm:"column:document;type:text;not null"`
	UpdatedAt int64  `gorm:"column:updated_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (RoomDocument) TableName() string {
	return "room_documents"
}

// StoreError carries a stable "<operation>.<reason>" code for a failed store call.
type StoreError struct {
	code string
	err  error
}

func (e *StoreError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *StoreError) Unwrap() error {
	return e.err
}

func (e *StoreError) Code() string {
	return e.code
}

func newStoreError(operation, reason string, cause error) error {
	return &StoreError{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}
