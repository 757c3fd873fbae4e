package rooms

import (
	"context"
	"slices"
)

// Store is the authoritative mapping of room identifier to document text.
//
// Implementations are not safe for concurrent use; callers serialize access
// through the session loop.
type Store interface {
	// Ensure returns the room's document, creating the placeholder when absent.
	Ensure(ctx context.Context, id RoomID) (string, error)
	// Get returns the room's document and whether the room exists.
	Get(ctx context.Context, id RoomID) (string, bool, error)
	// Set overwrites the room's document, creating the room when absent.
	Set(ctx context.Context, id RoomID, document string) error
	// Delete discards the room. Deleting an absent room is a no-op.
	Delete(ctx context.Context, id RoomID) error
	// IDs lists every stored room in ascending order.
	IDs(ctx context.Context) ([]RoomID, error)
}

// MemoryStore keeps documents in a process-local map.
type MemoryStore struct {
	documents map[RoomID]string
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{documents: make(map[RoomID]string)}
}

func (s *MemoryStore) Ensure(_ context.Context, id RoomID) (string, error) {
	if document, ok := s.documents[id]; ok {
		return document, nil
	}
	document := Placeholder(id)
	s.documents[id] = document
	return document, nil
}

func (s *MemoryStore) Get(_ context.Context, id RoomID) (string, bool, error) {
	document, ok := s.documents[id]
	return document, ok, nil
}

func (s *MemoryStore) Set(_ context.Context, id RoomID, document string) error {
	s.documents[id] = document
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, id RoomID) error {
	delete(s.documents, id)
	return nil
}

func (s *MemoryStore) IDs(_ context.Context) ([]RoomID, error) {
	ids := make([]RoomID, 0, len(s.documents))
	for id := range s.documents {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids, nil
}
