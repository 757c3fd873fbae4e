package roster

import (
	"math/rand/v2"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/tandem/internal/rooms"
)

const (
	fallbackNamePrefix = "User-"
	fallbackNameLength = 5
)

// Palette lists the colors a participant can be assigned.
var Palette = []string{"#4ade80", "#60a5fa", "#f472b6", "#fb923c", "#a78bfa", "#34d399"}

// Participant describes one live connection inside a room.
type Participant struct {
	ConnectionID string
	DisplayName  string
	Color        string
	RoomID       rooms.RoomID
	JoinedAt     time.Time
}

// Config describes optional dependencies of a Roster.
type Config struct {
	// Pick returns an index in [0, n). Defaults to math/rand/v2.IntN.
	Pick  func(n int) int
	Clock func() time.Time
}

// Roster maps connection identifiers to participants.
//
// A Roster is not safe for concurrent use; the session loop owns it.
type Roster struct {
	participants map[string]*Participant
	order        []string
	pick         func(n int) int
	clock        func() time.Time
}

// New constructs an empty Roster.
func New(cfg Config) *Roster {
	pick := cfg.Pick
	if pick == nil {
		pick = rand.IntN
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Roster{
		participants: make(map[string]*Participant),
		pick:         pick,
		clock:        clock,
	}
}

// Register records connectionID as a member of roomID with a freshly picked
// color. A connection registered again is replaced and moves to the end of
// the join order.
func (r *Roster) Register(connectionID string, roomID rooms.RoomID, displayName string) Participant {
	r.Remove(connectionID)

	participant := &Participant{
		ConnectionID: connectionID,
		DisplayName:  resolveDisplayName(connectionID, displayName),
		Color:        Palette[r.pick(len(Palette))],
		RoomID:       roomID,
		JoinedAt:     r.clock().UTC(),
	}
	r.participants[connectionID] = participant
	r.order = append(r.order, connectionID)
	return *participant
}

// Get returns the participant registered for connectionID.
func (r *Roster) Get(connectionID string) (Participant, bool) {
	participant, ok := r.participants[connectionID]
	if !ok {
		return Participant{}, false
	}
	return *participant, true
}

// ListInRoom returns the members of roomID in join order.
func (r *Roster) ListInRoom(roomID rooms.RoomID) []Participant {
	var members []Participant
	for _, connectionID := range r.order {
		participant := r.participants[connectionID]
		if participant.RoomID == roomID {
			members = append(members, *participant)
		}
	}
	return members
}

// CountInRoom reports how many participants are registered in roomID.
func (r *Roster) CountInRoom(roomID rooms.RoomID) int {
	count := 0
	for _, participant := range r.participants {
		if participant.RoomID == roomID {
			count++
		}
	}
	return count
}

// Len reports the number of registered participants.
func (r *Roster) Len() int {
	return len(r.participants)
}

// Remove deletes the participant for connectionID and returns the removed record.
func (r *Roster) Remove(connectionID string) (Participant, bool) {
	participant, ok := r.participants[connectionID]
	if !ok {
		return Participant{}, false
	}
	delete(r.participants, connectionID)
	for index, candidate := range r.order {
		if candidate == connectionID {
			r.order = append(r.order[:index], r.order[index+1:]...)
			break
		}
	}
	return *participant, true
}

func resolveDisplayName(connectionID, displayName string) string {
	if trimmed := strings.TrimSpace(displayName); trimmed != "" {
		return trimmed
	}
	suffix := connectionID
	if len(suffix) > fallbackNameLength {
		suffix = suffix[:fallbackNameLength]
	}
	return fallbackNamePrefix + suffix
}
