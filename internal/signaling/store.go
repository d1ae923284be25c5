package signaling

import (
	"context"
	"encoding/json"
)

// Role identifies which side of the handshake a peer plays.
type Role string

const (
	RoleHost  Role = "host"
	RoleGuest Role = "guest"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleHost || r == RoleGuest
}

// Other returns the opposite role. A host consumes guest-originated
// candidates and vice versa.
func (r Role) Other() Role {
	if r == RoleHost {
		return RoleGuest
	}
	return RoleHost
}

// Signal is one half of the offer/answer exchange. The SDP is relayed
// verbatim; the store never inspects it.
type Signal struct {
	SDP       string `json:"sdp"`
	Timestamp int64  `json:"timestamp"`
}

// RoomState is the explicit handshake progress tag for a room, advanced on
// writes. It makes out-of-order posts observable instead of silent.
type RoomState string

const (
	RoomStateEmpty        RoomState = "empty"
	RoomStateOfferPosted  RoomState = "offer_posted"
	RoomStateAnswerPosted RoomState = "answer_posted"
)

// Store is the per-room signaling mailbox: at most one live offer, one live
// answer, and one candidate queue per role. Rooms are created implicitly on
// first write and evicted after a TTL.
//
// Offer/answer posts are last-writer-wins; by protocol only one role ever
// writes each field. Candidate queues are drained destructively so each
// candidate is delivered at most once to a consumer role; the design assumes
// exactly one consumer per (room, role) pair at a time.
type Store interface {
	PostOffer(ctx context.Context, roomID, sdp string) error
	PostAnswer(ctx context.Context, roomID, sdp string) error
	// GetOffer and GetAnswer are pure reads; they return nil when the
	// signal is not yet present.
	GetOffer(ctx context.Context, roomID string) (*Signal, error)
	GetAnswer(ctx context.Context, roomID string) (*Signal, error)
	// PostCandidate appends an opaque candidate to the queue owned by from.
	PostCandidate(ctx context.Context, roomID string, candidate json.RawMessage, from Role) error
	// DrainCandidates returns and empties the queue belonging to the role
	// opposite forRole.
	DrainCandidates(ctx context.Context, roomID string, forRole Role) ([]json.RawMessage, error)
	// State returns the room's handshake progress tag; RoomStateEmpty for
	// unknown rooms.
	State(ctx context.Context, roomID string) (RoomState, error)
	// Exists reports whether any prior post created the room.
	Exists(ctx context.Context, roomID string) (bool, error)
}
