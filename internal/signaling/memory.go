package signaling

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

type room struct {
	offer           *Signal
	answer          *Signal
	hostCandidates  []json.RawMessage
	guestCandidates []json.RawMessage
	state           RoomState
	touchedAt       time.Time
}

// MemoryStore is the in-process Store implementation. All access goes
// through one mutex; the traffic is a single room's handshake, not a scale
// concern. Idle rooms are evicted by EvictIdle to bound memory.
type MemoryStore struct {
	mu    sync.Mutex
	rooms map[string]*room
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rooms: make(map[string]*room),
	}
}

// ensureRoom creates the room lazily on first write. Callers must hold mu.
func (s *MemoryStore) ensureRoom(roomID string) *room {
	r, ok := s.rooms[roomID]
	if !ok {
		r = &room{state: RoomStateEmpty}
		s.rooms[roomID] = r
	}
	r.touchedAt = time.Now()
	return r
}

func (s *MemoryStore) PostOffer(_ context.Context, roomID, sdp string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := s.ensureRoom(roomID)
	if r.offer != nil {
		log.Debug().Str("roomId", roomID).Msg("offer overwritten")
	}
	r.offer = &Signal{SDP: sdp, Timestamp: time.Now().UnixMilli()}
	if r.state == RoomStateEmpty {
		r.state = RoomStateOfferPosted
	}
	return nil
}

func (s *MemoryStore) PostAnswer(_ context.Context, roomID, sdp string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := s.ensureRoom(roomID)
	if r.state == RoomStateEmpty {
		log.Warn().Str("roomId", roomID).Msg("answer posted before offer")
	}
	if r.answer != nil {
		log.Debug().Str("roomId", roomID).Msg("answer overwritten")
	}
	r.answer = &Signal{SDP: sdp, Timestamp: time.Now().UnixMilli()}
	r.state = RoomStateAnswerPosted
	return nil
}

func (s *MemoryStore) GetOffer(_ context.Context, roomID string) (*Signal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rooms[roomID]
	if !ok || r.offer == nil {
		return nil, nil
	}
	r.touchedAt = time.Now()
	signal := *r.offer
	return &signal, nil
}

func (s *MemoryStore) GetAnswer(_ context.Context, roomID string) (*Signal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rooms[roomID]
	if !ok || r.answer == nil {
		return nil, nil
	}
	r.touchedAt = time.Now()
	signal := *r.answer
	return &signal, nil
}

func (s *MemoryStore) PostCandidate(_ context.Context, roomID string, candidate json.RawMessage, from Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := s.ensureRoom(roomID)
	if from == RoleHost {
		r.hostCandidates = append(r.hostCandidates, candidate)
	} else {
		r.guestCandidates = append(r.guestCandidates, candidate)
	}
	return nil
}

func (s *MemoryStore) DrainCandidates(_ context.Context, roomID string, forRole Role) ([]json.RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rooms[roomID]
	if !ok {
		return []json.RawMessage{}, nil
	}
	r.touchedAt = time.Now()

	var drained []json.RawMessage
	if forRole == RoleHost {
		drained = r.guestCandidates
		r.guestCandidates = nil
	} else {
		drained = r.hostCandidates
		r.hostCandidates = nil
	}
	if drained == nil {
		drained = []json.RawMessage{}
	}
	return drained, nil
}

func (s *MemoryStore) State(_ context.Context, roomID string) (RoomState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rooms[roomID]
	if !ok {
		return RoomStateEmpty, nil
	}
	return r.state, nil
}

func (s *MemoryStore) Exists(_ context.Context, roomID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.rooms[roomID]
	return ok, nil
}

// EvictIdle removes rooms untouched for longer than ttl and returns how many
// were dropped. Called periodically by the cleanup job.
func (s *MemoryStore) EvictIdle(ttl time.Duration) int {
	cutoff := time.Now().Add(-ttl)

	s.mu.Lock()
	defer s.mu.Unlock()

	evicted := 0
	for id, r := range s.rooms {
		if r.touchedAt.Before(cutoff) {
			delete(s.rooms, id)
			evicted++
		}
	}
	if evicted > 0 {
		log.Debug().Int("count", evicted).Msg("evicted idle signaling rooms")
	}
	return evicted
}
