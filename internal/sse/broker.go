package sse

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	redisclient "github.com/peermeet/call-server-go/internal/redis"
)

const (
	HeartbeatInterval = 30 * time.Second
)

// Event announces signal availability in a room. It is advisory: the REST
// signaling endpoints remain the source of truth and the payload never
// carries the SDP itself, only which artifact became available.
type Event struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

const (
	EventOfferPosted     = "offer_posted"
	EventAnswerPosted    = "answer_posted"
	EventCandidatePosted = "candidate_posted"
)

type Client struct {
	RoomID string
	Events chan Event
	Done   chan struct{}
}

// Broker fans signaling events out to the SSE clients watching each room.
// Events travel through redis pubsub so every server instance sees posts
// made on any other instance.
type Broker struct {
	redis   *redisclient.Client
	clients map[string]map[*Client]bool // roomID -> set of clients
	mu      sync.RWMutex
	ctx     context.Context
	cancel  context.CancelFunc
}

func NewBroker(redisClient *redisclient.Client) *Broker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Broker{
		redis:   redisClient,
		clients: make(map[string]map[*Client]bool),
		ctx:     ctx,
		cancel:  cancel,
	}
}

func (b *Broker) Subscribe(roomID string) *Client {
	client := &Client{
		RoomID: roomID,
		Events: make(chan Event, 100),
		Done:   make(chan struct{}),
	}

	b.mu.Lock()
	if b.clients[roomID] == nil {
		b.clients[roomID] = make(map[*Client]bool)
		go b.subscribeToRedis(roomID)
	}
	b.clients[roomID][client] = true
	clientCount := len(b.clients[roomID])
	b.mu.Unlock()

	log.Info().
		Str("roomId", roomID).
		Int("clientCount", clientCount).
		Msg("sse client subscribed")

	return client
}

func (b *Broker) Unsubscribe(client *Client) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if clients, ok := b.clients[client.RoomID]; ok {
		delete(clients, client)
		close(client.Done)

		if len(clients) == 0 {
			delete(b.clients, client.RoomID)
		}

		log.Info().
			Str("roomId", client.RoomID).
			Int("clientCount", len(clients)).
			Msg("sse client unsubscribed")
	}
}

func (b *Broker) Publish(ctx context.Context, roomID string, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	channel := redisclient.RoomChannel(roomID)
	return b.redis.Publish(ctx, channel, data).Err()
}

func (b *Broker) subscribeToRedis(roomID string) {
	channel := redisclient.RoomChannel(roomID)
	pubsub := b.redis.Subscribe(b.ctx, channel)
	defer pubsub.Close()

	log.Debug().
		Str("roomId", roomID).
		Str("channel", channel).
		Msg("redis pubsub subscribed")

	ch := pubsub.Channel()

	for {
		select {
		case <-b.ctx.Done():
			return

		case msg, ok := <-ch:
			if !ok {
				return
			}

			var event Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				log.Error().Err(err).Msg("failed to unmarshal event")
				continue
			}

			b.broadcast(roomID, event)
		}
	}
}

func (b *Broker) broadcast(roomID string, event Event) {
	b.mu.RLock()
	clients := b.clients[roomID]
	b.mu.RUnlock()

	for client := range clients {
		select {
		case client.Events <- event:
		default:
			log.Warn().
				Str("roomId", roomID).
				Msg("client event buffer full, dropping event")
		}
	}
}

func (b *Broker) Close() {
	b.cancel()

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, clients := range b.clients {
		for client := range clients {
			close(client.Done)
		}
	}
	b.clients = make(map[string]map[*Client]bool)
}

func (b *Broker) ClientCount(roomID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients[roomID])
}

func (b *Broker) TotalClients() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	total := 0
	for _, clients := range b.clients {
		total += len(clients)
	}
	return total
}
