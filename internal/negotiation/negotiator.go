package negotiation

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/peermeet/call-server-go/internal/signaling"
)

// State is the handshake progress of one peer. Transitions only move
// forward; Closed is terminal.
type State string

const (
	StateIdle           State = "idle"
	StateMediaReady     State = "media_ready"
	StateAwaitingAnswer State = "awaiting_answer"
	StateAwaitingOffer  State = "awaiting_offer"
	StateExchanging     State = "exchanging"
	StateConnected      State = "connected"
	StateClosed         State = "closed"
)

const DefaultPollInterval = 1500 * time.Millisecond

type Config struct {
	RoomID       string
	Role         signaling.Role
	PollInterval time.Duration
	ICEServers   []webrtc.ICEServer
	// AttachMedia, when set, adds local tracks before the local
	// description is created. Media must be in place first or the SDP
	// will not include it.
	AttachMedia func(pc *webrtc.PeerConnection) error
}

// Negotiator drives one side of the offer/answer handshake against the
// relay. The host role posts the offer and awaits the answer; the guest role
// is the mirror image. Once both descriptions are set, candidates flow until
// the connection reaches a terminal state.
//
// The negotiator is the only consumer of its (room, role) candidate queue;
// running two negotiators with the same role against one room loses
// candidates.
type Negotiator struct {
	relay        *RelayClient
	cfg          Config
	pollInterval time.Duration

	pc *webrtc.PeerConnection

	mu    sync.Mutex
	state State

	cancel    context.CancelFunc
	closeOnce sync.Once
	done      chan struct{}
}

func NewNegotiator(relay *RelayClient, cfg Config) (*Negotiator, error) {
	if !cfg.Role.Valid() {
		return nil, fmt.Errorf("invalid role %q", cfg.Role)
	}
	if cfg.RoomID == "" {
		return nil, fmt.Errorf("room id is required")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}

	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{
		ICEServers: cfg.ICEServers,
	})
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	return &Negotiator{
		relay:        relay,
		cfg:          cfg,
		pollInterval: cfg.PollInterval,
		pc:           pc,
		state:        StateIdle,
		done:         make(chan struct{}),
	}, nil
}

// State returns the current handshake state.
func (n *Negotiator) State() State {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state
}

// Done closes when the negotiator has shut down.
func (n *Negotiator) Done() <-chan struct{} {
	return n.done
}

// PeerConnection exposes the underlying connection for track handlers.
func (n *Negotiator) PeerConnection() *webrtc.PeerConnection {
	return n.pc
}

// Start runs the handshake until the connection is established or ctx is
// cancelled. It returns once the remote description is applied and candidate
// exchange is running; the exchange continues in the background.
func (n *Negotiator) Start(ctx context.Context) error {
	ctx, n.cancel = context.WithCancel(ctx)

	n.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		// Fire and forget: a lost candidate is recovered by later ones
		// or by the connection failing and the caller retrying.
		go n.postCandidate(ctx, c.ToJSON())
	})

	n.pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		log.Info().
			Str("roomId", n.cfg.RoomID).
			Str("role", string(n.cfg.Role)).
			Str("connectionState", state.String()).
			Msg("connection state changed")

		switch state {
		case webrtc.PeerConnectionStateConnected:
			n.setState(StateConnected)
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			n.Close()
		}
	})

	if n.cfg.AttachMedia != nil {
		if err := n.cfg.AttachMedia(n.pc); err != nil {
			return fmt.Errorf("attach media: %w", err)
		}
	}
	n.setState(StateMediaReady)

	var err error
	if n.cfg.Role == signaling.RoleHost {
		err = n.runInitiator(ctx)
	} else {
		err = n.runResponder(ctx)
	}
	if err != nil {
		return err
	}

	n.setState(StateExchanging)
	go n.exchangeCandidates(ctx)
	return nil
}

// runInitiator posts the local offer and polls until a usable answer
// arrives.
func (n *Negotiator) runInitiator(ctx context.Context) error {
	offer, err := n.pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("create offer: %w", err)
	}
	if err := n.pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("set local description: %w", err)
	}
	if err := n.relay.PostOffer(ctx, n.cfg.RoomID, offer.SDP); err != nil {
		return fmt.Errorf("post offer: %w", err)
	}
	n.setState(StateAwaitingAnswer)

	ticker := time.NewTicker(n.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			answer, err := n.relay.GetAnswer(ctx, n.cfg.RoomID)
			if err != nil {
				log.Warn().Err(err).Str("roomId", n.cfg.RoomID).Msg("answer poll failed")
				continue
			}
			if answer == nil {
				continue
			}

			// A stale or duplicate answer arrives when the connection
			// is no longer expecting one. Ignore it and keep polling.
			if n.pc.SignalingState() != webrtc.SignalingStateHaveLocalOffer {
				log.Warn().
					Str("roomId", n.cfg.RoomID).
					Str("signalingState", n.pc.SignalingState().String()).
					Msg("ignoring answer in unexpected state")
				continue
			}

			err = n.pc.SetRemoteDescription(webrtc.SessionDescription{
				Type: webrtc.SDPTypeAnswer,
				SDP:  answer.SDP,
			})
			if err != nil {
				log.Warn().Err(err).Str("roomId", n.cfg.RoomID).Msg("rejecting unusable answer")
				continue
			}
			return nil
		}
	}
}

// runResponder polls for the remote offer, applies it, and posts the answer.
func (n *Negotiator) runResponder(ctx context.Context) error {
	n.setState(StateAwaitingOffer)

	ticker := time.NewTicker(n.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			offer, err := n.relay.GetOffer(ctx, n.cfg.RoomID)
			if err != nil {
				log.Warn().Err(err).Str("roomId", n.cfg.RoomID).Msg("offer poll failed")
				continue
			}
			if offer == nil {
				continue
			}

			if n.pc.SignalingState() != webrtc.SignalingStateStable {
				log.Warn().
					Str("roomId", n.cfg.RoomID).
					Str("signalingState", n.pc.SignalingState().String()).
					Msg("ignoring offer in unexpected state")
				continue
			}

			err = n.pc.SetRemoteDescription(webrtc.SessionDescription{
				Type: webrtc.SDPTypeOffer,
				SDP:  offer.SDP,
			})
			if err != nil {
				log.Warn().Err(err).Str("roomId", n.cfg.RoomID).Msg("rejecting unusable offer")
				continue
			}

			answer, err := n.pc.CreateAnswer(nil)
			if err != nil {
				return fmt.Errorf("create answer: %w", err)
			}
			if err := n.pc.SetLocalDescription(answer); err != nil {
				return fmt.Errorf("set local description: %w", err)
			}
			if err := n.relay.PostAnswer(ctx, n.cfg.RoomID, answer.SDP); err != nil {
				return fmt.Errorf("post answer: %w", err)
			}
			return nil
		}
	}
}

// exchangeCandidates drains the peer's candidates on a fixed interval and
// applies each one. A candidate that fails to apply is logged and skipped;
// it never terminates the session.
func (n *Negotiator) exchangeCandidates(ctx context.Context) {
	ticker := time.NewTicker(n.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			candidates, err := n.relay.DrainCandidates(ctx, n.cfg.RoomID, n.cfg.Role)
			if err != nil {
				log.Warn().Err(err).Str("roomId", n.cfg.RoomID).Msg("candidate poll failed")
				continue
			}

			for _, raw := range candidates {
				var init webrtc.ICECandidateInit
				if err := json.Unmarshal(raw, &init); err != nil {
					log.Warn().Err(err).Str("roomId", n.cfg.RoomID).Msg("skipping unparseable candidate")
					continue
				}
				if err := n.pc.AddICECandidate(init); err != nil {
					log.Warn().Err(err).Str("roomId", n.cfg.RoomID).Msg("skipping unusable candidate")
				}
			}
		}
	}
}

func (n *Negotiator) postCandidate(ctx context.Context, init webrtc.ICECandidateInit) {
	data, err := json.Marshal(init)
	if err != nil {
		log.Warn().Err(err).Msg("marshal candidate")
		return
	}
	if err := n.relay.PostCandidate(ctx, n.cfg.RoomID, data, n.cfg.Role); err != nil {
		log.Warn().Err(err).Str("roomId", n.cfg.RoomID).Msg("candidate post failed")
	}
}

func (n *Negotiator) setState(s State) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.state == StateClosed {
		return
	}
	n.state = s
}

// Close tears the connection down. Safe to call more than once and from
// connection callbacks.
func (n *Negotiator) Close() {
	n.closeOnce.Do(func() {
		n.mu.Lock()
		n.state = StateClosed
		n.mu.Unlock()

		if n.cancel != nil {
			n.cancel()
		}
		if err := n.pc.Close(); err != nil {
			log.Warn().Err(err).Msg("close peer connection")
		}
		close(n.done)

		log.Info().
			Str("roomId", n.cfg.RoomID).
			Str("role", string(n.cfg.Role)).
			Msg("negotiator closed")
	})
}
