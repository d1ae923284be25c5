package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/peermeet/call-server-go/internal/negotiation"
	"github.com/peermeet/call-server-go/internal/signaling"
)

// peerprobe drives one side of a relay handshake from the command line. Two
// instances pointed at the same room, one per role, should reach a connected
// peer-to-peer session; useful for smoke-testing a deployed relay.
func main() {
	var (
		relayURL    = flag.String("relay", "http://localhost:8080/api", "base URL of the signaling API")
		roomID      = flag.String("room", "", "room identifier (required)")
		role        = flag.String("role", "host", "negotiation role: host or guest")
		timeout     = flag.Duration("timeout", 2*time.Minute, "give up if not connected within this window")
		stunServer  = flag.String("stun", "stun:stun.l.google.com:19302", "STUN server URL, empty to disable")
		sendSilence = flag.Bool("audio", true, "attach a silent audio track")
	)
	flag.Parse()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	if *roomID == "" {
		log.Fatal().Msg("-room is required")
	}

	peerRole := signaling.Role(*role)
	if !peerRole.Valid() {
		log.Fatal().Str("role", *role).Msg("role must be host or guest")
	}

	var iceServers []webrtc.ICEServer
	if *stunServer != "" {
		iceServers = append(iceServers, webrtc.ICEServer{URLs: []string{*stunServer}})
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	cfg := negotiation.Config{
		RoomID:     *roomID,
		Role:       peerRole,
		ICEServers: iceServers,
	}

	if *sendSilence {
		cfg.AttachMedia = func(pc *webrtc.PeerConnection) error {
			track, err := negotiation.NewSilentAudioTrack()
			if err != nil {
				return err
			}
			if _, err := pc.AddTrack(track); err != nil {
				return err
			}
			go negotiation.FeedSilence(ctx, track)
			return nil
		}
	}

	relay := negotiation.NewRelayClient(*relayURL)
	negotiator, err := negotiation.NewNegotiator(relay, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create negotiator")
	}
	defer negotiator.Close()

	negotiator.PeerConnection().OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		log.Info().
			Str("kind", track.Kind().String()).
			Str("codec", track.Codec().MimeType).
			Msg("remote track arrived")
	})

	log.Info().
		Str("room", *roomID).
		Str("role", string(peerRole)).
		Str("relay", *relayURL).
		Msg("starting negotiation")

	if err := negotiator.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("negotiation failed")
	}
	log.Info().Msg("remote description applied, exchanging candidates")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-quit:
			log.Info().Msg("interrupted")
			return
		case <-ctx.Done():
			log.Fatal().Str("state", string(negotiator.State())).Msg("timed out before connecting")
		case <-negotiator.Done():
			log.Info().Msg("negotiator closed")
			return
		case <-ticker.C:
			if negotiator.State() == negotiation.StateConnected {
				log.Info().Msg("peer connection established")
				ticker.Stop()
				// Stay alive until interrupted so the session can be
				// observed from the other end.
				select {
				case <-quit:
					return
				case <-negotiator.Done():
					return
				}
			}
		}
	}
}
