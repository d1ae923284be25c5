package negotiation

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/rs/zerolog/log"
)

const sampleInterval = 20 * time.Millisecond

// NewSilentAudioTrack returns a local opus track fed with silence. The probe
// client needs a real media section in its SDP without capturing anything
// from the host machine.
func NewSilentAudioTrack() (*webrtc.TrackLocalStaticSample, error) {
	return webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus},
		"audio",
		"peerprobe-"+uuid.NewString(),
	)
}

// FeedSilence writes empty opus frames to the track until ctx is cancelled.
func FeedSilence(ctx context.Context, track *webrtc.TrackLocalStaticSample) {
	// A two-byte frame is the smallest valid opus silence payload.
	silence := []byte{0xf8, 0xff}

	ticker := time.NewTicker(sampleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := track.WriteSample(media.Sample{
				Data:     silence,
				Duration: sampleInterval,
			})
			if err != nil {
				log.Debug().Err(err).Msg("stopping silence feed")
				return
			}
		}
	}
}
