package media

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/pion/interceptor"
	"github.com/pion/logging"
	"github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"
)

// PionEngine implements Engine on top of pion/webrtc. Local tracks are
// static-sample tracks: the host application feeds encoded samples through
// SampleWriter; device capture is not part of this package.
type PionEngine struct {
	api *webrtc.API
}

// NewPionEngine builds a pion API with the default codecs and interceptors.
// debug raises pion's internal log level from warn to debug.
func NewPionEngine(debug bool) (*PionEngine, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}

	interceptorRegistry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, interceptorRegistry); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}

	loggerFactory := logging.NewDefaultLoggerFactory()
	loggerFactory.DefaultLogLevel = logging.LogLevelWarn
	if debug {
		loggerFactory.DefaultLogLevel = logging.LogLevelDebug
	}

	se := webrtc.SettingEngine{LoggerFactory: loggerFactory}

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(interceptorRegistry),
		webrtc.WithSettingEngine(se),
	)
	return &PionEngine{api: api}, nil
}

// NewConnection creates a PeerConnection and wires h to its callbacks.
func (e *PionEngine) NewConnection(iceServers []string, h Handlers) (Connection, error) {
	config := webrtc.Configuration{}
	if len(iceServers) > 0 {
		config.ICEServers = []webrtc.ICEServer{{URLs: iceServers}}
	}

	pc, err := e.api.NewPeerConnection(config)
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	c := &pionConnection{pc: pc, state: webrtc.PeerConnectionStateNew}

	pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		// A nil candidate marks the end of gathering.
		if cand == nil || h.OnICECandidate == nil {
			return
		}
		data, err := json.Marshal(cand.ToJSON())
		if err != nil {
			return
		}
		h.OnICECandidate(data)
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		if h.OnTrack != nil {
			h.OnTrack(&pionRemoteTrack{track: track})
		}
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		c.mu.Lock()
		c.state = state
		c.mu.Unlock()
		if h.OnStateChange != nil {
			h.OnStateChange(convertState(state))
		}
	})

	return c, nil
}

// AcquireLocal creates one Opus track and/or one VP8 track sharing a stream id.
func (e *PionEngine) AcquireLocal(ctx context.Context, c Constraints) (*LocalStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	streamID := "rojcall-" + uuid.NewString()
	var tracks []Track

	if c.Audio {
		t, err := newPionTrack(KindAudio, webrtc.MimeTypeOpus, streamID)
		if err != nil {
			return nil, err
		}
		tracks = append(tracks, t)
	}
	if c.Video {
		t, err := newPionTrack(KindVideo, webrtc.MimeTypeVP8, streamID)
		if err != nil {
			NewLocalStream(tracks...).Stop()
			return nil, err
		}
		tracks = append(tracks, t)
	}

	return NewLocalStream(tracks...), nil
}

// ---------------------------------------------------------------------------
// Connection
// ---------------------------------------------------------------------------

type pionConnection struct {
	pc *webrtc.PeerConnection

	mu     sync.Mutex
	state  webrtc.PeerConnectionState
	closed bool
}

func (c *pionConnection) CreateOffer() (Description, error) {
	c.ensureTransceivers()
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return nil, err
	}
	return json.Marshal(offer)
}

func (c *pionConnection) CreateAnswer() (Description, error) {
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return nil, err
	}
	return json.Marshal(answer)
}

func (c *pionConnection) SetLocalDescription(desc Description) error {
	sdp, err := decodeDescription(desc)
	if err != nil {
		return err
	}
	return c.pc.SetLocalDescription(sdp)
}

func (c *pionConnection) SetRemoteDescription(desc Description) error {
	sdp, err := decodeDescription(desc)
	if err != nil {
		return err
	}
	return c.pc.SetRemoteDescription(sdp)
}

func (c *pionConnection) RemoteDescriptionSet() bool {
	return c.pc.RemoteDescription() != nil
}

func (c *pionConnection) AddICECandidate(cand Candidate) error {
	var init webrtc.ICECandidateInit
	if err := json.Unmarshal(cand, &init); err != nil {
		return fmt.Errorf("decode ICE candidate: %w", err)
	}
	return c.pc.AddICECandidate(init)
}

func (c *pionConnection) AddLocalTrack(t Track) error {
	pt, ok := t.(*pionTrack)
	if !ok {
		return ErrForeignTrack
	}
	_, err := c.pc.AddTrack(pt.local)
	return err
}

func (c *pionConnection) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	return c.pc.Close()
}

// ensureTransceivers adds recvonly transceivers for kinds that have no local
// track so the offer always carries audio and video m-lines.
func (c *pionConnection) ensureTransceivers() {
	have := map[webrtc.RTPCodecType]bool{}
	for _, tr := range c.pc.GetTransceivers() {
		have[tr.Kind()] = true
	}
	for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeAudio, webrtc.RTPCodecTypeVideo} {
		if have[kind] {
			continue
		}
		_, _ = c.pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		})
	}
}

func decodeDescription(desc Description) (webrtc.SessionDescription, error) {
	var sdp webrtc.SessionDescription
	if err := json.Unmarshal(desc, &sdp); err != nil {
		return sdp, fmt.Errorf("decode session description: %w", err)
	}
	if sdp.SDP == "" {
		return sdp, errors.New("decode session description: empty sdp")
	}
	return sdp, nil
}

func convertState(s webrtc.PeerConnectionState) ConnState {
	switch s {
	case webrtc.PeerConnectionStateConnecting:
		return ConnConnecting
	case webrtc.PeerConnectionStateConnected:
		return ConnConnected
	case webrtc.PeerConnectionStateDisconnected:
		return ConnDisconnected
	case webrtc.PeerConnectionStateFailed:
		return ConnFailed
	case webrtc.PeerConnectionStateClosed:
		return ConnClosed
	default:
		return ConnNew
	}
}

// ---------------------------------------------------------------------------
// Tracks
// ---------------------------------------------------------------------------

// SampleWriter is implemented by local tracks that accept encoded samples.
type SampleWriter interface {
	WriteSample(pionmedia.Sample) error
}

type pionTrack struct {
	kind    Kind
	local   *webrtc.TrackLocalStaticSample
	enabled atomic.Bool
	stopped atomic.Bool
}

func newPionTrack(kind Kind, mimeType, streamID string) (*pionTrack, error) {
	local, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: mimeType},
		string(kind), streamID,
	)
	if err != nil {
		return nil, fmt.Errorf("create %s track: %w", kind, err)
	}
	t := &pionTrack{kind: kind, local: local}
	t.enabled.Store(true)
	return t, nil
}

func (t *pionTrack) ID() string         { return t.local.ID() }
func (t *pionTrack) Kind() Kind         { return t.kind }
func (t *pionTrack) Enabled() bool      { return t.enabled.Load() }
func (t *pionTrack) SetEnabled(on bool) { t.enabled.Store(on) }
func (t *pionTrack) Stop()              { t.stopped.Store(true) }
func (t *pionTrack) Stopped() bool      { return t.stopped.Load() }

// WriteSample forwards s unless the track is muted or stopped.
func (t *pionTrack) WriteSample(s pionmedia.Sample) error {
	if t.stopped.Load() {
		return ErrClosed
	}
	if !t.enabled.Load() {
		return nil
	}
	return t.local.WriteSample(s)
}

type pionRemoteTrack struct {
	track *webrtc.TrackRemote
}

func (r *pionRemoteTrack) ID() string       { return r.track.ID() }
func (r *pionRemoteTrack) StreamID() string { return r.track.StreamID() }

func (r *pionRemoteTrack) Kind() Kind {
	if r.track.Kind() == webrtc.RTPCodecTypeVideo {
		return KindVideo
	}
	return KindAudio
}
