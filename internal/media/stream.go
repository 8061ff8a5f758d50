package media

import "sync"

// Track is a local media track.
type Track interface {
	ID() string
	Kind() Kind
	Enabled() bool
	SetEnabled(bool)
	Stop()
	Stopped() bool
}

// RemoteTrack is a track received from the remote peer.
type RemoteTrack interface {
	ID() string
	StreamID() string
	Kind() Kind
}

// LocalStream groups the local tracks acquired for one call.
type LocalStream struct {
	tracks []Track
}

// NewLocalStream wraps already-acquired tracks.
func NewLocalStream(tracks ...Track) *LocalStream {
	return &LocalStream{tracks: tracks}
}

// Tracks returns the tracks of the stream.
func (s *LocalStream) Tracks() []Track {
	out := make([]Track, len(s.tracks))
	copy(out, s.tracks)
	return out
}

// Live returns the number of tracks that have not been stopped.
func (s *LocalStream) Live() int {
	n := 0
	for _, t := range s.tracks {
		if !t.Stopped() {
			n++
		}
	}
	return n
}

// Toggle flips the enabled flag of every track of kind and returns the new
// value. ok is false when the stream has no track of that kind.
func (s *LocalStream) Toggle(kind Kind) (enabled, ok bool) {
	var first Track
	for _, t := range s.tracks {
		if t.Kind() == kind {
			first = t
			break
		}
	}
	if first == nil {
		return false, false
	}

	enabled = !first.Enabled()
	for _, t := range s.tracks {
		if t.Kind() == kind {
			t.SetEnabled(enabled)
		}
	}
	return enabled, true
}

// Enabled reports whether the first track of kind is enabled.
func (s *LocalStream) Enabled(kind Kind) bool {
	for _, t := range s.tracks {
		if t.Kind() == kind {
			return t.Enabled()
		}
	}
	return false
}

// Stop stops every track. Safe to call more than once.
func (s *LocalStream) Stop() {
	for _, t := range s.tracks {
		t.Stop()
	}
}

// RemoteStream collects the remote tracks received during one call.
type RemoteStream struct {
	mu     sync.RWMutex
	id     string
	tracks []RemoteTrack
}

// NewRemoteStream creates an empty remote stream handle.
func NewRemoteStream() *RemoteStream {
	return &RemoteStream{}
}

// Add records a received track.
func (r *RemoteStream) Add(t RemoteTrack) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.id == "" {
		r.id = t.StreamID()
	}
	r.tracks = append(r.tracks, t)
}

// ID returns the stream id of the first received track.
func (r *RemoteStream) ID() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.id
}

// Tracks returns the received tracks.
func (r *RemoteStream) Tracks() []RemoteTrack {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]RemoteTrack, len(r.tracks))
	copy(out, r.tracks)
	return out
}
