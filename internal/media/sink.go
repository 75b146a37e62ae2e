package media

import (
	"sync"

	pion "github.com/pion/webrtc/v4"
)

// sink consumes one remote audio track. Reading must keep up even when the
// samples are not rendered anywhere, otherwise the receiver stalls and RTCP
// reports stop flowing.
type sink struct {
	track *pion.TrackRemote
	done  chan struct{}
	once  sync.Once
}

func newSink(track *pion.TrackRemote) *sink {
	s := &sink{
		track: track,
		done:  make(chan struct{}),
	}
	go s.drain()
	return s
}

func (s *sink) drain() {
	buf := make([]byte, 1500)
	for {
		select {
		case <-s.done:
			return
		default:
		}

		if _, _, err := s.track.Read(buf); err != nil {
			return
		}
	}
}

func (s *sink) Stop() {
	s.once.Do(func() {
		close(s.done)
	})
}
