package media

import (
	"sync"

	"github.com/pion/mediadevices"
)

// Capture owns the microphone stream for the lifetime of a call.
type Capture struct {
	stream mediadevices.MediaStream
	once   sync.Once
}

// Stop releases every capture track. Safe to call more than once.
func (c *Capture) Stop() {
	c.once.Do(func() {
		for _, track := range c.stream.GetTracks() {
			track.Close()
		}
	})
}
