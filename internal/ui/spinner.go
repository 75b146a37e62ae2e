package ui

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
)

// SimpleSpinner is a blocking spinner for the phases before the chat UI runs.
type SimpleSpinner struct {
	message  string
	spinner  spinner.Spinner
	interval time.Duration
	done     chan struct{}
	stopped  bool
}

// NewSpinner creates a spinner for general loading operations.
func NewSpinner(message string) *SimpleSpinner {
	return &SimpleSpinner{
		message:  message,
		spinner:  spinner.Dot,
		interval: 80 * time.Millisecond,
		done:     make(chan struct{}),
	}
}

// NewConnectionSpinner creates a spinner for network operations.
func NewConnectionSpinner(message string) *SimpleSpinner {
	return &SimpleSpinner{
		message:  message,
		spinner:  spinner.Globe,
		interval: 180 * time.Millisecond,
		done:     make(chan struct{}),
	}
}

func (s *SimpleSpinner) Start() {
	go func() {
		frames := s.spinner.Frames
		i := 0
		for {
			select {
			case <-s.done:
				return
			default:
				frame := SpinnerStyle.Render(frames[i%len(frames)])
				fmt.Printf("\r%s %s", frame, s.message)
				i++
				time.Sleep(s.interval)
			}
		}
	}()
}

func (s *SimpleSpinner) Stop() {
	if !s.stopped {
		s.stopped = true
		close(s.done)
		fmt.Print("\r\033[K") // Clear the line
	}
}

func (s *SimpleSpinner) Success(message string) {
	s.Stop()
	PrintSuccessf("%s", message)
}

func (s *SimpleSpinner) Error(message string) {
	s.Stop()
	PrintError(message)
}

// RunConnectionSpinner starts a connection spinner and returns a stop function.
func RunConnectionSpinner(message string) func() {
	sp := NewConnectionSpinner(message)
	sp.Start()
	return sp.Stop
}
