package spinner

import (
	"fmt"
	"io"
	"sync"
	"time"
)

type Animation []rune

var (
	Breathe = Animation("▉▊▋▌▍▎▏▎▍▌▋▊▉")
	Dots1   = Animation("⣾⣽⣻⢿⡿⣟⣯⣷")
	Dots2   = Animation("⠋⠙⠹⠸⠼⠴⠦⠧⠇⠏")
)

// New returns a spinner for this animation drawing to w.
func (a Animation) New(w io.Writer) *Spinner {
	return New(w, a)
}

const frameInterval = 100 * time.Millisecond

// Spinner animates a single terminal line until stopped.
type Spinner struct {
	w        io.Writer
	frames   []rune
	interval time.Duration
	label    string
	done     chan struct{}
	stopOnce sync.Once
	mu       sync.Mutex
	wg       sync.WaitGroup
}

func New(w io.Writer, frames []rune) *Spinner {
	return &Spinner{
		w:        w,
		frames:   frames,
		interval: frameInterval,
		done:     make(chan struct{}),
	}
}

// SetLabel sets a label to show after the spinner. Set to an empty string to
// hide the label again.
func (s *Spinner) SetLabel(label string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.label = label
}

func (s *Spinner) draw(frame int) {
	s.mu.Lock()
	label := s.label
	s.mu.Unlock()
	if label != "" {
		fmt.Fprintf(s.w, "\r\033[K%s %s", string(s.frames[frame]), label)
	} else {
		fmt.Fprintf(s.w, "\r\033[K%s", string(s.frames[frame]))
	}
}

// Start draws the first frame and keeps animating until Stop is called.
func (s *Spinner) Start() {
	s.draw(0)
	ticker := time.NewTicker(s.interval)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer ticker.Stop()
		current := 0
		for {
			select {
			case <-s.done:
				fmt.Fprint(s.w, "\r\033[K")
				return
			case <-ticker.C:
				current = (current + 1) % len(s.frames)
				s.draw(current)
			}
		}
	}()
}

// Stop clears the spinner line and waits for the animation to end. It is
// safe to call more than once.
func (s *Spinner) Stop() {
	s.stopOnce.Do(func() { close(s.done) })
	s.wg.Wait()
}
