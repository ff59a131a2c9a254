package llm

import (
	"io"
	"strings"
)

// Markers that end the thinking part of a response, in the order they are
// looked for.
const (
	FinishMarker = "finish(message="
	DoMarker     = "do(action="
)

var actionMarkers = []string{FinishMarker, DoMarker}

// Splitter echoes the thinking part of a streamed response to a writer as it
// arrives and stops echoing once an action marker shows up. Text that could
// be the start of a marker split across chunks is held back until the next
// chunk settles it.
//
// The Splitter only decides what is safe to print. ParseResponse is what
// classifies the complete text.
type Splitter struct {
	w        io.Writer
	pending  strings.Builder
	inAction bool
}

func NewSplitter(w io.Writer) *Splitter {
	return &Splitter{w: w}
}

// InAction reports whether an action marker has been seen.
func (s *Splitter) InAction() bool {
	return s.inAction
}

// Pending returns the text that is being held back.
func (s *Splitter) Pending() string {
	return s.pending.String()
}

// Write feeds the next chunk of content. It returns true on the chunk that
// completes the first action marker. Once in the action phase, chunks are
// ignored.
func (s *Splitter) Write(chunk string) (entered bool, err error) {
	if s.inAction {
		return false, nil
	}
	s.pending.WriteString(chunk)
	buf := s.pending.String()

	// The first marker in list order wins, even if another one appears
	// earlier in the text.
	for _, marker := range actionMarkers {
		if i := strings.Index(buf, marker); i >= 0 {
			s.inAction = true
			_, err := io.WriteString(s.w, buf[:i]+"\n")
			return true, err
		}
	}

	if endsWithPartialMarker(buf) {
		return false, nil
	}
	s.pending.Reset()
	_, err = io.WriteString(s.w, buf)
	return false, err
}

// endsWithPartialMarker reports whether a suffix of buf is a proper prefix of
// any action marker.
func endsWithPartialMarker(buf string) bool {
	for _, marker := range actionMarkers {
		for i := 1; i < len(marker); i++ {
			if strings.HasSuffix(buf, marker[:i]) {
				return true
			}
		}
	}
	return false
}
