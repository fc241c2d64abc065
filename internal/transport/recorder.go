package transport

import (
	"context"
	"sync"
)

// Sent is one message captured by a Recorder.
type Sent struct {
	Text        string
	Destination string
}

// Recorder is an in-memory Sender. Destinations listed in Fail get the
// configured error instead of being recorded.
type Recorder struct {
	mu   sync.Mutex
	sent []Sent
	Fail map[string]error
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{Fail: map[string]error{}}
}

// Send records the message.
func (r *Recorder) Send(_ context.Context, text, destination string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err, ok := r.Fail[destination]; ok {
		return err
	}
	r.sent = append(r.sent, Sent{Text: text, Destination: destination})
	return nil
}

// Messages returns a copy of everything sent so far.
func (r *Recorder) Messages() []Sent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Sent, len(r.sent))
	copy(out, r.sent)
	return out
}

// To returns the texts sent to one destination, in order.
func (r *Recorder) To(destination string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, s := range r.sent {
		if s.Destination == destination {
			out = append(out, s.Text)
		}
	}
	return out
}

// Reset forgets recorded messages.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = nil
}
