package broadcaster

import "sync"

// Subscriber is one live WebSocket connection's outbound handle. Send is
// intentionally never closed by the Broadcaster (only done is), so a
// concurrent Emit can never panic on a send to a closed channel.
type Subscriber struct {
	ID   string
	Send chan []byte

	done      chan struct{}
	closeOnce sync.Once
	closeConn func()
}

func newSubscriber(id string, bufferCap int, closeConn func()) *Subscriber {
	return &Subscriber{
		ID:        id,
		Send:      make(chan []byte, bufferCap),
		done:      make(chan struct{}),
		closeConn: closeConn,
	}
}

// Done returns a channel closed once this subscriber has been evicted or
// has disconnected.
func (s *Subscriber) Done() <-chan struct{} { return s.done }

// Close is idempotent: it signals done and closes the underlying connection.
func (s *Subscriber) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		if s.closeConn != nil {
			s.closeConn()
		}
	})
}
