package llm

import "sync"

// Stream delivers model output chunk by chunk.
type Stream interface {
	// Next advances to the next chunk, returning false when the stream ends.
	Next() bool
	// Current returns the chunk Next advanced to.
	Current() Chunk
	// Err returns the terminal error, if any, once Next has returned false.
	Err() error
	// Close releases the stream. Safe to call more than once.
	Close() error
}

// ChunkStream is a channel-backed Stream fed by a producer goroutine.
// Providers pump SDK events into it; tests script it directly.
type ChunkStream struct {
	ch   chan Chunk
	done chan struct{}

	sendOnce  sync.Once
	closeOnce sync.Once

	cur Chunk

	mu  sync.Mutex
	err error
}

// NewChunkStream creates a stream with the given channel buffer.
func NewChunkStream(buffer int) *ChunkStream {
	return &ChunkStream{
		ch:   make(chan Chunk, buffer),
		done: make(chan struct{}),
	}
}

// Send delivers a chunk to the consumer. It returns false once the consumer
// has closed the stream, at which point the producer should stop.
func (s *ChunkStream) Send(c Chunk) bool {
	select {
	case s.ch <- c:
		return true
	case <-s.done:
		return false
	}
}

// Fail records err as the stream's terminal error and ends the stream.
func (s *ChunkStream) Fail(err error) {
	s.mu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.mu.Unlock()
	s.CloseSend()
}

// CloseSend marks the producer side finished. After all buffered chunks are
// consumed, Next returns false.
func (s *ChunkStream) CloseSend() {
	s.sendOnce.Do(func() { close(s.ch) })
}

func (s *ChunkStream) Next() bool {
	c, ok := <-s.ch
	if !ok {
		return false
	}
	s.cur = c
	return true
}

func (s *ChunkStream) Current() Chunk {
	return s.cur
}

func (s *ChunkStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *ChunkStream) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	return nil
}
