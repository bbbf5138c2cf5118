package shell

// Chunk is one unit of forwarded interpreter output, tagged with its origin stream.
type Chunk struct {
	Text   string
	Stderr bool
}

// Sink consumes output chunks produced by a Session. Send is fire-and-forget: the session
// does not wait on delivery, and a Sink must not block the calling drain loop for long.
// Chunks from the same stream direction arrive in generation order; no ordering is
// guaranteed between stdout and stderr chunks.
type Sink interface {
	Send(Chunk)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(Chunk)

func (f SinkFunc) Send(c Chunk) { f(c) }
