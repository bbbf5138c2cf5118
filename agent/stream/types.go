package stream

// shellRequestMessage is a request message. Each message carries one command line to submit
// to the interpreter; messages with an empty Command are ignored.
type shellRequestMessage struct {
	Command string
}

// shellResponseMessage is a response message carrying one output chunk. IsError marks chunks
// that originated on the interpreter's stderr.
// Rejected is set instead of Output when the named command could not be handed to an
// interpreter (no process could be obtained).
type shellResponseMessage struct {
	Output  string
	IsError bool

	Rejected bool
	Command  string
}
