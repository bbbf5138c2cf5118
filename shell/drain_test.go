package shell

import (
	"errors"
	"io"
	"io/fs"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewlineSegmentation(t *testing.T) {
	rec := &recorder{}
	s := NewSession(rec)
	defer s.Dispose()

	// Both lines usually land in a single pipe read; the drain loop must still cut the
	// buffer at each newline.
	require.True(t, s.ExecuteCommand(`printf 'one\ntwo\n'`))

	rec.waitFor(t, "first line", hasText("one\n"))
	rec.waitFor(t, "second line", hasText("two\n"))

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, rec.count(hasText("one\n")))
	assert.Equal(t, 1, rec.count(hasText("two\n")))

	// Same-direction chunks preserve generation order.
	var first, second int
	for i, c := range rec.snapshot() {
		switch c.Text {
		case "one\n":
			first = i
		case "two\n":
			second = i
		}
	}
	assert.Less(t, first, second)
}

func TestInterleavedStreams(t *testing.T) {
	rec := &recorder{}
	s := NewSession(rec)
	defer s.Dispose()

	require.True(t, s.ExecuteCommand("printf out; printf err 1>&2"))

	outC := rec.waitFor(t, "stdout chunk", hasText("out"))
	errC := rec.waitFor(t, "stderr chunk", hasText("err"))
	assert.False(t, outC.Stderr)
	assert.True(t, errC.Stderr)
}

func TestBenignClosureClassification(t *testing.T) {
	assert.True(t, benignClosure(io.EOF))
	assert.True(t, benignClosure(fs.ErrClosed))
	assert.True(t, benignClosure(io.ErrClosedPipe))
	assert.False(t, benignClosure(errors.New("short read")))
}
