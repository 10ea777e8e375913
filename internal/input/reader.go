package input

import (
	"bufio"
	"io"
	"os"
	"strings"
	"sync"
)

// Reader is the line source a Prompter reads answers from
type Reader interface {
	ReadString(delim byte) (string, error)
}

// NewReader buffers r for line reads
func NewReader(r io.Reader) Reader {
	return bufio.NewReader(r)
}

// lazyStdin defers buffering os.Stdin until the first read, so commands
// that never prompt leave stdin untouched
type lazyStdin struct {
	once sync.Once
	r    Reader
}

// NewStdinReader returns a Reader over os.Stdin
func NewStdinReader() Reader {
	return &lazyStdin{}
}

func (l *lazyStdin) ReadString(delim byte) (string, error) {
	l.once.Do(func() { l.r = NewReader(os.Stdin) })
	return l.r.ReadString(delim)
}

// Script is a Reader that replays canned answers, one per read. Answers
// without a trailing newline get one.
type Script struct {
	answers []string
	next    int
}

// NewScript returns a Script that yields answers in order, then io.EOF
func NewScript(answers ...string) *Script {
	return &Script{answers: answers}
}

func (s *Script) ReadString(delim byte) (string, error) {
	if s.next >= len(s.answers) {
		return "", io.EOF
	}
	a := s.answers[s.next]
	s.next++
	if !strings.HasSuffix(a, string(delim)) {
		a += string(delim)
	}
	return a, nil
}

// Remaining reports how many answers have not been read
func (s *Script) Remaining() int {
	return len(s.answers) - s.next
}
