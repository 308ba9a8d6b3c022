// Package prompt is the console seam for everything that asks the operator
// a question: missing credentials and backup selection.
package prompt

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/cockroachdb/errors"
	"golang.org/x/term"
)

// Provider asks the operator for input.
type Provider interface {
	// Ask prints label and returns the trimmed answer line.
	Ask(label string) (string, error)
	// AskSecret is Ask without echo when the input is a terminal.
	AskSecret(label string) (string, error)
	// Println writes an informational line to the operator.
	Println(a ...any)
}

// Console reads answers line by line from in and writes prompts to out.
type Console struct {
	in     *bufio.Reader
	out    io.Writer
	fd     int
	isTerm bool
}

// NewConsole wraps arbitrary reader/writer pairs. Secrets are read without
// echo only when in is an *os.File attached to a terminal.
func NewConsole(in io.Reader, out io.Writer) *Console {
	c := &Console{in: bufio.NewReader(in), out: out, fd: -1}
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		c.fd = int(f.Fd())
		c.isTerm = true
	}
	return c
}

// Stdio is the Console bound to the process streams.
func Stdio() *Console {
	return NewConsole(os.Stdin, os.Stdout)
}

func (c *Console) Ask(label string) (string, error) {
	fmt.Fprint(c.out, label)
	line, err := c.in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", errors.Wrap(err, "read answer")
	}
	return strings.TrimSpace(line), nil
}

func (c *Console) AskSecret(label string) (string, error) {
	if !c.isTerm {
		return c.Ask(label)
	}
	fmt.Fprint(c.out, label)
	b, err := term.ReadPassword(c.fd)
	fmt.Fprintln(c.out)
	if err != nil {
		return "", errors.Wrap(err, "read secret")
	}
	return strings.TrimSpace(string(b)), nil
}

func (c *Console) Println(a ...any) {
	fmt.Fprintln(c.out, a...)
}

// Scripted replays canned answers in order. It records every label it was
// asked and every line printed, for assertions.
type Scripted struct {
	Answers []string
	Asked   []string
	Printed []string
}

func (s *Scripted) Ask(label string) (string, error) {
	s.Asked = append(s.Asked, label)
	if len(s.Answers) == 0 {
		return "", errors.Wrap(io.EOF, "no scripted answer left")
	}
	answer := s.Answers[0]
	s.Answers = s.Answers[1:]
	return strings.TrimSpace(answer), nil
}

func (s *Scripted) AskSecret(label string) (string, error) {
	return s.Ask(label)
}

func (s *Scripted) Println(a ...any) {
	s.Printed = append(s.Printed, strings.TrimSuffix(fmt.Sprintln(a...), "\n"))
}
