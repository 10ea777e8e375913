package input

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// ErrNoInput is returned when the reader is exhausted before an answer.
var ErrNoInput = errors.New("no input")

// Prompter writes questions to w and reads answers line by line.
type Prompter struct {
	r Reader
	w io.Writer
}

// NewPrompter creates a Prompter
func NewPrompter(r Reader, w io.Writer) *Prompter {
	return &Prompter{r: r, w: w}
}

// line reads one trimmed answer. A final line without a newline is
// accepted.
func (p *Prompter) line() (string, error) {
	s, err := p.r.ReadString('\n')
	if err != nil {
		if errors.Is(err, io.EOF) && s != "" {
			return strings.TrimSpace(s), nil
		}
		if errors.Is(err, io.EOF) {
			return "", ErrNoInput
		}
		return "", err
	}
	return strings.TrimSpace(s), nil
}

// Ask returns the answer to question, or def when the answer is empty.
func (p *Prompter) Ask(question, def string) (string, error) {
	if def != "" {
		fmt.Fprintf(p.w, "%s [%s]: ", question, def)
	} else {
		fmt.Fprintf(p.w, "%s: ", question)
	}
	answer, err := p.line()
	if err != nil {
		return "", err
	}
	if answer == "" {
		return def, nil
	}
	return answer, nil
}

// Required asks until a non-empty answer is given.
func (p *Prompter) Required(question string) (string, error) {
	for {
		answer, err := p.Ask(question, "")
		if err != nil {
			return "", err
		}
		if answer != "" {
			return answer, nil
		}
		fmt.Fprintln(p.w, "A value is required.")
	}
}

// Confirm asks a yes/no question.
func (p *Prompter) Confirm(question string, def bool) (bool, error) {
	hint := "y/N"
	if def {
		hint = "Y/n"
	}
	for {
		fmt.Fprintf(p.w, "%s [%s]: ", question, hint)
		answer, err := p.line()
		if err != nil {
			return false, err
		}
		switch strings.ToLower(answer) {
		case "":
			return def, nil
		case "y", "yes":
			return true, nil
		case "n", "no":
			return false, nil
		}
		fmt.Fprintln(p.w, "Please answer y or n.")
	}
}

// Choose lists options and returns the index of the selected one. The
// answer may be the option's number or its exact text.
func (p *Prompter) Choose(question string, options []string) (int, error) {
	if len(options) == 0 {
		return -1, errors.New("no options to choose from")
	}
	for {
		fmt.Fprintln(p.w, question)
		for i, opt := range options {
			fmt.Fprintf(p.w, "  %d) %s\n", i+1, opt)
		}
		fmt.Fprint(p.w, "> ")

		answer, err := p.line()
		if err != nil {
			return -1, err
		}
		if n, err := strconv.Atoi(answer); err == nil && n >= 1 && n <= len(options) {
			return n - 1, nil
		}
		for i, opt := range options {
			if strings.EqualFold(answer, opt) {
				return i, nil
			}
		}
		fmt.Fprintf(p.w, "Invalid choice %q.\n", answer)
	}
}
