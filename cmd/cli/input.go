package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// readPassword is a test seam for term.ReadPassword.
var readPassword = term.ReadPassword

var errMismatch = errors.New("passphrases do not match")

// prompter reads secrets from a terminal without echo, or line by line from
// a pipe.
type prompter struct {
	in io.Reader
	r  *bufio.Reader
	w  io.Writer
}

func newPrompter(in io.Reader, w io.Writer) *prompter {
	return &prompter{in: in, r: bufio.NewReader(in), w: w}
}

func (p *prompter) secret(label string) (string, error) {
	if _, err := fmt.Fprint(p.w, label+": "); err != nil {
		return "", err
	}
	if f, ok := p.in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		b, err := readPassword(int(f.Fd()))
		fmt.Fprintln(p.w)
		if err != nil {
			return "", err
		}
		return string(b), nil
	}
	line, err := p.r.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", fmt.Errorf("read %s: %w", strings.ToLower(label), err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// newSecret asks twice and insists both answers match.
func (p *prompter) newSecret(label string) (string, error) {
	a, err := p.secret(label)
	if err != nil {
		return "", err
	}
	if a == "" {
		return "", errors.New("empty passphrase")
	}
	b, err := p.secret("Repeat " + strings.ToLower(label))
	if err != nil {
		return "", err
	}
	if a != b {
		return "", errMismatch
	}
	return a, nil
}
