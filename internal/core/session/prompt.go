package session

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// TerminalPrompter reads credentials from a terminal, hiding secrets.
type TerminalPrompter struct {
	In  *os.File
	Out io.Writer

	reader *bufio.Reader
}

func NewTerminalPrompter() *TerminalPrompter {
	return &TerminalPrompter{In: os.Stdin, Out: os.Stderr}
}

func (p *TerminalPrompter) Prompt(label string, secret bool) (string, error) {
	fmt.Fprint(p.Out, label)
	fd := int(p.In.Fd())
	if secret && term.IsTerminal(fd) {
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(p.Out)
		if err != nil {
			return "", fmt.Errorf("read %s: %w", strings.TrimSpace(label), err)
		}
		return string(b), nil
	}
	if p.reader == nil {
		p.reader = bufio.NewReader(p.In)
	}
	line, err := p.reader.ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("read %s: %w", strings.TrimSpace(label), err)
	}
	return strings.TrimSpace(line), nil
}
