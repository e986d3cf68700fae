// Package prompt implements the interactive side of extension installs on a
// terminal: consent confirmation, setting values and marketplace plugin
// selection.
package prompt

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/term"

	"github.com/qwenlm/qwen-ext/internal/convert"
	"github.com/qwenlm/qwen-ext/internal/extension"
	"github.com/qwenlm/qwen-ext/internal/manifest"
)

// ErrNonInteractive is returned when input is needed but none is available.
var ErrNonInteractive = errors.New("input required but not running interactively")

// Terminal asks questions on a reader/writer pair. Sensitive values are read
// without echo when the reader is a terminal.
type Terminal struct {
	mu        sync.Mutex
	in        io.Reader
	reader    *bufio.Reader
	w         io.Writer
	assumeYes bool
}

// Option configures a Terminal.
type Option func(*Terminal)

// WithAssumeYes answers every consent request with yes.
func WithAssumeYes(yes bool) Option {
	return func(t *Terminal) { t.assumeYes = yes }
}

// New returns a Terminal reading from in and writing prompts to w.
func New(in io.Reader, w io.Writer, opts ...Option) *Terminal {
	t := &Terminal{in: in, reader: bufio.NewReader(in), w: w}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// RequestConsent prints the consent summary and asks for confirmation.
func (t *Terminal) RequestConsent(_ context.Context, req extension.ConsentRequest) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	fmt.Fprintln(t.w, extension.ConsentString(req))
	if t.assumeYes {
		return true, nil
	}
	fmt.Fprint(t.w, "Do you want to continue? [Y/n]: ")
	line, err := t.readLine()
	if err != nil {
		return false, err
	}
	switch strings.ToLower(line) {
	case "", "y", "yes":
		return true, nil
	}
	return false, nil
}

// RequestSetting asks for one setting value.
func (t *Terminal) RequestSetting(_ context.Context, s manifest.ExtensionSetting) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	label := s.Name
	if s.Description != "" {
		label += " (" + s.Description + ")"
	}
	fmt.Fprintf(t.w, "%s: ", label)

	if s.Sensitive {
		if f, ok := t.in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
			secret, err := term.ReadPassword(int(f.Fd()))
			fmt.Fprintln(t.w)
			if err != nil {
				return "", fmt.Errorf("reading %s: %w", s.Name, err)
			}
			return strings.TrimSpace(string(secret)), nil
		}
	}
	return t.readLine()
}

// RequestChoicePlugin lists the plugins of m and reads a numbered choice.
func (t *Terminal) RequestChoicePlugin(_ context.Context, m *convert.Marketplace) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	names := m.PluginNames()
	if len(names) == 0 {
		return "", fmt.Errorf("marketplace %q lists no plugins", m.Name)
	}
	fmt.Fprintf(t.w, "\nSelect a plugin from %s:\n", m.Name)
	for i, name := range names {
		if desc := m.Plugin(name).Description; desc != "" {
			fmt.Fprintf(t.w, "  %d) %s - %s\n", i+1, name, desc)
		} else {
			fmt.Fprintf(t.w, "  %d) %s\n", i+1, name)
		}
	}
	fmt.Fprintf(t.w, "Enter number [1-%d]: ", len(names))

	line, err := t.readLine()
	if err != nil {
		return "", err
	}
	num, err := strconv.Atoi(line)
	if err != nil || num < 1 || num > len(names) {
		return "", fmt.Errorf("invalid selection %q: choose 1-%d", line, len(names))
	}
	return names[num-1], nil
}

func (t *Terminal) readLine() (string, error) {
	line, err := t.reader.ReadString('\n')
	if err != nil {
		if errors.Is(err, io.EOF) && line != "" {
			return strings.TrimSpace(line), nil
		}
		if errors.Is(err, io.EOF) {
			return "", ErrNonInteractive
		}
		return "", fmt.Errorf("reading input: %w", err)
	}
	return strings.TrimSpace(line), nil
}
