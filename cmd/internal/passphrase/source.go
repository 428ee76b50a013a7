package passphrase

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"
)

// Source lazily resolves the operator keystore passphrase from an environment
// variable or by prompting on the terminal. The first result is cached.
type Source struct {
	envVar string
	lookup func(string) (string, bool)
	prompt func() (string, error)

	once  sync.Once
	value string
	err   error
}

// NewSource constructs a passphrase source that checks envVar before
// interactively prompting on stderr.
func NewSource(envVar string) *Source {
	return &Source{
		envVar: strings.TrimSpace(envVar),
		lookup: os.LookupEnv,
		prompt: func() (string, error) { return promptTerminal(os.Stdin, os.Stderr) },
	}
}

// Get returns the cached passphrase or resolves it on the first call.
// Whitespace-only passphrases are rejected.
func (s *Source) Get() (string, error) {
	s.once.Do(func() {
		if s.envVar != "" {
			if value, ok := s.lookup(s.envVar); ok {
				if strings.TrimSpace(value) == "" {
					s.err = fmt.Errorf("%s is set but empty", s.envVar)
					return
				}
				s.value = value
				return
			}
		}

		passphrase, err := s.prompt()
		if err != nil {
			if s.envVar != "" && errors.Is(err, errNoTerminal) {
				s.err = fmt.Errorf("operator keystore passphrase required; set %s or run interactively", s.envVar)
				return
			}
			s.err = err
			return
		}
		if strings.TrimSpace(passphrase) == "" {
			s.err = errors.New("operator keystore passphrase cannot be empty")
			return
		}
		s.value = passphrase
	})

	return s.value, s.err
}

var errNoTerminal = errors.New("operator keystore passphrase required and no terminal available")

func promptTerminal(in *os.File, out io.Writer) (string, error) {
	fd := int(in.Fd())
	if !term.IsTerminal(fd) {
		return "", errNoTerminal
	}
	fmt.Fprint(out, "Enter operator keystore passphrase: ")
	bytes, err := term.ReadPassword(fd)
	fmt.Fprintln(out)
	if err != nil {
		return "", fmt.Errorf("failed to read passphrase: %w", err)
	}
	return string(bytes), nil
}
