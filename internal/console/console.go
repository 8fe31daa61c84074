package console

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"fluxstore/internal/logging"
	"fluxstore/pkg/store"
)

var logger = logging.For("console")

// Console runs the read loop for one store.
type Console struct {
	st       *store.Store
	commands *CommandRegistry
	prompt   string
	banner   string
	watch    func(store.Snapshot) string
}

// Option configures a Console.
type Option func(*Console)

// WithPrompt sets the prompt (default "> ").
func WithPrompt(prompt string) Option {
	return func(c *Console) { c.prompt = prompt }
}

// WithBanner sets the text printed when the console starts.
func WithBanner(banner string) Option {
	return func(c *Console) { c.banner = banner }
}

// WithWatch prints "* " followed by summary whenever the summary of the
// current snapshot changes, including changes made outside the console.
func WithWatch(summary func(store.Snapshot) string) Option {
	return func(c *Console) { c.watch = summary }
}

// New creates a console with the builtin commands registered.
func New(st *store.Store, opts ...Option) *Console {
	c := &Console{
		st:       st,
		commands: NewCommandRegistry(),
		prompt:   "> ",
	}
	for _, opt := range opts {
		opt(c)
	}
	c.commands.RegisterBuiltins()
	return c
}

// Commands returns the registry for adding commands before Run.
func (c *Console) Commands() CommandRegistrar {
	return c.commands
}

// Run reads command lines from rw until /quit, EOF or ctx is cancelled.
// If rw is an io.Closer it is closed when ctx is cancelled so that a
// blocked read returns.
func (c *Console) Run(ctx context.Context, rw io.ReadWriter) error {
	c.commands.Freeze()
	terminal := term.NewTerminal(rw, c.prompt)

	if closer, ok := rw.(io.Closer); ok {
		stop := context.AfterFunc(ctx, func() { _ = closer.Close() })
		defer stop()
	}

	if c.watch != nil {
		_, unsubscribe := store.Bind(c.st, c.watch, store.Same[string], func(summary string) {
			_, _ = fmt.Fprintf(terminal, "* %s\n", summary)
		})
		defer unsubscribe()
	}

	if c.banner != "" {
		_, _ = fmt.Fprintln(terminal, c.banner)
	}
	_, _ = fmt.Fprintln(terminal, "Type /help for commands.")

	for {
		line, err := terminal.ReadLine()
		if err != nil {
			if err == io.EOF || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("reading input: %w", err)
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "/") {
			_, _ = fmt.Fprintln(terminal, "Commands start with / (try /help)")
			continue
		}
		logger.Debug("command", "line", line)
		if c.commands.Dispatch(ctx, line, c.st, terminal) {
			return nil
		}
	}
}

type stdio struct {
	io.Reader
	io.Writer
}

// RunStdio runs the console on the process's standard input and output,
// switching a terminal to raw mode for line editing.
func (c *Console) RunStdio(ctx context.Context) error {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		state, err := term.MakeRaw(fd)
		if err != nil {
			return fmt.Errorf("entering raw mode: %w", err)
		}
		defer func() { _ = term.Restore(fd, state) }()
	}
	return c.Run(ctx, stdio{os.Stdin, os.Stdout})
}
