// Package console is an interactive line-oriented front end to a store.
package console

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/term"

	"fluxstore/pkg/store"
)

// CommandContext holds the state available to command handlers.
type CommandContext struct {
	Ctx      context.Context
	Store    *store.Store
	Terminal *term.Terminal
	Args     []string
}

// Printf writes to the terminal.
func (c CommandContext) Printf(format string, args ...any) {
	_, _ = fmt.Fprintf(c.Terminal, format, args...)
}

// CommandHandler processes a console command. Returns true if the console
// should exit (e.g., /quit).
type CommandHandler func(ctx CommandContext) bool

// Command describes a registered console command.
type Command struct {
	Usage   string // full usage for help (e.g., "/add <title>"); defaults to command name
	Help    string
	Handler CommandHandler
}

// CommandRegistrar is the interface for registering commands before the
// console starts.
type CommandRegistrar interface {
	Register(name string, cmd Command)
	RegisterBuiltins()
}

// CommandRegistry maps command names to handlers and produces dynamic help.
// It is safe for concurrent use. Once frozen, no new commands can be
// registered.
type CommandRegistry struct {
	mu       sync.RWMutex
	commands map[string]Command
	order    []string // insertion order for stable help output
	frozen   bool
}

// NewCommandRegistry creates an empty registry.
func NewCommandRegistry() *CommandRegistry {
	return &CommandRegistry{
		commands: make(map[string]Command),
	}
}

// Register adds a command to the registry. The name should include the
// leading slash. Registering the same name twice overwrites the previous
// entry. Panics if cmd.Handler is nil or if the registry is frozen.
func (r *CommandRegistry) Register(name string, cmd Command) {
	if cmd.Handler == nil {
		panic("console: Register called with nil handler for " + name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		panic("console: Register called on frozen registry for " + name)
	}
	if _, exists := r.commands[name]; !exists {
		r.order = append(r.order, name)
	}
	r.commands[name] = cmd
}

// Freeze prevents further command registration.
func (r *CommandRegistry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true
}

// Dispatch parses a command line and calls the matching handler.
// Returns true if the console should exit.
func (r *CommandRegistry) Dispatch(ctx context.Context, line string, st *store.Store, terminal *term.Terminal) bool {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return false
	}
	name := parts[0]

	r.mu.RLock()
	cmd, ok := r.commands[name]
	r.mu.RUnlock()

	if !ok {
		_, _ = fmt.Fprintf(terminal, "Unknown command: %s (try /help)\n", name)
		return false
	}

	return cmd.Handler(CommandContext{
		Ctx:      ctx,
		Store:    st,
		Terminal: terminal,
		Args:     parts[1:],
	})
}

// HelpText returns a formatted help string listing all registered commands
// in registration order.
func (r *CommandRegistry) HelpText() string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var b strings.Builder
	b.WriteString("Commands:\n")
	for _, name := range r.order {
		cmd := r.commands[name]
		display := name
		if cmd.Usage != "" {
			display = cmd.Usage
		}
		_, _ = fmt.Fprintf(&b, "  %-20s %s\n", display, cmd.Help)
	}
	return b.String()
}

// RegisterBuiltins registers /help, /quit and /state.
func (r *CommandRegistry) RegisterBuiltins() {
	r.Register("/help", Command{
		Help: "show this help",
		Handler: func(ctx CommandContext) bool {
			ctx.Printf("%s", r.HelpText())
			return false
		},
	})

	r.Register("/quit", Command{
		Help: "leave the console",
		Handler: func(ctx CommandContext) bool {
			ctx.Printf("Goodbye.\n")
			return true
		},
	})

	r.Register("/state", Command{
		Usage: "/state [slice]",
		Help:  "print the current snapshot or one slice",
		Handler: func(ctx CommandContext) bool {
			sn := ctx.Store.State()
			var v any = sn.Map()
			if len(ctx.Args) > 0 {
				slice, ok := sn.Get(ctx.Args[0])
				if !ok {
					ctx.Printf("No slice %q. Slices: %s\n", ctx.Args[0], strings.Join(sn.Names(), ", "))
					return false
				}
				v = slice
			}
			out, err := json.MarshalIndent(v, "", "  ")
			if err != nil {
				ctx.Printf("Error: %v\n", err)
				return false
			}
			ctx.Printf("version %d\n%s\n", sn.Version(), out)
			return false
		},
	})
}
