package main

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"fluxstore/internal/app"
	"fluxstore/internal/console"
	"fluxstore/internal/devtools"
	"fluxstore/pkg/store"
)

// registerStoreCommands adds the application commands to the console.
func registerStoreCommands(reg console.CommandRegistrar, rec *devtools.Recorder) {
	reg.Register("/list", console.Command{
		Help:    "list items",
		Handler: cmdList,
	})
	reg.Register("/add", console.Command{
		Usage:   "/add <title>",
		Help:    "add an item",
		Handler: cmdAdd,
	})
	reg.Register("/rm", console.Command{
		Usage:   "/rm <id>",
		Help:    "remove an item by id or unique id prefix",
		Handler: cmdRemove,
	})
	reg.Register("/inc", console.Command{
		Help:    "increment the counter",
		Handler: func(ctx console.CommandContext) bool { return dispatch(ctx, app.Incremented{}) },
	})
	reg.Register("/dec", console.Command{
		Help:    "decrement the counter",
		Handler: func(ctx console.CommandContext) bool { return dispatch(ctx, app.Decremented{}) },
	})
	reg.Register("/inc-async", console.Command{
		Usage:   "/inc-async [delay]",
		Help:    "increment the counter after a delay (default 1s)",
		Handler: cmdIncrementAsync,
	})
	reg.Register("/user", console.Command{
		Usage:   "/user <name> [email]",
		Help:    "log a user in",
		Handler: cmdUser,
	})
	reg.Register("/whoami", console.Command{
		Help: "show the logged in user",
		Handler: func(ctx console.CommandContext) bool {
			u := app.CurrentUser(ctx.Store.State())
			switch {
			case !u.LoggedIn():
				ctx.Printf("Nobody is logged in.\n")
			case u.Email != "":
				ctx.Printf("%s <%s>\n", u.Name, u.Email)
			default:
				ctx.Printf("%s\n", u.Name)
			}
			return false
		},
	})
	reg.Register("/logout", console.Command{
		Help:    "log the user out",
		Handler: func(ctx console.CommandContext) bool { return dispatch(ctx, app.UserCleared{}) },
	})
	reg.Register("/dispatch", console.Command{
		Usage:   "/dispatch <KIND> [json]",
		Help:    "dispatch any action by kind",
		Handler: cmdDispatch,
	})
	if rec != nil {
		reg.Register("/history", console.Command{
			Usage: "/history [n]",
			Help:  "show the last n dispatches (default 10)",
			Handler: func(ctx console.CommandContext) bool {
				return cmdHistory(ctx, rec)
			},
		})
	}
}

// dispatch sends a and reports a rejection. It never ends the console.
func dispatch(ctx console.CommandContext, a store.Action) bool {
	send(ctx, a)
	return false
}

// send dispatches a and reports whether the store accepted it.
func send(ctx console.CommandContext, a store.Action) bool {
	if _, err := ctx.Store.DispatchContext(ctx.Ctx, a); err != nil {
		ctx.Printf("Error: %v\n", err)
		return false
	}
	return true
}

func cmdList(ctx console.CommandContext) bool {
	items := app.Items(ctx.Store.State())
	if len(items) == 0 {
		ctx.Printf("No items.\n")
		return false
	}
	for _, it := range items {
		ctx.Printf("  %s  %s\n", shortID(it.ID), it.Title)
	}
	return false
}

func cmdAdd(ctx console.CommandContext) bool {
	if len(ctx.Args) == 0 {
		ctx.Printf("Usage: /add <title>\n")
		return false
	}
	a := app.AddItem(strings.Join(ctx.Args, " "))
	if send(ctx, a) {
		ctx.Printf("Added %s\n", shortID(a.Item.ID))
	}
	return false
}

func cmdRemove(ctx console.CommandContext) bool {
	if len(ctx.Args) != 1 {
		ctx.Printf("Usage: /rm <id>\n")
		return false
	}
	prefix := ctx.Args[0]
	var matches []app.Item
	for _, it := range app.Items(ctx.Store.State()) {
		if strings.HasPrefix(it.ID, prefix) {
			matches = append(matches, it)
		}
	}
	switch len(matches) {
	case 0:
		ctx.Printf("No item %q.\n", prefix)
	case 1:
		if send(ctx, app.ItemRemoved{ID: matches[0].ID}) {
			ctx.Printf("Removed %q\n", matches[0].Title)
		}
	default:
		ctx.Printf("%q matches %d items; use more of the id.\n", prefix, len(matches))
	}
	return false
}

func cmdIncrementAsync(ctx console.CommandContext) bool {
	delay := app.DefaultIncrementDelay
	if len(ctx.Args) > 0 {
		d, err := parseDelay(ctx.Args[0])
		if err != nil {
			ctx.Printf("Invalid delay %q: %v\n", ctx.Args[0], err)
			return false
		}
		delay = d
	}
	if send(ctx, app.IncrementRequested{Delay: delay}) {
		ctx.Printf("Counter will increment in %s.\n", delay)
	}
	return false
}

// parseDelay accepts a Go duration or a bare number of milliseconds.
func parseDelay(s string) (time.Duration, error) {
	if ms, err := strconv.Atoi(s); err == nil {
		if ms < 0 {
			return 0, strconv.ErrRange
		}
		return time.Duration(ms) * time.Millisecond, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, strconv.ErrRange
	}
	return d, nil
}

func cmdUser(ctx console.CommandContext) bool {
	if len(ctx.Args) == 0 || len(ctx.Args) > 2 {
		ctx.Printf("Usage: /user <name> [email]\n")
		return false
	}
	u := app.User{Name: ctx.Args[0]}
	if len(ctx.Args) == 2 {
		u.Email = ctx.Args[1]
	}
	return dispatch(ctx, app.UserLoaded{User: u})
}

func cmdDispatch(ctx console.CommandContext) bool {
	if len(ctx.Args) == 0 {
		ctx.Printf("Usage: /dispatch <KIND> [json]\n")
		return false
	}
	var payload json.RawMessage
	if len(ctx.Args) > 1 {
		payload = json.RawMessage(strings.Join(ctx.Args[1:], " "))
	}
	a, err := app.DecodeAction(ctx.Args[0], payload)
	if err != nil {
		ctx.Printf("Error: %v\n", err)
		return false
	}
	return dispatch(ctx, a)
}

func cmdHistory(ctx console.CommandContext, rec *devtools.Recorder) bool {
	n := 10
	if len(ctx.Args) > 0 {
		v, err := strconv.Atoi(ctx.Args[0])
		if err != nil || v <= 0 {
			ctx.Printf("Usage: /history [n]\n")
			return false
		}
		n = v
	}
	entries := rec.History()
	if len(entries) > n {
		entries = entries[len(entries)-n:]
	}
	if len(entries) == 0 {
		ctx.Printf("No dispatches yet.\n")
		return false
	}
	for _, e := range entries {
		status := "ok"
		switch {
		case e.Err != "":
			status = "error: " + e.Err
		case e.Dropped:
			status = "dropped"
		}
		ctx.Printf("  v%-4d %-16s %8s  %s\n", e.Version, e.Kind, e.Duration.Round(time.Microsecond), status)
	}
	return false
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
