package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"fluxstore/internal/app"
	"fluxstore/internal/console"
	"fluxstore/internal/persist"
	boltstore "fluxstore/internal/storage/bolt"
)

var (
	consoleDevtools bool
	dumpFormat      string
)

// consoleCmd runs the interactive console
var consoleCmd = &cobra.Command{
	Use:   "console",
	Short: "Start the interactive console",
	Long: `Opens a line-oriented console on the terminal. Commands start with a
slash; type /help for the list.`,
	Args: cobra.NoArgs,
	RunE: runConsole,
}

// serveCmd runs the devtools HTTP server
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the devtools HTTP API until interrupted",
	Long: `Serves the store over HTTP:
  GET  /state, /state/{slice}   current snapshot
  GET  /history                 recent dispatches
  POST /dispatch                {"kind": "...", "payload": {...}}
  GET  /ws                      snapshot after every dispatch
  GET  /metrics                 Prometheus metrics`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

// dumpCmd prints the persisted snapshot
var dumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Print the persisted snapshot",
	Args:  cobra.NoArgs,
	RunE:  runDump,
}

// resetCmd deletes the persisted snapshot
var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Delete the persisted snapshot",
	Args:  cobra.NoArgs,
	RunE:  runReset,
}

func runConsole(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx, cancel := signalContext()
	defer cancel()

	rt, err := newRuntime(ctx, cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	if consoleDevtools {
		srv := rt.devtoolsServer()
		defer srv.Stop()
		if err := srv.Listen(); err != nil {
			return err
		}
		go func() {
			if err := srv.Serve(ctx); err != nil {
				logger.Error("devtools", "err", err)
			}
		}()
	}

	c := console.New(rt.store,
		console.WithPrompt(cfg.App.Name+"> "),
		console.WithBanner(fmt.Sprintf("%s console (%s)", cfg.App.Name, app.Summary(rt.store.State()))),
		console.WithWatch(app.Summary),
	)
	registerStoreCommands(c.Commands(), rt.recorder)
	return c.RunStdio(ctx)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Devtools.Listen == "" {
		return errors.New("devtools.listen is empty")
	}
	ctx, cancel := signalContext()
	defer cancel()

	rt, err := newRuntime(ctx, cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	srv := rt.devtoolsServer()
	defer srv.Stop()
	if err := srv.Listen(); err != nil {
		return err
	}
	logger.Info("serving devtools", "addr", srv.Addr())
	err = srv.Serve(ctx)
	logger.Info("shutting down")
	return err
}

// snapshotDump is the printed form of the persisted snapshot.
type snapshotDump struct {
	Path    string         `json:"path" yaml:"path"`
	Version uint64         `json:"version" yaml:"version"`
	Slices  map[string]any `json:"slices" yaml:"slices"`
}

func runDump(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	path := cfg.StatePath()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return fmt.Errorf("no snapshot at %s", path)
	}
	db, err := boltstore.Open(path)
	if err != nil {
		return err
	}
	defer db.Close()

	r, err := persist.Load(db, app.Codecs())
	if err != nil {
		return err
	}
	return writeDump(cmd.OutOrStdout(), dumpFormat, snapshotDump{Path: db.Path(), Version: r.Version, Slices: r.Slices})
}

func writeDump(w io.Writer, format string, d snapshotDump) error {
	var (
		out []byte
		err error
	)
	switch format {
	case "yaml", "yml":
		out, err = yaml.Marshal(d)
	case "json":
		out, err = json.MarshalIndent(d, "", "  ")
		out = append(out, '\n')
	default:
		return fmt.Errorf("unknown format %q (want yaml or json)", format)
	}
	if err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}
	_, err = w.Write(out)
	return err
}

func runReset(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	path := cfg.StatePath()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		fmt.Fprintln(cmd.OutOrStdout(), "nothing to reset")
		return nil
	}
	db, err := boltstore.Open(path)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := persist.Purge(db); err != nil {
		return fmt.Errorf("purging snapshot: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "cleared %s\n", path)
	return nil
}
