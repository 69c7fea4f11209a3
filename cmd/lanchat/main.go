// Command lanchat is a serverless LAN messenger: peers find each other with
// UDP broadcasts, agree on unique usernames and chat over direct TCP
// connections.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	flag "github.com/spf13/pflag"

	"github.com/peder1981/lanchat/internal/config"
	"github.com/peder1981/lanchat/internal/node"
	"github.com/peder1981/lanchat/internal/scripts"
	"github.com/peder1981/lanchat/internal/storage"
	"github.com/peder1981/lanchat/internal/ui"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "lanchat: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.StringP("config", "c", "", "path to the TOML configuration file")
	local1 := flag.Bool("local1", false, "first of two instances on one machine")
	local2 := flag.Bool("local2", false, "second of two instances on one machine")
	lineMode := flag.Bool("line", false, "use the plain line interface instead of the full screen one")
	name := flag.StringP("name", "n", "", "log in with this username at startup")
	debug := flag.BoolP("debug", "d", false, "log debug messages")
	flag.Parse()

	if *local1 && *local2 {
		return fmt.Errorf("--local1 and --local2 are exclusive")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	switch {
	case *local1:
		cfg.LocalPair(1)
	case *local2:
		cfg.LocalPair(2)
	}
	if *lineMode {
		cfg.UI.Mode = "line"
	}
	level, err := cfg.LogLevel()
	if err != nil {
		return err
	}
	if *debug {
		level = slog.LevelDebug
	}

	var (
		front  ui.Interface
		logOut io.Writer
	)
	switch cfg.UI.Mode {
	case "line":
		front = ui.NewLineUI(os.Stdin, os.Stdout)
		logOut = os.Stderr
	default:
		chatUI := ui.NewChatUI()
		logFile, err := openLogFile(cfg.Log.File)
		if err != nil {
			return err
		}
		defer logFile.Close()
		front = chatUI
		logOut = io.MultiWriter(logFile, chatUI)
	}
	front.SetDebugMode(*debug)
	logger := slog.New(slog.NewTextHandler(logOut, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	aliases, err := loadAliases(cfg.UI.AliasFile)
	if err != nil {
		logger.Warn("aliases disabled", "error", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	n, err := node.New(cfg, node.Options{Logger: logger})
	if err != nil {
		return err
	}
	sub := n.Subscribe(0)
	if err := n.Start(ctx); err != nil {
		return err
	}
	defer func() {
		if err := n.Disconnect(); err != nil {
			logger.Warn("disconnect", "error", err)
		}
	}()

	controller := ui.NewController(ctx, n, front, aliases, logger)
	go controller.Run(ctx, sub)
	go func() {
		<-ctx.Done()
		front.Stop()
	}()
	go func() {
		if err := n.Wait(); err != nil {
			logger.Error("node stopped", "error", err)
			front.Stop()
		}
	}()

	if *name != "" {
		controller.Handle("/login " + *name)
	}
	return front.Run()
}

// loadAliases returns the alias engine for path, or for the default alias
// file when path is empty. The engine is nil on error.
func loadAliases(path string) (*scripts.Engine, error) {
	if path == "" {
		var err error
		if path, err = scripts.DefaultAliasPath(); err != nil {
			return nil, err
		}
	}
	return scripts.NewEngine(path)
}

// openLogFile opens path for appending, or the default log file when path
// is empty.
func openLogFile(path string) (*os.File, error) {
	if path == "" {
		var err error
		if path, err = storage.LogFile(); err != nil {
			return nil, err
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return f, nil
}
