package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"go.uber.org/zap"

	"github.com/sushant-115/bonsaidb/config"
	"github.com/sushant-115/bonsaidb/core/indexmanager"
	"github.com/sushant-115/bonsaidb/pkg/logger"
	"github.com/sushant-115/bonsaidb/pkg/telemetry"
)

func loadConfig(path string) (config.Config, error) {
	if path == "" {
		cfg := config.Default()
		return cfg, cfg.Validate()
	}
	return config.Load(path)
}

func completer() *readline.PrefixCompleter {
	return readline.NewPrefixCompleter(
		readline.PcItem("put"),
		readline.PcItem("get"),
		readline.PcItem("del"),
		readline.PcItem("dump"),
		readline.PcItem("stats"),
		readline.PcItem("format"),
		readline.PcItem("alloc"),
		readline.PcItem("flush"),
		readline.PcItem("backup"),
		readline.PcItem("help"),
		readline.PcItem("exit"),
	)
}

func interactive(ctx context.Context, s *session, historyFile string) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "bonsai> ",
		HistoryFile:     historyFile,
		AutoComplete:    completer(),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("failed to start line editor: %w", err)
	}
	defer rl.Close()

	fmt.Fprintln(s.out, "Bonsai CLI (interactive mode). Type 'help' for commands, 'exit' or 'quit' to leave.")
	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			if line == "" {
				return nil
			}
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		if err := s.processCommand(ctx, fields); err != nil {
			if errors.Is(err, errQuit) {
				return nil
			}
			fmt.Fprintf(s.out, "Error: %v\n", err)
		}
	}
}

func run() error {
	configPath := flag.String("config", "", "path to a YAML configuration file")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	log, err := logger.New(cfg.Logger)
	if err != nil {
		return err
	}
	defer log.Sync()

	tel, shutdown, err := telemetry.New(cfg.Telemetry)
	if err != nil {
		return err
	}
	ctx := context.Background()
	defer func() {
		if err := shutdown(ctx); err != nil {
			log.Error("Telemetry shutdown failed", zap.Error(err))
		}
	}()

	m, err := indexmanager.NewBonsaiIndexManager(ctx, cfg, log, tel)
	if err != nil {
		return err
	}
	defer func() {
		if err := m.Close(); err != nil {
			log.Error("Failed to close database", zap.Error(err))
		}
	}()
	bag, err := indexmanager.OpenRidBag(ctx, m)
	if err != nil {
		return err
	}

	s := &session{m: m, bag: bag, out: os.Stdout}
	if args := flag.Args(); len(args) > 0 {
		if err := s.processCommand(ctx, args); err != nil && !errors.Is(err, errQuit) {
			return err
		}
		return nil
	}
	return interactive(ctx, s, filepath.Join(os.TempDir(), "bonsai_cli_history"))
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
