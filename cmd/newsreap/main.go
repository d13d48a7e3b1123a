package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/caronc/go-newsreap/internal/config"
	"github.com/caronc/go-newsreap/internal/introspect"
	"github.com/caronc/go-newsreap/internal/logger"
	"github.com/caronc/go-newsreap/internal/nntpconn"
	"github.com/caronc/go-newsreap/internal/nntpmgr"
	"github.com/caronc/go-newsreap/internal/postfactory"
)

var (
	configPath string
	stageFlag  string
)

var rootCmd = &cobra.Command{
	Use:   "newsreap",
	Short: "NewsReap is a client-side NNTP posting engine",
	Long:  `A lightweight, concurrent Usenet posting engine written in Go.`,
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		os.Exit(run(args))
	},
}

func init() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "config.yaml", "Path to the configuration file")
	rootCmd.Flags().StringVarP(&stageFlag, "stage", "s", "", "Run only one stage: prepare, stage, upload, verify, or clean")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// run processes every source path given on the command line, OR-accumulating
// a non-zero exit status across failures per the CLI exit-code contract.
func run(paths []string) int {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		select {
		case <-sigChan:
			fmt.Println("\n[!] Interrupt received, shutting down gracefully...")
			cancel()
		case <-ctx.Done():
		}
	}()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	lg, err := logger.New(cfg.Log.Path, logger.ParseLevel(cfg.Log.Level), cfg.Log.IncludeStdout)
	if err != nil {
		log.Fatalf("logger error: %v", err)
	}

	mgrs := make(map[string]*nntpmgr.Manager, len(cfg.Servers))
	for _, s := range cfg.Servers {
		mgr := nntpmgr.NewManager(toServerConfig(s), cfg.Processing.Threads)
		mgr.SetLogger(lg.With(s.ID))
		mgrs[s.ID] = mgr
	}
	defer func() {
		for _, m := range mgrs {
			m.Close()
		}
	}()

	if cfg.Port != "" {
		srv := introspect.New(mgrs, lg)
		go func() {
			if err := srv.Start(":" + cfg.Port); err != nil {
				lg.Warn("introspection server stopped: %v", err)
			}
		}()
	}

	primary := mgrs[cfg.Servers[0].ID]

	status := 0
	for i, path := range paths {
		lg.Info("processing %s (%s)", path, progressLine(int64(i), int64(len(paths))))

		factory, err := postfactory.New(path, cfg.Database.Engine, primary)
		if err != nil {
			lg.Error("%s: open store: %v", path, err)
			status = 1
			continue
		}

		if err := runStages(ctx, factory, cfg); err != nil {
			lg.Error("%s: %v", path, err)
			status = 1
			continue
		}

		lg.Info("%s: done", path)
	}

	return status
}

func runStages(ctx context.Context, f *postfactory.Factory, cfg *config.Config) error {
	groups := cfg.Posting.Groups

	splitSize := cfg.Posting.MaxArticleSize
	if splitSize <= 0 {
		splitSize = 750 * 1000
	}

	switch strings.ToLower(stageFlag) {
	case "prepare":
		return f.Prepare(ctx, cfg.Posting.MaxArchiveSize)
	case "stage":
		return f.Stage(ctx, groups, splitSize, cfg.Posting.Poster, cfg.Posting.Subject)
	case "upload":
		return f.Upload(ctx, groups)
	case "verify":
		return f.Verify(ctx, groups)
	case "clean":
		return f.Clean()
	case "":
		return f.Run(ctx, groups, splitSize, cfg.Posting.Poster, cfg.Posting.Subject)
	default:
		return fmt.Errorf("unknown stage %q", stageFlag)
	}
}

func toServerConfig(s config.ServerConfig) nntpconn.ServerConfig {
	var backups []nntpconn.ServerConfig
	for _, b := range s.Backups {
		backups = append(backups, toServerConfig(b))
	}
	return nntpconn.ServerConfig{
		ID:            s.ID,
		Host:          s.Host,
		Port:          s.Port,
		Username:      s.Username,
		Password:      s.Password,
		TLS:           s.TLS,
		Compress:      s.Compress,
		JoinGroup:     s.JoinGroup,
		UseHead:       s.UseHead,
		UseBody:       s.UseBody,
		RatePerSecond: s.RatePerSecond,
		Backups:       backups,
	}
}

// progressLine renders a human-readable "n of total" position for the CLI's
// multi-path progress log line.
func progressLine(done, total int64) string {
	return fmt.Sprintf("%s of %s", humanize.Comma(done+1), humanize.Comma(total))
}
