package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"rubricsync/internal/authclient"
	"rubricsync/internal/browser"
	"rubricsync/internal/config"
	"rubricsync/internal/decision"
	"rubricsync/internal/dom"
	"rubricsync/internal/extract"
	"rubricsync/internal/logging"
	"rubricsync/internal/overlay"
	"rubricsync/internal/pipeline"
	"rubricsync/internal/rubric"
	"rubricsync/internal/submission"
)

var (
	verbose   bool
	workspace string

	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "rubricsync",
	Short: "Rubric synchronization engine for browser-based grading",
	Long: `rubricsync reads the scoring rubric out of an open grading tab,
sends it with the submitted source files to the decision service, and
applies the streamed decisions back onto the page as reviewable
suggestions.

It attaches to a running Chrome via its debugger URL so the grader's
logged-in session is reused.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return logging.Initialize(workspace)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
		logging.CloseAll()
	},
}

var gradeCmd = &cobra.Command{
	Use:   "grade",
	Short: "Grade the submission in the open grading tab",
	Long: `Finds the open grading tab, extracts its rubric, posts it with the
submission's files to the decision service and applies the streamed
decisions as suggestion overlays.`,
	RunE: runGrade,
}

var detectCmd = &cobra.Command{
	Use:   "detect",
	Short: "Report which rubric layout the open tab is showing",
	RunE:  runDetect,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose logging")
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", ".", "workspace directory")
	rootCmd.AddCommand(gradeCmd)
	rootCmd.AddCommand(detectCmd)
}

func loadConfig() (*config.Config, error) {
	return config.Load(filepath.Join(workspace, ".rubricsync", "config.yaml"))
}

func attach(ctx context.Context, cfg *config.Config) (*browser.Manager, *attachResult, error) {
	if cfg.Host.BaseURL == "" {
		return nil, nil, fmt.Errorf("host.base_url is not configured")
	}

	mgr := browser.NewManager(cfg.Browser)
	page, tabURL, err := mgr.FindTab(ctx, cfg.Host.BaseURL)
	if err != nil {
		mgr.Shutdown()
		return nil, nil, err
	}
	return mgr, &attachResult{page: page, tabURL: tabURL}, nil
}

type attachResult struct {
	page   dom.Page
	tabURL string
}

func runGrade(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	mgr, att, err := attach(ctx, cfg)
	if err != nil {
		return err
	}
	defer mgr.Shutdown()

	identity, err := ParseIdentity(att.tabURL)
	if err != nil {
		return fmt.Errorf("grading tab url: %w", err)
	}
	logger.Info("grading",
		zap.String("course", identity.CourseID),
		zap.String("assignment", identity.AssignmentID),
		zap.Int64("submission", identity.SubmissionID))

	client := authclient.New(cfg, att.page)
	if err := client.Initialize(ctx); err != nil {
		return err
	}

	svc := decision.NewService(cfg)
	ex := extract.New(att.page, config.Duration(cfg.Pipeline.SettleDelay, 400*time.Millisecond))
	p := pipeline.New(att.page, ex,
		submission.NewCache(client, cfg), svc, overlay.NewManager(svc), cfg)

	start := time.Now()
	if err := p.Grade(ctx, identity); err != nil {
		return err
	}
	logger.Info("grade run complete", zap.Duration("took", time.Since(start)))
	return nil
}

func runDetect(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	mgr, att, err := attach(ctx, cfg)
	if err != nil {
		return err
	}
	defer mgr.Shutdown()

	ex := extract.New(att.page, config.Duration(cfg.Pipeline.SettleDelay, 400*time.Millisecond))
	snap, err := ex.Extract(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("layout: %s\n", snap.Kind)
	if snap.Kind != rubric.LayoutStructured {
		return nil
	}
	fmt.Printf("style: %s, items: %d\n", snap.Style, len(snap.Items))
	for _, item := range snap.Items {
		switch item.Kind {
		case rubric.KindRadio:
			fmt.Printf("  %-8s %-14s %+.1f (%d options)\n",
				item.ID, item.Kind, item.Points, len(item.Options))
		default:
			fmt.Printf("  %-8s %-14s %+.1f\n", item.ID, item.Kind, item.Points)
		}
	}
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
