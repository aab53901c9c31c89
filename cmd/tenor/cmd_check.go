package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"tenor/internal/elab"
)

var watchMode bool

var checkCmd = &cobra.Command{
	Use:   "check [contract]",
	Short: "Check a contract without writing a bundle",
	Long: `Runs the elaboration pipeline and reports the first diagnostic, if
any. With --watch, the contract's directory is watched and rechecked on
every change to a .tenor file.`,
	Args: cobra.ExactArgs(1),
	RunE: runCheck,
}

func init() {
	checkCmd.Flags().BoolVarP(&watchMode, "watch", "w", false, "recheck on file changes")
}

func runCheck(cmd *cobra.Command, args []string) error {
	path := args[0]
	if !watchMode {
		return checkOnce(path)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	root := filepath.Dir(path)
	if err := watcher.Add(root); err != nil {
		return fmt.Errorf("failed to watch %s: %w", root, err)
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	if err := checkOnce(path); err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
	logger.Info("watching", zap.String("dir", root))

	// Editors fire bursts of events per save; debounce before recheck.
	var pending <-chan time.Time
	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !strings.HasSuffix(event.Name, ".tenor") {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			pending = time.After(200 * time.Millisecond)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("watch error", zap.Error(err))
		case <-pending:
			pending = nil
			if err := checkOnce(path); err != nil {
				fmt.Fprintln(os.Stderr, err)
			}
		case <-sigs:
			return nil
		}
	}
}

func checkOnce(path string) error {
	provider := &elab.LimitProvider{
		Inner:        elab.FSProvider{},
		MaxFiles:     cfg.Elaboration.MaxImportFiles,
		MaxFileBytes: cfg.Elaboration.MaxFileSizeKB * 1024,
	}
	start := time.Now()
	res, d := elab.Elaborate(path, provider)
	if d != nil {
		report, err := d.MarshalReport()
		if err == nil {
			fmt.Fprintln(os.Stderr, string(report))
		}
		return fmt.Errorf("%s: %s", path, d.Error())
	}
	logger.Info("ok",
		zap.String("contract", path),
		zap.String("bundle_id", res.BundleID),
		zap.Int("constructs", len(res.Constructs)),
		zap.Duration("elapsed", time.Since(start)))
	return nil
}
