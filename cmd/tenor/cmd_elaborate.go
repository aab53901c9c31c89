package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"tenor/internal/elab"
)

var outputDir string

var elaborateCmd = &cobra.Command{
	Use:   "elaborate [contracts...]",
	Short: "Elaborate contract sources into Interchange Bundles",
	Long: `Runs the full elaboration pipeline over each contract root: import
resolution and bundling, indexing, type environment construction, type
checking, structural validation, and canonical serialization.

With --output, each bundle is written to <dir>/<bundle-id>.json.
Without it, a single contract's bundle goes to stdout.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runElaborate,
}

func init() {
	elaborateCmd.Flags().StringVarP(&outputDir, "output", "o", "", "directory for bundle output")
}

func runElaborate(cmd *cobra.Command, args []string) error {
	if outputDir == "" && len(args) > 1 {
		return fmt.Errorf("multiple contracts need --output")
	}
	if outputDir != "" {
		if err := os.MkdirAll(outputDir, 0755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	var g errgroup.Group
	for _, path := range args {
		g.Go(func() error {
			return elaborateOne(path)
		})
	}
	return g.Wait()
}

func elaborateOne(path string) error {
	provider := &elab.LimitProvider{
		Inner:        elab.FSProvider{},
		MaxFiles:     cfg.Elaboration.MaxImportFiles,
		MaxFileBytes: cfg.Elaboration.MaxFileSizeKB * 1024,
	}
	res, d := elab.Elaborate(path, provider)
	if d != nil {
		report, err := d.MarshalReport()
		if err == nil {
			fmt.Fprintln(os.Stderr, string(report))
		}
		return fmt.Errorf("%s: elaboration failed: %s", path, d.Message)
	}

	data, err := res.EncodeBundle()
	if err != nil {
		return fmt.Errorf("%s: encode bundle: %w", path, err)
	}

	if outputDir == "" {
		fmt.Println(string(data))
		return nil
	}

	out := filepath.Join(outputDir, res.BundleID+".json")
	if err := os.WriteFile(out, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("write bundle: %w", err)
	}
	logger.Info("elaborated",
		zap.String("contract", path),
		zap.String("bundle", out),
		zap.Int("constructs", len(res.Constructs)))
	return nil
}
