package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"tenor/internal/eval"
)

var evalFactsPath string

var evalCmd = &cobra.Command{
	Use:   "eval [bundle]",
	Short: "Evaluate a bundle's rules against input facts",
	Long: `Assembles typed facts from the facts file, applying declared
defaults, then runs every rule stratum in order. The resulting verdicts
are printed with full provenance.`,
	Args: cobra.ExactArgs(1),
	RunE: runEval,
}

func init() {
	evalCmd.Flags().StringVarP(&evalFactsPath, "facts", "f", "", "path to facts JSON file")
}

func runEval(cmd *cobra.Command, args []string) error {
	contract, err := loadContractFile(args[0])
	if err != nil {
		return err
	}
	facts, err := loadFactsFile(evalFactsPath)
	if err != nil {
		return err
	}

	result, err := eval.Evaluate(contract, facts)
	if err != nil {
		return err
	}
	logger.Debug("evaluated",
		zap.String("contract", contract.ID),
		zap.String("run_id", result.RunID),
		zap.Int("verdicts", result.Verdicts.Len()))
	return printJSON(result.ToJSON())
}
