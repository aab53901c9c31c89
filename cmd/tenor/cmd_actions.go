package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"tenor/internal/eval"
)

var (
	actionsFactsPath string
	actionsPersona   string
	actionsStatePath string
)

var actionsCmd = &cobra.Command{
	Use:   "actions [bundle]",
	Short: "Compute the action space for a persona",
	Long: `Derives verdicts from the input facts and reports which flows the
persona can start right now, which are blocked and why, and the verdicts
currently in force.

Without --state, every entity starts in its declared initial state.`,
	Args: cobra.ExactArgs(1),
	RunE: runActions,
}

func init() {
	actionsCmd.Flags().StringVarP(&actionsFactsPath, "facts", "f", "", "path to facts JSON file")
	actionsCmd.Flags().StringVarP(&actionsPersona, "persona", "p", "", "persona to compute actions for")
	actionsCmd.Flags().StringVar(&actionsStatePath, "state", "", "path to entity state JSON file")
	_ = actionsCmd.MarkFlagRequired("persona")
}

func runActions(cmd *cobra.Command, args []string) error {
	contract, err := loadContractFile(args[0])
	if err != nil {
		return err
	}
	facts, err := loadFactsFile(actionsFactsPath)
	if err != nil {
		return err
	}
	states, err := loadStateFile(actionsStatePath, contract)
	if err != nil {
		return err
	}

	space, err := eval.ComputeActionSpace(contract, facts, states, actionsPersona)
	if err != nil {
		return err
	}
	logger.Debug("computed action space",
		zap.String("contract", contract.ID),
		zap.String("persona", actionsPersona),
		zap.Int("actions", len(space.Actions)),
		zap.Int("blocked", len(space.BlockedActions)))
	return printJSON(space)
}
