package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"tenor/internal/eval"
)

var (
	flowFactsPath    string
	flowPersona      string
	flowStatePath    string
	flowBindingsPath string
)

var flowCmd = &cobra.Command{
	Use:   "flow [bundle] [flow-id]",
	Short: "Run a flow against input facts and entity state",
	Long: `Derives verdicts from the input facts, freezes them as the flow's
snapshot, and executes the named flow step by step. The run is a
simulation: the printed result carries the full step trace and the
entity state changes that would apply.

Bindings map entity ids to instance ids for multi-instance entities;
unbound entities use the default instance.`,
	Args: cobra.ExactArgs(2),
	RunE: runFlow,
}

func init() {
	flowCmd.Flags().StringVarP(&flowFactsPath, "facts", "f", "", "path to facts JSON file")
	flowCmd.Flags().StringVarP(&flowPersona, "persona", "p", "", "persona initiating the flow")
	flowCmd.Flags().StringVar(&flowStatePath, "state", "", "path to entity state JSON file")
	flowCmd.Flags().StringVar(&flowBindingsPath, "bindings", "", "path to instance bindings JSON file")
	_ = flowCmd.MarkFlagRequired("persona")
}

func runFlow(cmd *cobra.Command, args []string) error {
	contract, err := loadContractFile(args[0])
	if err != nil {
		return err
	}
	flowID := args[1]

	facts, err := loadFactsFile(flowFactsPath)
	if err != nil {
		return err
	}
	states, err := loadStateFile(flowStatePath, contract)
	if err != nil {
		return err
	}
	bindings, err := loadBindingsFile(flowBindingsPath)
	if err != nil {
		return err
	}

	opts := eval.FlowOptions{
		MaxSteps:        cfg.Evaluation.MaxFlowSteps,
		MaxSubFlowDepth: cfg.Evaluation.MaxSubFlowDepth,
	}
	result, err := eval.EvaluateFlow(contract, flowID, facts, states, bindings, flowPersona, opts)
	if err != nil {
		return err
	}
	logger.Debug("flow complete",
		zap.String("contract", contract.ID),
		zap.String("flow", flowID),
		zap.String("outcome", result.Outcome),
		zap.Int("steps", len(result.StepsExecuted)))
	return printJSON(result)
}
