package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"devpulse/pkg/cel"
)

func rulesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Inspect alert rule expressions",
	}
	cmd.AddCommand(rulesExamplesCmd(), rulesCheckCmd())
	return cmd
}

func rulesExamplesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "examples",
		Short: "Print example rule expressions",
		RunE: func(cmd *cobra.Command, args []string) error {
			names := make([]string, 0, len(cel.RuleExpressionExamples))
			for name := range cel.RuleExpressionExamples {
				names = append(names, name)
			}
			sort.Strings(names)

			out := cmd.OutOrStdout()
			for _, name := range names {
				fmt.Fprintf(out, "%-22s %s\n", name, cel.RuleExpressionExamples[name])
			}
			return nil
		},
	}
}

func rulesCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check <expression>",
		Short: "Compile a rule expression against the canonical event schema",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			evaluator, err := cel.NewEvaluator()
			if err != nil {
				return err
			}
			if err := evaluator.ValidateExpression(args[0]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "ok")
			return nil
		},
	}
}
