package main

import (
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"RM-Copilot/internal/app"
	"RM-Copilot/internal/eval"
)

func newEvalCmd(c *cli) *cobra.Command {
	var dataset, output string

	cmd := &cobra.Command{
		Use:   "eval",
		Short: "Run the evaluation dataset and write detailed results",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if dataset != "" {
				c.cfg.Eval.DatasetPath = dataset
			}
			if output != "" {
				c.cfg.Eval.ResultsPath = output
			}

			cases, err := eval.LoadDataset(c.cfg.Eval.DatasetPath)
			if err != nil {
				return err
			}
			a, err := app.New(cmd.Context(), c.cfg)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Starting evaluation of %d cases...\n\n", len(cases))
			report, err := eval.NewEvaluator(a.Agent, a.Gateway).Run(cmd.Context(), cases)
			if err != nil {
				return err
			}
			printReport(out, report)

			if err := eval.WriteResults(c.cfg.Eval.ResultsPath, report.Results); err != nil {
				return err
			}
			fmt.Fprintf(out, "\nDetailed results saved to %s\n", c.cfg.Eval.ResultsPath)
			return nil
		},
	}

	cmd.Flags().StringVar(&dataset, "dataset", "", "dataset JSON file, overrides eval.dataset_path")
	cmd.Flags().StringVar(&output, "output", "", "results JSON file, overrides eval.results_path")
	return cmd
}

func printReport(w io.Writer, report *eval.Report) {
	for _, r := range report.Results {
		fmt.Fprintf(w, "Case: %s\n", r.ID)
		if r.Error != "" {
			fmt.Fprintf(w, "  -> Error: %s\n", color.RedString(r.Error))
			continue
		}
		tools := color.GreenString("OK")
		if !r.ToolMatch {
			tools = color.RedString("MISSING")
		}
		fmt.Fprintf(w, "  -> Tools: %s (%v)\n", tools, r.ExecutedTools)
		fmt.Fprintf(w, "  -> Facts: %.2f\n", r.FactScore)
	}

	s := report.Summary
	fmt.Fprintln(w)
	color.New(color.FgCyan, color.Bold).Fprintln(w, "--- Evaluation Summary ---")
	fmt.Fprintf(w, "Total Cases: %d\n", s.Total)
	fmt.Fprintf(w, "Tool Usage Accuracy: %.2f%%\n", s.ToolAccuracy*100)
	fmt.Fprintf(w, "Average Fact Recall: %.2f%%\n", s.AverageFactScore*100)
	if s.Errors > 0 {
		fmt.Fprintf(w, "Errors: %s\n", color.RedString("%d", s.Errors))
	}
}
