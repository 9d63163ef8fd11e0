package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"RM-Copilot/internal/agent"
	"RM-Copilot/internal/app"
)

func newAskCmd(c *cli) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "ask <query>",
		Short: "Run a single query and print the answer",
		Example: `  copilotd ask "What is the balance of account ACC-123?"
  copilotd ask -o json "Find CRM notes for Alice Smith"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := app.New(cmd.Context(), c.cfg)
			if err != nil {
				return err
			}
			resp, err := a.Agent.Run(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return err
			}
			return printResponse(cmd.OutOrStdout(), output, resp)
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "text", "output format: text|json|yaml")
	return cmd
}

func printResponse(w io.Writer, format string, resp *agent.AgentResponse) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetEscapeHTML(false)
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	case "yaml":
		// 先转成通用结构，复用 JSON 字段名。
		raw, err := json.Marshal(resp)
		if err != nil {
			return err
		}
		var generic map[string]any
		if err := json.Unmarshal(raw, &generic); err != nil {
			return err
		}
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(generic)
	case "", "text":
		renderText(w, resp)
		return nil
	default:
		return fmt.Errorf("未知的输出格式: %s", format)
	}
}

func renderText(w io.Writer, resp *agent.AgentResponse) {
	heading := color.New(color.FgCyan, color.Bold)

	heading.Fprintln(w, "Plan")
	if len(resp.Plan.Steps) == 0 {
		fmt.Fprintln(w, "  (no steps)")
	}
	for _, step := range resp.Plan.Steps {
		line := fmt.Sprintf("  %d. %s", step.StepNumber, step.Description)
		if name := step.Tool(); name != "" {
			line += color.New(color.Faint).Sprintf(" [%s]", name)
		}
		fmt.Fprintln(w, line)
		if step.Result != nil {
			fmt.Fprintln(w, indent(*step.Result, "     "))
		}
	}

	fmt.Fprintln(w)
	heading.Fprint(w, "Verification: ")
	fmt.Fprintln(w, statusString(resp.VerificationStatus))
	if resp.VerificationReason != "" {
		fmt.Fprintln(w, indent(resp.VerificationReason, "  "))
	}

	fmt.Fprintln(w)
	heading.Fprintln(w, "Answer")
	fmt.Fprintln(w, resp.FinalAnswer)
}

func statusString(status agent.VerificationStatus) string {
	switch status {
	case agent.StatusVerified:
		return color.GreenString(string(status))
	case agent.StatusFailed:
		return color.RedString(string(status))
	default:
		return color.YellowString(string(status))
	}
}

func indent(text, prefix string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = prefix + line
	}
	return strings.Join(lines, "\n")
}
