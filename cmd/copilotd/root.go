package main

import (
	"github.com/spf13/cobra"

	"RM-Copilot/internal/app"
	"RM-Copilot/internal/config"
	"RM-Copilot/pkg/logger"
)

// cli 保存根命令解析出的公共状态。
type cli struct {
	configPath string
	cfg        *config.Config
}

func newRootCmd() *cobra.Command {
	c := &cli{}

	cmd := &cobra.Command{
		Use:   "copilotd",
		Short: "Relationship manager copilot",
		Long: `copilotd answers relationship manager questions by planning tool calls
against account, CRM and knowledge base data, verifying the results and
summarizing an answer.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(c.configPath)
			if err != nil {
				return err
			}
			if err := app.InitLogging(cfg.Logging); err != nil {
				return err
			}
			c.cfg = cfg
			return nil
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			_ = logger.Sync()
		},
	}

	cmd.PersistentFlags().StringVarP(&c.configPath, "config", "c", "", "path to a JSON or YAML config file (defaults to $"+config.EnvConfigPath+")")

	cmd.AddCommand(
		newServeCmd(c),
		newAskCmd(c),
		newEvalCmd(c),
		newSeedCmd(c),
	)
	return cmd
}
