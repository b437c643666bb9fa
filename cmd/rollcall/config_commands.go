package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"rollcall/internal/config"
)

func newConfigCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or scaffold the configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	cmd.AddCommand(newConfigInitCommand())
	cmd.AddCommand(newConfigShowCommand(ctx))
	return cmd
}

func newConfigInitCommand() *cobra.Command {
	var pathFlag string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a sample configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := pathFlag
			if path == "" {
				defaultPath, err := config.DefaultConfigPath()
				if err != nil {
					return err
				}
				path = defaultPath
			}
			if err := config.WriteSample(path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Sample configuration written to %s\n", path)
			return nil
		},
	}

	cmd.Flags().StringVar(&pathFlag, "path", "", "Destination path (defaults to the standard location)")
	return cmd
}

func newConfigShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			source := ctx.configPath
			if source == "" {
				source = "(built-in defaults)"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Configuration source: %s\n\n", source)

			secret := "-"
			if cfg.Registry.ClientSecret != "" {
				secret = "(set)"
			}
			rows := [][]string{
				{"paths.upload_dir", cfg.Paths.UploadDir},
				{"paths.data_dir", cfg.Paths.DataDir},
				{"paths.log_dir", cfg.Paths.LogDir},
				{"registry.base_url", cfg.Registry.BaseURL},
				{"registry.client_id", cfg.Registry.ClientID},
				{"registry.client_secret", secret},
				{"registry.requests_per_second", strconv.FormatFloat(cfg.Registry.RequestsPerSecond, 'f', -1, 64)},
				{"workflow.row_concurrency", strconv.Itoa(cfg.Workflow.RowConcurrency)},
				{"workflow.row_retry_limit", strconv.Itoa(cfg.Workflow.RowRetryLimit)},
				{"workflow.job_max_retries", strconv.Itoa(cfg.Workflow.JobMaxRetries)},
				{"notifications.ntfy_topic", valueOrDash(cfg.Notifications.NtfyTopic)},
				{"log_level", cfg.LogLevel},
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"Setting", "Value"},
				rows,
				[]columnAlignment{alignLeft, alignLeft},
			))
			return nil
		},
	}
}

func valueOrDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
