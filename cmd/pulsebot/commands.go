package main

import (
	"github.com/spf13/cobra"
)

const defaultConfigPath = "config.yaml"

// buildRunCmd creates the "run" command: the full runtime with the
// agent loop, channels, API gateway, and scheduled task producers.
func buildRunCmd() *cobra.Command {
	var configPath string
	var debug bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the full PulseBot runtime",
		Long: `Run the agent loop, enabled channels, the webchat API, and the
scheduled task producers against the configured Timeplus server.

Streams are created on startup if they do not exist.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(cmd.Context(), configPath, debug)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to YAML configuration file")
	cmd.Flags().BoolVar(&debug, "debug", false, "Enable debug logging")
	return cmd
}

// buildServeCmd creates the "serve" command: the webchat API only, for
// running the gateway separately from the agent.
func buildServeCmd() *cobra.Command {
	var configPath string
	var debug bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the webchat API gateway only",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath, debug)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to YAML configuration file")
	cmd.Flags().BoolVar(&debug, "debug", false, "Enable debug logging")
	return cmd
}

// buildChatCmd creates the "chat" command: an interactive terminal
// session against a running agent, speaking through the streams.
func buildChatCmd() *cobra.Command {
	var configPath string
	var sessionID string

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with a running agent from the terminal",
		Long: `Open an interactive chat session. Each line is written to the
message stream as user input; agent responses for the session are
tailed and printed. Requires a running "pulsebot run" instance.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd.Context(), configPath, sessionID, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to YAML configuration file")
	cmd.Flags().StringVar(&sessionID, "session", "", "Resume an existing session ID")
	return cmd
}

// buildSetupCmd creates the "setup" command for stream provisioning.
func buildSetupCmd() *cobra.Command {
	var configPath string
	var drop bool

	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Create the Timeplus streams",
		Long: `Create all PulseBot streams on the configured Timeplus server.
Existing streams are left untouched unless --drop is given, which
destroys them and all their data first.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSetup(cmd.Context(), configPath, drop, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to YAML configuration file")
	cmd.Flags().BoolVar(&drop, "drop", false, "Drop existing streams first (destroys all data)")
	return cmd
}

// buildInitCmd creates the "init" command for writing a starter
// config file.
func buildInitCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(configPath, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to write the configuration file")
	return cmd
}

// buildTaskCmd creates the "task" command group.
func buildTaskCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Inspect scheduled tasks",
	}
	cmd.AddCommand(buildTaskListCmd())
	return cmd
}

func buildTaskListCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List configured scheduled tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTaskList(configPath, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to YAML configuration file")
	return cmd
}
