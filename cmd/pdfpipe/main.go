package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

func main() {
	root := buildRoot()
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// GlobalFlags holds minimal global/persistent flags for CLI commands
type GlobalFlags struct {
	ConfigPath string
}

// buildRoot creates the root command and wires all subcommands
func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}
	entityFlags := &EntityFlags{}
	enqueueFlags := &EnqueueFlags{}
	processFlags := &ProcessFlags{}
	runFlags := &RunFlags{}

	pipeCommand := command{}

	root := createRootCommand(globalFlags)
	root.AddCommand(
		createRunCommand(pipeCommand, globalFlags, runFlags),
		createServeCommand(globalFlags),
		createSubmitCommand(pipeCommand, entityFlags),
		createRetryCommand(pipeCommand, entityFlags),
		createCancelCommand(pipeCommand, entityFlags),
		createStatusCommand(pipeCommand, entityFlags),
		createHistoryCommand(pipeCommand, entityFlags),
		createEnqueueCommand(pipeCommand, enqueueFlags),
		createCancelProcessCommand(pipeCommand, processFlags),
		createProcessesCommand(pipeCommand, processFlags),
	)
	return root
}

// createRootCommand creates the root command with minimal persistent flags
func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "pdfpipe",
		Short: "Sequential PDF conversion pipeline runner",
		Long: `Pdfpipe runs documents through a multi-stage conversion pipeline,
supervising one external process at a time, locally or via a remote daemon.

Examples:
  pdfpipe run book.pdf paper.pdf          # Convert locally, blocking
  pdfpipe serve --config=config.toml      # Start daemon
  pdfpipe submit --path=/data/book.pdf    # Submit to running daemon
  pdfpipe status --api-url=http://remote:8080/api`,
	}
	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file (optional)")
	return root
}

// createRunCommand creates the run subcommand
func createRunCommand(pipeCommand command, globalFlags *GlobalFlags, runFlags *RunFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [files...]",
		Short: "Run the pipeline locally for the given documents",
		Long: `Run the conversion pipeline locally and wait for completion.
The process exits non-zero if any document fails.

Examples:
  pdfpipe run book.pdf
  pdfpipe run --config=config.toml --concurrent=2 a.pdf b.pdf
  pdfpipe run -v book.pdf                # mirror process output`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return pipeCommand.Run(RunFlags{
				ConfigPath: globalFlags.ConfigPath,
				Files:      args,
				Concurrent: runFlags.Concurrent,
				Verbose:    runFlags.Verbose,
			})
		},
	}
	cmd.Flags().IntVar(&runFlags.Concurrent, "concurrent", 0, "max concurrent stage processes (default from config, 1)")
	cmd.Flags().BoolVarP(&runFlags.Verbose, "verbose", "v", false, "print process output lines")
	return cmd
}

// createServeCommand creates the serve subcommand
func createServeCommand(globalFlags *GlobalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve [config.toml]",
		Short: "Start the pdfpipe daemon",
		Long: `Start the pdfpipe daemon server exposing the pipeline over HTTP.
All configuration is loaded from a config.toml file.

Examples:
  pdfpipe serve --config=config.toml
  pdfpipe serve config.toml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath := globalFlags.ConfigPath
			if len(args) > 0 {
				configPath = args[0]
			}
			return command{}.Serve(ServeFlags{ConfigPath: configPath})
		},
	}
	return cmd
}

func addAPIFlags(cmd *cobra.Command, apiURL *string, apiTimeout *time.Duration) {
	cmd.Flags().StringVar(apiURL, "api-url", "", "remote daemon URL (e.g. http://host:8080/api)")
	cmd.Flags().DurationVar(apiTimeout, "api-timeout", 10*time.Second, "request timeout")
}

// createSubmitCommand creates the submit subcommand
func createSubmitCommand(pipeCommand command, entityFlags *EntityFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a document to a running daemon",
		Long: `Submit a document to the pipeline of a running daemon.

Examples:
  pdfpipe submit --path=/data/book.pdf
  pdfpipe submit --path=/data/book.pdf --api-url=http://remote:8080/api`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return pipeCommand.Submit(*entityFlags)
		},
	}
	cmd.Flags().StringVar(&entityFlags.Path, "path", "", "document path (required)")
	addAPIFlags(cmd, &entityFlags.APIUrl, &entityFlags.APITimeout)
	if err := cmd.MarkFlagRequired("path"); err != nil {
		panic(err)
	}
	return cmd
}

// createRetryCommand creates the retry subcommand
func createRetryCommand(pipeCommand command, entityFlags *EntityFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "retry",
		Short: "Retry a failed document from the first stage",
		Long: `Retry a document whose pipeline run failed. The document restarts
from the first stage.

Examples:
  pdfpipe retry --path=/data/book.pdf`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return pipeCommand.Retry(*entityFlags)
		},
	}
	cmd.Flags().StringVar(&entityFlags.Path, "path", "", "document path (required)")
	addAPIFlags(cmd, &entityFlags.APIUrl, &entityFlags.APITimeout)
	if err := cmd.MarkFlagRequired("path"); err != nil {
		panic(err)
	}
	return cmd
}

// createCancelCommand creates the cancel subcommand
func createCancelCommand(pipeCommand command, entityFlags *EntityFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cancel",
		Short: "Cancel a pending or active document",
		Long: `Cancel a document: a pending document is removed from the backlog, an
active one has its current stage process terminated.

Examples:
  pdfpipe cancel --path=/data/book.pdf`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return pipeCommand.CancelEntity(*entityFlags)
		},
	}
	cmd.Flags().StringVar(&entityFlags.Path, "path", "", "document path (required)")
	addAPIFlags(cmd, &entityFlags.APIUrl, &entityFlags.APITimeout)
	if err := cmd.MarkFlagRequired("path"); err != nil {
		panic(err)
	}
	return cmd
}

// createStatusCommand creates the status subcommand
func createStatusCommand(pipeCommand command, entityFlags *EntityFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show pipeline status",
		Long: `Show the pipeline status of one document, or a queue summary with the
failed set when no path is given.

Examples:
  pdfpipe status                          # Queue summary
  pdfpipe status --path=/data/book.pdf    # One document`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return pipeCommand.Status(*entityFlags)
		},
	}
	cmd.Flags().StringVar(&entityFlags.Path, "path", "", "document path (optional)")
	addAPIFlags(cmd, &entityFlags.APIUrl, &entityFlags.APITimeout)
	return cmd
}

// createHistoryCommand creates the history subcommand
func createHistoryCommand(pipeCommand command, entityFlags *EntityFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show stage attempt history",
		RunE: func(cmd *cobra.Command, args []string) error {
			return pipeCommand.History(*entityFlags)
		},
	}
	addAPIFlags(cmd, &entityFlags.APIUrl, &entityFlags.APITimeout)
	return cmd
}

// createEnqueueCommand creates the enqueue subcommand
func createEnqueueCommand(pipeCommand command, enqueueFlags *EnqueueFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Enqueue a raw process invocation",
		Long: `Enqueue an arbitrary process on the daemon's supervisor queue, outside
of any pipeline.

Examples:
  pdfpipe enqueue --command="python3 convert.py" --work-dir=/data
  pdfpipe enqueue --id=one-off --command="sleep 10"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return pipeCommand.Enqueue(*enqueueFlags)
		},
	}
	cmd.Flags().StringVar(&enqueueFlags.ID, "id", "", "process id (generated if empty)")
	cmd.Flags().StringVar(&enqueueFlags.Command, "command", "", "command to run (required)")
	cmd.Flags().StringSliceVar(&enqueueFlags.Args, "args", nil, "command arguments (comma-separated)")
	cmd.Flags().StringVar(&enqueueFlags.WorkDir, "work-dir", "", "working directory")
	addAPIFlags(cmd, &enqueueFlags.APIUrl, &enqueueFlags.APITimeout)
	if err := cmd.MarkFlagRequired("command"); err != nil {
		panic(err)
	}
	return cmd
}

// createCancelProcessCommand creates the cancel-process subcommand
func createCancelProcessCommand(pipeCommand command, processFlags *ProcessFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cancel-process",
		Short: "Cancel a queued or running process",
		RunE: func(cmd *cobra.Command, args []string) error {
			return pipeCommand.CancelProcess(*processFlags)
		},
	}
	cmd.Flags().StringVar(&processFlags.ID, "id", "", "process id (required)")
	addAPIFlags(cmd, &processFlags.APIUrl, &processFlags.APITimeout)
	if err := cmd.MarkFlagRequired("id"); err != nil {
		panic(err)
	}
	return cmd
}

// createProcessesCommand creates the processes subcommand
func createProcessesCommand(pipeCommand command, processFlags *ProcessFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "processes",
		Short: "List all process records",
		RunE: func(cmd *cobra.Command, args []string) error {
			return pipeCommand.Processes(*processFlags)
		},
	}
	addAPIFlags(cmd, &processFlags.APIUrl, &processFlags.APITimeout)
	return cmd
}
