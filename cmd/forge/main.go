package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := buildRoot()
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// buildRoot creates the root command with all subcommands attached.
func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}
	ensureFlags := &EnsureFlags{}
	slotFlags := &SlotFlags{}
	serveFlags := &ServeFlags{}

	forgeCommand := command{global: globalFlags}

	root := createRootCommand(globalFlags)
	root.AddCommand(
		createEnsureCommand(forgeCommand, ensureFlags),
		createOpenCommand(forgeCommand, slotFlags),
		createStopCommand(forgeCommand, slotFlags),
		createRestartCommand(forgeCommand, slotFlags),
		createStatusCommand(forgeCommand, slotFlags),
		createListCommand(forgeCommand),
		createReleaseCommand(forgeCommand, slotFlags),
		createServeCommand(forgeCommand, serveFlags),
	)
	return root
}

// createRootCommand creates the root command with minimal persistent flags.
func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "forge",
		Short: "Port registry and app supervision tool",
		Long: `Forge assigns stable port pairs to generated apps, records them in a
lock-guarded registry shared by every invocation, and supervises the app
processes behind those ports.

Examples:
  forge ensure --name=myapp --dir=/apps/myapp --command="npm run dev"
  forge open --name=myapp
  forge status
  forge serve                       # Start the HTTP console`,
	}

	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file (optional)")
	return root
}

// createEnsureCommand creates the ensure subcommand.
func createEnsureCommand(forgeCommand command, flags *EnsureFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ensure",
		Short: "Register a slot and reserve its port pair",
		Long: `Register a slot in the shared registry, allocating a backend/frontend
port pair if it does not have one yet. Idempotent: an existing slot keeps
its ports.

Examples:
  forge ensure --name=web --dir=/apps/web --command="npm run dev"
  forge ensure --name=api --backend=8001 --frontend=3001`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return forgeCommand.Ensure(EnsureFlags{
				Name:     flags.Name,
				Dir:      flags.Dir,
				Command:  flags.Command,
				Backend:  flags.Backend,
				Frontend: flags.Frontend,
			})
		},
	}

	cmd.Flags().StringVar(&flags.Name, "name", "", "slot name (required)")
	cmd.Flags().StringVar(&flags.Dir, "dir", "", "app backing directory")
	cmd.Flags().StringVar(&flags.Command, "command", "", "start command for the slot")
	cmd.Flags().IntVar(&flags.Backend, "backend", 0, "requested backend port (0 = allocate)")
	cmd.Flags().IntVar(&flags.Frontend, "frontend", 0, "requested frontend port (0 = allocate)")

	if err := cmd.MarkFlagRequired("name"); err != nil {
		panic(err)
	}
	return cmd
}

// createOpenCommand creates the open subcommand.
func createOpenCommand(forgeCommand command, flags *SlotFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "open",
		Short: "Start a slot's app and wait until it is reachable",
		Long: `Start the slot's command if its frontend port is not already serving,
then wait until the port accepts connections.

Examples:
  forge open --name=web`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return forgeCommand.Open(SlotFlags{Name: flags.Name})
		},
	}

	cmd.Flags().StringVar(&flags.Name, "name", "", "slot name (required)")
	if err := cmd.MarkFlagRequired("name"); err != nil {
		panic(err)
	}
	return cmd
}

// createStopCommand creates the stop subcommand.
func createStopCommand(forgeCommand command, flags *SlotFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop a slot's app",
		Long: `Terminate the slot's recorded process, escalating from SIGTERM to
SIGKILL after the grace window, and clear its PID from the registry.

Examples:
  forge stop --name=web`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return forgeCommand.Stop(SlotFlags{Name: flags.Name})
		},
	}

	cmd.Flags().StringVar(&flags.Name, "name", "", "slot name (required)")
	if err := cmd.MarkFlagRequired("name"); err != nil {
		panic(err)
	}
	return cmd
}

// createRestartCommand creates the restart subcommand.
func createRestartCommand(forgeCommand command, flags *SlotFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "restart",
		Short: "Restart a slot's app",
		Long: `Stop the slot's process, pause briefly so the OS releases the port,
and start it again.

Examples:
  forge restart --name=web`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return forgeCommand.Restart(SlotFlags{Name: flags.Name})
		},
	}

	cmd.Flags().StringVar(&flags.Name, "name", "", "slot name (required)")
	if err := cmd.MarkFlagRequired("name"); err != nil {
		panic(err)
	}
	return cmd
}

// createStatusCommand creates the status subcommand.
func createStatusCommand(forgeCommand command, flags *SlotFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show slot status",
		Long: `Show the ports, PID, and live reachability of registered slots.

Examples:
  forge status                      # Show all slots
  forge status --name=web           # Show one slot`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return forgeCommand.Status(SlotFlags{Name: flags.Name})
		},
	}

	cmd.Flags().StringVar(&flags.Name, "name", "", "slot name (all slots when empty)")
	return cmd
}

// createListCommand creates the list subcommand.
func createListCommand(forgeCommand command) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all slots",
		Long: `List every registered slot with its ports, PID, and live state.
Equivalent to 'forge status' with no --name.

Examples:
  forge list`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return forgeCommand.Status(SlotFlags{})
		},
	}
}

// createReleaseCommand creates the release subcommand.
func createReleaseCommand(forgeCommand command, flags *SlotFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "release",
		Short: "Remove a slot and free its ports",
		Long: `Stop the slot's process (best effort) and delete its registry record,
returning both ports to the allocatable pool.

Examples:
  forge release --name=web`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return forgeCommand.Release(SlotFlags{Name: flags.Name})
		},
	}

	cmd.Flags().StringVar(&flags.Name, "name", "", "slot name (required)")
	if err := cmd.MarkFlagRequired("name"); err != nil {
		panic(err)
	}
	return cmd
}

// createServeCommand creates the serve subcommand.
func createServeCommand(forgeCommand command, flags *ServeFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the forge HTTP console",
		Long: `Start an HTTP server exposing the slot API and Prometheus metrics.
The server shares the registry file with CLI invocations, so both views
stay consistent.

Examples:
  forge serve
  forge serve --listen=0.0.0.0:9090 --base-path=/api`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return forgeCommand.Serve(ServeFlags{
				Listen:   flags.Listen,
				BasePath: flags.BasePath,
			})
		},
	}

	cmd.Flags().StringVar(&flags.Listen, "listen", "", "listen address (overrides config)")
	cmd.Flags().StringVar(&flags.BasePath, "base-path", "", "API base path (overrides config)")
	return cmd
}
