package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/okonev/vigil"
)

var version = "dev"

func main() {
	root := buildRoot()
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// APIFlags holds daemon connection flags shared by the client commands
type APIFlags struct {
	APIUrl     string
	APITimeout time.Duration
}

// ServeFlags holds flags for the serve command
type ServeFlags struct {
	ConfigPath string
	Daemonize  bool
	LogFile    string
}

// EventsFlags holds flags for the events command
type EventsFlags struct {
	Service string
	Limit   int
}

func buildRoot() *cobra.Command {
	apiFlags := &APIFlags{}
	serveFlags := &ServeFlags{}
	eventsFlags := &EventsFlags{}

	root := &cobra.Command{
		Use:   "vigil",
		Short: "Service watchdog with restarts, backups and alerting",
		Long: `Vigil watches long-running services, restarts the ones that stopped
responding, snapshots their SQLite data files on a schedule and records
alert events to configurable sinks.

Examples:
  vigil serve config.toml           # Start the watchdog daemon
  vigil status                      # Show state of all watched services
  vigil check --name=grafana        # Run one health check cycle now
  vigil rearm --name=grafana        # Resume checking a service marked down
  vigil backup --name=grafana-db    # Trigger a backup immediately`,
	}

	root.PersistentFlags().StringVar(&apiFlags.APIUrl, "api-url", "", "daemon API base URL (default http://localhost:8080/api)")
	root.PersistentFlags().DurationVar(&apiFlags.APITimeout, "api-timeout", 10*time.Second, "API request timeout")

	root.AddCommand(
		createServeCommand(serveFlags),
		createStatusCommand(apiFlags),
		createCheckCommand(apiFlags),
		createRearmCommand(apiFlags),
		createBackupsCommand(apiFlags),
		createBackupCommand(apiFlags),
		createEventsCommand(apiFlags, eventsFlags),
		createVersionCommand(),
	)

	return root
}

func dialDaemon(f *APIFlags) (*APIClient, error) {
	apiUrl := f.APIUrl
	if apiUrl == "" {
		apiUrl = "http://127.0.0.1:8080/api" // Default local daemon
	}
	client := NewAPIClient(apiUrl, f.APITimeout)
	if !client.IsReachable() {
		return nil, fmt.Errorf("daemon not reachable at %s - please start daemon first with 'vigil serve'", apiUrl)
	}
	return client, nil
}

// createServeCommand creates the serve subcommand
func createServeCommand(flags *ServeFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve [config.toml]",
		Short: "Start the vigil daemon",
		Long: `Start the vigil watchdog daemon. All services, backup jobs and alert
sinks are loaded from the config file.

Examples:
  vigil serve config.toml           # Start with specific config file
  vigil serve --config=config.toml  # Same, via flag
  vigil serve config.toml --daemonize  # Run in background ([server].pidfile in config)`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServeCommand(flags, args)
		},
	}

	cmd.Flags().StringVar(&flags.ConfigPath, "config", "", "path to config file")
	cmd.Flags().BoolVar(&flags.Daemonize, "daemonize", false, "run as daemon in background")
	cmd.Flags().StringVar(&flags.LogFile, "logfile", "", "redirect daemon logs to file")

	return cmd
}

func runServeCommand(flags *ServeFlags, args []string) error {
	configPath := flags.ConfigPath
	if len(args) > 0 {
		configPath = args[0]
	}
	if configPath == "" {
		return fmt.Errorf("config file required for serve command. Use --config=config.toml or provide as argument")
	}

	cfg, err := vigil.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}

	pidfile := ""
	if cfg.Server != nil {
		pidfile = cfg.Server.PidFile
	}

	if flags.Daemonize {
		logfile := flags.LogFile
		if logfile == "" && cfg.Server != nil {
			logfile = cfg.Server.LogFile
		}
		return daemonize(pidfile, logfile)
	}

	d, err := vigil.NewDaemon(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := d.Start(ctx); err != nil {
		return err
	}
	d.Logger().Info("vigil started",
		"services", len(cfg.Services),
		"backups", len(cfg.Backups),
		"version", version)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	d.Logger().Info("shutting down")
	// Stop drains in-flight checks and backup runs; canceling the run
	// context first would abort them mid-write. The deferred cancel fires
	// after the drain completes.
	err = d.Stop()
	_ = removePidFile(pidfile)
	return err
}

// createStatusCommand creates the status subcommand
func createStatusCommand(apiFlags *APIFlags) *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show state of watched services",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := dialDaemon(apiFlags)
			if err != nil {
				return err
			}
			result, err := client.GetStatus(name)
			if err != nil {
				return err
			}
			printJSON(result)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "service name (all services when empty)")
	return cmd
}

// createCheckCommand creates the check subcommand
func createCheckCommand(apiFlags *APIFlags) *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Run a health check cycle immediately",
		RunE: func(cmd *cobra.Command, args []string) error {
			if name == "" {
				return fmt.Errorf("service name is required")
			}
			client, err := dialDaemon(apiFlags)
			if err != nil {
				return err
			}
			result, err := client.TriggerCheck(name)
			if err != nil {
				return err
			}
			printJSON(result)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "service name")
	return cmd
}

// createRearmCommand creates the rearm subcommand
func createRearmCommand(apiFlags *APIFlags) *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "rearm",
		Short: "Resume checking a service marked down",
		Long: `A service that stays dead after a restart attempt is marked down and
ignored by further checks until an operator intervenes. Rearm clears that
state so the next cycle checks it again.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if name == "" {
				return fmt.Errorf("service name is required")
			}
			client, err := dialDaemon(apiFlags)
			if err != nil {
				return err
			}
			if err := client.Rearm(name); err != nil {
				return err
			}
			fmt.Printf("Service %s rearmed\n", name)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "service name")
	return cmd
}

// createBackupsCommand creates the backups subcommand
func createBackupsCommand(apiFlags *APIFlags) *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "backups",
		Short: "List recorded backup snapshots",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := dialDaemon(apiFlags)
			if err != nil {
				return err
			}
			result, err := client.GetBackups(name)
			if err != nil {
				return err
			}
			printJSON(result)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "backup job name (all jobs when empty)")
	return cmd
}

// createBackupCommand creates the backup subcommand
func createBackupCommand(apiFlags *APIFlags) *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Trigger a backup job immediately",
		RunE: func(cmd *cobra.Command, args []string) error {
			if name == "" {
				return fmt.Errorf("backup job name is required")
			}
			client, err := dialDaemon(apiFlags)
			if err != nil {
				return err
			}
			if err := client.TriggerBackup(name); err != nil {
				return err
			}
			fmt.Printf("Backup %s completed\n", name)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "backup job name")
	return cmd
}

// createEventsCommand creates the events subcommand
func createEventsCommand(apiFlags *APIFlags, flags *EventsFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Show recent alert events",
		Long:  "Show recent alert events. Requires a SQLite alert sink in the daemon config.",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := dialDaemon(apiFlags)
			if err != nil {
				return err
			}
			result, err := client.GetEvents(flags.Service, flags.Limit)
			if err != nil {
				return err
			}
			printJSON(result)
			return nil
		},
	}
	cmd.Flags().StringVar(&flags.Service, "service", "", "filter by service name")
	cmd.Flags().IntVar(&flags.Limit, "limit", 50, "maximum number of events")
	return cmd
}

func createVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("vigil %s\n", version)
		},
	}
}
