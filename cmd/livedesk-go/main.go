package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/AtRiskMedia/livedesk-go/internal/application/container"
	"github.com/AtRiskMedia/livedesk-go/internal/application/startup"
	"github.com/AtRiskMedia/livedesk-go/internal/infrastructure/security"
	"github.com/AtRiskMedia/livedesk-go/pkg/config"
)

var configPath string

func main() {
	rootCmd := &cobra.Command{
		Use:           "livedesk-go",
		Short:         "Multi-tenant live support chat coordinator",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "YAML configuration file (defaults to $LIVEDESK_CONFIG)")

	rootCmd.AddCommand(newServeCommand(), newMigrateCommand(), newJobsCommand(), newTokenCommand())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and job workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			return startup.Serve(cfg)
		},
	}
}

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			logger, err := startup.NewLogger(cfg.Logging)
			if err != nil {
				return err
			}
			defer logger.Close()
			return startup.Migrate(cmd.Context(), cfg, logger)
		},
	}
}

func newJobsCommand() *cobra.Command {
	jobsCmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and replay failed jobs",
	}

	var limit int
	failedCmd := &cobra.Command{
		Use:   "failed",
		Short: "List failed jobs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withContainer(func(c *container.Container) error {
				records, err := c.Runtime.Failed(cmd.Context(), limit)
				if err != nil {
					return err
				}
				return printJSON(records)
			})
		},
	}
	failedCmd.Flags().IntVar(&limit, "limit", 50, "maximum number of jobs to list")

	replayCmd := &cobra.Command{
		Use:   "replay <job-id>",
		Short: "Enqueue a failed job again",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withContainer(func(c *container.Container) error {
				newID, err := c.Runtime.Replay(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printJSON(map[string]string{"jobId": args[0], "replayId": newID})
			})
		},
	}

	restoreCmd := &cobra.Command{
		Use:   "restore-messages",
		Short: "Write every failed message-persist job to the database in one batch",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withContainer(func(c *container.Container) error {
				res, err := c.Handlers.RestoreFailedMessages(cmd.Context(), c.Runtime.JobLog())
				if err != nil {
					return err
				}
				return printJSON(res)
			})
		},
	}

	jobsCmd.AddCommand(failedCmd, replayCmd, restoreCmd)
	return jobsCmd
}

func newTokenCommand() *cobra.Command {
	var (
		claims security.AgentClaims
		ttl    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a signed agent token",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if cfg.Security.JWTSecret == "" {
				return errors.New("JWT_SECRET must be configured to issue tokens")
			}
			if claims.AgentID == "" || claims.TenantID == "" {
				return errors.New("--agent and --tenant are required")
			}
			token, err := security.GenerateAgentToken(claims, cfg.Security.JWTSecret, time.Now().UTC(), ttl)
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}
	cmd.Flags().StringVar(&claims.AgentID, "agent", "", "agent id")
	cmd.Flags().StringVar(&claims.TenantID, "tenant", "", "tenant id")
	cmd.Flags().StringVar(&claims.Name, "name", "", "display name")
	cmd.Flags().StringVar(&claims.Email, "email", "", "email address for notifications")
	cmd.Flags().StringVar(&claims.Role, "role", "", "set to \"admin\" for admin routes")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}

// withContainer wires the backends for one-shot commands. Failed jobs are
// only visible across processes with the redis cache backend.
func withContainer(fn func(c *container.Container) error) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger, err := startup.NewLogger(cfg.Logging)
	if err != nil {
		return err
	}
	defer logger.Close()

	c, err := container.NewContainer(cfg, logger)
	if err != nil {
		return err
	}
	defer c.Close()
	return fn(c)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
