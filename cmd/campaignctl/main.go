// cmd/campaignctl/main.go
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/unclebandit/campaign-dispatch/internal/app"
	"github.com/unclebandit/campaign-dispatch/internal/config"
	"github.com/unclebandit/campaign-dispatch/internal/db"
	"github.com/unclebandit/campaign-dispatch/internal/logger"
	"github.com/unclebandit/campaign-dispatch/internal/model"
	"github.com/unclebandit/campaign-dispatch/internal/queue"
	"github.com/unclebandit/campaign-dispatch/internal/repository"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "campaignctl",
		Short:         "Operate the campaign dispatch engine",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.AddCommand(
		migrateCmd(),
		seedCmd(),
		tickCmd(),
		reconcileCmd(),
		statsCmd(),
	)
	return root
}

// open loads configuration and wires the engine for a single command.
func open(cmd *cobra.Command) (*app.App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	return app.New(cmd.Context(), cfg, logger.New(cfg.LogLevel))
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := db.Migrate(cmd.Context(), a.DB); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schema is up to date")
			return nil
		},
	}
}

func seedCmd() *cobra.Command {
	var demo int
	cmd := &cobra.Command{
		Use:   "seed NAME [PHONE...]",
		Short: "Create a client group from phone numbers",
		Long:  "Creates a client group with one customer per phone number. --demo adds generated numbers.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			now := time.Now().UTC()
			group := &model.ClientGroup{ID: uuid.NewString(), Name: args[0], CreatedAt: now}
			customers := buildCustomers(args[1:], demo, now)
			if len(customers) == 0 {
				return fmt.Errorf("no phone numbers given")
			}

			a, err := open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			repo := &repository.GroupRepository{DB: a.DB}
			if err := repo.CreateGroup(cmd.Context(), group, customers); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{"group_id": group.ID, "customers": len(customers)})
		},
	}
	cmd.Flags().IntVar(&demo, "demo", 0, "number of generated demo phone numbers to add")
	return cmd
}

func buildCustomers(phones []string, demo int, now time.Time) []model.Customer {
	customers := make([]model.Customer, 0, len(phones)+demo)
	for i, p := range phones {
		customers = append(customers, model.Customer{
			ID: uuid.NewString(), Name: fmt.Sprintf("Customer %d", i+1), Phone: p, CreatedAt: now,
		})
	}
	for i := 0; i < demo; i++ {
		customers = append(customers, model.Customer{
			ID:        uuid.NewString(),
			Name:      fmt.Sprintf("Demo %d", i+1),
			Phone:     fmt.Sprintf("(11) 9%04d-%04d", i, i),
			CreatedAt: now,
		})
	}
	return customers
}

func tickCmd() *cobra.Command {
	var viaQueue bool
	cmd := &cobra.Command{
		Use:   "tick",
		Short: "Run one dispatch tick and print its summary",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			if viaQueue {
				return publishCommand(cmd, a, queue.CommandTick)
			}
			summary, _, err := a.Runner.RunTick(cmd.Context())
			if perr := printJSON(cmd.OutOrStdout(), summary); perr != nil {
				return perr
			}
			return err
		},
	}
	cmd.Flags().BoolVar(&viaQueue, "queue", false, "publish the command for a worker instead of running it here")
	return cmd
}

func reconcileCmd() *cobra.Command {
	var viaQueue bool
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Repair campaigns stuck in processing",
		Long: "Campaigns that already delivered messages are marked failed. " +
			"Campaigns that delivered nothing are reset to draft and their messages removed.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			if viaQueue {
				return publishCommand(cmd, a, queue.CommandReconcile)
			}
			summary, _, err := a.Runner.RunReconcile(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), summary)
		},
	}
	cmd.Flags().BoolVar(&viaQueue, "queue", false, "publish the command for a worker instead of running it here")
	return cmd
}

func publishCommand(cmd *cobra.Command, a *app.App, action string) error {
	if !a.Config.AMQP.Enabled {
		return fmt.Errorf("--queue needs AMQP_ENABLED=true")
	}
	err := a.Queue.Publish(queue.TopicDispatchCommands, queue.DispatchCommand{Action: action, RequestedAt: time.Now().UTC()})
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s command queued\n", action)
	return nil
}

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats CAMPAIGN_ID",
		Short: "Show a campaign with its delivery counts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := uuid.Parse(args[0]); err != nil {
				return fmt.Errorf("invalid campaign id %q", args[0])
			}
			a, err := open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			view, err := a.Campaigns.GetCampaign(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), view)
		},
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
