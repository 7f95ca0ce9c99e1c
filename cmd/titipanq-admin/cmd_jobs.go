package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"titipanq-admin/internal/journal"
	"titipanq-admin/internal/scheduler"
	"titipanq-admin/internal/stubregistry"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

func (c *cli) journalCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Inspect the local pickup journal",
	}

	var limit int
	recent := &cobra.Command{
		Use:   "recent",
		Short: "Show the most recent pickup submissions",
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := c.app.requireJournal(cmd.Context())
			if err != nil {
				return err
			}
			entries, err := repo.ListRecent(cmd.Context(), limit)
			if err != nil {
				return err
			}
			renderJournal(c.out, entries)
			return nil
		},
	}
	recent.Flags().IntVar(&limit, "limit", 20, "number of entries")

	byPackage := &cobra.Command{
		Use:   "package <package-id>",
		Short: "Show every submission that included a package",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := c.app.requireJournal(cmd.Context())
			if err != nil {
				return err
			}
			entries, err := repo.ListByPackage(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			renderJournal(c.out, entries)
			return nil
		},
	}

	cmd.AddCommand(recent, byPackage)
	return cmd
}

func renderJournal(w io.Writer, entries []journal.Entry) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"At", "Request", "Packages", "Recipient", "Proof", "Outcome", "Message"})
	table.SetAutoWrapText(false)
	for _, e := range entries {
		proof := "no"
		if e.HasProof {
			proof = "yes"
		}
		table.Append([]string{
			e.CreatedAt.Local().Format(listTimeLayout),
			e.RequestID,
			strings.Join(e.PackageIDs, ","),
			e.RecipientID,
			proof,
			string(e.Outcome),
			e.Message,
		})
	}
	table.Render()
}

func (c *cli) expireSchedulerCmd() *cobra.Command {
	var (
		once     bool
		warmSpec string
	)
	cmd := &cobra.Command{
		Use:   "expire-scheduler",
		Short: "Trigger package expiry on a cron schedule (and optionally warm the list cache)",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a := c.app
			s, err := scheduler.New(scheduler.Config{
				ExpireSpec: a.cfg.ExpireCron,
				WarmSpec:   warmSpec,
			}, a.client, a.packageCache(ctx), a.logger)
			if err != nil {
				return err
			}
			s.SetEvents(a.eventNotifier())

			if once {
				return s.RunExpire(ctx)
			}

			s.Start()
			a.logger.Info("Expire scheduler running", append(logFields(cmd),
				zap.String("expire_spec", a.cfg.ExpireCron),
				zap.String("warm_spec", warmSpec),
			)...)
			<-ctx.Done()

			stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			s.Stop(stopCtx)
			return nil
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "trigger expiry once and exit")
	cmd.Flags().StringVar(&warmSpec, "warm", "", "cron spec for cache warming, e.g. \"@every 5m\"")
	return cmd
}

func (c *cli) stubCmd() *cobra.Command {
	var (
		addr string
		seed bool
	)
	cmd := &cobra.Command{
		Use:   "stub",
		Short: "Run an in-memory registry for local testing",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := c.app.logger
			if addr == "" {
				addr = c.app.cfg.Stub.Addr
			}

			reg := stubregistry.New()
			if seed {
				if err := stubregistry.Seed(reg); err != nil {
					return err
				}
			}
			srv := &http.Server{
				Addr:              addr,
				Handler:           stubregistry.NewServer(reg, log, stubregistry.Options{}),
				ReadHeaderTimeout: 10 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				log.Info("Stub registry listening", zap.String("addr", addr))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case err, ok := <-errCh:
				if ok {
					return fmt.Errorf("stub registry: %w", err)
				}
				return nil
			case <-ctx.Done():
			}

			log.Info("Shutting down stub registry")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default STUB_ADDR)")
	cmd.Flags().BoolVar(&seed, "seed", true, "load demo accounts and packages")
	return cmd
}
