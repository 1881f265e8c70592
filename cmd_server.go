package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/deemkeen/bookfed/domain"
	"github.com/deemkeen/bookfed/util"
	"github.com/spf13/cobra"
)

func init() {
	serverCmd := &cobra.Command{Use: "server", Short: "Remote server moderation"}

	setStatus := func(status domain.ServerStatus) func(cmd *cobra.Command, args []string) error {
		return func(cmd *cobra.Command, args []string) error {
			conf, err := loadConfig()
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), conf)
			if err != nil {
				return err
			}
			defer a.close()

			name := strings.ToLower(args[0])
			if err := a.db.SetServerStatus(cmd.Context(), name, status); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(os.Stdout, "%s: %s\n", name, status)
			return nil
		}
	}

	serverCmd.AddCommand(&cobra.Command{
		Use:   "block DOMAIN",
		Short: "Refuse all federation with a server",
		Args:  cobra.ExactArgs(1),
		RunE:  setStatus(domain.ServerBlocked),
	})
	serverCmd.AddCommand(&cobra.Command{
		Use:   "unblock DOMAIN",
		Short: "Federate with a server again",
		Args:  cobra.ExactArgs(1),
		RunE:  setStatus(domain.ServerFederated),
	})

	serverCmd.AddCommand(&cobra.Command{
		Use:   "health DOMAIN",
		Short: "Show the delivery health of a server",
		Long:  "Show the delivery health of a server. Without redisAddr the state only lives in the serve process.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			conf, err := loadConfig()
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), conf)
			if err != nil {
				return err
			}
			defer a.close()

			host := strings.ToLower(args[0])
			entry, stats, err := a.tracker.Snapshot(cmd.Context(), host)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			defer w.Flush()
			_, _ = fmt.Fprintf(w, "server\t%s\n", host)
			_, _ = fmt.Fprintf(w, "health\t%s\n", a.tracker.HealthStatus(cmd.Context(), host))
			if server, err := a.db.ReadServerByName(cmd.Context(), host); err == nil {
				_, _ = fmt.Fprintf(w, "status\t%s\n", server.Status)
				_, _ = fmt.Fprintf(w, "software\t%s %s\n", server.ApplicationType, server.ApplicationVersion)
			}
			if entry != nil {
				_, _ = fmt.Fprintf(w, "failures\t%d (%s)\n", entry.FailureCount, entry.LastErrorType)
				_, _ = fmt.Fprintf(w, "next retry\t%s\n", entry.NextRetryAt.Local().Format(util.DateTimeFormat()))
			}
			if stats != nil {
				_, _ = fmt.Fprintf(w, "success rate\t%.0f%% (%d ok, %d failed)\n", stats.SuccessRate()*100, stats.SuccessCount, stats.FailureCount)
				_, _ = fmt.Fprintf(w, "avg latency\t%.0fms\n", stats.AvgLatencyMs)
			}
			return nil
		},
	})

	rootCmd.AddCommand(serverCmd)
}
