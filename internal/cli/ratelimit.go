package cli

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	mongoinspect "github.com/ppiankov/shapespectre/internal/mongo"
)

func newRateLimitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ratelimit",
		Short: "Read or change the $queryStats sampling rate (" + mongoinspect.RateLimitParameter + ")",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get",
		Short: "Print the current sampling rate in queries per second",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			insp, _, err := connect(ctx, cmd)
			if err != nil {
				return err
			}
			defer func() { _ = insp.Close(ctx) }()

			limit, err := insp.QueryStatsRateLimit(ctx)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), limit)
			if limit == 0 {
				_, _ = fmt.Fprintln(cmd.ErrOrStderr(), "warning: query stats sampling is disabled")
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set <queries-per-second>",
		Short: "Change the sampling rate; 0 disables sampling",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || limit < 0 {
				return fmt.Errorf("invalid rate limit %q: want a non-negative integer", args[0])
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			insp, _, err := connect(ctx, cmd)
			if err != nil {
				return err
			}
			defer func() { _ = insp.Close(ctx) }()

			if err := insp.SetQueryStatsRateLimit(ctx, limit); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s set to %d\n", mongoinspect.RateLimitParameter, limit)
			return nil
		},
	})

	return cmd
}
