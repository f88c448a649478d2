package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/klynaa/realtime/internal/api"
	"github.com/klynaa/realtime/internal/protocol"
)

func buildPickupsCommand(opts *rootOptions) *cobra.Command {
	var (
		status string
		mine   bool
		all    bool
		page   int
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "pickups [id]",
		Short: "List pickups or show one pickup",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.load(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			ctx := commandContext(cmd)

			client, err := newAPIClient(cfg.API, logger)
			if err != nil {
				return err
			}
			_, claims, err := ensureAccessToken(ctx, client, cfg.API, time.Now(), logger)
			if err != nil {
				return err
			}

			var pickups []api.Pickup
			switch {
			case len(args) == 1:
				id, err := strconv.ParseInt(args[0], 10, 64)
				if err != nil {
					return fmt.Errorf("invalid pickup id %q", args[0])
				}
				p, err := client.GetPickup(ctx, id)
				if err != nil {
					return err
				}
				pickups = []api.Pickup{*p}
			default:
				listOpts := api.ListPickupsOptions{Page: page, Status: status}
				if mine {
					if listOpts.Worker, err = resolveWorkerID(cfg.Worker.ID, claims); err != nil {
						return err
					}
				}
				if all {
					pickups, err = client.ListAllPickups(ctx, listOpts)
				} else {
					var p *api.Page[api.Pickup]
					p, err = client.ListPickups(ctx, listOpts)
					if p != nil {
						pickups = p.Results
					}
				}
				if err != nil {
					return err
				}
			}

			if asJSON {
				return writeAssignments(cmd.OutOrStdout(), pickups)
			}
			return writePickupTable(cmd.OutOrStdout(), pickups)
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "filter by status (pending, accepted, in_progress, completed, cancelled)")
	cmd.Flags().BoolVar(&mine, "mine", false, "only pickups assigned to this worker")
	cmd.Flags().BoolVar(&all, "all", false, "fetch every page")
	cmd.Flags().IntVar(&page, "page", 0, "page number (ignored with --all)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print pickups as realtime assignment JSON")

	return cmd
}

func buildBinsCommand(opts *rootOptions) *cobra.Command {
	var (
		status string
		page   int
	)

	cmd := &cobra.Command{
		Use:   "bins",
		Short: "List bins",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.load(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			ctx := commandContext(cmd)

			client, err := newAPIClient(cfg.API, logger)
			if err != nil {
				return err
			}
			if _, _, err := ensureAccessToken(ctx, client, cfg.API, time.Now(), logger); err != nil {
				return err
			}

			p, err := client.ListBins(ctx, api.ListBinsOptions{Page: page, Status: status})
			if err != nil {
				return err
			}
			return writeBinTable(cmd.OutOrStdout(), p.Results)
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "filter by bin status")
	cmd.Flags().IntVar(&page, "page", 0, "page number")

	return cmd
}

func writeAssignments(w io.Writer, pickups []api.Pickup) error {
	out := make([]protocol.Assignment, 0, len(pickups))
	for _, p := range pickups {
		out = append(out, p.Assignment())
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func writePickupTable(w io.Writer, pickups []api.Pickup) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tWASTE\tSCHEDULED\tPRICE\tADDRESS")
	for _, p := range pickups {
		scheduled := "-"
		if p.ScheduledTime != nil {
			scheduled = p.ScheduledTime.Format(time.RFC3339)
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n", p.ID, p.Status, p.WasteType, scheduled, p.Price, p.Address)
	}
	return tw.Flush()
}

func writeBinTable(w io.Writer, bins []api.Bin) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tLABEL\tSTATUS\tFILL\tWASTE\tADDRESS")
	for _, b := range bins {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d%%\t%s\t%s\n", b.ID, b.Label, b.Status, b.FillLevel, b.WasteType, b.Address)
	}
	return tw.Flush()
}
