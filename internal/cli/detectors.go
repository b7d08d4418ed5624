package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newDetectorsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "detectors",
		Short: "List the registered signal detectors",
		RunE: func(cmd *cobra.Command, args []string) error {
			container, err := opts.buildContainer(cmd.Context())
			if err != nil {
				return err
			}
			defer container.Close()

			svc := container.Service()
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintf(tw, "MODEL\t%s\n\n", svc.ModelVersion())
			fmt.Fprintln(tw, "#\tNAME\tSIGNAL")
			for i, d := range svc.Detectors() {
				fmt.Fprintf(tw, "%d\t%s\t%s\n", i, d.Name(), d.SignalType())
			}
			return tw.Flush()
		},
	}
}

func newHistoryCmd(opts *rootOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history <patient_id>",
		Short: "Show recorded predictions for a patient",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			container, err := opts.buildContainer(cmd.Context())
			if err != nil {
				return err
			}
			defer container.Close()

			store := container.AuditStore()
			if store == nil {
				return fmt.Errorf("audit log is disabled")
			}
			records, err := store.ListByPatient(cmd.Context(), args[0], limit)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "RECORDED\tPREDICTION\tDISEASE\tRISK\tPROBABILITY\tCONFIDENCE")
			for _, r := range records {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%.2f\t%.2f\n",
					r.CreatedAt.Format("2006-01-02 15:04"), r.PredictionID, r.Disease, r.RiskLevel, r.Probability, r.Confidence)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of records")
	return cmd
}
