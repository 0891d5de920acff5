package main

import (
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/pushpaanand/teleconsult/internal/config"
	"github.com/pushpaanand/teleconsult/internal/ledger"
	"github.com/pushpaanand/teleconsult/internal/models"
)

func newOutcomesCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "outcomes",
		Short: "List recorded consultation outcomes, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			if limit <= 0 {
				return fmt.Errorf("--limit must be positive")
			}

			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			if cfg.Ledger.Path == "" {
				return errors.New("the outcome ledger is disabled (LEDGER_PATH is empty)")
			}

			l, err := ledger.Open(cfg.Ledger.Path)
			if err != nil {
				return fmt.Errorf("failed to open outcome ledger: %w", err)
			}
			defer l.Close()

			records, err := l.List(cmd.Context(), limit)
			if err != nil {
				return fmt.Errorf("failed to list outcomes: %w", err)
			}
			printOutcomes(cmd.OutOrStdout(), records)
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of consultations to show")
	return cmd
}

func printOutcomes(w io.Writer, records []models.ConsultationRecord) {
	if len(records) == 0 {
		fmt.Fprintln(w, "No consultations recorded.")
		return
	}

	fmt.Fprintln(w, headerStyle.Render(fmt.Sprintf("Consultations (%d)", len(records))))
	fmt.Fprintln(w)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ENDED\tROOM\tDEPARTMENT\tDURATION\tOUTCOME\tREASON\tSESSION")
	for _, rec := range records {
		outcome := okStyle.Render(string(rec.Outcome))
		if rec.Outcome != models.OutcomeCompleted {
			outcome = errorStyle.Render(string(rec.Outcome))
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			rec.EndedAt.Local().Format("2006-01-02 15:04"),
			rec.RoomID,
			dash(rec.Department),
			rec.Duration().Round(time.Second),
			outcome,
			dash(rec.Reason),
			idStyle.Render(rec.SessionID),
		)
	}
	tw.Flush()
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
