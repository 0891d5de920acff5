package main

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/pushpaanand/teleconsult/internal/config"
	"github.com/pushpaanand/teleconsult/internal/models"
	"github.com/pushpaanand/teleconsult/internal/resolver"
	"github.com/pushpaanand/teleconsult/internal/utils"
)

func newResolveCmd() *cobra.Command {
	var query string

	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Resolve a consultation link into its appointment context",
		Long: `Resolve runs the parameters of a consultation link through the same resolution
as a page load, including the decrypt service for opaque ids, and prints the result.

The query may be a bare query string or a full link.`,
		Example: `  teleconsult resolve --query 'app_no=A1&username=Jane&userid=U1'
  teleconsult resolve --query 'https://clinic.example/consult?id=Zm9v+YmFy'`,
		RunE: func(cmd *cobra.Command, args []string) error {
			params, err := parseQuery(query)
			if err != nil {
				return err
			}

			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			logger := utils.NewLogger(cfg.Log.Level, cfg.Log.Format, cmd.ErrOrStderr())
			if !verboseLogging(cmd) {
				logger = logger.Level(zerolog.Disabled)
			}

			res := resolver.New(resolver.NewDecryptClient(cfg.Decrypt.URL, cfg.Decrypt.Timeout), nil, logger)
			appt, err := res.Resolve(cmd.Context(), "", params)
			if err != nil {
				printDenied(cmd.OutOrStdout(), err)
				return err
			}
			printAppointment(cmd.OutOrStdout(), appt)
			return nil
		},
	}

	cmd.Flags().StringVarP(&query, "query", "q", "", "Query string or link to resolve")
	cmd.Flags().Bool("verbose", false, "Log resolution steps to stderr")
	_ = cmd.MarkFlagRequired("query")
	return cmd
}

func verboseLogging(cmd *cobra.Command) bool {
	v, _ := cmd.Flags().GetBool("verbose")
	return v
}

func parseQuery(raw string) (url.Values, error) {
	raw = strings.TrimSpace(raw)
	if i := strings.Index(raw, "?"); i >= 0 {
		raw = raw[i+1:]
	}
	params, err := url.ParseQuery(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid query: %w", err)
	}
	return params, nil
}

func printAppointment(w io.Writer, appt models.AppointmentContext) {
	fmt.Fprintln(w, headerStyle.Render("Appointment context"))
	fmt.Fprintln(w)

	rows := []struct{ label, value string }{
		{"Room", appt.RoomID},
		{"Participant", appt.LocalParticipantID},
		{"Name", appt.LocalDisplayName},
		{"Counterpart", appt.CounterpartName},
		{"Department", appt.Department},
	}
	for _, row := range rows {
		if row.value == "" {
			continue
		}
		fmt.Fprintf(w, "  %s %s\n", labelStyle.Render(row.label), valueStyle.Render(row.value))
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, okStyle.Render("✓ ready to connect"))
}

func printDenied(w io.Writer, err error) {
	reason := resolver.ReasonOf(err)
	if reason == "" {
		reason = models.DenialContextInvalid
	}

	fmt.Fprintln(w, errorStyle.Render("Access denied"))
	fmt.Fprintf(w, "  %s %s\n", labelStyle.Render("Reason"), valueStyle.Render(string(reason)))

	var rerr *resolver.Error
	if errors.As(err, &rerr) && rerr.Err != nil {
		fmt.Fprintf(w, "  %s %s\n", labelStyle.Render("Detail"), idStyle.Render(rerr.Err.Error()))
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, models.RemediationMessage)
}
