package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"cfdi-descargas/internal/cfdi"
	"cfdi-descargas/internal/domain"
)

func parseCmd() *cobra.Command {
	var (
		includeCancelled bool
		asJSON           bool
	)

	cmd := &cobra.Command{
		Use:   "parse [file...]",
		Short: "Extract invoices from SAT packages (.zip) or CFDI documents (.xml)",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := logrus.New()
			logger.SetOutput(cmd.ErrOrStderr())

			var invoices []domain.Invoice
			for _, path := range args {
				parsed, err := parseFile(path, logger)
				if err != nil {
					return err
				}
				invoices = append(invoices, parsed...)
			}

			filter := domain.FilterUnspecified
			if includeCancelled {
				filter = domain.FilterCancelled
			}
			kept, cancelled := cfdi.ApplyDisplayPolicy(invoices, filter)

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(map[string]any{
					"facturas": kept,
					"stats": map[string]int{
						"vigentes":             len(kept),
						"canceladas_filtradas": cancelled,
					},
				})
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "UUID\tFECHA\tEMISOR\tRECEPTOR\tTOTAL\tMONEDA\tESTADO")
			for _, inv := range kept {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%.2f\t%s\t%s\n",
					inv.UUID, inv.Date, inv.IssuerRFC, inv.ReceiverRFC, inv.Total, inv.Currency, inv.State)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "\n%d vigentes, %d canceladas filtradas\n", len(kept), cancelled)
			return nil
		},
	}

	cmd.Flags().BoolVar(&includeCancelled, "cancelled", false, "include cancelled invoices")
	cmd.Flags().BoolVarP(&asJSON, "json", "j", false, "output as JSON")

	return cmd
}

func parseFile(path string, logger *logrus.Logger) ([]domain.Invoice, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".xml":
		inv, err := cfdi.ParseDocument(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		return []domain.Invoice{inv}, nil
	default:
		invoices, err := cfdi.ParseArchive(data, logger.WithField("file", path))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		return invoices, nil
	}
}
