package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/soaringjerry/moderator/internal/config"
	"github.com/soaringjerry/moderator/internal/services"
	"github.com/soaringjerry/moderator/internal/store"
)

var (
	exportOut    string
	exportFormat string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write committed trial records as CSV",
	Long: `Reads every committed trial record still present in the results
directory, scores it, and writes one CSV.

Examples:
  moderator export --out trials.csv
  moderator export --format responses --out responses.csv
  moderator export --format reliability`,
	RunE: runExport,
}

func init() {
	rootCmd.AddCommand(exportCmd)
	exportCmd.Flags().StringVarP(&exportOut, "out", "o", "-", "Output file, - for stdout")
	exportCmd.Flags().StringVar(&exportFormat, "format", "trials", "trials, responses or reliability")
}

func runExport(cmd *cobra.Command, _ []string) error {
	b, err := exportCSV(cfg.resultsDir, cfg.protocolPath, exportFormat)
	if err != nil {
		return err
	}
	if exportOut == "" || exportOut == "-" {
		_, err = cmd.OutOrStdout().Write(b)
		return err
	}
	if err := os.WriteFile(exportOut, b, 0o600); err != nil {
		return fmt.Errorf("write export: %w", err)
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "wrote %s\n", exportOut)
	return nil
}

func exportCSV(resultsDir, protocolPath, format string) ([]byte, error) {
	fs, err := store.NewFileStore(resultsDir)
	if err != nil {
		return nil, err
	}
	records, err := fs.LoadAllRecords()
	if err != nil {
		return nil, err
	}
	rows := services.BuildTrialRows(records)
	switch format {
	case "trials":
		return services.ExportTrialsCSV(rows)
	case "responses", "reliability":
		protocol, err := config.Load(protocolPath)
		if err != nil {
			return nil, err
		}
		if format == "reliability" {
			return services.ExportReliabilityCSV(rows, protocol.QuestionnaireModel())
		}
		return services.ExportResponsesCSV(rows, protocol.QuestionnaireModel())
	}
	return nil, fmt.Errorf("unsupported format %q", format)
}
