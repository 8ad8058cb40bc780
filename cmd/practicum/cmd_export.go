package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"practicum/internal/export"
)

var exportFlags struct {
	out string
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write all check results as CSV",
	RunE:  runExport,
}

func init() {
	exportCmd.Flags().StringVarP(&exportFlags.out, "out", "o", "", "Output file (default stdout)")
}

func runExport(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	w := cmd.OutOrStdout()
	if exportFlags.out != "" {
		f, err := os.Create(exportFlags.out)
		if err != nil {
			return fmt.Errorf("create %s: %w", exportFlags.out, err)
		}
		defer f.Close()
		w = f
	}

	n, err := export.WriteCSV(st, w)
	if err != nil {
		return err
	}
	if exportFlags.out != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d rows to %s\n", n, exportFlags.out)
	}
	return nil
}
