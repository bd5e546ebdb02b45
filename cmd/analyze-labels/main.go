// analyze-labels reports the structure of drug label JSON files: field paths, lengths,
// HTML usage, tables, lists and section codes.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/rxlabels/labelhub/pkg/labelanalysis"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var (
		csvPath  string
		jsonPath string
		quiet    bool
	)

	cmd := &cobra.Command{
		Use:   "analyze-labels FILE...",
		Short: "Analyze the structure of drug label JSON files",
		Long: `Analyze one or more drug label JSON files (a label object or an array of labels,
e.g. an openFDA download) and print a structure summary.

The field summary can be exported as CSV and the full report as JSON.`,
		Args:         cobra.MinimumNArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAnalyze(cmd.OutOrStdout(), cmd.ErrOrStderr(), args, csvPath, jsonPath, quiet)
		},
	}

	cmd.Flags().StringVar(&csvPath, "csv", "", "Write the field summary as CSV to this path")
	cmd.Flags().StringVar(&jsonPath, "json", "", "Write the full report as JSON to this path")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Do not print the summary")

	return cmd
}

func runAnalyze(stdout, stderr io.Writer, files []string, csvPath, jsonPath string, quiet bool) error {
	analyzer := labelanalysis.New()

	for _, path := range files {
		n, err := analyzer.AnalyzeFile(path)
		if err != nil {
			return err
		}

		fmt.Fprintf(stderr, "Analyzed %d label(s) from %s\n", n, path)
	}

	report := analyzer.Report()

	if !quiet {
		styles := labelanalysis.PlainStyles()
		if isTerminal(stdout) {
			styles = labelanalysis.TerminalStyles()
		}

		if err := labelanalysis.WriteSummary(stdout, report, styles); err != nil {
			return err
		}
	}

	if csvPath != "" {
		if err := writeFile(csvPath, func(w io.Writer) error { return labelanalysis.WriteCSV(w, report) }); err != nil {
			return err
		}

		fmt.Fprintf(stderr, "Field summary exported to: %s\n", csvPath)
	}

	if jsonPath != "" {
		if err := writeFile(jsonPath, func(w io.Writer) error { return labelanalysis.WriteJSON(w, report) }); err != nil {
			return err
		}

		fmt.Fprintf(stderr, "Full analysis report saved to: %s\n", jsonPath)
	}

	return nil
}

func writeFile(path string, write func(io.Writer) error) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}

	defer func() {
		err = errors.Join(err, f.Close())
	}()

	return write(f)
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}

	info, err := f.Stat()

	return err == nil && info.Mode()&os.ModeCharDevice != 0
}
