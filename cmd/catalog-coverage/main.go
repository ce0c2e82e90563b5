// Command catalog-coverage reports how a question catalog covers the R2v3
// requirement codes and which evidence-required questions lack evidence.
package main

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Shamoka80/r2ready-sub010/pkg/catalog"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

type options struct {
	format  string
	version string
	output  string
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "catalog-coverage",
		Short:         "Inspect an R2v3 question catalog",
		SilenceUsage:  true,
	}
	root.PersistentFlags().StringVar(&opts.output, "output", "text", "output format: text or json")
	root.PersistentFlags().StringVar(&opts.format, "format", "", "catalog format: yaml or csv (default: from extension)")
	root.PersistentFlags().StringVar(&opts.version, "version", "", "catalog version for CSV files")

	root.AddCommand(coverageCmd(opts), evidenceCmd(opts), statsCmd(opts), reportCmd(opts))
	return root
}

func coverageCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "coverage <catalog>",
		Short: "Report REC code coverage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			snap, err := load(cmd.Context(), args[0], opts)
			if err != nil {
				return err
			}
			report := catalog.Coverage(snap)
			if opts.output == "json" {
				return writeJSON(cmd.OutOrStdout(), report)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "REQUIREMENT\tCOVERED\tCOUNT\tQUESTIONS\tPROPOSED")
			for _, row := range report.Rows {
				covered := "N"
				if row.Covered {
					covered = "Y"
				}
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n", row.Requirement, covered, row.Count,
					strings.Join(row.QuestionIDs, ","), row.ProposedAddIfGap)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), report.Summary)
			if len(report.Unmapped) > 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "unmapped: %s\n", strings.Join(report.Unmapped, ", "))
			}
			return nil
		},
	}
}

func evidenceCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "evidence <catalog.csv>",
		Short: "List EVIDENCE_REQUIRED rows with no evidence",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if f := catalogFormat(args[0], opts); f != "csv" {
				return fmt.Errorf("evidence report needs a CSV catalog, got %s", f)
			}
			file, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer file.Close()

			rows, err := catalog.ParseCSV(file)
			if err != nil {
				return err
			}
			gaps := catalog.MissingEvidenceFromCSV(rows)
			if opts.output == "json" {
				return writeJSON(cmd.OutOrStdout(), gaps)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "QUESTION\tCLAUSE\tTAGS\tREASON")
			for _, g := range gaps {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", g.QuestionID, g.ClauseID, g.Tags, g.Reason)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d of %d rows missing evidence\n", len(gaps), len(rows))
			return nil
		},
	}
}

func statsCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "stats <catalog>",
		Short: "Print catalog counts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			snap, err := load(cmd.Context(), args[0], opts)
			if err != nil {
				return err
			}
			st := snap.Stats()
			if opts.output == "json" {
				return writeJSON(cmd.OutOrStdout(), st)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "version:           %s\n", st.Version)
			fmt.Fprintf(out, "questions:         %d\n", st.Questions)
			fmt.Fprintf(out, "rec codes:         %d\n", st.RecCodes)
			fmt.Fprintf(out, "mappings:          %d\n", st.Mappings)
			fmt.Fprintf(out, "evidence required: %d\n", st.EvidenceReqd)
			return nil
		},
	}
}

// Report file names.
const (
	coverageFile = "coverage_report.csv"
	evidenceFile = "missing_evidence.csv"
	summaryFile  = "summary.json"
)

type summary struct {
	CatalogVersion       string            `json:"catalog_version"`
	TotalQuestions       int               `json:"total_questions"`
	Requirements         map[string]int    `json:"requirements"`
	Gaps                 []string          `json:"gaps"`
	MissingEvidenceCount int               `json:"missing_evidence_count"`
	Artifacts            map[string]string `json:"artifacts"`
}

var errGaps = errors.New("catalog has requirements without questions")

func reportCmd(opts *options) *cobra.Command {
	var outDir string
	var failOnGaps bool
	cmd := &cobra.Command{
		Use:   "report <catalog>",
		Short: "Write coverage, missing-evidence and summary files",
		Long: `Writes coverage_report.csv and summary.json for any catalog, and
missing_evidence.csv for CSV catalogs, into --out-dir.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			snap, err := load(cmd.Context(), args[0], opts)
			if err != nil {
				return err
			}
			if err := os.MkdirAll(outDir, 0o755); err != nil {
				return fmt.Errorf("failed to create %s: %w", outDir, err)
			}

			report := catalog.Coverage(snap)
			sum := summary{
				CatalogVersion: report.CatalogVersion,
				TotalQuestions: report.TotalQuestions,
				Requirements:   make(map[string]int, len(report.Rows)),
				Gaps:           report.Gaps,
				Artifacts:      map[string]string{},
			}
			for _, row := range report.Rows {
				sum.Requirements[row.Requirement] = row.Count
			}

			path := filepath.Join(outDir, coverageFile)
			if err := writeCoverageCSV(path, report); err != nil {
				return err
			}
			sum.Artifacts["coverage_csv"] = path

			if catalogFormat(args[0], opts) == "csv" {
				gaps, err := csvEvidenceGaps(args[0])
				if err != nil {
					return err
				}
				path := filepath.Join(outDir, evidenceFile)
				if err := writeEvidenceCSV(path, gaps); err != nil {
					return err
				}
				sum.MissingEvidenceCount = len(gaps)
				sum.Artifacts["missing_evidence_csv"] = path
			}

			f, err := os.Create(filepath.Join(outDir, summaryFile))
			if err != nil {
				return err
			}
			defer f.Close()
			if err := writeJSON(io.MultiWriter(f, cmd.OutOrStdout()), sum); err != nil {
				return err
			}

			if failOnGaps && len(report.Gaps) > 0 {
				return fmt.Errorf("%w: %s", errGaps, strings.Join(report.Gaps, ", "))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&outDir, "out-dir", "reports", "directory for the report files")
	cmd.Flags().BoolVar(&failOnGaps, "fail-on-gaps", false, "exit non-zero when a requirement has no questions")
	return cmd
}

func csvEvidenceGaps(path string) ([]catalog.EvidenceGap, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	rows, err := catalog.ParseCSV(f)
	if err != nil {
		return nil, err
	}
	return catalog.MissingEvidenceFromCSV(rows), nil
}

func writeCoverageCSV(path string, report *catalog.CoverageReport) error {
	records := [][]string{{"Requirement", "Covered", "Count", "QuestionIDs", "ProposedAddIfGap"}}
	for _, row := range report.Rows {
		covered := "N"
		if row.Covered {
			covered = "Y"
		}
		records = append(records, []string{
			row.Requirement, covered, strconv.Itoa(row.Count),
			strings.Join(row.QuestionIDs, ";"), row.ProposedAddIfGap,
		})
	}
	return writeCSV(path, records)
}

func writeEvidenceCSV(path string, gaps []catalog.EvidenceGap) error {
	records := [][]string{{"id", "tags"}}
	for _, g := range gaps {
		records = append(records, []string{g.QuestionID, g.Tags})
	}
	return writeCSV(path, records)
}

func writeCSV(path string, records [][]string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer f.Close()
	if err := csv.NewWriter(f).WriteAll(records); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

func load(ctx context.Context, path string, opts *options) (*catalog.Snapshot, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	return catalog.FileLoader{Path: path, Format: opts.format, Version: opts.version}.Load(ctx)
}

func catalogFormat(path string, opts *options) string {
	if opts.format != "" {
		return strings.ToLower(opts.format)
	}
	return strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
