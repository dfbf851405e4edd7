package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/renderer"
	"github.com/olekukonko/tablewriter/tw"
	"github.com/spf13/cobra"

	"github.com/fmuoria/cv-triage/internal/export"
	"github.com/fmuoria/cv-triage/internal/filters"
	"github.com/fmuoria/cv-triage/internal/models"
)

// queryFlags are the view, selection and dashboard flags shared by the
// commands that run the pipeline
type queryFlags struct {
	input    string
	view     string
	vertical string
	preset   string
	strict   bool
	search   string
	skills   []string
	country  []string
	sources  []string
	statuses []string
	tags     []string
	day      string
	limit    int
}

func (f *queryFlags) bind(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.StringVarP(&f.input, "input", "i", "", "Read records from a JSON file instead of the store")
	flags.StringVar(&f.view, "view", string(filters.ViewQualified), "View: all, qualified or best")
	flags.StringVar(&f.vertical, "vertical", "", "Vertical to apply to the best view")
	flags.StringVar(&f.preset, "preset", "", "Preset to apply to the best view")
	flags.BoolVar(&f.strict, "strict", false, "Require every vertical keyword group to match")
	flags.StringVarP(&f.search, "search", "s", "", "Free-text search")
	flags.StringSliceVar(&f.skills, "skill", nil, "Keep candidates with any of these skills")
	flags.StringSliceVar(&f.country, "country", nil, "Keep candidates from any of these countries")
	flags.StringSliceVar(&f.sources, "source", nil, "Keep candidates received by any of these addresses")
	flags.StringSliceVar(&f.statuses, "status", nil, "Keep candidates in any of these stages")
	flags.StringSliceVar(&f.tags, "tag", nil, "Keep candidates with any of these tags")
	flags.StringVar(&f.day, "day", "", "Keep candidates received on a day: today or YYYY-MM-DD")
	flags.IntVarP(&f.limit, "limit", "n", 0, "Maximum candidates to return (0 for all)")
}

// query builds the pipeline query. The saved selection applies unless a
// vertical or preset flag overrides it.
func (f *queryFlags) query(saved filters.Selection) (filters.Query, error) {
	view, err := filters.ParseView(f.view)
	if err != nil {
		return filters.Query{}, err
	}
	if f.vertical != "" && f.preset != "" {
		return filters.Query{}, fmt.Errorf("--vertical and --preset are mutually exclusive")
	}
	if f.limit < 0 {
		return filters.Query{}, fmt.Errorf("--limit must not be negative")
	}
	if f.day != "" && !strings.EqualFold(f.day, filters.DayToday) {
		if _, err := time.Parse("2006-01-02", f.day); err != nil {
			return filters.Query{}, fmt.Errorf("--day must be today or YYYY-MM-DD")
		}
	}

	sel := saved
	switch {
	case f.vertical != "":
		sel = sel.SelectVertical(f.vertical, f.strict)
	case f.preset != "":
		sel = sel.SelectPreset(f.preset)
	}

	return filters.Query{
		View:      view,
		Selection: sel,
		Limit:     f.limit,
		Filters: filters.DashboardFilters{
			Search:    f.search,
			Skills:    f.skills,
			Countries: f.country,
			Sources:   f.sources,
			Statuses:  f.statuses,
			Tags:      f.tags,
			Day:       f.day,
		},
	}, nil
}

func newFilterCmd(load configLoader) *cobra.Command {
	var (
		flags  queryFlags
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "filter",
		Short: "List deduplicated, ranked candidates",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}

			rt, err := newRuntime(cmd.Context(), cfg, runtimeOptions{records: flags.input})
			if err != nil {
				return err
			}
			defer rt.Close()

			q, err := flags.query(rt.settings.Selection)
			if err != nil {
				return err
			}

			res, err := rt.agent.Candidates(cmd.Context(), q)
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(res.List(rt.agent.Pipeline().Now()))
			}

			if err := writeCandidateTable(cmd.OutOrStdout(), res.Candidates); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "\n%d of %d matching candidates (%s view)\n", len(res.Candidates), res.Total, res.View)
			return nil
		},
	}

	flags.bind(cmd)
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the list as JSON")
	return cmd
}

func newExplainCmd(load configLoader) *cobra.Command {
	var flags queryFlags

	cmd := &cobra.Command{
		Use:   "explain <id>",
		Short: "Explain why a record is in or out of a view",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}

			rt, err := newRuntime(cmd.Context(), cfg, runtimeOptions{records: flags.input})
			if err != nil {
				return err
			}
			defer rt.Close()

			q, err := flags.query(rt.settings.Selection)
			if err != nil {
				return err
			}

			c, reason, err := rt.agent.Explain(cmd.Context(), args[0], q.View, q.Selection)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			name := c.Name
			if name == "" {
				name = c.Record.FileName
			}
			if reason == filters.ReasonNone {
				fmt.Fprintf(out, "%s qualifies for the %s view\n", name, q.View)
				return nil
			}
			fmt.Fprintf(out, "%s is excluded from the %s view: %s\n", name, q.View, reason.Describe())
			return nil
		},
	}

	flags.bind(cmd)
	return cmd
}

func newExportCmd(load configLoader) *cobra.Command {
	var (
		flags  queryFlags
		output string
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write a view to an Excel workbook",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}

			rt, err := newRuntime(cmd.Context(), cfg, runtimeOptions{records: flags.input})
			if err != nil {
				return err
			}
			defer rt.Close()

			q, err := flags.query(rt.settings.Selection)
			if err != nil {
				return err
			}

			res, err := rt.agent.Candidates(cmd.Context(), q)
			if err != nil {
				return err
			}

			now := rt.agent.Pipeline().Now()
			if output == "" {
				output = fmt.Sprintf("candidates-%s-%s.xlsx", res.View, now.Format("20060102"))
			}

			path, err := export.ExportToExcel(res, output, now)
			if err != nil {
				return err
			}
			if abs, err := filepath.Abs(path); err == nil {
				path = abs
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Exported %d candidates to %s\n", len(res.Candidates), path)
			return nil
		},
	}

	flags.bind(cmd)
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output path (default candidates-<view>-<date>.xlsx)")
	return cmd
}

// writeCandidateTable prints candidates in rank order as a borderless table
func writeCandidateTable(w io.Writer, candidates []models.Candidate) error {
	table := tablewriter.NewTable(w,
		tablewriter.WithRenderer(renderer.NewBlueprint(tw.Rendition{
			Borders: tw.BorderNone,
			Symbols: tw.NewSymbols(tw.StyleNone),
			Settings: tw.Settings{
				Lines:      tw.LinesNone,
				Separators: tw.SeparatorsNone,
			},
		})),
		tablewriter.WithHeaderAlignment(tw.AlignLeft),
		tablewriter.WithRowAlignment(tw.AlignLeft),
		tablewriter.WithRowAutoWrap(tw.WrapNone),
	)
	table.Header("#", "Name", "Email", "Score", "Date", "Countries", "Skills", "Status")

	for i, c := range candidates {
		err := table.Append([]string{
			strconv.Itoa(i + 1),
			c.Name,
			c.Email,
			strconv.Itoa(c.Score),
			c.EffectiveDate,
			truncate(strings.Join(c.Countries, ", "), 30),
			truncate(strings.Join(c.Skills, ", "), 40),
			string(c.Record.CandidateStatus),
		})
		if err != nil {
			return fmt.Errorf("failed to add table row: %w", err)
		}
	}

	if err := table.Render(); err != nil {
		return fmt.Errorf("failed to render table: %w", err)
	}
	return nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
