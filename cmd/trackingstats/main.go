// Command trackingstats prints tracking step and issue statistics straight from
// the database, for operators without an admin token.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/olekukonko/tablewriter"
	"github.com/shinyyama/shop-tracking/internal/config"
	"github.com/shinyyama/shop-tracking/internal/db"
	"github.com/shinyyama/shop-tracking/internal/repository"
	"github.com/shinyyama/shop-tracking/internal/service"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

const (
	formatTable = "table"
	formatYAML  = "yaml"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, out io.Writer) error {
	var envFile, format string
	flags := pflag.NewFlagSet("trackingstats", pflag.ContinueOnError)
	flags.StringVar(&envFile, "env-file", ".env", "dotenv file to load before reading the environment")
	flags.StringVarP(&format, "format", "f", formatTable, "output format: table or yaml")
	if err := flags.Parse(args); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}
	if format != formatTable && format != formatYAML {
		return fmt.Errorf("unknown format %q", format)
	}

	_ = godotenv.Load(envFile)
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	conn, err := db.Connect(cfg)
	if err != nil {
		return fmt.Errorf("connect db: %w", err)
	}

	ctx := context.Background()
	r, err := buildReport(ctx, repository.NewStore(conn))
	if err != nil {
		return err
	}
	if format == formatYAML {
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		if err := enc.Encode(r); err != nil {
			return err
		}
		return enc.Close()
	}
	return r.render(out)
}

type stepRow struct {
	Step   string `yaml:"step"`
	Status string `yaml:"status"`
	Count  int64  `yaml:"count"`
}

type issueRow struct {
	Type  string `yaml:"type"`
	Count int64  `yaml:"count"`
}

type report struct {
	Rows   map[string]string `yaml:"rows"`
	Steps  []stepRow         `yaml:"steps"`
	Issues []issueRow        `yaml:"issues"`
}

// countRows reports each table's size; a failed count reads "error" rather
// than aborting the whole report.
func countRows(ctx context.Context, s repository.Store) map[string]string {
	counters := map[string]func(context.Context) (int64, error){
		"orders":          s.Orders().Count,
		"tracking_steps":  s.Tracking().CountSteps,
		"tracking_detail": s.Tracking().CountDetails,
		"addresses":       s.Addresses().Count,
		"users":           s.Users().Count,
	}
	out := make(map[string]string, len(counters))
	for name, count := range counters {
		n, err := count(ctx)
		if err != nil {
			out[name] = "error"
			continue
		}
		out[name] = strconv.FormatInt(n, 10)
	}
	return out
}

func buildReport(ctx context.Context, s repository.Store) (*report, error) {
	stats, err := service.NewTrackingService(s, nil).Statistics(ctx)
	if err != nil {
		return nil, fmt.Errorf("statistics: %w", err)
	}
	r := &report{Rows: countRows(ctx, s)}
	for _, c := range stats.ByStepAndStatus {
		r.Steps = append(r.Steps, stepRow{Step: string(c.StepName), Status: string(c.Status), Count: c.Count})
	}
	for _, c := range stats.IssuesByType {
		typ := "unspecified"
		if c.IssueType != nil {
			typ = string(*c.IssueType)
		}
		r.Issues = append(r.Issues, issueRow{Type: typ, Count: c.Count})
	}
	return r, nil
}

func (r *report) render(w io.Writer) error {
	rows := tablewriter.NewWriter(w)
	rows.Header("Table", "Rows")
	for _, name := range []string{"users", "orders", "tracking_steps", "tracking_detail", "addresses"} {
		if err := rows.Append([]string{name, r.Rows[name]}); err != nil {
			return err
		}
	}
	if err := rows.Render(); err != nil {
		return err
	}

	steps := tablewriter.NewWriter(w)
	steps.Header("Step", "Status", "Count")
	for _, s := range r.Steps {
		if err := steps.Append([]string{s.Step, s.Status, strconv.FormatInt(s.Count, 10)}); err != nil {
			return err
		}
	}
	if err := steps.Render(); err != nil {
		return err
	}

	if len(r.Issues) == 0 {
		_, err := fmt.Fprintln(w, "no open issues")
		return err
	}
	issues := tablewriter.NewWriter(w)
	issues.Header("Issue", "Count")
	for _, i := range r.Issues {
		if err := issues.Append([]string{i.Type, strconv.FormatInt(i.Count, 10)}); err != nil {
			return err
		}
	}
	return issues.Render()
}
