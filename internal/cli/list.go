package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/disiqueira/gotree/v3"
	"github.com/spf13/cobra"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/roach88/snapguard/internal/ir"
)

var errNotFound = errors.New("record not found")

// timeLayout formats epoch-millisecond timestamps in text output.
const timeLayout = "2006-01-02 15:04:05 MST"

// RecordSummary is one row of the list command.
type RecordSummary struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CreatedAt int64  `json:"createdAt"`
	ViewCount int    `json:"viewCount"`
	IsViewed  bool   `json:"isViewed"`
	Status    string `json:"status"`
	ExpiresAt *int64 `json:"expiresAt,omitempty"`
}

// RecordDetail is the output of the show command.
type RecordDetail struct {
	RecordSummary
	Logs []ir.AccessLogEntry `json:"logs"`
}

func summarize(rec ir.ImageRecord) RecordSummary {
	return RecordSummary{
		ID:        rec.ID,
		Name:      rec.Name,
		CreatedAt: rec.CreatedAt,
		ViewCount: rec.ViewCount,
		IsViewed:  rec.IsViewed,
		Status:    rec.Status(),
		ExpiresAt: rec.ExpiresAt,
	}
}

// NewListCommand creates the list command.
func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List shared images, newest first",
		Long: `List every shared image with its status and hit count.

Examples:
  snapguard list --db ./snapguard.db
  snapguard list --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(rootOpts, cmd)
		},
	}
	return cmd
}

func runList(opts *RootOptions, cmd *cobra.Command) error {
	f := opts.formatter(cmd)

	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer closeStore(st)

	records, err := st.ListAll(context.Background())
	if err != nil {
		return reportError(f, ExitCommandError, "failed to list records", err)
	}
	records = ir.NewestFirst(records)

	summaries := make([]RecordSummary, 0, len(records))
	for _, rec := range records {
		summaries = append(summaries, summarize(rec))
	}

	return f.Render(summaries, func(w io.Writer) error {
		if len(summaries) == 0 {
			fmt.Fprintln(w, "No images shared yet.")
			return nil
		}
		tree := gotree.New(fmt.Sprintf("SnapGuard (%d images)", len(summaries)))
		for _, s := range summaries {
			node := tree.Add(fmt.Sprintf("%s [%s]", s.Name, s.ID))
			node.Add(fmt.Sprintf("%s, %s", s.Status, pluralViews(s.ViewCount)))
			node.Add("Created " + formatMillis(s.CreatedAt))
			if s.ExpiresAt != nil {
				node.Add("Expires " + formatMillis(*s.ExpiresAt))
			}
		}
		fmt.Fprint(w, tree.Print())
		return nil
	})
}

// NewShowCommand creates the show command.
func NewShowCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show one image record and its access log",
		Long: `Show a shared image record with every access, newest first.

Examples:
  snapguard show k3x9p2m1q
  snapguard show k3x9p2m1q --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShow(rootOpts, args[0], cmd)
		},
	}
	return cmd
}

func runShow(opts *RootOptions, id string, cmd *cobra.Command) error {
	f := opts.formatter(cmd)

	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer closeStore(st)

	rec, found, err := st.Get(context.Background(), id)
	if err != nil {
		return reportError(f, ExitCommandError, "failed to read record", err)
	}
	if !found {
		return reportError(f, ExitFailure, "no image with id "+id, errNotFound)
	}

	detail := RecordDetail{
		RecordSummary: summarize(rec),
		Logs:          ir.LogsNewestFirst(rec.Logs),
	}

	return f.Render(detail, func(w io.Writer) error {
		tree := gotree.New(fmt.Sprintf("%s [%s]", detail.Name, detail.ID))
		tree.Add(fmt.Sprintf("%s, %s", detail.Status, pluralViews(detail.ViewCount)))
		tree.Add("Created " + formatMillis(detail.CreatedAt))
		if detail.ExpiresAt != nil {
			tree.Add("Expires " + formatMillis(*detail.ExpiresAt))
		}
		logs := tree.Add(fmt.Sprintf("Access log (%d)", len(detail.Logs)))
		for _, entry := range detail.Logs {
			node := logs.Add(fmt.Sprintf("%s  %s  %s", formatMillis(entry.Timestamp), entry.IP, deviceLabel(entry.Device)))
			if entry.Platform != "" {
				node.Add("Platform: " + entry.Platform)
			}
			if opts.Verbose && entry.UserAgent != "" {
				node.Add("User agent: " + entry.UserAgent)
			}
		}
		fmt.Fprint(w, tree.Print())
		return nil
	})
}

// deviceLabel renders a device literal for humans: "TABLET" -> "Tablet".
func deviceLabel(d ir.DeviceType) string {
	return cases.Title(language.English).String(strings.ToLower(string(d)))
}

func pluralViews(n int) string {
	if n == 1 {
		return "1 view"
	}
	return fmt.Sprintf("%d views", n)
}

func formatMillis(ms int64) string {
	return time.UnixMilli(ms).UTC().Format(timeLayout)
}
