package cli

import (
	"io"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"
)

var (
	passLabel = color.New(color.FgHiGreen).Sprint("PASS")
	failLabel = color.New(color.FgHiRed).Sprint("FAIL")
	green     = color.New(color.FgHiGreen).SprintFunc()
	yellow    = color.New(color.FgHiYellow).SprintFunc()
	red       = color.New(color.FgHiRed).SprintFunc()
	bold      = color.New(color.Bold).SprintFunc()
)

func verdictLabel(ok bool) string {
	if ok {
		return passLabel
	}
	return failLabel
}

// statusColor colours a terminal item status.
func statusColor(status string) string {
	switch status {
	case "fixed", "completed":
		return green(status)
	case "unfixed-exhausted", "running":
		return yellow(status)
	case "aborted", "interrupted":
		return red(status)
	default:
		return status
	}
}

// newTable returns a borderless, left-aligned table.
func newTable(w io.Writer, headers ...string) *tablewriter.Table {
	table := tablewriter.NewTable(w,
		tablewriter.WithHeaderAlignment(tw.AlignLeft),
		tablewriter.WithRowAlignment(tw.AlignLeft),
		tablewriter.WithRendition(tw.Rendition{
			Borders: tw.BorderNone,
			Settings: tw.Settings{
				Lines:      tw.LinesNone,
				Separators: tw.SeparatorsNone,
			},
		}),
		tablewriter.WithPadding(tw.Padding{Left: "", Right: "  "}),
	)
	table.Header(headers)
	return table
}
