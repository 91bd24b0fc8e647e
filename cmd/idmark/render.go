package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/mattn/go-isatty"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"idmark/internal/batch"
	"idmark/internal/config"
	"idmark/internal/history"
	"idmark/internal/services"
)

type columnAlignment int

const (
	alignLeft columnAlignment = iota
	alignRight
)

const (
	ansiReset  = "\x1b[0m"
	ansiRed    = "\x1b[31m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
)

var titleCaser = cases.Title(language.English)

func phaseTitle(phase string) string {
	return titleCaser.String(phase)
}

func renderTable(headers []string, rows [][]string, aligns []columnAlignment) string {
	columns := len(headers)
	if columns == 0 {
		return ""
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)

	header := make(table.Row, columns)
	for i := 0; i < columns; i++ {
		header[i] = headers[i]
	}
	tw.AppendHeader(header)

	for _, row := range rows {
		r := make(table.Row, columns)
		for i := 0; i < columns; i++ {
			if i < len(row) {
				r[i] = row[i]
			} else {
				r[i] = ""
			}
		}
		tw.AppendRow(r)
	}

	columnConfigs := make([]table.ColumnConfig, 0, columns)
	for i := 0; i < columns; i++ {
		align := text.AlignLeft
		if i < len(aligns) && aligns[i] == alignRight {
			align = text.AlignRight
		}
		columnConfigs = append(columnConfigs, table.ColumnConfig{
			Number:      i + 1,
			Align:       align,
			AlignHeader: text.AlignLeft,
		})
	}
	tw.SetColumnConfigs(columnConfigs)

	return tw.Render()
}

// writeReport prints per-phase totals, failures, and journal locations.
func writeReport(out io.Writer, report *batch.Report, cfg *config.Config, colorize bool) {
	rows := make([][]string, 0, len(report.Phases))
	for _, phase := range report.Phases {
		rows = append(rows, []string{
			phaseTitle(phase.Name),
			strconv.Itoa(phase.Total),
			strconv.Itoa(phase.Succeeded),
			strconv.Itoa(phase.Failed),
			strconv.Itoa(phase.Skipped),
			formatElapsed(phase.Duration),
		})
	}
	if len(rows) > 0 {
		fmt.Fprintln(out, renderTable(
			[]string{"Phase", "Jobs", "Done", "Failed", "Skipped", "Elapsed"},
			rows,
			[]columnAlignment{alignLeft, alignRight, alignRight, alignRight, alignRight, alignRight},
		))
	}

	if failures := report.Failures(); len(failures) > 0 {
		failRows := make([][]string, 0, len(failures))
		for _, result := range failures {
			failRows = append(failRows, []string{
				result.Item.DisplayName,
				phaseTitle(result.Phase),
				services.Kind(result.Reason),
				truncate(result.Reason.Error(), 80),
			})
		}
		fmt.Fprintln(out, renderTable([]string{"File", "Phase", "Kind", "Reason"}, failRows, nil))
	}

	succeeded, failed, skipped := report.Counts()
	summary := fmt.Sprintf("%d done, %d failed, %d skipped, %d unsupported in %s",
		succeeded, failed, skipped, len(report.Excluded), formatElapsed(report.Duration))
	fmt.Fprintln(out, colorLine(summary, summaryColor(failed, len(report.Excluded)), colorize))
	if report.Codec != "" {
		fmt.Fprintf(out, "Video codec: %s\n", report.Codec)
	}
	if len(report.Excluded) > 0 {
		fmt.Fprintf(out, "Unsupported files listed in %s\n", cfg.Paths.UnsupportedLog)
	}
	if failed > 0 {
		fmt.Fprintf(out, "Errors logged to %s\n", cfg.Paths.ErrorLog)
	}
	fmt.Fprintf(out, "Outputs: %s\n", strings.Join(cfg.OutputDirectories(), ", "))
}

func writeHistory(out io.Writer, runs []history.Run) {
	if len(runs) == 0 {
		fmt.Fprintln(out, "No runs recorded yet.")
		return
	}
	rows := make([][]string, 0, len(runs))
	for _, run := range runs {
		rows = append(rows, []string{
			shortID(run.ID),
			run.Started.Local().Format("2006-01-02 15:04"),
			formatElapsed(run.Duration),
			strconv.Itoa(run.Succeeded),
			strconv.Itoa(run.Failed),
			strconv.Itoa(run.Skipped),
			strconv.Itoa(run.Excluded),
			orDash(run.Codec),
		})
	}
	fmt.Fprintln(out, renderTable(
		[]string{"Run", "Started", "Elapsed", "Done", "Failed", "Skipped", "Unsupported", "Codec"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignRight, alignRight, alignRight, alignLeft},
	))
}

func summaryColor(failed, excluded int) string {
	switch {
	case failed > 0:
		return ansiRed
	case excluded > 0:
		return ansiYellow
	default:
		return ansiGreen
	}
}

func colorLine(line, color string, colorize bool) string {
	if !colorize || color == "" {
		return line
	}
	return color + line + ansiReset
}

// formatElapsed renders durations like the original stopwatch: whole seconds
// under a minute, otherwise minutes and seconds.
func formatElapsed(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	d = d.Round(time.Second)
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	return fmt.Sprintf("%dm%02ds", int(d.Minutes()), int(d.Seconds())%60)
}

func truncate(s string, max int) string {
	s = strings.TrimSpace(s)
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-1]) + "…"
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func orDash(value string) string {
	if strings.TrimSpace(value) == "" {
		return "-"
	}
	return value
}

func shouldColorize(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

