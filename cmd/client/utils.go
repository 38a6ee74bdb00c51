package main

import (
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/openmined/syftsync/internal/client/sync"
)

var (
	// https://github.com/muesli/termenv/blob/master/ansicolors.go
	// https://github.com/fidian/ansi
	red       = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	green     = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	cyan      = lipgloss.NewStyle().Foreground(lipgloss.Color("14"))
	gray      = lipgloss.NewStyle().Foreground(lipgloss.Color("242"))
	lightGray = lipgloss.NewStyle().Foreground(lipgloss.Color("248"))
)

func printReport(w io.Writer, report *sync.SyncReport) {
	for _, res := range report.Results {
		if res.Error != "" {
			fmt.Fprintf(w, "%s %-13s %s %s\n", red.Render("✗"), res.Op, res.Path, gray.Render(res.Error))
			continue
		}
		size := ""
		if res.Size > 0 {
			size = humanize.Bytes(uint64(res.Size))
		}
		fmt.Fprintf(w, "%s %-13s %s %s\n", green.Render("✓"), res.Op, res.Path, lightGray.Render(size))
	}

	summary := fmt.Sprintf("pulled %d, pushed %d, created %d, deleted %d local %d remote, failed %d in %s",
		report.Pulled, report.Pushed, report.Created,
		report.DeletedLocal, report.DeletedRemote, report.Failed,
		report.Duration.Round(time.Millisecond),
	)
	if report.Failed > 0 {
		fmt.Fprintln(w, red.Render(summary))
	} else {
		fmt.Fprintln(w, cyan.Render(summary))
	}
}
