// Package tui renders the command-line surface: styled report blocks,
// progress bars, prompts. Simple streaming output, no full-screen TUI.
package tui

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/schollz/progressbar/v3"

	"github.com/mastflow/mastflow/pkg/util"
)

// Colors (Swiss minimal)
var (
	accent  = lipgloss.Color("#FF0000")
	muted   = lipgloss.Color("#666666")
	success = lipgloss.Color("#00CC66")
	white   = lipgloss.Color("#FFFFFF")
)

// Styles
var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(white)
	accentStyle  = lipgloss.NewStyle().Foreground(accent).Bold(true)
	mutedStyle   = lipgloss.NewStyle().Foreground(muted)
	successStyle = lipgloss.NewStyle().Foreground(success).Bold(true)
	codeStyle    = lipgloss.NewStyle().Background(lipgloss.Color("#1a1a1a")).Foreground(white).Padding(0, 1)
)

// WizardResult holds a segmentation job assembled interactively.
type WizardResult struct {
	XPath   string
	YPath   string
	Output  string
	MaxFlat int
}

// RunWizard prompts for a segmentation job when the segment command is
// invoked without flags. Returns nil without error when the user backs
// out at the confirmation step.
func RunWizard(version string) (*WizardResult, error) {
	reader := bufio.NewReader(os.Stdin)

	printHeader(version)

	fmt.Println()
	fmt.Println(accentStyle.Render("▸ SELECT TELEMETRY FILES"))
	fmt.Println(mutedStyle.Render("  Two CSV files sampled on the same time grid:"))
	fmt.Println()

	xPath, err := promptPath(reader, "  X channel: ")
	if err != nil {
		return nil, err
	}
	if err := statFile(xPath); err != nil {
		return nil, err
	}
	yPath, err := promptPath(reader, "  Y channel: ")
	if err != nil {
		return nil, err
	}
	if err := statFile(yPath); err != nil {
		return nil, err
	}

	output := strings.TrimSuffix(xPath, filepath.Ext(xPath)) + "_segments.csv"
	fmt.Println()
	fmt.Printf("  %s %s\n", mutedStyle.Render("Output:"), codeStyle.Render(output))

	fmt.Println()
	maxFlatStr, _ := promptWithDefault(reader, "  flat-run threshold", "5")
	maxFlat, err := strconv.Atoi(strings.TrimSpace(maxFlatStr))
	if err != nil || maxFlat < 1 {
		maxFlat = 5
	}

	fmt.Println()
	fmt.Println(mutedStyle.Render("  ─────────────────────────────────────"))
	fmt.Printf("  %s\n", titleStyle.Render("Ready to segment"))
	fmt.Printf("  %s + %s → %s\n", filepath.Base(xPath), filepath.Base(yPath), filepath.Base(output))
	fmt.Println(mutedStyle.Render("  ─────────────────────────────────────"))
	fmt.Println()

	confirm, _ := promptConfirm(reader, "  Start? [Y/n]: ")
	if !confirm {
		fmt.Println(mutedStyle.Render("  Cancelled."))
		return nil, nil
	}

	return &WizardResult{
		XPath:   xPath,
		YPath:   yPath,
		Output:  output,
		MaxFlat: maxFlat,
	}, nil
}

func printHeader(version string) {
	fmt.Println()
	fmt.Println(titleStyle.Render("  MASTFLOW") + mutedStyle.Render(" "+version))
	fmt.Println(mutedStyle.Render("  JWST engineering telemetry segmenter"))
	fmt.Println()
}

func statFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		fmt.Println(accentStyle.Render("  ✗ File not found: " + path))
		return err
	}
	fmt.Printf("  %s %s\n", mutedStyle.Render("Size:"), titleStyle.Render(util.HumanBytes(info.Size())))
	return nil
}

func promptPath(reader *bufio.Reader, prompt string) (string, error) {
	fmt.Print(prompt)
	input, err := reader.ReadString('\n')
	if err != nil {
		return "", err
	}

	path := strings.TrimSpace(input)
	// Handle drag & drop (removes quotes)
	path = strings.Trim(path, "\"'")
	return util.ExpandPath(path), nil
}

func promptWithDefault(reader *bufio.Reader, field, defaultVal string) (string, error) {
	fmt.Printf("  %s %s: ", mutedStyle.Render(field), mutedStyle.Render("["+defaultVal+"]"))
	input, err := reader.ReadString('\n')
	if err != nil {
		return defaultVal, err
	}

	input = strings.TrimSpace(input)
	if input == "" {
		return defaultVal, nil
	}
	return input, nil
}

func promptConfirm(reader *bufio.Reader, prompt string) (bool, error) {
	fmt.Print(prompt)
	input, err := reader.ReadString('\n')
	if err != nil {
		return false, err
	}

	input = strings.ToLower(strings.TrimSpace(input))
	return input == "" || input == "y" || input == "yes", nil
}

// RunReport summarizes a finished segmentation run for printing.
type RunReport struct {
	XSamples      int
	YSamples      int
	RowsSkipped   int64
	MJDMismatches int
	Segments      int
	RowsWritten   int64
	OutputPath    string
	OutputSize    int64
	Duration      time.Duration
}

// PrintRunReport prints the block shown after a segmentation run.
func PrintRunReport(report *RunReport) {
	fmt.Println()
	fmt.Println(successStyle.Render("  ✓ SEGMENTATION COMPLETE"))
	fmt.Println()
	fmt.Printf("  %s %s + %s samples\n",
		mutedStyle.Render("Decoded:"),
		titleStyle.Render(formatNumber(int64(report.XSamples))),
		titleStyle.Render(formatNumber(int64(report.YSamples))))

	if report.RowsSkipped > 0 {
		fmt.Printf("  %s %s rows\n", mutedStyle.Render("Skipped:"),
			accentStyle.Render(formatNumber(report.RowsSkipped)))
	}
	if report.MJDMismatches > 0 {
		fmt.Printf("  %s %s positions\n", mutedStyle.Render("Misaligned:"),
			accentStyle.Render(formatNumber(int64(report.MJDMismatches))))
	}

	fmt.Printf("  %s %s segments, %s rows\n",
		mutedStyle.Render("Found:"),
		titleStyle.Render(formatNumber(int64(report.Segments))),
		titleStyle.Render(formatNumber(report.RowsWritten)))

	if report.OutputPath != "" {
		line := report.OutputPath
		if report.OutputSize > 0 {
			line += " " + mutedStyle.Render("("+util.HumanBytes(report.OutputSize)+")")
		}
		fmt.Printf("  %s %s\n", mutedStyle.Render("Output:"), line)
	}

	if report.Duration > 0 {
		throughput := float64(report.RowsWritten) / report.Duration.Seconds()
		fmt.Printf("  %s %s %s\n",
			mutedStyle.Render("Time:"),
			titleStyle.Render(formatDuration(report.Duration)),
			mutedStyle.Render(fmt.Sprintf("(%s rows/sec)", formatNumber(int64(throughput)))))
	}
	fmt.Println()
}

// PrintProgress prints an in-place progress update during a run.
func PrintProgress(rowsWritten int64, rowsPerSec float64, elapsed time.Duration) {
	fmt.Printf("\r  %s %s rows %s",
		accentStyle.Render("⟳"),
		titleStyle.Render(formatNumber(rowsWritten)),
		mutedStyle.Render(fmt.Sprintf("(%s/sec, %s)", formatNumber(int64(rowsPerSec)), formatDuration(elapsed))))
}

// PrintPhase prints a phase transition line in verbose mode.
func PrintPhase(phase string) {
	fmt.Printf("  %s %s\n", accentStyle.Render("▸"), mutedStyle.Render(phase))
}

// ClearLine clears the current line.
func ClearLine() {
	fmt.Print("\r\033[K")
}

// Table prints rows under a styled header, aligned with tabs.
func Table(headers []string, rows [][]string) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)

	styled := make([]string, len(headers))
	for i, h := range headers {
		styled[i] = mutedStyle.Render(h)
	}
	fmt.Fprintln(w, strings.Join(styled, "\t"))

	for _, row := range rows {
		fmt.Fprintln(w, strings.Join(row, "\t"))
	}
	w.Flush()
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
}

func formatNumber(n int64) string {
	if n < 1000 {
		return fmt.Sprintf("%d", n)
	}
	if n < 1000000 {
		return fmt.Sprintf("%.1fK", float64(n)/1000)
	}
	return fmt.Sprintf("%.1fM", float64(n)/1000000)
}

// DownloadBar creates a byte-count progress bar for archive downloads.
// A total of -1 renders an indeterminate spinner bar.
func DownloadBar(total int64, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions64(total,
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "",
			BarEnd:        "",
		}),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionClearOnFinish(),
	)
}

// Spinner shows a simple loading indicator until done is closed.
func Spinner(message string, done chan bool) {
	frames := []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}
	i := 0
	for {
		select {
		case <-done:
			fmt.Printf("\r%s %s\n", successStyle.Render("✓"), message)
			return
		default:
			fmt.Printf("\r%s %s", accentStyle.Render(frames[i]), message)
			i = (i + 1) % len(frames)
			time.Sleep(80 * time.Millisecond)
		}
	}
}
