package commands

import (
	"github.com/pterm/pterm"
)

// printStartupBanner prints a short identification banner before a
// long-running process starts serving.
func printStartupBanner(process, addr string) {
	pterm.DefaultBigText.WithLetters(
		pterm.NewLettersFromStringWithStyle("reservoir", pterm.NewStyle(pterm.FgCyan)),
	).Render()

	pterm.DefaultBox.WithTitle(process).WithTitleTopCenter().Println(
		pterm.Sprintf("listening on %s", addr),
	)
}
