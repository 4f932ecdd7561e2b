package main

import (
	"encoding/json"
	"fmt"
	"io"
)

const (
	ansiGreen = "\033[32m"
	ansiRed   = "\033[31m"
	ansiDim   = "\033[2m"
	ansiReset = "\033[0m"
)

// emitRunResult renders a runResult as either the spec's JSON schema or a
// human-readable table, matching the --format/--no-color global flags.
func emitRunResult(w io.Writer, format string, noColor bool, res runResult) error {
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetEscapeHTML(false)
		return enc.Encode(res)
	}
	for _, t := range res.Tasks {
		status := "ok"
		color := ansiGreen
		switch {
		case t.Skipped:
			status = "skipped"
			color = ansiDim
		case !t.Success:
			status = "FAILED"
			color = ansiRed
		}
		if noColor {
			fmt.Fprintf(w, "%-24s %-8s exit=%-3d %6dms\n", t.Name, status, t.ExitCode, t.DurationMS)
		} else {
			fmt.Fprintf(w, "%-24s %s%-8s%s exit=%-3d %6dms\n", t.Name, color, status, ansiReset, t.ExitCode, t.DurationMS)
		}
	}
	summaryColor := ansiGreen
	word := "success"
	if !res.Success {
		summaryColor = ansiRed
		word = "failed"
	}
	if noColor {
		fmt.Fprintf(w, "%s in %dms\n", word, res.ElapsedMS)
	} else {
		fmt.Fprintf(w, "%s%s%s in %dms\n", summaryColor, word, ansiReset, res.ElapsedMS)
	}
	return nil
}
