package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/labelmatch/internal/match"
	"github.com/sells-group/labelmatch/internal/recipient"
	"github.com/sells-group/labelmatch/internal/resolver"
)

// Output formats for resolve.
const (
	formatJSON    = "json"
	formatYAML    = "yaml"
	formatConsole = "console"
)

// resolvedLabel is one outcome plus its optional candidate ranking.
type resolvedLabel struct {
	resolver.Outcome `yaml:",inline"`
	Ranking          []match.Candidate `json:"ranking,omitempty" yaml:"ranking,omitempty"`
}

// batchReport is the serialized form of a resolved batch.
type batchReport struct {
	RunID     string          `json:"run_id" yaml:"run_id"`
	Labels    int             `json:"labels" yaml:"labels"`
	Matched   int             `json:"matched" yaml:"matched"`
	ElapsedMS int64           `json:"elapsed_ms" yaml:"elapsed_ms"`
	Results   []resolvedLabel `json:"results" yaml:"results"`
}

// newBatchReport attaches the top explain candidates to each outcome when
// explain is positive.
func newBatchReport(b resolver.Batch, m *match.Matcher, records []recipient.Record, explain int) batchReport {
	rep := batchReport{
		RunID:     b.RunID,
		Labels:    len(b.Outcomes),
		Matched:   b.Matched,
		ElapsedMS: b.Elapsed.Milliseconds(),
		Results:   make([]resolvedLabel, len(b.Outcomes)),
	}
	for i, o := range b.Outcomes {
		rep.Results[i] = resolvedLabel{Outcome: o}
		if explain > 0 {
			rep.Results[i].Ranking = m.Rank(o.Identity.Name, o.Identity.Address, records, explain)
		}
	}
	return rep
}

// writeReport renders rep in the requested format.
func writeReport(w io.Writer, format string, rep batchReport) error {
	switch format {
	case formatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(rep)
	case formatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(rep); err != nil {
			return eris.Wrap(err, "encode yaml")
		}
		return enc.Close()
	case formatConsole:
		writeConsole(w, rep)
		return nil
	}
	return eris.Errorf("unknown output format %q (want json, yaml or console)", format)
}

var (
	matchColor   = color.New(color.FgGreen, color.Bold)
	missColor    = color.New(color.FgYellow)
	noNameColor  = color.New(color.FgRed)
	labelColor   = color.New(color.FgCyan)
	summaryColor = color.New(color.FgMagenta, color.Bold)
)

func writeConsole(w io.Writer, rep batchReport) {
	for i, r := range rep.Results {
		status, c := outcomeStatus(r.Match)
		c.Fprintf(w, "#%d %-9s", i+1, status)
		if r.Match.Record != nil {
			fmt.Fprintf(w, " %s (%s)", r.Match.Record.FullName(), r.Match.Record.RecipientID)
		}
		fmt.Fprintf(w, " score=%.3f\n", r.Match.Score)

		labelColor.Fprint(w, "   name:    ")
		fmt.Fprintln(w, orDash(r.Identity.Name))
		labelColor.Fprint(w, "   address: ")
		fmt.Fprintln(w, orDash(r.Identity.Address))
		if len(r.Errors) > 0 {
			labelColor.Fprint(w, "   errors:  ")
			fmt.Fprintln(w, strings.Join(r.Errors, "; "))
		}
		for j, cand := range r.Ranking {
			fmt.Fprintf(w, "   %d. %-24s %s score=%.3f name=%.3f address=%.3f\n",
				j+1, cand.Record.FullName(), cand.Record.RecipientID,
				cand.Score, cand.NameScore, cand.AddressScore)
		}
	}
	summaryColor.Fprintf(w, "%d/%d labels matched in %dms (run %s)\n",
		rep.Matched, rep.Labels, rep.ElapsedMS, rep.RunID)
}

func outcomeStatus(res match.Result) (string, *color.Color) {
	switch {
	case res.Matched():
		return "MATCH", matchColor
	case res.Method == match.MethodNoName:
		return "NO NAME", noNameColor
	default:
		return "NO MATCH", missColor
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
