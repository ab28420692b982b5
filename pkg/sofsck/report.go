// Package sofsck implements the offline, whole-volume consistency pass
// (C9): a single read-mostly traversal over a SOFS11 backing file that
// accumulates a per-inode and per-cluster status table across six
// phases, short-circuiting on the first hard error within a phase.
package sofsck

import (
	"fmt"
	"io"
	"os"

	"github.com/sisatech/tablewriter"
)

// Severity distinguishes a finding that aborts the pass from one that
// is merely recorded in the report.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityError
)

func (s Severity) String() string {
	switch s {
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	default:
		return "info"
	}
}

// Finding is one observation recorded during a phase.
type Finding struct {
	Phase    int
	Severity Severity
	Message  string
}

// Report accumulates every Finding produced by a Check run, plus the
// summary counters each phase fills in as it goes.
type Report struct {
	Findings []Finding

	InodesInUse    int
	InodesFree     int
	ClustersInUse  int
	ClustersFree   int
	DirectoriesSeen int
}

func (r *Report) add(phase int, sev Severity, format string, args ...interface{}) {
	r.Findings = append(r.Findings, Finding{Phase: phase, Severity: sev, Message: fmt.Sprintf(format, args...)})
}

func (r *Report) info(phase int, format string, args ...interface{}) {
	r.add(phase, SeverityInfo, format, args...)
}

func (r *Report) warn(phase int, format string, args ...interface{}) {
	r.add(phase, SeverityWarning, format, args...)
}

func (r *Report) fail(phase int, format string, args ...interface{}) error {
	r.add(phase, SeverityError, format, args...)
	return fmt.Errorf(format, args...)
}

// HasErrors reports whether any finding reached SeverityError.
func (r *Report) HasErrors() bool {
	for _, f := range r.Findings {
		if f.Severity == SeverityError {
			return true
		}
	}
	return false
}

// Print renders the report as a plain borderless table, the same
// style the CLI's other inspection commands use.
func (r *Report) Print(w io.Writer) {
	rows := [][]string{{"", "", ""}}
	for _, f := range r.Findings {
		rows = append(rows, []string{fmt.Sprintf("phase %d", f.Phase), f.Severity.String(), f.Message})
	}
	if len(rows) == 1 {
		rows = append(rows, []string{"-", "-", "no findings"})
	}

	table := tablewriter.NewWriter(w)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetBorder(false)
	table.SetColumnSeparator("")
	for _, row := range rows[1:] {
		table.Append(row)
	}
	table.Render()

	fmt.Fprintf(w, "\ninodes: %d in use, %d free\nclusters: %d in use, %d free\ndirectories visited: %d\n",
		r.InodesInUse, r.InodesFree, r.ClustersInUse, r.ClustersFree, r.DirectoriesSeen)
}

// writeLogFile appends the report to path in addition to stdout, per
// the `fsck -f dev [-l log]` CLI surface.
func writeLogFile(path string, r *Report) error {
	if path == "" {
		return nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	defer f.Close()
	r.Print(f)
	return nil
}
