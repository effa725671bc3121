// Copyright 2025 Sonic Labs
// This file is part of Aida Testing Infrastructure for Sonic
//
// Aida is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Aida is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with Aida. If not, see <http://www.gnu.org/licenses/>.

package report

import (
	"io"
	"sort"
	"strings"

	"github.com/0xsoniclabs/lendfuzz/fuzz/record"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var numbers = message.NewPrinter(language.English)

// WriteTables renders the flow and invariant tables of s to w.
func WriteTables(w io.Writer, s Summary) {
	flows := table.NewWriter()
	flows.SetOutputMirror(w)
	flows.SetStyle(table.StyleLight)
	flows.SetTitle(numbers.Sprintf("Flows: %d executed in %d sequences", s.Executed, s.Sequences))
	flows.AppendHeader(table.Row{"Flow", "Executed", "Ok", "Reverted", "Failed", "Reverts", "Mean", "P95"})
	for _, f := range s.Flows {
		flows.AppendRow(table.Row{
			f.Flow,
			numbers.Sprintf("%d", f.Executed),
			numbers.Sprintf("%d", f.Succeeded),
			numbers.Sprintf("%d", f.Reverted),
			numbers.Sprintf("%d", f.Failed),
			reverts(f.Outcomes),
			f.Duration.Mean,
			f.Duration.P95,
		})
	}
	flows.SetColumnConfigs([]table.ColumnConfig{
		{Number: 2, Align: text.AlignRight},
		{Number: 3, Align: text.AlignRight},
		{Number: 4, Align: text.AlignRight},
		{Number: 5, Align: text.AlignRight},
	})
	flows.Render()

	if len(s.Invariants) > 0 {
		invs := table.NewWriter()
		invs.SetOutputMirror(w)
		invs.SetStyle(table.StyleLight)
		invs.AppendHeader(table.Row{"Invariant", "Checks", "Failures", "Mean", "P95"})
		for _, inv := range s.Invariants {
			invs.AppendRow(table.Row{
				inv.Invariant,
				numbers.Sprintf("%d", inv.Checks),
				numbers.Sprintf("%d", inv.Failures),
				inv.Duration.Mean,
				inv.Duration.P95,
			})
		}
		invs.Render()
	}

	if s.Failure != "" {
		_, _ = io.WriteString(w, "FAILED: "+s.Failure+"\n")
	}
}

// reverts lists the expected revert kinds of a flow, e.g. "PoolConfig=3 TokenMismatch=1".
func reverts(outcomes map[string]int) string {
	var names []string
	for name := range outcomes {
		if name != record.OutcomeOK && name != record.OutcomeFailed {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, numbers.Sprintf("%s=%d", name, outcomes[name]))
	}
	return strings.Join(parts, " ")
}
