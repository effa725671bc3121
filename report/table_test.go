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
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWriteTables(t *testing.T) {
	sum := Summary{
		Sequences: 12,
		Executed:  12345,
		Flows: []FlowSummary{
			{Flow: "borrow", Executed: 12345, Succeeded: 10000, Reverted: 2345, Outcomes: map[string]int{
				"ok": 10000, "PoolConfig": 2000, "TokenMismatch": 345,
			}},
		},
		Invariants: []InvariantSummary{{Invariant: "repayable", Checks: 1500, Failures: 1}},
		Failure:    "invariant repayable violated",
	}
	var buf bytes.Buffer
	WriteTables(&buf, sum)
	out := buf.String()
	assert.Contains(t, out, "Flows: 12,345 executed in 12 sequences")
	assert.Contains(t, out, "10,000")
	assert.Contains(t, out, "PoolConfig=2,000 TokenMismatch=345")
	assert.Contains(t, out, "1,500")
	assert.Contains(t, out, "FAILED: invariant repayable violated")
}

func TestWriteTables_OmitsEmptySections(t *testing.T) {
	var buf bytes.Buffer
	WriteTables(&buf, Summary{})
	assert.NotContains(t, buf.String(), "INVARIANT")
	assert.NotContains(t, buf.String(), "FAILED: ")
}

func TestReverts(t *testing.T) {
	tests := map[string]struct {
		outcomes map[string]int
		want     string
	}{
		"none":   {map[string]int{"ok": 3, "failed": 1}, ""},
		"sorted": {map[string]int{"Unauthorized": 1, "AuctionEnded": 2}, "AuctionEnded=2 Unauthorized=1"},
	}
	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, test.want, reverts(test.outcomes))
		})
	}
}
