package pipeline

import (
	"strings"

	"github.com/mohamed-ali0/main-bots-api/pkg/spreadsheet"
)

// Input columns consumed from the upstream container listing.
const (
	colContainer   = "Container #"
	colTradeType   = "Trade Type"
	colHolds       = "Holds"
	colPregate     = "Pregate Ticket#"
	colCurrentLoc  = "CurrentLoc"
	colOrigin      = "Origin"
	colDestination = "Destination"
)

// Output columns appended to the filtered spreadsheet.
const (
	colManifested    = "Manifested"
	colApptBefore    = "First Appointment Available (Before)"
	colDeparted      = "Departed Terminal"
	colApptAfter     = "First Appointment Available (After)"
	colEmptyReceived = "Empty Received"
)

// naValue is written literally; it must never be coerced to an empty cell.
const naValue = "N/A"

// outputColumns is the append order of the five derived columns.
var outputColumns = []string{
	colManifested,
	colApptBefore,
	colDeparted,
	colApptAfter,
	colEmptyReceived,
}

// Filter returns the work set of a container listing: rows whose holds are
// cleared ("NO") and whose pregate ticket still reads "N/A", both matched
// case-insensitively. The five output columns are appended initialized to
// "N/A".
func Filter(t *spreadsheet.Table) *spreadsheet.Table {
	out := &spreadsheet.Table{Headers: append([]string(nil), t.Headers...)}
	for i := 0; i < t.Len(); i++ {
		holds := strings.TrimSpace(t.Get(i, colHolds))
		pregate := t.Get(i, colPregate)
		if !strings.EqualFold(holds, "NO") {
			continue
		}
		if !strings.Contains(strings.ToUpper(pregate), naValue) {
			continue
		}
		out.Rows = append(out.Rows, append([]string(nil), t.Rows[i]...))
	}
	for _, col := range outputColumns {
		out.AppendColumn(col, naValue)
	}
	return out
}

// isImport reports whether a Trade Type cell denotes an import container.
func isImport(tradeType string) bool {
	return strings.EqualFold(strings.TrimSpace(tradeType), TradeImport)
}
