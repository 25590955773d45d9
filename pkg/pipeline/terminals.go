package pipeline

import "strings"

// Trade types carried in the container listing.
const (
	TradeImport = "IMPORT"
	TradeExport = "EXPORT"
)

// Move types submitted with appointment probes.
const (
	MovePickFull  = "PICK FULL"
	MoveDropFull  = "DROP FULL"
	MoveDropEmpty = "DROP EMPTY"
)

// terminalNames maps the short terminal codes found in listings to the
// full names the upstream appointment form expects. Unknown codes pass
// through literally.
var terminalNames = map[string]string{
	"BNLPC":  "Long Beach Container Terminal",
	"ETSLAX": "Everport Terminal Services - Los Angeles",
	"ETSOAK": "Everport Terminal Services - Oakland",
	"ETSTAC": "Everport Terminal Services Inc. - Tacoma, WA",
	"FIT":    "Florida International Terminal (FIT)",
	"HUSKY":  "Husky Terminal and Stevedoring, Inc.",
	"ITS":    "ITS Long Beach",
	"LPCHI":  "Long Beach Container Terminal - Chicago",
	"OICT":   "OICT",
	"PACKR":  "Packer Avenue Marine Terminal",
	"PCT":    "Pacific Container Terminal",
	"PET":    "Port Everglades Terminal",
	"SSA":    "SSA Terminal - PierA / LB",
	"SSAT30": "SSAT - Terminal 30",
	"SSAT5":  "SSAT - Terminal 5",
	"T18":    "Terminal 18",
	"TRP1":   "TraPac LLC - Los Angeles",
	"TRPOAK": "TraPac - Oakland",
	"TTI":    "Total Terminals Intl LLC",
	"WUT":    "Washington United Terminals",
}

// ResolveTerminal derives the appointment terminal for a row. The current
// location wins when present; otherwise imports fall back to their origin
// and exports to their destination.
func ResolveTerminal(tradeType, currentLoc, origin, destination string) string {
	code := strings.TrimSpace(currentLoc)
	if code == "" || strings.EqualFold(code, "nan") {
		if strings.EqualFold(strings.TrimSpace(tradeType), TradeImport) {
			code = strings.TrimSpace(origin)
		} else {
			code = strings.TrimSpace(destination)
		}
	}
	if name, ok := terminalNames[code]; ok {
		return name
	}
	return code
}

// ResolveMoveType derives the probe move type. Imports that already passed
// the pregate drop their empty; imports that have not pick up the full
// container. Exports always drop a full one.
func ResolveMoveType(tradeType string, pregatePassed bool) string {
	if strings.EqualFold(strings.TrimSpace(tradeType), TradeImport) {
		if pregatePassed {
			return MoveDropEmpty
		}
		return MovePickFull
	}
	return MoveDropFull
}
