package upstream

import "github.com/mohamed-ali0/main-bots-api/pkg/models"

// ListResult is the response of a container or appointment listing. The
// upstream returns a URL to an authenticated spreadsheet download rather
// than the bytes themselves.
type ListResult struct {
	FileURL string
	Count   int
}

// Milestone is one entry of an import container's timeline.
type Milestone struct {
	Milestone string `json:"milestone"`
	Date      string `json:"date,omitempty"`
}

// ImportInfo is the bulk-enrichment record for an import container.
type ImportInfo struct {
	ContainerID   string      `json:"container_id"`
	PregatePassed bool        `json:"pregate_passed"`
	Timeline      []Milestone `json:"timeline"`
}

// ExportInfo is the bulk-enrichment record for an export container.
type ExportInfo struct {
	ContainerID   string `json:"container_id"`
	BookingNumber string `json:"booking_number"`
}

// BulkInfo is the result of one bulk-enrichment call.
type BulkInfo struct {
	Imports []ImportInfo
	Exports []ExportInfo
}

// CheckRequest carries the parameters of one appointment probe.
type CheckRequest struct {
	TradeType       string
	TruckingCompany string
	Terminal        string
	MoveType        string
	ContainerID     string
	TruckPlate      string
	OwnChassis      bool
}

// CheckResult is the outcome of one appointment probe. AvailableTimes is
// populated for imports; CalendarFound for exports.
type CheckResult struct {
	AvailableTimes []string
	CalendarFound  bool
	ScreenshotURL  string
}

// SessionResult is the outcome of a session acquisition.
type SessionResult struct {
	SessionID string
	Reused    bool
}

// Credentials is an alias so callers pass the shared model type.
type Credentials = models.Credentials
