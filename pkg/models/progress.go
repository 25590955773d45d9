package models

// Item check outcomes recorded in the per-job progress checkpoint.
const (
	ItemStatusOK     = "ok"
	ItemStatusFailed = "failed"
)

// ItemProgress is the terminal state of one probed item within a job.
type ItemProgress struct {
	Status string `json:"status"`
	Epoch  int64  `json:"epoch"`
}

// CheckProgress is the stage-4 checkpoint persisted as check_progress.json
// inside the job folder. It lets a run skip items already probed after a
// mid-stage interruption within the same job.
type CheckProgress struct {
	Items     map[string]ItemProgress `json:"items"`
	UpdatedAt int64                   `json:"updated_at"`
}

// NewCheckProgress returns an empty checkpoint.
func NewCheckProgress() *CheckProgress {
	return &CheckProgress{Items: make(map[string]ItemProgress)}
}

// Done reports whether the item already has a successful probe recorded.
func (p *CheckProgress) Done(itemID string) bool {
	if p == nil || p.Items == nil {
		return false
	}
	rec, ok := p.Items[itemID]
	return ok && rec.Status == ItemStatusOK
}

// Record stores the terminal state for an item.
func (p *CheckProgress) Record(itemID, status string, epoch int64) {
	if p.Items == nil {
		p.Items = make(map[string]ItemProgress)
	}
	p.Items[itemID] = ItemProgress{Status: status, Epoch: epoch}
	p.UpdatedAt = epoch
}
