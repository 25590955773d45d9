package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mohamed-ali0/main-bots-api/pkg/artifacts"
	"github.com/mohamed-ali0/main-bots-api/pkg/models"
	"github.com/mohamed-ali0/main-bots-api/pkg/session"
	"github.com/mohamed-ali0/main-bots-api/pkg/spreadsheet"
	"github.com/mohamed-ali0/main-bots-api/pkg/upstream"
)

// probeRecord is the payload persisted for each probe attempt, successful
// or not, under containers_checking_attempts/responses/.
type probeRecord struct {
	ContainerID     string   `json:"container_id"`
	TradeType       string   `json:"trade_type"`
	Terminal        string   `json:"terminal"`
	MoveType        string   `json:"move_type"`
	TruckingCompany string   `json:"trucking_company"`
	Identifier      string   `json:"identifier"`
	AvailableTimes  []string `json:"available_times,omitempty"`
	CalendarFound   bool     `json:"calendar_found"`
	ScreenshotURL   string   `json:"screenshot_url,omitempty"`
	Epoch           int64    `json:"epoch"`
}

// checkAppointments is stage 4: one probe per filtered row, in row order.
// Item-level failures are recorded and the loop continues; only recovery
// failures, cancellation, and filesystem errors abort the job.
func (e *Executor) checkAppointments(ctx context.Context, tenant *models.Tenant, job *models.Job, ordinal int64,
	sessionID *string, filtered *spreadsheet.Table, enrich *enrichment, stats *models.SummaryStats) error {

	progress := e.store.ReadProgress(job)

	flush := func() error {
		if err := e.store.WriteSpreadsheet(artifacts.FilteredContainersPath(job), filtered); err != nil {
			return err
		}
		return e.store.WriteProgress(job, progress)
	}

	processed := 0
	for i := 0; i < filtered.Len(); i++ {
		itemID := strings.TrimSpace(filtered.Get(i, colContainer))
		if itemID == "" {
			continue
		}
		if progress.Done(itemID) {
			stats.ProbesOK++
			continue
		}

		// A newer job for the tenant wins between items.
		if newer, err := e.jobs.FindNewer(ctx, tenant.ID, ordinal); err == nil && newer {
			return session.ErrCancelledByNewerJob
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		epoch := e.clock.Now().Unix()
		ok, err := e.probeItem(ctx, tenant, job, ordinal, sessionID, filtered, i, itemID, enrich, epoch)
		if err != nil {
			return err
		}
		if ok {
			stats.ProbesOK++
			progress.Record(itemID, models.ItemStatusOK, epoch)
		} else {
			stats.ProbesFailed++
			progress.Record(itemID, models.ItemStatusFailed, epoch)
		}

		processed++
		if e.cfg.CheckpointEvery > 0 && processed%e.cfg.CheckpointEvery == 0 {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	return flush()
}

// probeItem runs one appointment probe with its per-item retry: recover and
// retry on SessionInvalid, plain retry on Transient, two attempts total.
// The bool is the item outcome; the error aborts the whole job.
func (e *Executor) probeItem(ctx context.Context, tenant *models.Tenant, job *models.Job, ordinal int64,
	sessionID *string, filtered *spreadsheet.Table, row int, itemID string, enrich *enrichment, epoch int64) (bool, error) {

	log := slog.With("query_id", job.QueryID, "item", itemID)

	imp := isImport(filtered.Get(row, colTradeType))
	tradeType := TradeExport
	if imp {
		tradeType = TradeImport
	}
	terminal := ResolveTerminal(tradeType,
		filtered.Get(row, colCurrentLoc),
		filtered.Get(row, colOrigin),
		filtered.Get(row, colDestination))
	moveType := ResolveMoveType(tradeType, enrich.pregate[itemID])

	identifier := itemID
	if !imp {
		booking, found := enrich.bookings[itemID]
		if !found {
			log.Warn("Export container has no booking number, marking failed")
			return false, nil
		}
		identifier = booking
	}

	req := upstream.CheckRequest{
		TradeType:       tradeType,
		TruckingCompany: e.cfg.TruckingCompany,
		Terminal:        terminal,
		MoveType:        moveType,
		ContainerID:     identifier,
		TruckPlate:      e.cfg.TruckPlate,
	}

	res, err := e.upstream.CheckAppointments(ctx, *sessionID, req)
	if err != nil {
		switch {
		case upstream.IsSessionInvalid(err):
			newSession, rerr := e.sessions.Recover(ctx, tenant, ordinal)
			if rerr != nil {
				return false, rerr
			}
			*sessionID = newSession
			res, err = e.upstream.CheckAppointments(ctx, *sessionID, req)
		case upstream.IsTransient(err):
			res, err = e.upstream.CheckAppointments(ctx, *sessionID, req)
		}
	}
	if err != nil {
		log.Warn("Appointment probe failed", "terminal", terminal, "move_type", moveType, "error", err)
		return false, nil
	}

	record := probeRecord{
		ContainerID:     itemID,
		TradeType:       tradeType,
		Terminal:        terminal,
		MoveType:        moveType,
		TruckingCompany: e.cfg.TruckingCompany,
		Identifier:      identifier,
		AvailableTimes:  res.AvailableTimes,
		CalendarFound:   res.CalendarFound,
		ScreenshotURL:   res.ScreenshotURL,
		Epoch:           epoch,
	}
	payload, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return false, fmt.Errorf("failed to marshal probe record for %s: %w", itemID, err)
	}
	if _, err := e.store.WriteResponse(job, itemID, epoch, payload); err != nil {
		return false, err
	}

	if res.ScreenshotURL != "" {
		img, _, derr := e.upstream.Download(ctx, res.ScreenshotURL)
		if derr != nil {
			log.Warn("Screenshot download failed", "error", derr)
		} else if _, werr := e.store.WriteScreenshot(job, itemID, epoch, img); werr != nil {
			return false, werr
		}
	}

	if imp {
		if earliest := EarliestAppointment(res.AvailableTimes); earliest != "" {
			col := colApptBefore
			if moveType == MoveDropEmpty {
				col = colApptAfter
			}
			if err := filtered.Set(row, col, earliest); err != nil {
				return false, err
			}
		}
	} else if !res.CalendarFound {
		// Warned, not failed: the upstream reached the form but showed
		// no calendar for this booking.
		log.Warn("Export probe found no appointment calendar", "terminal", terminal)
	}
	return true, nil
}
