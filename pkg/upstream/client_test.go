package upstream

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mohamed-ali0/main-bots-api/pkg/models"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewClient(server.URL, 5*time.Second)
}

func TestListContainers(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/get_containers", r.URL.Path)

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "sess-1", body["session_id"])
		assert.Equal(t, true, body["infinite_scrolling"])
		assert.Equal(t, true, body["return_url"])

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"success":          true,
			"file_url":         "http://files/containers.xlsx",
			"containers_count": 42,
		})
	})

	res, err := client.ListContainers(context.Background(), "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "http://files/containers.xlsx", res.FileURL)
	assert.Equal(t, 42, res.Count)
}

func TestListContainersSessionInvalid(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "session expired", http.StatusBadRequest)
	})

	_, err := client.ListContainers(context.Background(), "stale")
	assert.True(t, IsSessionInvalid(err), "400 on an authenticated call must classify as SessionInvalid, got %v", err)
}

func TestListContainersServerErrorIsTransient(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "worker crashed", http.StatusBadGateway)
	})

	_, err := client.ListContainers(context.Background(), "sess-1")
	assert.True(t, IsTransient(err))
}

func TestListContainersMissingFileURLIsPermanent(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"success": false, "error": "no containers tab"})
	})

	_, err := client.ListContainers(context.Background(), "sess-1")
	require.Error(t, err)
	assert.False(t, IsTransient(err))
	assert.False(t, IsSessionInvalid(err))
	assert.ErrorContains(t, err, "no containers tab")
}

func TestAcquireSession(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/get_session", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"success":    true,
			"session_id": "sess-new",
			"is_new":     true,
		})
	})

	res, err := client.AcquireSession(context.Background(), models.Credentials{
		Username: "u", Password: "p", CaptchaAPIKey: "k",
	})
	require.NoError(t, err)
	assert.Equal(t, "sess-new", res.SessionID)
	assert.False(t, res.Reused)
}

func TestAcquireSessionUnauthorized(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad credentials", http.StatusUnauthorized)
	})

	_, err := client.AcquireSession(context.Background(), models.Credentials{Username: "u", Password: "bad"})
	assert.True(t, IsAuthInvalid(err), "401 during acquisition must classify as AuthInvalid, got %v", err)
}

func TestListActiveSessions(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/get_active_sessions", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"success":  true,
			"sessions": []string{"sess-a", "sess-b"},
		})
	})

	sessions, err := client.ListActiveSessions(context.Background(), "u")
	require.NoError(t, err)
	assert.Equal(t, []string{"sess-a", "sess-b"}, sessions)
}

func TestGetBulkInfo(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/get_info_bulk", r.URL.Path)

		var body struct {
			ImportIDs []string `json:"import_container_ids"`
			ExportIDs []string `json:"export_container_ids"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, []string{"IMP1"}, body.ImportIDs)
		assert.Equal(t, []string{"EXP1"}, body.ExportIDs)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"import_results": []map[string]any{{
				"container_id":   "IMP1",
				"pregate_passed": true,
				"timeline": []map[string]any{
					{"milestone": "Manifested", "date": "03/20/2025 08:00"},
				},
			}},
			"export_results": []map[string]any{{
				"container_id":   "EXP1",
				"booking_number": "BK-99",
			}},
		})
	})

	bulk, err := client.GetBulkInfo(context.Background(), "sess-1", []string{"IMP1"}, []string{"EXP1"})
	require.NoError(t, err)
	require.Len(t, bulk.Imports, 1)
	assert.True(t, bulk.Imports[0].PregatePassed)
	require.Len(t, bulk.Imports[0].Timeline, 1)
	assert.Equal(t, "Manifested", bulk.Imports[0].Timeline[0].Milestone)
	require.Len(t, bulk.Exports, 1)
	assert.Equal(t, "BK-99", bulk.Exports[0].BookingNumber)
}

func TestCheckAppointments(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/check_appointments", r.URL.Path)

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "IMPORT", body["trade_type"])
		assert.Equal(t, "PICK FULL", body["move_type"])
		assert.Equal(t, "Total Terminals Intl LLC", body["terminal"])

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"success":                 true,
			"available_times":         []string{"10/10/2025 08:00 AM - 09:00 AM"},
			"calendar_found":          true,
			"dropdown_screenshot_url": "http://files/shot.png",
		})
	})

	res, err := client.CheckAppointments(context.Background(), "sess-1", CheckRequest{
		TradeType:       "IMPORT",
		TruckingCompany: "K & R TRANSPORTATION LLC",
		Terminal:        "Total Terminals Intl LLC",
		MoveType:        "PICK FULL",
		ContainerID:     "IMP1",
		TruckPlate:      "ABC123",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"10/10/2025 08:00 AM - 09:00 AM"}, res.AvailableTimes)
	assert.True(t, res.CalendarFound)
	assert.Equal(t, "http://files/shot.png", res.ScreenshotURL)
}

func TestDownload(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		_, _ = w.Write([]byte("workbook-bytes"))
	})

	data, contentType, err := client.Download(context.Background(), client.rc.BaseURL+"/files/x.xlsx")
	require.NoError(t, err)
	assert.Equal(t, []byte("workbook-bytes"), data)
	assert.Contains(t, contentType, "spreadsheetml")
}

func TestErrorUnwrapAndMessage(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "forbidden", http.StatusForbidden)
	})

	_, err := client.ListAppointments(context.Background(), "sess-1")
	require.Error(t, err)

	var upErr *Error
	require.ErrorAs(t, err, &upErr)
	assert.Equal(t, KindPermanent, upErr.Kind)
	assert.Equal(t, http.StatusForbidden, upErr.StatusCode)
	assert.Equal(t, "get_appointments", upErr.Op)
}
