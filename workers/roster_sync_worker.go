package workers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"time"

	"competition-engine/models"

	"github.com/jonboulle/clockwork"
)

// Enroller is the engine operation the roster sync feeds.
type Enroller interface {
	Enroll(ctx context.Context, competitionID, player string) (*models.Participant, error)
}

// RemoteEnrollment matches one entry of the roster service response.
type RemoteEnrollment struct {
	CompetitionID string    `json:"competition_id"`
	PlayerName    string    `json:"player_name"`
	UpdatedAt     time.Time `json:"updated_at"`
}

type GetEnrollmentChangesResponse struct {
	Enrollments []RemoteEnrollment `json:"enrollments"`
}

// RosterSyncWorker pulls enrollment changes from the roster service and
// enrolls the players locally.
type RosterSyncWorker struct {
	enroller     Enroller
	clock        clockwork.Clock
	logger       *log.Logger
	interval     time.Duration
	baseURL      string
	endpointPath string
	serviceToken string
	httpClient   *http.Client
	since        time.Time
}

func NewRosterSyncWorker(logger *log.Logger, enroller Enroller, clock clockwork.Clock, baseURL, endpointPath, serviceToken string, interval time.Duration) (*RosterSyncWorker, error) {
	if logger == nil {
		return nil, errors.New("logger is required")
	}
	if _, err := url.Parse(baseURL); err != nil || baseURL == "" {
		return nil, fmt.Errorf("invalid roster service URL %q", baseURL)
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &RosterSyncWorker{
		enroller:     enroller,
		clock:        clock,
		logger:       logger,
		interval:     interval,
		baseURL:      baseURL,
		endpointPath: endpointPath,
		serviceToken: serviceToken,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}, nil
}

func (w *RosterSyncWorker) Start(ctx context.Context) {
	w.logger.Println("🔁 Starting Roster Sync Worker (roster service → participants)…")
	go w.run(ctx)
}

func (w *RosterSyncWorker) run(ctx context.Context) {
	if err := w.SyncOnce(ctx); err != nil {
		w.logger.Printf("⚠️ Initial roster sync failed: %v", err)
	}

	ticker := w.clock.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.Chan():
			if err := w.SyncOnce(ctx); err != nil {
				w.logger.Printf("❌ Roster sync batch failed: %v", err)
			}
		case <-ctx.Done():
			w.logger.Println("⏹️ Roster Sync Worker stopped")
			return
		}
	}
}

// SyncOnce fetches changes since the last seen update and enrolls them. The
// cursor only advances past entries that were enrolled successfully.
func (w *RosterSyncWorker) SyncOnce(ctx context.Context) error {
	since := w.since.UTC().Format(time.RFC3339)

	endpoint, err := url.Parse(w.baseURL)
	if err != nil {
		return fmt.Errorf("invalid roster service URL '%s': %w", w.baseURL, err)
	}
	endpoint = endpoint.JoinPath(w.endpointPath)
	q := endpoint.Query()
	q.Set("since", since)
	endpoint.RawQuery = q.Encode()
	finalURL := endpoint.String()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, finalURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request to %s: %w", finalURL, err)
	}
	req.Header.Set("X-Service-Token", w.serviceToken)

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request to roster service failed: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		w.logger.Printf("[ROSTER] ❌ Roster service returned %d for %s: %s", resp.StatusCode, finalURL, string(body))
		return fmt.Errorf("roster service non-200 response: %d", resp.StatusCode)
	}

	var response GetEnrollmentChangesResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return fmt.Errorf("failed to decode roster service response: %w", err)
	}
	if len(response.Enrollments) == 0 {
		return nil
	}

	var enrolled, failed int
	latest := w.since
	var firstFailure time.Time
	for _, e := range response.Enrollments {
		if _, err := w.enroller.Enroll(ctx, e.CompetitionID, e.PlayerName); err != nil {
			failed++
			if firstFailure.IsZero() || e.UpdatedAt.Before(firstFailure) {
				firstFailure = e.UpdatedAt
			}
			w.logger.Printf("[ROSTER] ⚠️ Failed to enroll %q in %s: %v", e.PlayerName, e.CompetitionID, err)
			continue
		}
		enrolled++
		if e.UpdatedAt.After(latest) {
			latest = e.UpdatedAt
		}
	}
	if !firstFailure.IsZero() && !latest.Before(firstFailure) {
		// retry the failed entries next round
		latest = firstFailure.Add(-time.Nanosecond)
	}
	if latest.After(w.since) {
		w.since = latest
	}

	w.logger.Printf("[ROSTER] ✅ Synced %d enrollments (%d enrolled, %d errors)", len(response.Enrollments), enrolled, failed)
	return nil
}
