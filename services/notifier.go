package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"competition-engine/models"
)

// LogNotifier announces winners in the service log only.
type LogNotifier struct{}

func (LogNotifier) NotifyWinners(_ context.Context, c *models.Competition, fin *models.Finalization) error {
	for _, w := range fin.Winners {
		if w.Rank > 3 {
			break
		}
		log.Printf("[NOTIFY] 🥇 %s: #%d %s with %d points (+%d bonus)", c.Name, w.Rank, w.PlayerName, w.TotalPoints, w.BonusAwarded)
	}
	return nil
}

// WebhookNotifier posts the finalization outcome to an external endpoint.
type WebhookNotifier struct {
	URL    string
	Token  string
	Client *http.Client
}

type winnersPayload struct {
	CompetitionID   string          `json:"competition_id"`
	CompetitionName string          `json:"competition_name"`
	FinalizedAt     time.Time       `json:"finalized_at"`
	Winners         []models.Winner `json:"winners"`
	TotalBonuses    int             `json:"total_bonuses_awarded"`
}

func NewWebhookNotifier(url, token string) *WebhookNotifier {
	return &WebhookNotifier{
		URL:   url,
		Token: token,
		Client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (n *WebhookNotifier) NotifyWinners(ctx context.Context, c *models.Competition, fin *models.Finalization) error {
	body, err := json.Marshal(winnersPayload{
		CompetitionID:   c.ID,
		CompetitionName: c.Name,
		FinalizedAt:     fin.FinalizedAt,
		Winners:         fin.Winners,
		TotalBonuses:    fin.TotalBonusesAwarded,
	})
	if err != nil {
		return fmt.Errorf("encode winners: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if n.Token != "" {
		req.Header.Set("X-Service-Token", n.Token)
	}

	resp, err := n.Client.Do(req)
	if err != nil {
		return fmt.Errorf("winner webhook: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode/100 != 2 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		log.Printf("[NOTIFY] ❌ Webhook returned %d: %s", resp.StatusCode, string(msg))
		return fmt.Errorf("winner webhook returned %d", resp.StatusCode)
	}
	log.Printf("[NOTIFY] 📣 Sent %d winners of %s to webhook", len(fin.Winners), c.ID)
	return nil
}
