//go:build integration

package integration_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"testing"
	"time"
)

func baseURL() string {
	if v := os.Getenv("MODERATOR_TEST_BASE_URL"); strings.TrimSpace(v) != "" {
		return strings.TrimRight(v, "/")
	}
	return "http://127.0.0.1:18080"
}

func TestParticipantJourneyIntegration(t *testing.T) {
	client := &http.Client{Timeout: 10 * time.Second}
	base := baseURL()
	pid := fmt.Sprintf("it%d", time.Now().UnixNano())
	q := "?participant_id=" + pid

	var session struct {
		State       string `json:"state"`
		TotalTrials int    `json:"total_trials"`
	}
	doJSON(t, client, http.MethodPost, base+"/api/session"+q+"&prolific_id=PRO-"+pid, "", nil, &session)
	if session.State != "PRESENTING" || session.TotalTrials == 0 {
		t.Fatalf("unexpected session: %+v", session)
	}

	for i := 0; i < session.TotalTrials; i++ {
		var trial struct {
			TrialIndex int     `json:"trial_index"`
			Duration   float64 `json:"duration"`
			Questions  []struct {
				Question string   `json:"question"`
				Options  []string `json:"options"`
			} `json:"questions"`
		}
		doJSON(t, client, http.MethodGet, base+"/api/trial"+q, "", nil, &trial)
		if trial.TrialIndex != i {
			t.Fatalf("expected trial %d, got %d", i, trial.TrialIndex)
		}
		doJSON(t, client, http.MethodPost, base+"/api/trial/flags"+q, "", map[string]float64{"time": trial.Duration / 2}, nil)
		if len(trial.Questions) > 0 {
			qs := trial.Questions[0]
			doJSON(t, client, http.MethodPost, base+"/api/trial/responses"+q, "",
				map[string]string{"question": qs.Question, "answer": qs.Options[0]}, nil)
		}
		var adv struct {
			NextIndex int  `json:"next_index"`
			Finished  bool `json:"finished"`
		}
		doJSON(t, client, http.MethodPost, base+"/api/trial/advance"+q, "", map[string]int{"trial_index": i}, &adv)
		if adv.NextIndex != i+1 {
			t.Fatalf("advance %d: next index %d", i, adv.NextIndex)
		}
		if adv.Finished != (i == session.TotalTrials-1) {
			t.Fatalf("advance %d: finished=%v", i, adv.Finished)
		}
	}

	var debrief struct {
		TotalTrials int `json:"total_trials"`
	}
	doJSON(t, client, http.MethodGet, base+"/api/debrief"+q, "", nil, &debrief)
	if debrief.TotalTrials != session.TotalTrials {
		t.Fatalf("debrief covers %d of %d trials", debrief.TotalTrials, session.TotalTrials)
	}

	var submitted struct {
		Aggregate struct {
			ProlificValidated bool `json:"prolific_validated"`
		} `json:"aggregate"`
	}
	doJSON(t, client, http.MethodPost, base+"/api/debrief/prolific"+q, "", map[string]string{"prolific_id": "PRO-" + pid}, &submitted)
	if !submitted.Aggregate.ProlificValidated {
		t.Fatalf("prolific id from the entry link should validate")
	}
	doJSON(t, client, http.MethodPost, base+"/api/reset"+q, "", nil, nil)

	token := os.Getenv("MODERATOR_TEST_RESEARCHER_TOKEN")
	if token == "" {
		t.Log("MODERATOR_TEST_RESEARCHER_TOKEN unset, skipping export check")
		return
	}
	req, err := http.NewRequest(http.MethodGet, base+"/api/export", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("export request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("export status %d body %s", resp.StatusCode, string(body))
	}
	csvData, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read export data: %v", err)
	}
	// Records synced to GitHub are removed locally, so only assert the header.
	if !strings.HasPrefix(string(csvData), "participant_id,") {
		t.Fatalf("unexpected export csv: %s", csvData)
	}
}

func doJSON(t *testing.T, client *http.Client, method, url, token string, body any, out any) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		rd = bytes.NewReader(payload)
	}
	req, err := http.NewRequest(method, url, rd)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if strings.TrimSpace(token) != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("http %s %s failed: %v", method, url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(resp.Body)
		t.Fatalf("unexpected status %d for %s: %s", resp.StatusCode, url, string(bodyBytes))
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
			t.Fatalf("decode response from %s: %v", url, err)
		}
	}
}
