package pipedrive

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/BTreeMap/TourDesk/internal/models"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	c, err := NewClient(WithAPIToken("test-token"), WithBaseURL(server.URL))
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	return c
}

func TestNewClientRequiresToken(t *testing.T) {
	if _, err := NewClient(); err == nil {
		t.Fatal("expected error when API token is not set")
	}
}

func TestCreateOrGetPersonFindsExisting(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/persons/search" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("api_token") != "test-token" {
			t.Error("api_token missing from query")
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"success": true,
			"data":    map[string]interface{}{"items": []map[string]interface{}{{"item": map[string]interface{}{"id": 321}}}},
		})
	})

	id, err := c.CreateOrGetPerson(context.Background(), "Sarah Tan", "sarah@example.com", "")
	if err != nil {
		t.Fatalf("CreateOrGetPerson failed: %v", err)
	}
	if id != 321 {
		t.Errorf("expected existing person 321, got %d", id)
	}
}

func TestCreateOrGetPersonCreatesWhenMissing(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/persons/search":
			json.NewEncoder(w).Encode(map[string]interface{}{"success": true, "data": map[string]interface{}{"items": []interface{}{}}})
		case "/persons":
			if r.Method != http.MethodPost {
				t.Errorf("expected POST, got %s", r.Method)
			}
			var body map[string]interface{}
			json.NewDecoder(r.Body).Decode(&body)
			if body["name"] != "Sarah Tan" {
				t.Errorf("unexpected person body: %v", body)
			}
			json.NewEncoder(w).Encode(map[string]interface{}{"success": true, "data": map[string]interface{}{"id": 77}})
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	})

	id, err := c.CreateOrGetPerson(context.Background(), "Sarah Tan", "sarah@example.com", "+6591234567")
	if err != nil {
		t.Fatalf("CreateOrGetPerson failed: %v", err)
	}
	if id != 77 {
		t.Errorf("expected created person 77, got %d", id)
	}
}

func TestCreateEnrollmentDealTitle(t *testing.T) {
	var gotBody map[string]interface{}
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotBody)
		json.NewEncoder(w).Encode(map[string]interface{}{"success": true, "data": map[string]interface{}{"id": 501}})
	})

	school := &models.SchoolInfo{Name: "Sunrise", PipelineID: 3, StageID: 12}
	profile := &models.PersistentProfile{ParentName: "Sarah Tan", ChildName: "Emma", ChildDOB: "2021-03-15"}
	id, err := c.CreateEnrollmentDeal(context.Background(), school, profile, 77)
	if err != nil {
		t.Fatalf("CreateEnrollmentDeal failed: %v", err)
	}
	if id != 501 {
		t.Errorf("expected deal 501, got %d", id)
	}
	if gotBody["title"] != "Sarah Tan - Emma" {
		t.Errorf("unexpected deal title: %v", gotBody["title"])
	}
}

func TestCreateTourActivityConvertsToUTC(t *testing.T) {
	var gotBody map[string]interface{}
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotBody)
		json.NewEncoder(w).Encode(map[string]interface{}{"success": true, "data": map[string]interface{}{"id": 900}})
	})

	loc, err := time.LoadLocation("Asia/Singapore")
	if err != nil {
		t.Fatalf("LoadLocation failed: %v", err)
	}
	id, err := c.CreateTourActivity(context.Background(), loc, 501, "School Tour - Emma", "2026-09-10", "09:30")
	if err != nil {
		t.Fatalf("CreateTourActivity failed: %v", err)
	}
	if id != 900 {
		t.Errorf("expected activity 900, got %d", id)
	}
	// Singapore is UTC+8, so 09:30 local is 01:30 UTC same day.
	if gotBody["due_date"] != "2026-09-10" || gotBody["due_time"] != "01:30" {
		t.Errorf("expected UTC conversion, got due_date=%v due_time=%v", gotBody["due_date"], gotBody["due_time"])
	}
	if gotBody["duration"] != TourDuration {
		t.Errorf("expected fixed duration, got %v", gotBody["duration"])
	}
}

func TestGetBlockingActivitiesWholeDayAndLocalTime(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"success": true,
			"data": []map[string]interface{}{
				{"done": false, "due_date": "2026-09-10", "due_time": "01:30", "duration": "01:00"},
				{"done": false, "due_date": "2026-09-11", "due_time": ""},
				{"done": true, "due_date": "2026-09-12", "due_time": "02:00"},
			},
		})
	})

	loc, _ := time.LoadLocation("Asia/Singapore")
	start := time.Date(2026, 9, 10, 0, 0, 0, 0, loc)
	acts, err := c.GetBlockingActivities(context.Background(), loc, start, start.AddDate(0, 0, 14))
	if err != nil {
		t.Fatalf("GetBlockingActivities failed: %v", err)
	}
	if len(acts) != 2 {
		t.Fatalf("expected 2 blocking activities (done skipped), got %d", len(acts))
	}
	if acts[0].Date != "2026-09-10" || acts[0].StartTime != "09:30" {
		t.Errorf("expected local conversion to 09:30, got %+v", acts[0])
	}
	if !acts[1].WholeDay || acts[1].Date != "2026-09-11" {
		t.Errorf("expected whole-day block, got %+v", acts[1])
	}
}

func TestCancelActivity(t *testing.T) {
	var gotMethod, gotPath string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotMethod, gotPath = r.Method, r.URL.Path
		json.NewEncoder(w).Encode(map[string]interface{}{"success": true, "data": map[string]interface{}{"id": 900}})
	})
	if err := c.CancelActivity(context.Background(), 900); err != nil {
		t.Fatalf("CancelActivity failed: %v", err)
	}
	if gotMethod != http.MethodDelete || gotPath != "/activities/"+strconv.Itoa(900) {
		t.Errorf("unexpected request %s %s", gotMethod, gotPath)
	}
}

func TestCalculateChildLevel(t *testing.T) {
	cases := []struct {
		dob        string
		enrollment string
		want       string
	}{
		{"2026-01-10", "2026-08-01", "IF"},
		{"2024-06-01", "2026-08-01", "PG"},
		{"2023-06-01", "2026-08-01", "N1"},
		{"2022-06-01", "2026-08-01", "N2"},
		{"2021-06-01", "2026-08-01", "K1"},
		{"2020-06-01", "2026-08-01", "K2"},
		{"2010-06-01", "2026-08-01", "TBD"},
		{"not-a-date", "2026-08-01", "TBD"},
	}
	for _, tc := range cases {
		if got := CalculateChildLevel(tc.dob, tc.enrollment); got != tc.want {
			t.Errorf("CalculateChildLevel(%s, %s) = %s, want %s", tc.dob, tc.enrollment, got, tc.want)
		}
	}
}

func TestDoSurfacesAPIFailure(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"success": false})
	})
	if err := c.AddNoteToDeal(context.Background(), 1, "note"); err == nil {
		t.Fatal("expected error when success=false")
	}
}
