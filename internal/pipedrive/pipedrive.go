// Package pipedrive implements the CRM client TourDesk uses for enrollment
// deals, persons, tour activities and notes.
//
// All requests carry the api_token query parameter. Responses follow the
// Pipedrive envelope {"success": bool, "data": ...}.
package pipedrive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/BTreeMap/TourDesk/internal/models"
)

// DefaultBaseURL is the public Pipedrive API endpoint.
const DefaultBaseURL = "https://api.pipedrive.com/v1"

// TourDuration is the fixed length of a tour activity.
const TourDuration = "01:00"

// CustomFieldKeys maps profile fields to the Pipedrive custom field hashes of
// the target account. Empty keys are skipped when building deals.
type CustomFieldKeys struct {
	ChildName               string
	ChildDOB                string
	ChildLevel              string
	PreferredEnrollmentDate string
}

// Opts holds configuration for the Pipedrive client.
type Opts struct {
	APIToken   string
	BaseURL    string
	Fields     CustomFieldKeys
	HTTPClient *http.Client
}

// Option configures the Pipedrive client.
type Option func(*Opts)

// WithAPIToken sets the API token.
func WithAPIToken(token string) Option {
	return func(o *Opts) { o.APIToken = token }
}

// WithBaseURL overrides the API base URL (tests point this at a local server).
func WithBaseURL(url string) Option {
	return func(o *Opts) { o.BaseURL = url }
}

// WithCustomFieldKeys sets the account's custom field hashes.
func WithCustomFieldKeys(keys CustomFieldKeys) Option {
	return func(o *Opts) { o.Fields = keys }
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(o *Opts) { o.HTTPClient = c }
}

// Client talks to the Pipedrive REST API.
type Client struct {
	apiToken string
	baseURL  string
	fields   CustomFieldKeys
	http     *http.Client
}

// NewClient creates a Pipedrive client.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("pipedrive.NewClient invoked", "token_set", cfg.APIToken != "", "base_url_set", cfg.BaseURL != "")
	if cfg.APIToken == "" {
		slog.Error("Pipedrive API token not set")
		return nil, fmt.Errorf("pipedrive API token not set")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{apiToken: cfg.APIToken, baseURL: cfg.BaseURL, fields: cfg.Fields, http: cfg.HTTPClient}, nil
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body interface{}) (json.RawMessage, error) {
	if query == nil {
		query = url.Values{}
	}
	query.Set("api_token", c.apiToken)
	endpoint := c.baseURL + path + "?" + query.Encode()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal %s %s body: %w", method, path, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to build %s %s request: %w", method, path, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		slog.Error("Pipedrive request failed", "error", err, "method", method, "path", path)
		return nil, fmt.Errorf("pipedrive %s %s failed: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read pipedrive response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		slog.Error("Pipedrive returned non-2xx status", "status", resp.StatusCode, "method", method, "path", path)
		return nil, fmt.Errorf("pipedrive %s %s returned status %d", method, path, resp.StatusCode)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("failed to decode pipedrive response: %w", err)
	}
	if !env.Success {
		return nil, fmt.Errorf("pipedrive %s %s reported failure", method, path)
	}
	return env.Data, nil
}

type idHolder struct {
	ID int `json:"id"`
}

// CreateOrGetPerson finds a person by email, falling back to creating one.
// Returns the person ID.
func (c *Client) CreateOrGetPerson(ctx context.Context, name, email, phone string) (int, error) {
	slog.Debug("CreateOrGetPerson invoked", "name", name, "email_set", email != "")
	if email != "" {
		q := url.Values{}
		q.Set("term", email)
		q.Set("fields", "email")
		q.Set("exact_match", "true")
		data, err := c.do(ctx, http.MethodGet, "/persons/search", q, nil)
		if err == nil && data != nil {
			var result struct {
				Items []struct {
					Item idHolder `json:"item"`
				} `json:"items"`
			}
			if json.Unmarshal(data, &result) == nil && len(result.Items) > 0 {
				slog.Debug("CreateOrGetPerson found existing person", "personID", result.Items[0].Item.ID)
				return result.Items[0].Item.ID, nil
			}
		}
	}

	body := map[string]interface{}{"name": name}
	if email != "" {
		body["email"] = []string{email}
	}
	if phone != "" {
		body["phone"] = []string{phone}
	}
	data, err := c.do(ctx, http.MethodPost, "/persons", nil, body)
	if err != nil {
		return 0, fmt.Errorf("failed to create person: %w", err)
	}
	var person idHolder
	if err := json.Unmarshal(data, &person); err != nil {
		return 0, fmt.Errorf("failed to decode created person: %w", err)
	}
	slog.Info("Pipedrive person created", "personID", person.ID)
	return person.ID, nil
}

// CreateEnrollmentDeal creates a deal titled "{parent} - {child}" in the
// school's pipeline with the child's custom fields attached.
func (c *Client) CreateEnrollmentDeal(ctx context.Context, school *models.SchoolInfo, profile *models.PersistentProfile, personID int) (int, error) {
	slog.Debug("CreateEnrollmentDeal invoked", "personID", personID, "school", school.Name)
	body := map[string]interface{}{
		"title":     fmt.Sprintf("%s - %s", profile.ParentName, profile.ChildName),
		"person_id": personID,
	}
	if school.PipelineID != 0 {
		body["pipeline_id"] = school.PipelineID
	}
	if school.StageID != 0 {
		body["stage_id"] = school.StageID
	}
	setCustomField(body, c.fields.ChildName, profile.ChildName)
	setCustomField(body, c.fields.ChildDOB, profile.ChildDOB)
	setCustomField(body, c.fields.ChildLevel, profile.ChildLevel)
	setCustomField(body, c.fields.PreferredEnrollmentDate, profile.PreferredEnrollmentDate)

	data, err := c.do(ctx, http.MethodPost, "/deals", nil, body)
	if err != nil {
		return 0, fmt.Errorf("failed to create enrollment deal: %w", err)
	}
	var deal idHolder
	if err := json.Unmarshal(data, &deal); err != nil {
		return 0, fmt.Errorf("failed to decode created deal: %w", err)
	}
	slog.Info("Pipedrive enrollment deal created", "dealID", deal.ID, "school", school.Name)
	return deal.ID, nil
}

func setCustomField(body map[string]interface{}, key, value string) {
	if key != "" && value != "" {
		body[key] = value
	}
}

// localSlotToUTC converts a school-local date and time to Pipedrive's UTC
// due_date/due_time pair.
func localSlotToUTC(loc *time.Location, date, timeStr string) (string, string, error) {
	local, err := time.ParseInLocation("2006-01-02 15:04", date+" "+timeStr, loc)
	if err != nil {
		return "", "", fmt.Errorf("invalid tour slot %s %s: %w", date, timeStr, err)
	}
	utc := local.UTC()
	return utc.Format("2006-01-02"), utc.Format("15:04"), nil
}

// CreateTourActivity books a one-hour tour activity against the deal.
// Date and time are school-local; Pipedrive stores them in UTC.
func (c *Client) CreateTourActivity(ctx context.Context, loc *time.Location, dealID int, subject, date, timeStr string) (int, error) {
	slog.Debug("CreateTourActivity invoked", "dealID", dealID, "date", date, "time", timeStr)
	dueDate, dueTime, err := localSlotToUTC(loc, date, timeStr)
	if err != nil {
		return 0, err
	}
	body := map[string]interface{}{
		"subject":  subject,
		"type":     "meeting",
		"deal_id":  dealID,
		"due_date": dueDate,
		"due_time": dueTime,
		"duration": TourDuration,
	}
	data, err := c.do(ctx, http.MethodPost, "/activities", nil, body)
	if err != nil {
		return 0, fmt.Errorf("failed to create tour activity: %w", err)
	}
	var activity idHolder
	if err := json.Unmarshal(data, &activity); err != nil {
		return 0, fmt.Errorf("failed to decode created activity: %w", err)
	}
	slog.Info("Pipedrive tour activity created", "activityID", activity.ID, "dealID", dealID)
	return activity.ID, nil
}

// RescheduleTourActivity moves an existing tour activity to a new slot.
func (c *Client) RescheduleTourActivity(ctx context.Context, loc *time.Location, activityID int, date, timeStr string) error {
	slog.Debug("RescheduleTourActivity invoked", "activityID", activityID, "date", date, "time", timeStr)
	dueDate, dueTime, err := localSlotToUTC(loc, date, timeStr)
	if err != nil {
		return err
	}
	body := map[string]interface{}{
		"due_date": dueDate,
		"due_time": dueTime,
		"duration": TourDuration,
	}
	if _, err := c.do(ctx, http.MethodPut, "/activities/"+strconv.Itoa(activityID), nil, body); err != nil {
		return fmt.Errorf("failed to reschedule tour activity %d: %w", activityID, err)
	}
	slog.Info("Pipedrive tour activity rescheduled", "activityID", activityID)
	return nil
}

// CancelActivity deletes the activity from Pipedrive.
func (c *Client) CancelActivity(ctx context.Context, activityID int) error {
	slog.Debug("CancelActivity invoked", "activityID", activityID)
	if _, err := c.do(ctx, http.MethodDelete, "/activities/"+strconv.Itoa(activityID), nil, nil); err != nil {
		return fmt.Errorf("failed to cancel activity %d: %w", activityID, err)
	}
	slog.Info("Pipedrive activity cancelled", "activityID", activityID)
	return nil
}

// AddNoteToDeal attaches a note to the deal.
func (c *Client) AddNoteToDeal(ctx context.Context, dealID int, content string) error {
	slog.Debug("AddNoteToDeal invoked", "dealID", dealID)
	body := map[string]interface{}{"deal_id": dealID, "content": content}
	if _, err := c.do(ctx, http.MethodPost, "/notes", nil, body); err != nil {
		return fmt.Errorf("failed to add note to deal %d: %w", dealID, err)
	}
	return nil
}

// BlockingActivity is a scheduled activity that occupies tour capacity.
// Date and StartTime are school-local; WholeDay activities block every slot
// of their date.
type BlockingActivity struct {
	Date      string // YYYY-MM-DD
	StartTime string // HH:MM, empty for whole-day
	Duration  string // HH:MM, empty means unknown
	WholeDay  bool
}

// GetBlockingActivities lists undone activities between start and end
// (school-local dates, inclusive). Activities without a due time block the
// whole day.
func (c *Client) GetBlockingActivities(ctx context.Context, loc *time.Location, start, end time.Time) ([]BlockingActivity, error) {
	slog.Debug("GetBlockingActivities invoked", "start", start.Format("2006-01-02"), "end", end.Format("2006-01-02"))
	q := url.Values{}
	q.Set("start_date", start.Format("2006-01-02"))
	q.Set("end_date", end.Format("2006-01-02"))
	q.Set("done", "0")
	data, err := c.do(ctx, http.MethodGet, "/activities", q, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to list activities: %w", err)
	}
	if data == nil || string(data) == "null" {
		return nil, nil
	}

	var raw []struct {
		Done     bool   `json:"done"`
		DueDate  string `json:"due_date"`
		DueTime  string `json:"due_time"`
		Duration string `json:"duration"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode activities: %w", err)
	}

	var blocking []BlockingActivity
	for _, a := range raw {
		if a.Done || a.DueDate == "" {
			continue
		}
		if a.DueTime == "" {
			blocking = append(blocking, BlockingActivity{Date: a.DueDate, WholeDay: true})
			continue
		}
		// Pipedrive stores due date/time in UTC; convert back to school-local.
		utc, err := time.ParseInLocation("2006-01-02 15:04", a.DueDate+" "+a.DueTime, time.UTC)
		if err != nil {
			slog.Warn("Skipping activity with unparseable due time", "due_date", a.DueDate, "due_time", a.DueTime)
			continue
		}
		local := utc.In(loc)
		blocking = append(blocking, BlockingActivity{
			Date:      local.Format("2006-01-02"),
			StartTime: local.Format("15:04"),
			Duration:  a.Duration,
		})
	}
	slog.Debug("GetBlockingActivities completed", "count", len(blocking))
	return blocking, nil
}

// CalculateChildLevel derives the school level (IF, PG, N1, N2, K1, K2) from
// the child's birth year and the enrollment year. Unparseable dates return
// "TBD" so the flow can continue without a level.
func CalculateChildLevel(childDOB, enrollmentDate string) string {
	dob, err := time.Parse("2006-01-02", childDOB)
	if err != nil {
		return "TBD"
	}
	enrollYear := time.Now().Year()
	if enrollmentDate != "" {
		if enroll, err := time.Parse("2006-01-02", enrollmentDate); err == nil {
			enrollYear = enroll.Year()
		}
	}
	// Level follows the age the child turns in the enrollment year.
	switch enrollYear - dob.Year() {
	case 0, 1:
		return "IF"
	case 2:
		return "PG"
	case 3:
		return "N1"
	case 4:
		return "N2"
	case 5:
		return "K1"
	case 6:
		return "K2"
	default:
		return "TBD"
	}
}
