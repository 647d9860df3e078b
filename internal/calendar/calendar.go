// Package calendar implements the Calendar Client: OAuth2 refresh-token
// authenticated REST calls to a Google-Calendar-shaped freebusy/events API.
// Every method takes and returns UTC times; timezone conversion for display
// happens only at the orchestrator/tool boundary, never inside this client.
package calendar

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"
)

const (
	defaultBaseURL    = "https://www.googleapis.com/calendar/v3"
	defaultHTTPTimeout = 10 * time.Second
)

// Config configures a [Client].
type Config struct {
	ClientID     string
	ClientSecret string
	RefreshToken string
	CalendarID   string // defaults to "primary"
	BaseURL      string // overridable for tests; defaults to the Google Calendar v3 API
	AuthURL      string
	TokenURL     string
}

// Client is a typed REST client over a calendar's freebusy and events
// endpoints, authenticated via a long-lived OAuth2 refresh token.
//
// The zero value is not usable; construct with [New].
type Client struct {
	httpClient *http.Client
	baseURL    string
	calendarID string
}

// New constructs a [Client]. The returned http.Client is backed by an
// oauth2.TokenSource seeded with cfg.RefreshToken; the standard
// oauth2.Transport handles access-token refresh transparently on every
// call, the same boundary pattern the teacher uses for its own HTTP
// provider clients (a plain *http.Client wrapping the auth concern).
func New(cfg Config) *Client {
	calendarID := cfg.CalendarID
	if calendarID == "" {
		calendarID = "primary"
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	authURL := cfg.AuthURL
	if authURL == "" {
		authURL = "https://accounts.google.com/o/oauth2/auth"
	}
	tokenURL := cfg.TokenURL
	if tokenURL == "" {
		tokenURL = "https://oauth2.googleapis.com/token"
	}

	oauthCfg := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Endpoint: oauth2.Endpoint{
			AuthURL:  authURL,
			TokenURL: tokenURL,
		},
	}
	tokenSource := oauthCfg.TokenSource(context.Background(), &oauth2.Token{
		RefreshToken: cfg.RefreshToken,
	})

	return &Client{
		httpClient: &http.Client{
			Transport: &oauth2.Transport{Source: tokenSource},
			Timeout:   defaultHTTPTimeout,
		},
		baseURL:    baseURL,
		calendarID: calendarID,
	}
}

// TimeRange is a half-open [Start, End) UTC interval, mirroring
// [github.com/dealerline/voiceagent/internal/repo.TimeRange] so
// get_available_slots can merge DB and Calendar busy windows without a
// conversion step.
type TimeRange struct {
	Start time.Time
	End   time.Time
}

type freeBusyRequest struct {
	TimeMin string              `json:"timeMin"`
	TimeMax string              `json:"timeMax"`
	Items   []freeBusyCalendar `json:"items"`
}

type freeBusyCalendar struct {
	ID string `json:"id"`
}

type freeBusyResponse struct {
	Calendars map[string]struct {
		Busy []struct {
			Start string `json:"start"`
			End   string `json:"end"`
		} `json:"busy"`
	} `json:"calendars"`
}

// FreeBusy queries busy windows on the configured calendar between from and
// to (both UTC), returning them as a sorted slice of [TimeRange].
func (c *Client) FreeBusy(ctx context.Context, from, to time.Time) ([]TimeRange, error) {
	body := freeBusyRequest{
		TimeMin: from.UTC().Format(time.RFC3339),
		TimeMax: to.UTC().Format(time.RFC3339),
		Items:   []freeBusyCalendar{{ID: c.calendarID}},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("calendar: marshal freebusy request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/freeBusy", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("calendar: build freebusy request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calendar: freebusy HTTP: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("calendar: freebusy: unexpected status %d", resp.StatusCode)
	}

	var fbr freeBusyResponse
	if err := json.NewDecoder(resp.Body).Decode(&fbr); err != nil {
		return nil, fmt.Errorf("calendar: freebusy decode: %w", err)
	}

	cal, ok := fbr.Calendars[c.calendarID]
	if !ok {
		return nil, nil
	}
	out := make([]TimeRange, 0, len(cal.Busy))
	for _, b := range cal.Busy {
		start, err := time.Parse(time.RFC3339, b.Start)
		if err != nil {
			return nil, fmt.Errorf("calendar: parse busy start: %w", err)
		}
		end, err := time.Parse(time.RFC3339, b.End)
		if err != nil {
			return nil, fmt.Errorf("calendar: parse busy end: %w", err)
		}
		out = append(out, TimeRange{Start: start.UTC(), End: end.UTC()})
	}
	return out, nil
}

// EventRequest describes the fields book_appointment and
// reschedule_appointment need to create or update a Calendar event.
type EventRequest struct {
	Summary        string
	Description    string
	Start          time.Time
	End            time.Time
	AttendeeEmail  string // optional; omitted from the request when empty
}

type eventAttendee struct {
	Email string `json:"email"`
}

type eventTime struct {
	DateTime string `json:"dateTime"`
}

type eventBody struct {
	Summary     string          `json:"summary"`
	Description string          `json:"description,omitempty"`
	Start       eventTime       `json:"start"`
	End         eventTime       `json:"end"`
	Attendees   []eventAttendee `json:"attendees,omitempty"`
}

type eventResponse struct {
	ID string `json:"id"`
}

func (r EventRequest) toBody() eventBody {
	b := eventBody{
		Summary:     r.Summary,
		Description: r.Description,
		Start:       eventTime{DateTime: r.Start.UTC().Format(time.RFC3339)},
		End:         eventTime{DateTime: r.End.UTC().Format(time.RFC3339)},
	}
	if r.AttendeeEmail != "" {
		b.Attendees = []eventAttendee{{Email: r.AttendeeEmail}}
	}
	return b
}

// CreateEvent creates a Calendar event and returns its external event ID.
// book_appointment must call this before writing the Appointment row: the
// returned ID is the compensating-action anchor if the DB write then fails.
func (c *Client) CreateEvent(ctx context.Context, req EventRequest) (string, error) {
	payload, err := json.Marshal(req.toBody())
	if err != nil {
		return "", fmt.Errorf("calendar: marshal event: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf("%s/calendars/%s/events", c.baseURL, c.calendarID), bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("calendar: build create event request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("calendar: create event HTTP: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("calendar: create event: unexpected status %d", resp.StatusCode)
	}

	var er eventResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		return "", fmt.Errorf("calendar: create event decode: %w", err)
	}
	if er.ID == "" {
		return "", fmt.Errorf("calendar: create event: empty event id in response")
	}
	return er.ID, nil
}

// UpdateEvent rewrites an existing event's time/summary/description.
// reschedule_appointment calls this after the DB row has moved.
func (c *Client) UpdateEvent(ctx context.Context, eventID string, req EventRequest) error {
	payload, err := json.Marshal(req.toBody())
	if err != nil {
		return fmt.Errorf("calendar: marshal event update: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPut,
		fmt.Sprintf("%s/calendars/%s/events/%s", c.baseURL, c.calendarID, eventID), bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("calendar: build update event request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("calendar: update event HTTP: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("calendar: update event: unexpected status %d", resp.StatusCode)
	}
	return nil
}

type eventStatusBody struct {
	Status string `json:"status"`
}

// CancelEvent marks an event cancelled in place via a partial status
// update, rather than deleting it outright. cancel_appointment uses this so
// a future reconciliation job can still see the event existed. Unlike
// DeleteEvent, this is not used for the book_appointment compensating
// rollback, which removes the event entirely since the booking never
// should have existed.
func (c *Client) CancelEvent(ctx context.Context, eventID string) error {
	payload, err := json.Marshal(eventStatusBody{Status: "cancelled"})
	if err != nil {
		return fmt.Errorf("calendar: marshal cancel event: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPatch,
		fmt.Sprintf("%s/calendars/%s/events/%s", c.baseURL, c.calendarID, eventID), bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("calendar: build cancel event request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("calendar: cancel event HTTP: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusGone {
		return fmt.Errorf("calendar: cancel event: unexpected status %d", resp.StatusCode)
	}
	return nil
}

// DeleteEvent removes an event by ID entirely. Used as book_appointment's
// compensating action when the DB write fails after the event was already
// created upstream.
func (c *Client) DeleteEvent(ctx context.Context, eventID string) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodDelete,
		fmt.Sprintf("%s/calendars/%s/events/%s", c.baseURL, c.calendarID, eventID), nil)
	if err != nil {
		return fmt.Errorf("calendar: build delete event request: %w", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("calendar: delete event HTTP: %w", err)
	}
	defer resp.Body.Close()
	// Google's API returns 410 Gone for an already-deleted event; treat it
	// the same as 204/200 since the end state (no event) is what matters.
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusGone {
		return fmt.Errorf("calendar: delete event: unexpected status %d", resp.StatusCode)
	}
	return nil
}
