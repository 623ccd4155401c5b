package client

import (
	"context"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/grantdesk/grantdesk/analytics"
	"github.com/grantdesk/grantdesk/entity"
)

// DefaultTrackTimeout is how long a Tracker waits on a single page view.
const DefaultTrackTimeout = 10 * time.Second

// StartAnalyticsSession opens an analytics session. For a signed-in client,
// start.ClientID may be left empty.
func (c *Client) StartAnalyticsSession(ctx context.Context, start analytics.SessionStart) (entity.Record, error) {
	var rec entity.Record
	if err := c.call(ctx, http.MethodPost, pathAnalytics+"/session", nil, start, &rec); err != nil {
		return nil, err
	}
	return entity.NormalizeRecord(rec), nil
}

// EndAnalyticsSession closes the analytics session with the given ID.
func (c *Client) EndAnalyticsSession(ctx context.Context, id string) (entity.Record, error) {
	var rec entity.Record
	path := pathAnalytics + "/session/" + url.PathEscape(id) + "/end"
	if err := c.call(ctx, http.MethodPost, path, nil, nil, &rec); err != nil {
		return nil, err
	}
	return entity.NormalizeRecord(rec), nil
}

// RecordPageView sends a page view. The server stores it after answering, so
// a nil error only means it was accepted. Use a Tracker to send page views
// without waiting on them.
func (c *Client) RecordPageView(ctx context.Context, pv analytics.PageView) error {
	return c.call(ctx, http.MethodPost, pathAnalytics+"/pageview", nil, pv, nil)
}

// GetPreferences returns the preferences of a client. A client that never
// saved any gets the defaults.
func (c *Client) GetPreferences(ctx context.Context, clientID string) (analytics.Preferences, error) {
	var prefs analytics.Preferences
	if err := c.call(ctx, http.MethodGet, preferencesPath(clientID), nil, nil, &prefs); err != nil {
		return analytics.Preferences{}, err
	}
	return normalizePreferences(prefs), nil
}

// UpdatePreferences saves the preferences of a client and returns them as
// stored. The onboarding flag is not changed by this call.
func (c *Client) UpdatePreferences(ctx context.Context, clientID string, prefs analytics.Preferences) (analytics.Preferences, error) {
	var saved analytics.Preferences
	if err := c.call(ctx, http.MethodPut, preferencesPath(clientID), nil, prefs, &saved); err != nil {
		return analytics.Preferences{}, err
	}
	return normalizePreferences(saved), nil
}

// CompleteOnboarding marks a client as done with onboarding.
func (c *Client) CompleteOnboarding(ctx context.Context, clientID string) (analytics.Preferences, error) {
	var saved analytics.Preferences
	body := analytics.OnboardingRequest{ClientID: clientID}
	if err := c.call(ctx, http.MethodPost, pathAnalytics+"/onboarding-complete", nil, body, &saved); err != nil {
		return analytics.Preferences{}, err
	}
	return normalizePreferences(saved), nil
}

// Theme returns the stylesheet that applies the preferences of a client.
func (c *Client) Theme(ctx context.Context, clientID string) (string, error) {
	var css string
	if err := c.call(ctx, http.MethodGet, preferencesPath(clientID)+"/theme.css", nil, nil, &css); err != nil {
		return "", err
	}
	return css, nil
}

func preferencesPath(clientID string) string {
	return pathAnalytics + "/preferences/" + url.PathEscape(clientID)
}

func normalizePreferences(p analytics.Preferences) analytics.Preferences {
	if p.DashboardLayout != nil {
		p.DashboardLayout = entity.Normalize(p.DashboardLayout).(map[string]interface{})
	}
	return p
}

// Tracker sends page views for one analytics session without making the
// caller wait. Each page view is sent on its own goroutine; failures are
// logged and otherwise ignored. Close waits for every page view still being
// sent.
type Tracker struct {
	c         *Client
	sessionID string
	clientID  string

	// Timeout limits how long each page view may take. If 0,
	// DefaultTrackTimeout is used.
	Timeout time.Duration

	mtx    sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewTracker returns a Tracker that sends page views for the given analytics
// session and client.
func (c *Client) NewTracker(sessionID, clientID string) *Tracker {
	return &Tracker{c: c, sessionID: sessionID, clientID: clientID}
}

// PageView sends a view of the page at path.
func (t *Tracker) PageView(path, title string) {
	t.Track(analytics.PageView{Path: path, Title: title})
}

// Track sends pv, filling in the session and client of the Tracker where pv
// leaves them empty. It returns immediately. Page views tracked after Close
// are dropped.
func (t *Tracker) Track(pv analytics.PageView) {
	if pv.SessionID == "" {
		pv.SessionID = t.sessionID
	}
	if pv.ClientID == "" {
		pv.ClientID = t.clientID
	}
	if pv.ViewedAt.IsZero() {
		pv.ViewedAt = time.Now()
	}

	t.mtx.Lock()
	if t.closed {
		t.mtx.Unlock()
		t.c.log().Warnf("page view %s dropped: tracker is closed", pv.Path)
		return
	}
	t.wg.Add(1)
	t.mtx.Unlock()

	timeout := t.Timeout
	if timeout <= 0 {
		timeout = DefaultTrackTimeout
	}

	go func() {
		defer t.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		if err := t.c.RecordPageView(ctx, pv); err != nil {
			t.c.log().Warnf("page view %s not recorded: %v", pv.Path, err)
		}
	}()
}

// Close stops the Tracker from accepting page views and waits for the ones
// already sent to finish.
func (t *Tracker) Close() {
	t.mtx.Lock()
	t.closed = true
	t.mtx.Unlock()

	t.wg.Wait()
}
