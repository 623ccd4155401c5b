package analytics

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/grantdesk/grantdesk"
	"github.com/grantdesk/grantdesk/entity"
	"github.com/grantdesk/grantdesk/internal/logging"
)

// Service records analytics and manages client preferences. Each operation is
// a thin sequence of entity calls; the first failing call's error is returned
// unless the call is a best-effort one, in which case it is only logged.
type Service struct {
	Sessions    entity.Repo
	PageViews   entity.Repo
	Preferences entity.Repo

	Log grantdesk.Logger

	countMtx sync.Mutex

	// now is used in place of time.Now when set.
	now func() time.Time
}

// NewService returns a Service over the analytics tables of store.
func NewService(store entity.Store, log grantdesk.Logger) *Service {
	return &Service{
		Sessions:    store.Entity(SessionsEntity),
		PageViews:   store.Entity(PageViewsEntity),
		Preferences: store.Entity(PreferencesEntity),
		Log:         log,
	}
}

func (svc *Service) log() grantdesk.Logger {
	if svc.Log == nil {
		return logging.NoOpLogger{}
	}
	return svc.Log
}

func (svc *Service) clock() time.Time {
	if svc.now != nil {
		return svc.now()
	}
	return time.Now()
}

func badArg(format string, a ...interface{}) error {
	return grantdesk.NewError(fmt.Sprintf(format, a...), grantdesk.ErrBadArgument)
}

// StartSession opens a new analytics session for a client visit and returns
// the stored analytics_sessions record.
func (svc *Service) StartSession(ctx context.Context, start SessionStart) (entity.Record, error) {
	if start.ClientID == "" {
		return nil, badArg("client_id: must not be empty")
	}

	rec := entity.Record{
		"client_id":  start.ClientID,
		"started_at": entity.Timestamp(svc.clock()),
		"page_count": int64(0),
	}
	if start.UserAgent != "" {
		rec["user_agent"] = start.UserAgent
	}
	if start.Referrer != "" {
		rec["referrer"] = start.Referrer
	}
	if start.IPAddress != "" {
		rec["ip_address"] = start.IPAddress
	}

	return svc.Sessions.Create(ctx, rec)
}

// EndSession closes the session with the given ID, recording when it ended
// and how long it lasted in whole seconds. Ending a session that has already
// ended returns it unchanged.
func (svc *Service) EndSession(ctx context.Context, id string) (entity.Record, error) {
	sess, err := svc.Sessions.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess.String("ended_at") != "" {
		return sess, nil
	}

	ended := svc.clock()
	var duration int64
	if started := sess.Time("started_at"); !started.IsZero() && ended.After(started) {
		duration = int64(ended.Sub(started) / time.Second)
	}

	return svc.Sessions.Update(ctx, id, entity.Record{
		"ended_at":         entity.Timestamp(ended),
		"duration_seconds": duration,
	})
}

// RecordPageView stores a page view and recounts the page_count of the session
// it belongs to. Only the page view itself must succeed; a failed recount is
// logged.
func (svc *Service) RecordPageView(ctx context.Context, pv PageView) (entity.Record, error) {
	if pv.Path == "" {
		return nil, badArg("path: must not be empty")
	}
	if pv.ViewedAt.IsZero() {
		pv.ViewedAt = svc.clock()
	}

	rec := entity.Record{
		"path":      pv.Path,
		"viewed_at": entity.Timestamp(pv.ViewedAt),
	}
	if pv.SessionID != "" {
		rec["session_id"] = pv.SessionID
	}
	if pv.ClientID != "" {
		rec["client_id"] = pv.ClientID
	}
	if pv.Title != "" {
		rec["title"] = pv.Title
	}
	if pv.Referrer != "" {
		rec["referrer"] = pv.Referrer
	}
	if pv.DurationMS > 0 {
		rec["duration_ms"] = pv.DurationMS
	}

	created, err := svc.PageViews.Create(ctx, rec)
	if err != nil {
		return nil, err
	}

	if pv.SessionID != "" {
		if err := svc.updatePageCount(ctx, pv.SessionID); err != nil {
			svc.log().Warnf("page view %s: could not update page count of session %s: %v", created.ID(), pv.SessionID, err)
		}
	}

	return created, nil
}

// updatePageCount sets the page_count of a session to the number of page views
// stored for it. Updates are serialized so that the last one written has seen
// every view inserted before it started.
func (svc *Service) updatePageCount(ctx context.Context, sessionID string) error {
	svc.countMtx.Lock()
	defer svc.countMtx.Unlock()

	n, err := svc.PageViews.Count(ctx, entity.Criteria{"session_id": sessionID})
	if err != nil {
		return err
	}
	_, err = svc.Sessions.Update(ctx, sessionID, entity.Record{"page_count": int64(n)})
	return err
}

// GetPreferences returns the saved preferences of a client, or the defaults if
// the client has saved none.
func (svc *Service) GetPreferences(ctx context.Context, clientID string) (Preferences, error) {
	if clientID == "" {
		return Preferences{}, badArg("client_id: must not be empty")
	}

	rec, err := svc.preferencesRecord(ctx, clientID)
	if err != nil {
		if errors.Is(err, grantdesk.ErrNotFound) {
			return DefaultPreferences(clientID), nil
		}
		return Preferences{}, err
	}
	return preferencesFromRecord(rec), nil
}

// UpdatePreferences saves the display settings of a client, creating its
// preferences record if needed. The onboarding flag is left as it is; set it
// with CompleteOnboarding.
func (svc *Service) UpdatePreferences(ctx context.Context, clientID string, prefs Preferences) (Preferences, error) {
	if clientID == "" {
		return Preferences{}, badArg("client_id: must not be empty")
	}
	prefs.ClientID = clientID
	if err := prefs.Validate(); err != nil {
		return Preferences{}, err
	}

	patch := prefs.record()
	delete(patch, "onboarding_completed")

	rec, err := svc.upsertPreferences(ctx, clientID, patch)
	if err != nil {
		return Preferences{}, err
	}
	return preferencesFromRecord(rec), nil
}

// CompleteOnboarding marks a client as having finished onboarding.
func (svc *Service) CompleteOnboarding(ctx context.Context, clientID string) (Preferences, error) {
	if clientID == "" {
		return Preferences{}, badArg("client_id: must not be empty")
	}

	rec, err := svc.upsertPreferences(ctx, clientID, entity.Record{"onboarding_completed": true})
	if err != nil {
		return Preferences{}, err
	}
	return preferencesFromRecord(rec), nil
}

// upsertPreferences applies patch to the preferences record of the client.
// A new record starts from the defaults. If another request creates the
// record first, the patch is applied to that one.
func (svc *Service) upsertPreferences(ctx context.Context, clientID string, patch entity.Record) (entity.Record, error) {
	existing, err := svc.preferencesRecord(ctx, clientID)
	if err == nil {
		return svc.Preferences.Update(ctx, existing.ID(), patch)
	}
	if !errors.Is(err, grantdesk.ErrNotFound) {
		return nil, err
	}

	rec := DefaultPreferences(clientID).record()
	for k, v := range patch {
		rec[k] = v
	}

	created, err := svc.Preferences.Create(ctx, rec)
	if err == nil {
		return created, nil
	}
	if !errors.Is(err, grantdesk.ErrAlreadyExists) {
		return nil, err
	}

	existing, err = svc.preferencesRecord(ctx, clientID)
	if err != nil {
		return nil, err
	}
	return svc.Preferences.Update(ctx, existing.ID(), patch)
}

func (svc *Service) preferencesRecord(ctx context.Context, clientID string) (entity.Record, error) {
	recs, err := svc.Preferences.Filter(ctx, entity.Criteria{"client_id": clientID}, entity.ListOptions{Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(recs) < 1 {
		return nil, grantdesk.NewError("no preferences saved for client", grantdesk.ErrNotFound)
	}
	return recs[0], nil
}
