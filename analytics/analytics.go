// Package analytics keeps client preferences and records how clients use the
// portal: one analytics_sessions record per visit and one page_views record
// per page seen. Tracking is best-effort throughout; a failed bookkeeping
// write is logged and never fails the caller's request.
package analytics

import (
	"regexp"
	"time"

	"github.com/grantdesk/grantdesk/entity"
)

const (
	Version = "1.0.0"

	SessionsEntity    = "analytics_sessions"
	PageViewsEntity   = "page_views"
	PreferencesEntity = "client_preferences"
)

var colorRegex = regexp.MustCompile(`^#(?:[0-9A-Fa-f]{3}|[0-9A-Fa-f]{6})$`)

// SessionStart is the body of a session start request.
type SessionStart struct {
	ClientID  string `json:"client_id"`
	UserAgent string `json:"user_agent,omitempty"`
	Referrer  string `json:"referrer,omitempty"`
	IPAddress string `json:"ip_address,omitempty"`
}

// PageView is a single page a client looked at.
type PageView struct {
	SessionID  string `json:"session_id"`
	ClientID   string `json:"client_id"`
	Path       string `json:"path"`
	Title      string `json:"title,omitempty"`
	Referrer   string `json:"referrer,omitempty"`
	DurationMS int64  `json:"duration_ms,omitempty"`

	// ViewedAt defaults to the time the view is recorded.
	ViewedAt time.Time `json:"viewed_at,omitempty"`
}

// OnboardingRequest is the body of an onboarding-complete request.
type OnboardingRequest struct {
	ClientID string `json:"client_id"`
}

// Preferences are the display settings of a client.
type Preferences struct {
	ClientID            string                 `json:"client_id"`
	PrimaryColor        string                 `json:"primary_color"`
	SecondaryColor      string                 `json:"secondary_color"`
	AccentColor         string                 `json:"accent_color"`
	FontFamily          string                 `json:"font_family"`
	FontSize            string                 `json:"font_size"`
	DarkMode            bool                   `json:"dark_mode"`
	Animations          bool                   `json:"animations"`
	OnboardingCompleted bool                   `json:"onboarding_completed"`
	DashboardLayout     map[string]interface{} `json:"dashboard_layout,omitempty"`
}

// DefaultPreferences returns the settings used for a client that has not
// saved any.
func DefaultPreferences(clientID string) Preferences {
	return Preferences{
		ClientID:       clientID,
		PrimaryColor:   "#1e40af",
		SecondaryColor: "#64748b",
		AccentColor:    "#f59e0b",
		FontFamily:     "Inter",
		FontSize:       "medium",
		Animations:     true,
	}
}

// fontSizes maps the named font sizes to their root CSS size.
var fontSizes = map[string]string{
	"small":  "14px",
	"medium": "16px",
	"large":  "18px",
	"xlarge": "20px",
}

// Validate returns an error matching grantdesk.ErrBadArgument if the
// preferences cannot be stored.
func (p Preferences) Validate() error {
	colors := []struct {
		key, val string
	}{
		{"primary_color", p.PrimaryColor},
		{"secondary_color", p.SecondaryColor},
		{"accent_color", p.AccentColor},
	}
	for _, c := range colors {
		if c.val != "" && !colorRegex.MatchString(c.val) {
			return badArg("%s: %q is not a #rgb or #rrggbb color", c.key, c.val)
		}
	}

	if p.FontSize != "" {
		if _, ok := fontSizes[p.FontSize]; !ok {
			return badArg("font_size: must be one of small, medium, large or xlarge")
		}
	}
	if !fontFamilyRegex.MatchString(p.FontFamily) {
		return badArg("font_family: %q contains characters that are not allowed", p.FontFamily)
	}

	return nil
}

// record returns p as a client_preferences record.
func (p Preferences) record() entity.Record {
	rec := entity.Record{
		"client_id":            p.ClientID,
		"primary_color":        p.PrimaryColor,
		"secondary_color":      p.SecondaryColor,
		"accent_color":         p.AccentColor,
		"font_family":          p.FontFamily,
		"font_size":            p.FontSize,
		"dark_mode":            p.DarkMode,
		"animations":           p.Animations,
		"onboarding_completed": p.OnboardingCompleted,
	}
	if p.DashboardLayout != nil {
		rec["dashboard_layout"] = p.DashboardLayout
	}
	return rec
}

// preferencesFromRecord reads a client_preferences record. Settings missing
// from the record keep their defaults.
func preferencesFromRecord(rec entity.Record) Preferences {
	p := DefaultPreferences(rec.String("client_id"))

	for key, dest := range map[string]*string{
		"primary_color":   &p.PrimaryColor,
		"secondary_color": &p.SecondaryColor,
		"accent_color":    &p.AccentColor,
		"font_family":     &p.FontFamily,
		"font_size":       &p.FontSize,
	} {
		if v := rec.String(key); v != "" {
			*dest = v
		}
	}
	for key, dest := range map[string]*bool{
		"dark_mode":            &p.DarkMode,
		"animations":           &p.Animations,
		"onboarding_completed": &p.OnboardingCompleted,
	} {
		if _, ok := rec[key]; ok && rec[key] != nil {
			*dest = rec.Bool(key)
		}
	}
	if layout, ok := entity.Normalize(rec["dashboard_layout"]).(map[string]interface{}); ok {
		p.DashboardLayout = layout
	}

	return p
}
