package analytics

import (
	"fmt"
	"regexp"
	"strings"
)

var fontFamilyRegex = regexp.MustCompile(`^[A-Za-z0-9 ,-]*$`)

// Theme renders the preferences as a CSS block of custom properties on :root,
// ready to be served as a stylesheet. Settings that are empty or not valid
// are rendered with their default values.
func Theme(p Preferences) string {
	def := DefaultPreferences(p.ClientID)

	color := func(v, fallback string) string {
		if colorRegex.MatchString(v) {
			return strings.ToLower(v)
		}
		return fallback
	}

	fontFamily := def.FontFamily
	if strings.TrimSpace(p.FontFamily) != "" && fontFamilyRegex.MatchString(p.FontFamily) {
		fontFamily = strings.TrimSpace(p.FontFamily)
	}

	fontSize, ok := fontSizes[p.FontSize]
	if !ok {
		fontSize = fontSizes[def.FontSize]
	}

	scheme := "light"
	if p.DarkMode {
		scheme = "dark"
	}

	motion := "200ms"
	if !p.Animations {
		motion = "0s"
	}

	var sb strings.Builder
	sb.WriteString(":root {\n")
	writeProp(&sb, "--color-primary", color(p.PrimaryColor, def.PrimaryColor))
	writeProp(&sb, "--color-secondary", color(p.SecondaryColor, def.SecondaryColor))
	writeProp(&sb, "--color-accent", color(p.AccentColor, def.AccentColor))
	writeProp(&sb, "--font-family", fontFamily+", sans-serif")
	writeProp(&sb, "--font-size-base", fontSize)
	writeProp(&sb, "--transition-duration", motion)
	writeProp(&sb, "color-scheme", scheme)
	sb.WriteString("}\n")

	return sb.String()
}

func writeProp(sb *strings.Builder, name, value string) {
	sb.WriteString(fmt.Sprintf("  %s: %s;\n", name, value))
}
