package render

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
)

// Theme is the look of the dashboard. Behaviour is identical across themes.
type Theme struct {
	Name      string
	Title     string
	HotBadge  string
	ColdBadge string
	Expired   string

	accent  []color.Attribute
	urgent  []color.Attribute
	muted   []color.Attribute
	success []color.Attribute
	failure []color.Attribute
}

var themes = map[string]Theme{
	"inferno": {
		Name:      "inferno",
		Title:     "STREAK INFERNO",
		HotBadge:  "ON FIRE",
		ColdBadge: "warming up",
		Expired:   "the fire went out",
		accent:    []color.Attribute{color.FgHiRed, color.Bold},
		urgent:    []color.Attribute{color.FgHiYellow, color.BgRed, color.Bold},
		muted:     []color.Attribute{color.FgHiBlack},
		success:   []color.Attribute{color.FgHiYellow},
		failure:   []color.Attribute{color.FgRed, color.Bold},
	},
	"classic": {
		Name:      "classic",
		Title:     "Trading Streak",
		HotBadge:  "HOT",
		ColdBadge: "standard",
		Expired:   "streak expired",
		accent:    []color.Attribute{color.FgCyan, color.Bold},
		urgent:    []color.Attribute{color.FgRed, color.Bold},
		muted:     []color.Attribute{color.FgWhite},
		success:   []color.Attribute{color.FgGreen},
		failure:   []color.Attribute{color.FgRed},
	},
}

// ThemeByName resolves a configured theme.
func ThemeByName(name string) (Theme, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		key = "inferno"
	}
	theme, ok := themes[key]
	if !ok {
		return Theme{}, fmt.Errorf("unknown theme %q", name)
	}
	return theme, nil
}

type palette struct {
	accent, urgent, muted, success, failure *color.Color
}

func newPalette(t Theme, enabled bool) palette {
	mk := func(attrs []color.Attribute) *color.Color {
		c := color.New(attrs...)
		if enabled {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
		return c
	}
	return palette{
		accent:  mk(t.accent),
		urgent:  mk(t.urgent),
		muted:   mk(t.muted),
		success: mk(t.success),
		failure: mk(t.failure),
	}
}
