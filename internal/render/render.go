// Package render draws a session view on a terminal.
package render

import (
	"bytes"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"

	"streakwatch/internal/countdown"
	"streakwatch/internal/loyalty"
	"streakwatch/internal/session"
	"streakwatch/internal/telemetry"
)

const clearScreen = "\033[H\033[2J"

// Renderer writes views to out.
type Renderer struct {
	out   io.Writer
	theme Theme
	color bool
	pal   palette
}

// New builds a renderer. color toggles ANSI styling and screen clearing.
func New(out io.Writer, theme Theme, color bool) *Renderer {
	return &Renderer{out: out, theme: theme, color: color, pal: newPalette(theme, color)}
}

// Theme returns the active theme.
func (r *Renderer) Theme() Theme {
	return r.theme
}

// Dashboard redraws the full screen: status, countdown, trade state and feed.
func (r *Renderer) Dashboard(v session.View, hint string) error {
	var buf bytes.Buffer
	if r.color {
		buf.WriteString(clearScreen)
	}
	r.writeStatus(&buf, v)
	r.writeTrade(&buf, v)
	buf.WriteString("\n")
	if err := r.writeFeed(&buf, v.Events); err != nil {
		return err
	}
	if hint != "" {
		buf.WriteString("\n")
		buf.WriteString(r.pal.muted.Sprint(hint))
		buf.WriteString("\n")
	}
	_, err := r.out.Write(buf.Bytes())
	return err
}

// Status prints the snapshot, tier and countdown once.
func (r *Renderer) Status(v session.View) error {
	var buf bytes.Buffer
	r.writeStatus(&buf, v)
	r.writeTrade(&buf, v)
	_, err := r.out.Write(buf.Bytes())
	return err
}

// Feed prints the event table.
func (r *Renderer) Feed(events []telemetry.Event) error {
	var buf bytes.Buffer
	if err := r.writeFeed(&buf, events); err != nil {
		return err
	}
	_, err := r.out.Write(buf.Bytes())
	return err
}

func (r *Renderer) writeStatus(buf *bytes.Buffer, v session.View) {
	fmt.Fprintf(buf, "%s\n", r.pal.accent.Sprint(r.theme.Title))

	if !v.Connected() {
		fmt.Fprintf(buf, "%s\n", r.pal.muted.Sprint("No wallet connected"))
		r.writeFee(buf, v)
		return
	}

	fmt.Fprintf(buf, "Account      %s\n", v.Account.Hex())
	if v.ReadErr != nil {
		fmt.Fprintf(buf, "%s\n", r.pal.failure.Sprintf("read error: %v", v.ReadErr))
	}
	if !v.Ready {
		state := "loading streak data..."
		if !v.Loading && v.ReadErr != nil {
			state = "streak data unavailable"
		}
		fmt.Fprintf(buf, "%s\n", r.pal.muted.Sprint(state))
	}

	snap := v.Snapshot
	badge := r.pal.muted.Sprint(r.theme.ColdBadge)
	if v.Tier.Hot {
		badge = r.pal.success.Sprint(r.theme.HotBadge)
	}
	fmt.Fprintf(buf, "Streak       %d %s  [%s]\n", snap.StreakCount, pluralDays(snap.StreakCount), badge)
	if !v.Tier.Hot {
		fmt.Fprintf(buf, "             %d more %s to the %s%% tier\n",
			v.Tier.StreakToHot, pluralDays(v.Tier.StreakToHot), loyalty.FeePercent(v.Policy.DiscountFeeBps).StringFixed(2))
	}
	r.writeFee(buf, v)
	fmt.Fprintf(buf, "Volume       %s\n", snap.CumulativeVolume.StringFixed(4))
	if snap.NeverTraded() {
		fmt.Fprintf(buf, "Last trade   never\n")
	} else {
		fmt.Fprintf(buf, "Last trade   %s\n", snap.LastActivity().Format(time.RFC1123))
	}
	r.writeCountdown(buf, v.Countdown)
}

func (r *Renderer) writeFee(buf *bytes.Buffer, v session.View) {
	label := "standard"
	if v.Tier.Discounted || v.Snapshot.FeeBps < v.Policy.MaxFeeBps {
		label = "discounted"
	}
	fmt.Fprintf(buf, "Fee          %s%% (%s)\n", loyalty.FeePercent(v.Snapshot.FeeBps).StringFixed(2), label)
}

func (r *Renderer) writeCountdown(buf *bytes.Buffer, st countdown.State) {
	switch st.Phase {
	case countdown.Inactive:
		fmt.Fprintf(buf, "Deadline     %s\n", r.pal.muted.Sprint("no active streak"))
	case countdown.Expired:
		fmt.Fprintf(buf, "Deadline     %s\n", r.pal.failure.Sprint(r.theme.Expired))
	case countdown.Expiring:
		fmt.Fprintf(buf, "Deadline     %s  %s\n", r.pal.urgent.Sprint(st.Clock()), r.pal.urgent.Sprint("trade now to keep your streak"))
	default:
		fmt.Fprintf(buf, "Deadline     %s\n", r.pal.accent.Sprint(st.Clock()))
	}
}

func (r *Renderer) writeTrade(buf *bytes.Buffer, v session.View) {
	if v.Busy {
		fmt.Fprintf(buf, "Trade        %s\n", r.pal.muted.Sprint("submitting..."))
	}
	if v.TradeErr != nil {
		fmt.Fprintf(buf, "Trade        %s\n", r.pal.failure.Sprintf("failed: %v", v.TradeErr))
	} else if v.LastTrade != nil {
		fmt.Fprintf(buf, "Trade        %s %s in block %d\n",
			r.pal.success.Sprint("confirmed"), shortHash(v.LastTrade.Hash.Hex()), v.LastTrade.BlockNumber)
	}
}

func (r *Renderer) writeFeed(buf *bytes.Buffer, events []telemetry.Event) error {
	fmt.Fprintf(buf, "%s\n", r.pal.accent.Sprint("Recent streak updates"))
	if len(events) == 0 {
		fmt.Fprintf(buf, "%s\n", r.pal.muted.Sprint("no streak updates yet"))
		return nil
	}

	table := tablewriter.NewWriter(buf)
	table.Header("Block", "Log", "Streak", "Fee", "Time", "Tx")
	for _, ev := range events {
		observed := "-"
		if at := ev.ObservedAt(); !at.IsZero() {
			observed = at.Format("2006-01-02 15:04:05")
		}
		if err := table.Append(
			fmt.Sprintf("%d", ev.ID.Block),
			fmt.Sprintf("%d", ev.ID.Position),
			fmt.Sprintf("%d", ev.NewStreakCount),
			ev.DiscountPercent().StringFixed(2)+"%",
			observed,
			shortHash(ev.TxHash.Hex()),
		); err != nil {
			return fmt.Errorf("append feed row: %w", err)
		}
	}
	if err := table.Render(); err != nil {
		return fmt.Errorf("render feed: %w", err)
	}
	return nil
}

func pluralDays(n uint64) string {
	if n == 1 {
		return "day"
	}
	return "days"
}

func shortHash(h string) string {
	if len(h) <= 14 {
		return h
	}
	return h[:8] + "..." + h[len(h)-4:]
}

// Hint lists the interactive commands.
func Hint(tokens map[string]int32) string {
	symbols := make([]string, 0, len(tokens))
	for symbol := range tokens {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)
	return "commands: trade <amount> [" + strings.Join(symbols, "|") + "] | account <address> | refresh | quit"
}
