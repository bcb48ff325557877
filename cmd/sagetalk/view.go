package main

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"

	"github.com/SocialNOT/AgainINDIA/pkg/transport"
)

// Theme colours.
var (
	colorUser   = lipgloss.Color("#00ff9f")
	colorRemote = lipgloss.Color("#f2a65a")
	colorDim    = lipgloss.Color("#6e7681")
	colorError  = lipgloss.Color("#ff5f5f")
)

type styles struct {
	user   lipgloss.Style
	remote lipgloss.Style
	live   lipgloss.Style
	status lipgloss.Style
	err    lipgloss.Style
	meter  lipgloss.Style
}

func newStyles() styles {
	return styles{
		user:   lipgloss.NewStyle().Bold(true).Foreground(colorUser),
		remote: lipgloss.NewStyle().Bold(true).Foreground(colorRemote),
		live:   lipgloss.NewStyle().Italic(true).Foreground(colorDim),
		status: lipgloss.NewStyle().Foreground(colorDim),
		err:    lipgloss.NewStyle().Bold(true).Foreground(colorError),
		meter:  lipgloss.NewStyle().Foreground(colorRemote),
	}
}

// view renders the conversation to a terminal. Committed turns are printed
// once; interim text is shown on a single line that is rewritten in place.
// All methods are safe for concurrent use.
type view struct {
	mu      sync.Mutex
	w       io.Writer
	persona string
	st      styles
	live    bool
}

func newView(w io.Writer, persona string) *view {
	return &view{w: w, persona: persona, st: newStyles()}
}

func (v *view) label(speaker transport.Speaker) string {
	if speaker == transport.SpeakerRemote {
		return v.st.remote.Render(v.persona + ":")
	}
	return v.st.user.Render("You:")
}

// Live rewrites the interim line with the text heard so far.
func (v *view) Live(speaker transport.Speaker, text string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	fmt.Fprintf(v.w, "\r\033[2K%s %s", v.label(speaker), v.st.live.Render(oneLine(text)))
	v.live = true
}

// Commit replaces the interim line with the final turn.
func (v *view) Commit(speaker transport.Speaker, text string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.clearLive()
	fmt.Fprintf(v.w, "%s %s\n", v.label(speaker), strings.TrimSpace(text))
}

// Status prints a dimmed informational line.
func (v *view) Status(format string, args ...any) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.clearLive()
	fmt.Fprintln(v.w, v.st.status.Render("· "+fmt.Sprintf(format, args...)))
}

// Error prints an error line.
func (v *view) Error(format string, args ...any) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.clearLive()
	fmt.Fprintln(v.w, v.st.err.Render("! "+fmt.Sprintf(format, args...)))
}

// Meter prints an output level bar for level in [0, 1].
func (v *view) Meter(level float64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.clearLive()
	fmt.Fprintln(v.w, v.st.status.Render("level ")+v.st.meter.Render(meterBar(level, 20)))
}

// clearLive terminates a pending interim line. Must be called with v.mu held.
func (v *view) clearLive() {
	if v.live {
		fmt.Fprint(v.w, "\r\033[2K")
		v.live = false
	}
}

// meterBar renders level as a bar of width cells.
func meterBar(level float64, width int) string {
	level = min(max(level, 0), 1)
	n := int(level*float64(width) + 0.5)
	return strings.Repeat("█", n) + strings.Repeat("░", width-n)
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
