package views

import (
	"fmt"
	"strings"
	"time"

	"github.com/matheus3301/minichat/internal/status"
	"github.com/matheus3301/minichat/internal/tui/model"
	"github.com/matheus3301/minichat/internal/tui/ui"
	"github.com/rivo/tview"
)

// StatusBar shows the session, the request status and any flash message.
type StatusBar struct {
	*tview.TextView
	theme   *ui.Theme
	session string
	request model.Request
	hints   []string
	flash   string
	isErr   bool
}

// NewStatusBar creates a status bar.
func NewStatusBar(theme *ui.Theme) *StatusBar {
	tv := tview.NewTextView().
		SetDynamicColors(true)
	tv.SetBackgroundColor(tview.Styles.MoreContrastBackgroundColor)

	return &StatusBar{TextView: tv, theme: theme, request: model.Request{Status: status.Idle}}
}

// SetSession updates the session name.
func (sb *StatusBar) SetSession(name string) {
	sb.session = name
	sb.render()
}

// SetRequest updates the request indicator.
func (sb *StatusBar) SetRequest(r model.Request) {
	sb.request = r
	sb.render()
}

// SetHints sets the key hints shown on the right.
func (sb *StatusBar) SetHints(hints []string) {
	sb.hints = hints
	sb.render()
}

// SetFlash sets a temporary message.
func (sb *StatusBar) SetFlash(msg string, level model.FlashLevel) {
	sb.flash = msg
	sb.isErr = level == model.FlashErr
	sb.render()
}

func (sb *StatusBar) render() {
	sb.Clear()
	_, _ = fmt.Fprint(sb, sb.line(time.Now()))
}

func (sb *StatusBar) line(now time.Time) string {
	line := fmt.Sprintf(" [::b]%s[-:-:-] | %s | %s", sb.session, RequestText(sb.theme, sb.request), now.Format("15:04"))
	if sb.flash != "" {
		color := sb.theme.LoadingColor
		if sb.isErr {
			color = sb.theme.ErrorColor
		}
		line += fmt.Sprintf(" | [%s]%s[-]", ui.Tag(color), tview.Escape(sb.flash))
	}
	if len(sb.hints) > 0 {
		line += " | [::d]" + strings.Join(sb.hints, " ") + "[-:-:-]"
	}
	return line
}

// RequestText renders the request indicator, including the retry count while
// loading and the error message in a failure state.
func RequestText(theme *ui.Theme, r model.Request) string {
	text := strings.ToUpper(string(r.Status))
	if r.Status == status.Loading && r.RetryCount > 0 {
		text += fmt.Sprintf(" (retry %d)", r.RetryCount)
	}
	if r.Status.IsTerminal() && r.Status != status.Success && r.Message != "" {
		text += ": " + tview.Escape(r.Message)
	}
	return fmt.Sprintf("[%s]%s[-]", ui.Tag(theme.StatusColor(r.Status)), text)
}
