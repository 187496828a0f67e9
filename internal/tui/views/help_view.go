package views

import (
	"fmt"

	"github.com/matheus3301/minichat/internal/tui/ui"
	"github.com/rivo/tview"
)

// HelpView displays the key binding reference.
type HelpView struct {
	*tview.TextView
}

// NewHelpView creates a help view.
func NewHelpView(theme *ui.Theme) *HelpView {
	tv := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true)
	tv.SetBorder(true)
	tv.SetBorderColor(theme.BorderColor)
	tv.SetBackgroundColor(theme.BgColor)
	tv.SetTextColor(theme.FgColor)
	tv.SetTitle(" Help ")
	tv.SetTitleColor(theme.TitleColor)

	kc := ui.Tag(theme.KeyColor)
	_, _ = fmt.Fprintf(tv, `
  [::b]Global[-:-:-]

  [%[1]s]Esc[-:-:-]     Cancel the running request, or leave the composer
  [%[1]s]Tab[-:-:-]     Toggle focus between sidebar and composer
  [%[1]s]:[-:-:-]       Command mode
  [%[1]s]?[-:-:-]       Help
  [%[1]s]Ctrl-C[-:-:-]  Quit

  [::b]Sidebar[-:-:-]

  [%[1]s]Enter[-:-:-]   Switch to conversation
  [%[1]s]n[-:-:-]       New conversation
  [%[1]s]d[-:-:-]       Delete conversation
  [%[1]s]i[-:-:-]       Focus composer
  [%[1]s]q[-:-:-]       Quit

  [::b]Commands[-:-:-]

  [%[1]s]:new[-:-:-]             New conversation
  [%[1]s]:delete[-:-:-]          Delete the active conversation
  [%[1]s]:cancel[-:-:-]          Cancel the running request
  [%[1]s]:help[-:-:-] / [%[1]s]:h[-:-:-]     Show this help
  [%[1]s]:quit[-:-:-] / [%[1]s]:q[-:-:-]     Quit
`, kc)

	return &HelpView{TextView: tv}
}
