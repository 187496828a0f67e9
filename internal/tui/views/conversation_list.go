package views

import (
	"fmt"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/matheus3301/minichat/internal/conversation"
	"github.com/matheus3301/minichat/internal/tui/ui"
	"github.com/rivo/tview"
)

// ConversationList is the sidebar of conversations, newest first.
type ConversationList struct {
	*tview.Table
	theme    *ui.Theme
	convs    []conversation.Conversation
	activeID string
}

// NewConversationList creates the sidebar table.
func NewConversationList(theme *ui.Theme) *ConversationList {
	table := tview.NewTable().
		SetSelectable(true, false).
		SetBorders(false)
	table.SetBorder(true)
	table.SetBorderColor(theme.BorderColor)
	table.SetBackgroundColor(theme.BgColor)
	table.SetSelectedStyle(tcell.StyleDefault.
		Foreground(theme.CursorFg).
		Background(theme.CursorBg))
	table.SetTitle(" Conversations ")
	table.SetTitleColor(theme.TitleColor)

	return &ConversationList{Table: table, theme: theme}
}

// Update re-renders the list and moves the cursor to the active row.
func (cl *ConversationList) Update(convs []conversation.Conversation, activeID string) {
	cl.convs = convs
	cl.activeID = activeID
	cl.Clear()

	for row, c := range convs {
		marker := "  "
		color := cl.theme.FgColor
		if c.ID == activeID {
			marker = "> "
			color = cl.theme.UserColor
		}
		cl.SetCell(row, 0, tview.NewTableCell(marker+tview.Escape(sanitizeForTerminal(c.Title))).
			SetExpansion(1).
			SetTextColor(color))
		cl.SetCell(row, 1, tview.NewTableCell(fmt.Sprintf("%d", len(c.Messages))).
			SetTextColor(cl.theme.MutedColor).
			SetAlign(tview.AlignRight))
	}
	cl.SetTitle(fmt.Sprintf(" Conversations (%d) ", len(convs)))

	if i := cl.indexOf(activeID); i >= 0 {
		cl.Select(i, 0)
	}
}

// Selected returns the id under the cursor, or "".
func (cl *ConversationList) Selected() string {
	row, _ := cl.GetSelection()
	if row < 0 || row >= len(cl.convs) {
		return ""
	}
	return cl.convs[row].ID
}

func (cl *ConversationList) indexOf(id string) int {
	for i, c := range cl.convs {
		if c.ID == id {
			return i
		}
	}
	return -1
}

func formatTimestamp(ms int64) string {
	if ms == 0 {
		return ""
	}
	t := time.UnixMilli(ms)
	now := time.Now()
	if t.Year() == now.Year() && t.YearDay() == now.YearDay() {
		return t.Format("15:04")
	}
	return t.Format("01/02 15:04")
}
