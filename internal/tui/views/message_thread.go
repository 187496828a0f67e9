package views

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/gdamore/tcell/v2"
	"github.com/matheus3301/minichat/internal/chat"
	"github.com/matheus3301/minichat/internal/conversation"
	"github.com/matheus3301/minichat/internal/tui/ui"
	"github.com/rivo/tview"
)

// counterThreshold is the share of MaxContentLength at which the composer
// starts showing a character counter.
const counterThreshold = 0.8

// MessageThread shows the active conversation and the composer under it.
type MessageThread struct {
	*tview.Flex
	theme    *ui.Theme
	messages *tview.TextView
	composer *tview.InputField
	onSend   func(text string)
}

// NewMessageThread creates the message pane.
func NewMessageThread(theme *ui.Theme) *MessageThread {
	messages := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true).
		SetWordWrap(true)
	messages.SetBorder(true)
	messages.SetBorderColor(theme.BorderColor)
	messages.SetBackgroundColor(theme.BgColor)
	messages.SetTextColor(theme.FgColor)
	messages.SetTitle(" Messages ")
	messages.SetTitleColor(theme.TitleColor)

	composer := tview.NewInputField().
		SetLabel(" > ").
		SetFieldWidth(0).
		SetPlaceholder("Type a message")
	composer.SetBorder(true)
	composer.SetBorderColor(theme.BorderColor)
	composer.SetBackgroundColor(theme.BgColor)
	composer.SetFieldBackgroundColor(theme.BgColor)
	composer.SetFieldTextColor(theme.FgColor)
	composer.SetLabelColor(theme.KeyColor)
	composer.SetTitleColor(theme.TitleColor)

	flex := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(messages, 0, 1, false).
		AddItem(composer, 3, 0, true)

	mt := &MessageThread{
		Flex:     flex,
		theme:    theme,
		messages: messages,
		composer: composer,
	}

	composer.SetChangedFunc(func(text string) {
		mt.composer.SetTitle(CounterText(utf8.RuneCountInString(text)))
	})
	composer.SetDoneFunc(func(key tcell.Key) {
		if key != tcell.KeyEnter || mt.onSend == nil {
			return
		}
		text := composer.GetText()
		if strings.TrimSpace(text) == "" {
			return
		}
		mt.onSend(text)
		composer.SetText("")
	})

	return mt
}

// SetOnSend sets the callback for Enter in the composer.
func (mt *MessageThread) SetOnSend(fn func(text string)) {
	mt.onSend = fn
}

// SetConversationTitle shows title over the messages.
func (mt *MessageThread) SetConversationTitle(title string) {
	mt.messages.SetTitle(fmt.Sprintf(" %s ", tview.Escape(sanitizeForTerminal(title))))
}

// Update renders msgs oldest first. When loading is set a pending assistant
// line is drawn under them.
func (mt *MessageThread) Update(msgs []conversation.Message, loading bool) {
	mt.messages.Clear()
	var b strings.Builder
	for _, m := range msgs {
		b.WriteString(mt.renderMessage(m))
	}
	if loading {
		fmt.Fprintf(&b, "[%s::b]Assistant[-:-:-] [%s]thinking...[-]\n", ui.Tag(mt.theme.AssistantColor), ui.Tag(mt.theme.LoadingColor))
	}
	_, _ = fmt.Fprint(mt.messages, b.String())
	mt.messages.ScrollToEnd()
}

func (mt *MessageThread) renderMessage(m conversation.Message) string {
	name, color := "You", mt.theme.UserColor
	if m.Role == conversation.RoleAssistant {
		name, color = "Assistant", mt.theme.AssistantColor
	}
	line := fmt.Sprintf("[%s::b]%s[-:-:-] [::d]%s[-:-:-]", ui.Tag(color), name, formatTimestamp(m.Timestamp))
	if marker := mt.statusMarker(m.Status); marker != "" {
		line += " " + marker
	}
	return line + "\n" + tview.Escape(sanitizeForTerminal(m.Content)) + "\n\n"
}

func (mt *MessageThread) statusMarker(s conversation.MessageStatus) string {
	switch s {
	case conversation.StatusSending:
		return fmt.Sprintf("[%s]sending[-]", ui.Tag(mt.theme.LoadingColor))
	case conversation.StatusError:
		return fmt.Sprintf("[%s]failed[-]", ui.Tag(mt.theme.ErrorColor))
	case conversation.StatusCancelled:
		return fmt.Sprintf("[%s]cancelled[-]", ui.Tag(mt.theme.MutedColor))
	}
	return ""
}

// SetBusy locks the composer while a request is in flight.
func (mt *MessageThread) SetBusy(busy bool) {
	mt.composer.SetDisabled(busy)
	if busy {
		mt.composer.SetLabel(" … ")
	} else {
		mt.composer.SetLabel(" > ")
	}
}

// Messages returns the scrollable message view.
func (mt *MessageThread) Messages() *tview.TextView {
	return mt.messages
}

// Composer returns the input field.
func (mt *MessageThread) Composer() *tview.InputField {
	return mt.composer
}

// CounterText is the composer title for an n-character draft. It stays empty
// until the draft reaches 80% of the limit.
func CounterText(n int) string {
	limit := chat.MaxContentLength
	if float64(n) < counterThreshold*float64(limit) {
		return ""
	}
	if n > limit {
		return fmt.Sprintf(" %d/%d too long ", n, limit)
	}
	return fmt.Sprintf(" %d/%d ", n, limit)
}
