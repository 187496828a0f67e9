package ui

import (
	"fmt"

	"github.com/gdamore/tcell/v2"
	"github.com/matheus3301/minichat/internal/status"
)

// Theme holds color constants for the TUI.
type Theme struct {
	BgColor          tcell.Color
	FgColor          tcell.Color
	MutedColor       tcell.Color
	BorderColor      tcell.Color
	BorderFocusColor tcell.Color
	TitleColor       tcell.Color
	CursorFg         tcell.Color
	CursorBg         tcell.Color
	KeyColor         tcell.Color
	UserColor        tcell.Color
	AssistantColor   tcell.Color
	LoadingColor     tcell.Color
	SuccessColor     tcell.Color
	ErrorColor       tcell.Color
	TimeoutColor     tcell.Color
	CounterWarnColor tcell.Color
}

// DefaultTheme returns a k9s-inspired dark theme.
func DefaultTheme() *Theme {
	return &Theme{
		BgColor:          tcell.ColorBlack,
		FgColor:          tcell.ColorCadetBlue,
		MutedColor:       tcell.ColorGray,
		BorderColor:      tcell.ColorDodgerBlue,
		BorderFocusColor: tcell.ColorLightSkyBlue,
		TitleColor:       tcell.ColorFuchsia,
		CursorFg:         tcell.ColorBlack,
		CursorBg:         tcell.ColorAqua,
		KeyColor:         tcell.ColorDodgerBlue,
		UserColor:        tcell.ColorAqua,
		AssistantColor:   tcell.ColorPapayaWhip,
		LoadingColor:     tcell.ColorYellow,
		SuccessColor:     tcell.ColorGreen,
		ErrorColor:       tcell.ColorOrangeRed,
		TimeoutColor:     tcell.ColorOrange,
		CounterWarnColor: tcell.ColorOrange,
	}
}

// StatusColor picks the indicator color for a request status.
func (t *Theme) StatusColor(s status.State) tcell.Color {
	switch s {
	case status.Loading:
		return t.LoadingColor
	case status.Success:
		return t.SuccessColor
	case status.Error:
		return t.ErrorColor
	case status.Timeout:
		return t.TimeoutColor
	case status.Cancelled:
		return t.MutedColor
	default:
		return t.FgColor
	}
}

// Tag formats c for tview's dynamic color markup.
func Tag(c tcell.Color) string {
	return fmt.Sprintf("#%06x", c.Hex())
}
