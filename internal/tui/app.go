package tui

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/matheus3301/minichat/internal/api"
	"github.com/matheus3301/minichat/internal/chat"
	"github.com/matheus3301/minichat/internal/conversation"
	"github.com/matheus3301/minichat/internal/tui/keys"
	"github.com/matheus3301/minichat/internal/tui/model"
	"github.com/matheus3301/minichat/internal/tui/ui"
	"github.com/matheus3301/minichat/internal/tui/views"
	"github.com/rivo/tview"
)

const (
	scopeSidebar  = "sidebar"
	scopeComposer = "composer"

	flashShort = 3 * time.Second
	flashLong  = 5 * time.Second
)

// Client is what the TUI needs from the daemon.
type Client interface {
	model.Backend
	WatchEvents(ctx context.Context, prefix string) (*api.EventStream, error)
}

// App is the main TUI application shell.
type App struct {
	app       *tview.Application
	pages     *tview.Pages
	body      *tview.Flex
	vm        *model.ViewModel
	client    Client
	registry  *keys.Registry
	theme     *ui.Theme
	sidebar   *views.ConversationList
	thread    *views.MessageThread
	statusBar *views.StatusBar
	cmdInput  *tview.InputField
	help      *views.HelpView
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewApp creates the TUI application.
func NewApp(c Client, sessionName string) *App {
	ctx, cancel := context.WithCancel(context.Background())
	theme := ui.DefaultTheme()

	a := &App{
		app:       tview.NewApplication(),
		pages:     tview.NewPages(),
		vm:        model.NewViewModel(c),
		client:    c,
		registry:  keys.NewRegistry(),
		theme:     theme,
		sidebar:   views.NewConversationList(theme),
		thread:    views.NewMessageThread(theme),
		statusBar: views.NewStatusBar(theme),
		cmdInput:  tview.NewInputField().SetLabel(":").SetFieldWidth(0),
		help:      views.NewHelpView(theme),
		ctx:       ctx,
		cancel:    cancel,
	}

	a.statusBar.SetSession(sessionName)
	a.setupBindings()
	a.setupCallbacks()
	a.setupLayout()

	return a
}

func (a *App) setupBindings() {
	a.registry.AddGlobal(&keys.Action{
		Name: "cancel", Key: tcell.KeyEscape,
		Description: "esc:cancel", Visible: true,
		Handler: a.escape,
	})
	a.registry.AddGlobal(&keys.Action{
		Name: "focus", Key: tcell.KeyTab,
		Description: "tab:focus", Visible: true,
		Handler: a.toggleFocus,
	})

	a.registry.Add(scopeSidebar, &keys.Action{
		Name: "new", Key: tcell.KeyRune, Rune: 'n',
		Description: "n:new", Visible: true,
		Handler: func() { a.runCommand(Command{Name: "new"}) },
	})
	a.registry.Add(scopeSidebar, &keys.Action{
		Name: "delete", Key: tcell.KeyRune, Rune: 'd',
		Description: "d:delete", Visible: true,
		Handler: func() { a.deleteConversation(a.sidebar.Selected()) },
	})
	a.registry.Add(scopeSidebar, &keys.Action{
		Name: "compose", Key: tcell.KeyRune, Rune: 'i',
		Description: "i:compose", Visible: true,
		Handler: func() { a.app.SetFocus(a.thread.Composer()) },
	})
	a.registry.Add(scopeSidebar, &keys.Action{
		Name: "command", Key: tcell.KeyRune, Rune: ':',
		Description: "::cmd", Visible: true,
		Handler: a.showCommand,
	})
	a.registry.Add(scopeSidebar, &keys.Action{
		Name: "help", Key: tcell.KeyRune, Rune: '?',
		Description: "?:help", Visible: true,
		Handler: func() { a.pages.SwitchToPage("help") },
	})
	a.registry.Add(scopeSidebar, &keys.Action{
		Name: "quit", Key: tcell.KeyRune, Rune: 'q',
		Description: "q:quit", Visible: true,
		Handler: a.Stop,
	})
}

func (a *App) setupCallbacks() {
	a.sidebar.SetSelectedFunc(func(row, col int) {
		id := a.sidebar.Selected()
		if id == "" || id == a.vm.ActiveID() {
			a.app.SetFocus(a.thread.Composer())
			return
		}
		a.do(func() error { return a.vm.Switch(a.ctx, id) })
	})

	a.thread.SetOnSend(func(text string) {
		go a.send(text)
	})

	a.cmdInput.SetDoneFunc(func(key tcell.Key) {
		text := a.cmdInput.GetText()
		a.hideCommand()
		if key == tcell.KeyEnter && text != "" {
			a.runCommand(ParseCommand(text))
		}
	})
}

func (a *App) setupLayout() {
	main := tview.NewFlex().
		AddItem(a.sidebar, 32, 0, true).
		AddItem(a.thread, 0, 1, false)

	a.pages.AddPage("main", main, true, true)
	a.pages.AddPage("help", a.help, true, false)

	a.body = tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(a.pages, 0, 1, true).
		AddItem(a.cmdInput, 0, 0, false).
		AddItem(a.statusBar, 1, 0, false)

	a.app.SetRoot(a.body, true)
	a.app.SetFocus(a.thread.Composer())

	a.app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		if page, _ := a.pages.GetFrontPage(); page == "help" {
			if event.Key() == tcell.KeyEscape || event.Rune() == 'q' {
				a.pages.SwitchToPage("main")
				return nil
			}
			return event
		}

		switch a.app.GetFocus() {
		case a.cmdInput:
			return event
		case a.thread.Composer():
			// Text input keeps every key except the global ones.
			if event.Key() == tcell.KeyEscape || event.Key() == tcell.KeyTab {
				a.registry.HandleEvent(scopeComposer, event)
				return nil
			}
			return event
		}

		if a.registry.HandleEvent(scopeSidebar, event) {
			return nil
		}
		return event
	})
}

// escape cancels a running request first. With nothing running it leaves
// the composer.
func (a *App) escape() {
	if a.vm.Request().Busy() {
		go func() {
			if _, err := a.vm.Cancel(a.ctx); err != nil {
				a.flashErr(err)
			}
		}()
		return
	}
	if a.app.GetFocus() == a.thread.Composer() {
		a.app.SetFocus(a.sidebar)
		a.updateHints()
	}
}

func (a *App) toggleFocus() {
	if a.app.GetFocus() == a.thread.Composer() {
		a.app.SetFocus(a.sidebar)
	} else {
		a.app.SetFocus(a.thread.Composer())
	}
	a.updateHints()
}

func (a *App) updateHints() {
	scope := scopeComposer
	if a.app.GetFocus() == a.sidebar {
		scope = scopeSidebar
	}
	a.statusBar.SetHints(a.registry.Hints(scope))
}

func (a *App) showCommand() {
	a.cmdInput.SetText("")
	a.body.ResizeItem(a.cmdInput, 1, 0)
	a.app.SetFocus(a.cmdInput)
}

func (a *App) hideCommand() {
	a.body.ResizeItem(a.cmdInput, 0, 0)
	a.app.SetFocus(a.sidebar)
}

func (a *App) runCommand(cmd Command) {
	switch cmd.Name {
	case "new", "n":
		a.do(func() error {
			_, err := a.vm.NewConversation(a.ctx)
			return err
		})
	case "delete", "del":
		a.deleteConversation(a.vm.ActiveID())
	case "switch", "s":
		n, err := strconv.Atoi(cmd.Args)
		convs := a.vm.Conversations()
		if err != nil || n < 1 || n > len(convs) {
			a.flashErr(fmt.Errorf("usage: switch <1-%d>", len(convs)))
			return
		}
		id := convs[n-1].ID
		a.do(func() error { return a.vm.Switch(a.ctx, id) })
	case "cancel":
		go func() {
			ok, err := a.vm.Cancel(a.ctx)
			switch {
			case err != nil:
				a.flashErr(err)
			case !ok:
				a.flashInfo("No request running")
			}
		}()
	case "help", "h":
		a.pages.SwitchToPage("help")
	case "quit", "q":
		a.Stop()
	default:
		a.flashErr(fmt.Errorf("unknown command: %s", cmd.Name))
	}
}

func (a *App) deleteConversation(id string) {
	if id == "" {
		return
	}
	a.do(func() error { return a.vm.DeleteConversation(a.ctx, id) })
}

// do runs fn off the UI goroutine and redraws afterwards.
func (a *App) do(fn func() error) {
	go func() {
		if err := fn(); err != nil {
			a.flashErr(describe(err))
			return
		}
		a.redraw()
	}()
}

func (a *App) send(text string) {
	_, err := a.vm.Send(a.ctx, text)
	if err != nil {
		a.flashErr(describe(err))
	}
}

func describe(err error) error {
	switch {
	case errors.Is(err, chat.ErrBusy):
		return errors.New("A request is already running")
	case errors.Is(err, chat.ErrInvalidContent):
		return fmt.Errorf("Message must be 1-%d characters", chat.MaxContentLength)
	case errors.Is(err, conversation.ErrCapacity):
		return errors.New("Conversation limit reached")
	}
	return err
}

func (a *App) flashErr(err error) {
	a.vm.Flash.Err(err, flashLong)
	a.redraw()
}

func (a *App) flashInfo(msg string) {
	a.vm.Flash.Info(msg, flashShort)
	a.redraw()
}

// redraw pushes the view model into every view.
func (a *App) redraw() {
	a.app.QueueUpdateDraw(a.render)
}

func (a *App) render() {
	req := a.vm.Request()
	a.sidebar.Update(a.vm.Conversations(), a.vm.ActiveID())
	if active := a.vm.Active(); active != nil {
		a.thread.SetConversationTitle(active.Title)
		a.thread.Update(active.Messages, req.Busy())
	}
	a.thread.SetBusy(req.Busy())
	a.statusBar.SetRequest(req)
	a.statusBar.SetFlash(a.vm.Flash.Get())
}

// Run starts the TUI application.
func (a *App) Run() error {
	go func() {
		if err := a.vm.LoadState(a.ctx); err != nil {
			a.vm.Flash.Err(err, flashLong)
		}
		if err := a.vm.LoadStatus(a.ctx); err != nil {
			a.vm.Flash.Err(err, flashLong)
		}
		a.app.QueueUpdateDraw(func() {
			a.render()
			a.updateHints()
		})
		go a.watchEvents()
		a.startTicker()
	}()

	return a.app.Run()
}

// watchEvents follows the daemon's event stream and resubscribes after a
// broken stream until the app stops.
func (a *App) watchEvents() {
	for a.ctx.Err() == nil {
		stream, err := a.client.WatchEvents(a.ctx, "")
		if err == nil {
			err = a.consume(stream)
		}
		if a.ctx.Err() != nil {
			return
		}
		if err != nil && !errors.Is(err, io.EOF) {
			a.flashErr(fmt.Errorf("event stream: %w", err))
		}
		select {
		case <-time.After(2 * time.Second):
		case <-a.ctx.Done():
			return
		}
		// Catch up on whatever happened while disconnected.
		_ = a.vm.LoadState(a.ctx)
		_ = a.vm.LoadStatus(a.ctx)
		a.redraw()
	}
}

func (a *App) consume(stream *api.EventStream) error {
	for {
		evt, err := stream.Recv()
		if err != nil {
			return err
		}
		if a.vm.ApplyEvent(evt) {
			if err := a.vm.LoadState(a.ctx); err != nil {
				a.vm.Flash.Err(err, flashLong)
			}
		}
		a.redraw()
	}
}

// startTicker redraws once a second so the clock and expired flashes update.
func (a *App) startTicker() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			a.app.QueueUpdateDraw(func() {
				a.statusBar.SetFlash(a.vm.Flash.Get())
			})
		case <-a.ctx.Done():
			return
		}
	}
}

// Stop shuts down the TUI.
func (a *App) Stop() {
	a.cancel()
	a.app.Stop()
}
