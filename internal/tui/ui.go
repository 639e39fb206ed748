package tui

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/mensbeam/Fork/engine"
	"github.com/mensbeam/Fork/internal/cliutil"
)

const (
	tableTitle            = "Tasks"
	eventsTitle           = "Events"
	filterPageName        = "filter"
	defaultEventRetention = 500
)

// Option configures UI behaviour.
type Option func(*UI)

// WithMaxEvents sets the maximum number of event records retained for
// each task.
func WithMaxEvents(n int) Option {
	return func(u *UI) {
		if n > 0 {
			u.maxEvents = n
		}
	}
}

// UI coordinates the interactive run view backed by tview. A task
// table tracks every worker the run has spawned and an event pane
// shows the retained history of the selected task.
type UI struct {
	app      *tview.Application
	pages    *tview.Pages
	table    *tview.Table
	eventLog *tview.TextView
	events   chan engine.Event

	tasks map[string]*taskState
	runID string

	visible       []string
	selected      string
	eventsPretty  bool
	filter        string
	filterExpr    *regexp.Regexp
	eventsFocused bool
	maxEvents     int

	mu sync.RWMutex

	cancelMu sync.Mutex
	cancel   context.CancelFunc

	wg        sync.WaitGroup
	stopOnce  sync.Once
	closeOnce sync.Once
	done      chan struct{}
}

type taskState struct {
	key       string
	firstSeen time.Time
	lastEvent time.Time
	state     engine.EventType
	finished  bool
	succeeded bool
	duration  time.Duration
	message   string

	history []cliutil.LogRecord
}

// New constructs a UI configured with the supplied options.
func New(opts ...Option) *UI {
	app := tview.NewApplication()
	table := tview.NewTable().SetFixed(1, 1).SetSelectable(true, false)
	table.SetBorder(true).SetTitle(tableTitle)

	eventLog := tview.NewTextView().SetDynamicColors(true).SetWrap(false)
	eventLog.SetBorder(true).SetTitle(eventsTitle)
	eventLog.SetChangedFunc(func() {
		app.Draw()
	})

	flex := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(table, 0, 3, true).
		AddItem(eventLog, 0, 2, false)

	pages := tview.NewPages().AddPage("main", flex, true, true)

	ui := &UI{
		app:          app,
		pages:        pages,
		table:        table,
		eventLog:     eventLog,
		events:       make(chan engine.Event, 256),
		tasks:        make(map[string]*taskState),
		eventsPretty: true,
		maxEvents:    defaultEventRetention,
		done:         make(chan struct{}),
	}

	for _, opt := range opts {
		opt(ui)
	}

	table.SetSelectedFunc(func(row, column int) {
		ui.mu.Lock()
		defer ui.mu.Unlock()
		ui.syncSelection(row)
		ui.renderEventsLocked()
	})

	table.SetSelectionChangedFunc(func(row, column int) {
		ui.mu.Lock()
		defer ui.mu.Unlock()
		ui.syncSelection(row)
		ui.renderEventsLocked()
	})

	eventLog.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		if event.Key() == tcell.KeyEnter || (event.Key() == tcell.KeyRune && event.Rune() == '\n') {
			ui.toggleFocus()
			return nil
		}
		return event
	})

	app.SetRoot(pages, true)
	app.SetInputCapture(ui.handleKey)

	ui.mu.Lock()
	ui.refreshTableLocked()
	ui.mu.Unlock()

	return ui
}

// EventSink exposes the channel where run events should be delivered.
func (u *UI) EventSink() chan<- engine.Event {
	return u.events
}

// CloseEvents releases the event channel, allowing internal goroutines
// to exit cleanly.
func (u *UI) CloseEvents() {
	u.closeOnce.Do(func() {
		close(u.events)
	})
}

// Done returns a channel that is closed when the UI stops.
func (u *UI) Done() <-chan struct{} {
	return u.done
}

// Run starts the tview application and processes incoming events until
// Stop is invoked or the provided context is cancelled.
func (u *UI) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)

	u.cancelMu.Lock()
	u.cancel = cancel
	u.cancelMu.Unlock()

	u.wg.Add(1)
	go func() {
		defer u.wg.Done()
		u.consumeEvents(ctx)
	}()

	go func() {
		<-ctx.Done()
		u.Stop()
	}()

	err := u.app.Run()

	u.cancelMu.Lock()
	cancel = u.cancel
	u.cancel = nil
	u.cancelMu.Unlock()
	if cancel != nil {
		cancel()
	}

	u.wg.Wait()
	u.Stop()

	return err
}

// Stop terminates the application loop and releases resources.
func (u *UI) Stop() {
	u.stopOnce.Do(func() {
		u.cancelMu.Lock()
		cancel := u.cancel
		u.cancel = nil
		u.cancelMu.Unlock()
		if cancel != nil {
			cancel()
		}
		u.app.Stop()
		close(u.done)
	})
}

func (u *UI) consumeEvents(ctx context.Context) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	draining := false
	ctxDone := ctx.Done()

	for {
		var tick <-chan time.Time
		if !draining {
			tick = ticker.C
		}

		select {
		case <-ctxDone:
			if !draining {
				draining = true
				ticker.Stop()
			}
			ctxDone = nil
		case evt, ok := <-u.events:
			if !ok {
				return
			}
			if draining {
				continue
			}
			u.applyEvent(evt)
		case <-tick:
			if !draining {
				u.refreshAge()
			}
		}
	}
}

func (u *UI) handleKey(event *tcell.EventKey) *tcell.EventKey {
	if u.overlayFocused() {
		return event
	}
	switch event.Key() {
	case tcell.KeyEnter:
		u.toggleFocus()
		return nil
	case tcell.KeyUp, tcell.KeyDown:
		return event
	case tcell.KeyRune:
		switch event.Rune() {
		case 'q', 'Q':
			go u.Stop()
			return nil
		case '/':
			u.showFilterPrompt()
			return nil
		case 'j', 'J':
			u.toggleJSON()
			return nil
		}
	}
	return event
}

// overlayFocused reports whether an input overlay such as the filter
// prompt currently owns the keyboard, in which case global shortcuts
// must not swallow its keystrokes.
func (u *UI) overlayFocused() bool {
	switch u.app.GetFocus().(type) {
	case nil:
		return false
	case *tview.Table, *tview.TextView:
		return false
	}
	return true
}

func (u *UI) toggleFocus() {
	if u.eventsFocused {
		u.app.SetFocus(u.table)
	} else {
		u.app.SetFocus(u.eventLog)
	}
	u.eventsFocused = !u.eventsFocused
}

func (u *UI) toggleJSON() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.eventsPretty = !u.eventsPretty
	u.renderEventsLocked()
}

func (u *UI) showFilterPrompt() {
	u.mu.RLock()
	current := u.filter
	u.mu.RUnlock()

	input := tview.NewInputField().
		SetLabel("Regex filter: ").
		SetText(current).
		SetFieldWidth(40)

	form := tview.NewForm().
		AddFormItem(input).
		AddButton("Apply", func() {
			u.applyFilter(input.GetText())
			u.pages.RemovePage(filterPageName)
			u.app.SetFocus(u.table)
		}).
		AddButton("Cancel", func() {
			u.pages.RemovePage(filterPageName)
			u.app.SetFocus(u.table)
		})

	form.SetBorder(true).SetTitle("Filter Tasks")

	grid := tview.NewGrid().
		SetColumns(0, 60, 0).
		SetRows(0, 7, 0).
		AddItem(form, 1, 1, 1, 1, 0, 0, true)

	u.pages.AddPage(filterPageName, grid, true, true)
	u.app.SetFocus(input)
}

func (u *UI) applyFilter(expr string) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		u.mu.Lock()
		u.filter = ""
		u.filterExpr = nil
		u.mu.Unlock()
		u.queueRefresh(true)
		return
	}

	re, err := regexp.Compile(expr)
	if err != nil {
		u.showErrorModal(fmt.Sprintf("Invalid filter: %v", err))
		return
	}

	u.mu.Lock()
	u.filter = expr
	u.filterExpr = re
	u.mu.Unlock()
	u.queueRefresh(true)
}

func (u *UI) showErrorModal(message string) {
	modal := tview.NewModal().
		SetText(message).
		AddButtons([]string{"OK"}).
		SetDoneFunc(func(buttonIndex int, buttonLabel string) {
			u.pages.RemovePage(filterPageName)
			u.app.SetFocus(u.table)
		})

	// Ensure previous filter prompt is removed to avoid stacking pages.
	u.pages.RemovePage(filterPageName)
	u.pages.AddPage(filterPageName, modal, true, true)
}

func (u *UI) applyEvent(evt engine.Event) {
	u.mu.Lock()
	updateEvents := u.applyEventLocked(evt)
	u.mu.Unlock()

	u.queueRefresh(updateEvents)
}

// applyEventLocked folds one run event into the task table state and
// reports whether the selected task's event pane needs re-rendering.
// Callers must hold u.mu.
func (u *UI) applyEventLocked(evt engine.Event) bool {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	if u.runID == "" && evt.RunID != "" {
		u.runID = evt.RunID
	}
	if evt.Key == "" {
		// Run-level events such as stopping have no task row.
		return false
	}

	state := u.tasks[evt.Key]
	if state == nil {
		state = &taskState{key: evt.Key, firstSeen: evt.Timestamp}
		u.tasks[evt.Key] = state
	}
	state.lastEvent = evt.Timestamp

	// Only lifecycle events move the state machine. Anything else, such
	// as a synthesized drop notice, still lands in message and history.
	switch evt.Type {
	case engine.EventTypeSpawned:
		state.state = engine.EventTypeSpawned
		state.finished = false
	case engine.EventTypeKilled:
		state.state = engine.EventTypeKilled
	case engine.EventTypeExited:
		state.finished = true
		state.succeeded = evt.Succeeded
		state.duration = evt.Duration
		// A kill beats a generic failure in the final state.
		if state.state != engine.EventTypeKilled {
			state.state = engine.EventTypeExited
		}
	}

	if msg := formatEventMessage(evt); msg != "" {
		state.message = msg
	} else if evt.Type == engine.EventTypeExited && evt.Succeeded {
		state.message = ""
	}

	state.history = append(state.history, cliutil.NewLogRecord(evt))
	if len(state.history) > u.maxEvents {
		trim := len(state.history) - u.maxEvents
		state.history = append([]cliutil.LogRecord(nil), state.history[trim:]...)
	}

	return state.key == u.selected || u.selected == ""
}

func (u *UI) refreshAge() {
	u.queueRefresh(false)
}

func (u *UI) queueRefresh(updateEvents bool) {
	u.app.QueueUpdateDraw(func() {
		u.mu.Lock()
		defer u.mu.Unlock()
		u.refreshTableLocked()
		if updateEvents {
			u.renderEventsLocked()
		}
	})
}

func (u *UI) refreshTableLocked() {
	u.table.Clear()

	headers := []string{"TASK", "STATE", "AGE", "DURATION", "MESSAGE"}
	for col, header := range headers {
		cell := tview.NewTableCell(header).
			SetSelectable(false).
			SetAttributes(tcell.AttrBold)
		u.table.SetCell(0, col, cell)
	}

	keys := make([]string, 0, len(u.tasks))
	for key := range u.tasks {
		if u.filterExpr != nil && !u.filterExpr.MatchString(key) {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)

	u.visible = keys

	u.table.SetTitle(u.tableTitleLocked())

	for row, key := range keys {
		state := u.tasks[key]
		age := "-"
		if !state.firstSeen.IsZero() {
			age = time.Since(state.firstSeen).Truncate(time.Second).String()
		}
		duration := "-"
		if state.finished {
			duration = fmt.Sprintf("%.2fs", state.duration.Seconds())
		}
		message := state.message
		if len(message) > 80 {
			message = message[:77] + "..."
		}

		values := []string{
			key,
			state.label(),
			age,
			duration,
			message,
		}
		for col, value := range values {
			cell := tview.NewTableCell(value)
			if col == 0 {
				cell = cell.SetReference(key)
			}
			u.table.SetCell(row+1, col, cell)
		}
	}

	u.ensureSelectionLocked()
}

func (u *UI) tableTitleLocked() string {
	var b strings.Builder
	b.WriteString(tableTitle)
	if u.runID != "" {
		fmt.Fprintf(&b, " [%s]", shortID(u.runID))
	}
	if running, ok, failed := u.countsLocked(); running+ok+failed > 0 {
		fmt.Fprintf(&b, " (%d running, %d ok, %d failed)", running, ok, failed)
	}
	if u.filter != "" {
		fmt.Fprintf(&b, " /%s/", u.filter)
	}
	return b.String()
}

func (u *UI) countsLocked() (running, ok, failed int) {
	for _, state := range u.tasks {
		switch {
		case !state.finished:
			running++
		case state.succeeded:
			ok++
		default:
			failed++
		}
	}
	return running, ok, failed
}

func (u *UI) renderEventsLocked() {
	u.eventLog.Clear()
	var state *taskState
	if u.selected != "" {
		state = u.tasks[u.selected]
	}
	if state == nil {
		u.eventLog.SetTitle(eventsTitle)
		return
	}

	u.eventLog.SetTitle(fmt.Sprintf("%s (%s)", eventsTitle, state.key))

	for _, record := range state.history {
		var data []byte
		var err error
		if u.eventsPretty {
			data, err = json.MarshalIndent(record, "", "  ")
		} else {
			data, err = json.Marshal(record)
		}
		if err != nil {
			fmt.Fprintf(u.eventLog, "{\"error\":\"%v\"}\n", err)
			continue
		}
		fmt.Fprintf(u.eventLog, "%s\n", data)
	}
	u.eventLog.ScrollToEnd()
}

func (u *UI) ensureSelectionLocked() {
	if len(u.visible) == 0 {
		u.selected = ""
		u.table.Select(0, 0)
		return
	}

	idx := 0
	if u.selected != "" {
		for i, key := range u.visible {
			if key == u.selected {
				idx = i
				break
			}
		}
	} else {
		u.selected = u.visible[0]
	}

	if idx >= len(u.visible) {
		idx = len(u.visible) - 1
	}
	if u.selected == "" && len(u.visible) > 0 {
		u.selected = u.visible[idx]
	}
	u.table.Select(idx+1, 0)
}

func (u *UI) syncSelection(row int) {
	if row <= 0 || row-1 >= len(u.visible) {
		return
	}
	u.selected = u.visible[row-1]
}

func (s *taskState) label() string {
	switch {
	case s.state == "":
		return "-"
	case s.state == engine.EventTypeKilled:
		return "Killed"
	case s.finished && s.succeeded:
		return "OK"
	case s.finished:
		return "Failed"
	case s.state == engine.EventTypeSpawned:
		return "Running"
	default:
		return formatState(s.state)
	}
}

// formatEventMessage renders the human text for an event, combining
// its message and error and masking anything secret-shaped.
func formatEventMessage(evt engine.Event) string {
	msg := evt.Message
	if evt.Err != nil {
		if msg != "" {
			msg += ": " + evt.Err.Error()
		} else {
			msg = evt.Err.Error()
		}
	}
	if msg == "" {
		return ""
	}
	return cliutil.RedactSecrets(msg)
}

func formatState(t engine.EventType) string {
	if t == "" {
		return "-"
	}
	s := string(t)
	if len(s) <= 1 {
		return strings.ToUpper(s)
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
