package ui

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
)

const maxChannelLines = 500

// ChatUI is the full screen terminal interface: channels and contacts on
// the left, the active chat and a log pane on the right, input at the
// bottom.
type ChatUI struct {
	app         *tview.Application
	chatView    *tview.TextView
	input       *tview.InputField
	channelList *tview.TextView
	peerList    *tview.TextView
	logView     *tview.TextView

	mu            sync.Mutex
	channels      map[string][]string
	order         []string
	activeChannel string
	unreadMsgs    map[string]int
	peers         []string
	debugMode     bool
	logBuffer     []string
	maxLogLines   int
}

// NewChatUI creates the layout. Nothing is drawn until Run.
func NewChatUI() *ChatUI {
	app := tview.NewApplication()

	channelList := tview.NewTextView().SetDynamicColors(true)
	channelList.SetBorder(true).SetTitle("Chats")

	peerList := tview.NewTextView().SetDynamicColors(true)
	peerList.SetBorder(true).SetTitle("Contacts")

	chatView := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true)
	chatView.SetBorder(true)

	logView := tview.NewTextView().SetDynamicColors(true)
	logView.SetBorder(true).SetTitle("Log")

	input := tview.NewInputField().
		SetLabel("> ").
		SetFieldWidth(0)
	input.SetBorder(true)

	leftColumn := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(channelList, 0, 1, false).
		AddItem(peerList, 0, 2, false)

	rightColumn := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(chatView, 0, 3, false).
		AddItem(logView, 8, 1, false)

	mainFlex := tview.NewFlex().
		AddItem(leftColumn, 28, 1, false).
		AddItem(rightColumn, 0, 3, false)

	layout := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(mainFlex, 0, 1, false).
		AddItem(input, 3, 0, true)

	c := &ChatUI{
		app:           app,
		chatView:      chatView,
		input:         input,
		channelList:   channelList,
		peerList:      peerList,
		logView:       logView,
		channels:      map[string][]string{StatusChannel: nil},
		order:         []string{StatusChannel},
		activeChannel: StatusChannel,
		unreadMsgs:    make(map[string]int),
		maxLogLines:   100,
	}

	// Alt+1..9 selects a chat; Ctrl+N/Ctrl+P cycle through them.
	app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		switch {
		case event.Modifiers()&tcell.ModAlt != 0 && event.Key() == tcell.KeyRune:
			if r := event.Rune(); r >= '1' && r <= '9' {
				c.mu.Lock()
				if idx := int(r - '1'); idx < len(c.order) {
					c.activate(c.order[idx])
				}
				c.mu.Unlock()
				c.render()
				return nil
			}
		case event.Key() == tcell.KeyCtrlN || event.Key() == tcell.KeyCtrlP:
			step := 1
			if event.Key() == tcell.KeyCtrlP {
				step = -1
			}
			c.mu.Lock()
			c.activate(c.order[(c.indexOf(c.activeChannel)+step+len(c.order))%len(c.order)])
			c.mu.Unlock()
			c.render()
			return nil
		}
		return event
	})

	app.SetRoot(layout, true).SetFocus(input)
	c.render()
	return c
}

// indexOf must be called with c.mu held.
func (c *ChatUI) indexOf(channel string) int {
	for i, ch := range c.order {
		if ch == channel {
			return i
		}
	}
	return 0
}

// activate must be called with c.mu held.
func (c *ChatUI) activate(channel string) {
	c.activeChannel = channel
	c.unreadMsgs[channel] = 0
}

// ensure must be called with c.mu held.
func (c *ChatUI) ensure(channel string) {
	if _, ok := c.channels[channel]; !ok {
		c.channels[channel] = nil
		c.order = append(c.order, channel)
	}
}

// appendLine must be called with c.mu held.
func (c *ChatUI) appendLine(channel, msg string) {
	c.ensure(channel)
	line := fmt.Sprintf("[gray]%s[-] %s", time.Now().Format("15:04"), tview.Escape(removeAnsiEscapes(msg)))
	lines := append(c.channels[channel], line)
	if len(lines) > maxChannelLines {
		lines = lines[len(lines)-maxChannelLines:]
	}
	c.channels[channel] = lines
	if channel != c.activeChannel {
		c.unreadMsgs[channel]++
	}
}

// redraw schedules a render on the tview goroutine without blocking the
// caller.
func (c *ChatUI) redraw() {
	go c.app.QueueUpdateDraw(c.render)
}

// render copies the current state into the views. It runs on the tview
// goroutine.
func (c *ChatUI) render() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.chatView.SetTitle(fmt.Sprintf("Chat (%s)", c.activeChannel))
	c.chatView.SetText(strings.Join(c.channels[c.activeChannel], "\n"))
	c.chatView.ScrollToEnd()

	var b strings.Builder
	for i, ch := range c.order {
		switch unread := c.unreadMsgs[ch]; {
		case ch == c.activeChannel:
			fmt.Fprintf(&b, "[green]%d: %s[-]\n", i+1, tview.Escape(ch))
		case unread > 0:
			fmt.Fprintf(&b, "[red]%d: %s (%d)[-]\n", i+1, tview.Escape(ch), unread)
		default:
			fmt.Fprintf(&b, "%d: %s\n", i+1, tview.Escape(ch))
		}
	}
	c.channelList.SetText(b.String())

	c.peerList.SetText(tview.Escape(strings.Join(c.peers, "\n")))

	c.logView.SetText(strings.Join(c.logBuffer, "\n"))
	c.logView.ScrollToEnd()
}

// AddMessage adds a line to the status channel.
func (c *ChatUI) AddMessage(msg string) {
	c.AddMessageToChannel(StatusChannel, msg)
}

// AddMessageToChannel adds a line to channel, creating it if needed.
func (c *ChatUI) AddMessageToChannel(channel, msg string) {
	c.mu.Lock()
	c.appendLine(channel, msg)
	c.mu.Unlock()
	c.redraw()
}

// AddLogMessage adds a line to the log pane.
func (c *ChatUI) AddLogMessage(msg string) {
	c.mu.Lock()
	c.logBuffer = append(c.logBuffer, tview.Escape(removeAnsiEscapes(strings.TrimRight(msg, "\n"))))
	if len(c.logBuffer) > c.maxLogLines {
		c.logBuffer = c.logBuffer[len(c.logBuffer)-c.maxLogLines:]
	}
	c.mu.Unlock()
	c.redraw()
}

// Write lets the log pane receive a slog handler's output. Debug lines are
// shown only in debug mode.
func (c *ChatUI) Write(p []byte) (int, error) {
	c.mu.Lock()
	debug := c.debugMode
	c.mu.Unlock()
	for _, line := range strings.Split(strings.TrimRight(string(p), "\n"), "\n") {
		if !debug && strings.Contains(line, "level=DEBUG") {
			continue
		}
		c.AddLogMessage(line)
	}
	return len(p), nil
}

// AddChannel creates a chat pane.
func (c *ChatUI) AddChannel(channel string) {
	c.mu.Lock()
	c.ensure(channel)
	c.mu.Unlock()
	c.redraw()
}

// RemoveChannel drops a chat pane. The status channel cannot be removed.
func (c *ChatUI) RemoveChannel(channel string) {
	if channel == StatusChannel {
		return
	}
	c.mu.Lock()
	delete(c.channels, channel)
	delete(c.unreadMsgs, channel)
	for i, ch := range c.order {
		if ch == channel {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	if c.activeChannel == channel {
		c.activate(StatusChannel)
	}
	c.mu.Unlock()
	c.redraw()
}

// SetActiveChannel switches the chat pane to channel.
func (c *ChatUI) SetActiveChannel(channel string) {
	c.mu.Lock()
	c.ensure(channel)
	c.activate(channel)
	c.mu.Unlock()
	c.redraw()
}

// GetActiveChannel returns the channel input text is sent to.
func (c *ChatUI) GetActiveChannel() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activeChannel
}

// SetPeers replaces the contact list.
func (c *ChatUI) SetPeers(peers []string) {
	c.mu.Lock()
	c.peers = append([]string(nil), peers...)
	c.mu.Unlock()
	c.redraw()
}

// SetDebugMode toggles debug lines in the log pane.
func (c *ChatUI) SetDebugMode(enabled bool) {
	c.mu.Lock()
	c.debugMode = enabled
	c.mu.Unlock()
}

// SetInputHandler sets the function called with every submitted line.
func (c *ChatUI) SetInputHandler(handler func(string)) {
	c.input.SetDoneFunc(func(key tcell.Key) {
		if key != tcell.KeyEnter {
			return
		}
		text := c.input.GetText()
		if text == "" {
			return
		}
		c.input.SetText("")
		// off the tview goroutine: commands may block on the network
		go handler(text)
	})
}

// Run starts the application and blocks until Stop.
func (c *ChatUI) Run() error {
	return c.app.Run()
}

// Stop ends Run.
func (c *ChatUI) Stop() {
	c.app.Stop()
}

var ansiEscape = regexp.MustCompile(`\x1b\[[0-9;]*[a-zA-Z]`)

// removeAnsiEscapes strips terminal escape sequences from peer text.
func removeAnsiEscapes(s string) string {
	return ansiEscape.ReplaceAllString(s, "")
}
