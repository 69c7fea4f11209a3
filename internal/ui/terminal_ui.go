package ui

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

// LineUI is the plain terminal interface: one line per message on out,
// commands read from in.
type LineUI struct {
	in  io.Reader
	out io.Writer

	mu            sync.Mutex
	activeChannel string
	channels      map[string]bool
	debugMode     bool
	inputHandler  func(string)
	stopped       bool
	stop          chan struct{}
	now           func() time.Time
}

// NewLineUI creates a LineUI reading in and writing out.
func NewLineUI(in io.Reader, out io.Writer) *LineUI {
	return &LineUI{
		in:            in,
		out:           out,
		activeChannel: StatusChannel,
		channels:      map[string]bool{StatusChannel: true},
		stop:          make(chan struct{}),
		now:           time.Now,
	}
}

func (ui *LineUI) println(format string, args ...any) {
	ui.mu.Lock()
	defer ui.mu.Unlock()
	fmt.Fprintf(ui.out, "%s "+format+"\n", append([]any{ui.now().Format("15:04:05")}, args...)...)
}

// SetInputHandler sets the function called with every input line.
func (ui *LineUI) SetInputHandler(handler func(string)) {
	ui.mu.Lock()
	ui.inputHandler = handler
	ui.mu.Unlock()
}

// AddMessage prints a status line.
func (ui *LineUI) AddMessage(msg string) {
	ui.println("%s", removeAnsiEscapes(msg))
}

// AddMessageToChannel prints a chat line prefixed with its channel.
func (ui *LineUI) AddMessageToChannel(channel, msg string) {
	if channel == StatusChannel {
		ui.AddMessage(msg)
		return
	}
	ui.mu.Lock()
	ui.channels[channel] = true
	ui.mu.Unlock()
	ui.println("[%s] %s", channel, removeAnsiEscapes(msg))
}

// AddLogMessage prints a log line in debug mode only.
func (ui *LineUI) AddLogMessage(msg string) {
	ui.mu.Lock()
	debug := ui.debugMode
	ui.mu.Unlock()
	if debug {
		ui.println("[debug] %s", strings.TrimRight(msg, "\n"))
	}
}

// SetDebugMode toggles log lines.
func (ui *LineUI) SetDebugMode(enabled bool) {
	ui.mu.Lock()
	ui.debugMode = enabled
	ui.mu.Unlock()
}

// AddChannel records a chat.
func (ui *LineUI) AddChannel(channel string) {
	ui.mu.Lock()
	ui.channels[channel] = true
	ui.mu.Unlock()
}

// RemoveChannel forgets a chat; the active chat falls back to status.
func (ui *LineUI) RemoveChannel(channel string) {
	if channel == StatusChannel {
		return
	}
	ui.mu.Lock()
	delete(ui.channels, channel)
	if ui.activeChannel == channel {
		ui.activeChannel = StatusChannel
	}
	ui.mu.Unlock()
}

// SetActiveChannel selects where plain text goes.
func (ui *LineUI) SetActiveChannel(channel string) {
	ui.mu.Lock()
	ui.channels[channel] = true
	ui.activeChannel = channel
	ui.mu.Unlock()
	ui.println("now talking to %s", channel)
}

// GetActiveChannel returns the selected chat.
func (ui *LineUI) GetActiveChannel() string {
	ui.mu.Lock()
	defer ui.mu.Unlock()
	return ui.activeChannel
}

// SetPeers is a no-op; /contacts prints the list on demand.
func (ui *LineUI) SetPeers(peers []string) {}

// Run reads lines until in is exhausted or Stop is called.
func (ui *LineUI) Run() error {
	ui.println("lanchat ready, type /help for commands")

	lines := make(chan string)
	errc := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(ui.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ui.stop:
				return
			}
		}
		errc <- scanner.Err()
	}()

	for {
		select {
		case <-ui.stop:
			return nil
		case err := <-errc:
			return err
		case line := <-lines:
			ui.mu.Lock()
			handler := ui.inputHandler
			ui.mu.Unlock()
			if handler != nil {
				handler(line)
			}
		}
	}
}

// Stop makes Run return.
func (ui *LineUI) Stop() {
	ui.mu.Lock()
	defer ui.mu.Unlock()
	if !ui.stopped {
		ui.stopped = true
		close(ui.stop)
	}
}
