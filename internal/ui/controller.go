package ui

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/peder1981/lanchat/internal/contact"
	"github.com/peder1981/lanchat/internal/event"
	"github.com/peder1981/lanchat/internal/scripts"
)

// Backend is the set of node operations a front end drives.
type Backend interface {
	AttemptLogin(name string) error
	ChangeUsername(name string) error
	ChangeStatus(status contact.Status) error
	InitiateChat(ctx context.Context, name string) error
	SendChat(name, text string) error
	CloseChat(name string) error
	Disconnect() error

	Self() contact.Contact
	Contacts() []contact.Contact
	IsChatOpen(name string) bool
}

// Controller turns input lines into backend commands and events into
// display updates.
type Controller struct {
	backend Backend
	ui      Interface
	aliases *scripts.Engine
	logger  *slog.Logger
	ctx     context.Context
}

// NewController wires backend to ui. aliases may be nil.
func NewController(ctx context.Context, backend Backend, ui Interface, aliases *scripts.Engine, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Controller{backend: backend, ui: ui, aliases: aliases, logger: logger, ctx: ctx}
	ui.SetInputHandler(c.Handle)
	return c
}

// Run renders events from sub until it closes or ctx is done.
func (c *Controller) Run(ctx context.Context, sub *event.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-sub.Events():
			if !ok {
				return
			}
			c.Render(e)
		}
	}
}

func (c *Controller) notice(format string, args ...any) {
	c.ui.AddMessage("* " + fmt.Sprintf(format, args...))
}

func (c *Controller) fail(err error) {
	c.ui.AddMessage("! " + err.Error())
}

// Handle executes one input line.
func (c *Controller) Handle(line string) {
	if c.aliases != nil {
		line = c.aliases.Expand(line)
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}

	cmd, err := ParseCommand(line)
	if errors.Is(err, ErrNotCommand) {
		c.say(c.ui.GetActiveChannel(), line)
		return
	}
	if err != nil {
		c.fail(err)
		return
	}
	c.logger.Debug("command", "name", cmd.Name, "args", cmd.Args)

	switch cmd.Name {
	case "login":
		if err := c.backend.AttemptLogin(cmd.Args[0]); err != nil {
			c.fail(err)
			return
		}
		c.notice("claiming %q, waiting for objections...", strings.TrimSpace(cmd.Args[0]))
	case "nick":
		if err := c.backend.ChangeUsername(cmd.Args[0]); err != nil {
			c.fail(err)
			return
		}
		c.notice("asking to be called %q...", cmd.Args[0])
	case "status":
		status, err := contact.ParseStatus(cmd.Args[0])
		if err != nil {
			c.fail(err)
			return
		}
		if err := c.backend.ChangeStatus(status); err != nil {
			c.fail(err)
		}
	case "chat":
		c.openChat(cmd.Args[0])
	case "msg":
		c.say(cmd.Args[0], cmd.Rest)
	case "close":
		name := c.ui.GetActiveChannel()
		if len(cmd.Args) > 0 {
			name = cmd.Args[0]
		}
		if name == StatusChannel {
			c.fail(errors.New("no chat selected"))
			return
		}
		if err := c.backend.CloseChat(name); err != nil {
			c.fail(err)
		}
	case "contacts":
		c.listContacts()
	case "me":
		self := c.backend.Self()
		if self.Name == "" {
			c.notice("not logged in, you are %s", self.Status.Label(true))
			return
		}
		c.notice("you are %s, %s", self.Name, self.Status.Label(true))
	case "alias":
		c.alias(cmd)
	case "unalias":
		if c.aliases == nil {
			c.fail(errors.New("aliases are not available"))
			return
		}
		if err := c.aliases.RemoveAlias(cmd.Args[0]); err != nil {
			c.fail(err)
		}
	case "help":
		for _, l := range strings.Split(HelpText(), "\n") {
			c.ui.AddMessage(l)
		}
	case "disconnect":
		c.notice("disconnecting...")
		if err := c.backend.Disconnect(); err != nil {
			c.logger.Warn("disconnect", "error", err)
		}
		c.ui.Stop()
	}
}

func (c *Controller) openChat(name string) {
	if err := c.backend.InitiateChat(c.ctx, name); err != nil {
		c.fail(err)
		return
	}
	peer := name
	if ct, ok := c.contact(name); ok {
		peer = ct.Name
	}
	c.ui.AddChannel(peer)
	c.ui.SetActiveChannel(peer)
}

func (c *Controller) say(to, text string) {
	if to == "" || to == StatusChannel {
		c.fail(errors.New("no chat selected, use /chat <name>"))
		return
	}
	if err := c.backend.SendChat(to, text); err != nil {
		c.fail(err)
		return
	}
	c.ui.AddMessageToChannel(to, fmt.Sprintf("<%s> %s", c.backend.Self().Name, text))
}

func (c *Controller) alias(cmd Command) {
	if c.aliases == nil {
		c.fail(errors.New("aliases are not available"))
		return
	}
	if len(cmd.Args) == 0 {
		list := c.aliases.ListAliases()
		if len(list) == 0 {
			c.notice("no aliases defined")
		}
		for _, a := range list {
			c.ui.AddMessage(fmt.Sprintf("  %s = %s", a[0], a[1]))
		}
		return
	}
	if cmd.Rest == "" {
		c.fail(errors.New("usage: /alias <name> <expansion>"))
		return
	}
	if err := c.aliases.AddAlias(cmd.Args[0], cmd.Rest); err != nil {
		c.fail(err)
	}
}

func (c *Controller) contact(name string) (contact.Contact, bool) {
	for _, ct := range c.backend.Contacts() {
		if ct.Name == strings.TrimSpace(name) {
			return ct, true
		}
	}
	return contact.Contact{}, false
}

func (c *Controller) listContacts() {
	contacts := c.backend.Contacts()
	if len(contacts) == 0 {
		c.notice("no contacts yet")
		return
	}
	for _, ct := range contacts {
		mark := " "
		if c.backend.IsChatOpen(ct.Name) {
			mark = "+"
		}
		c.ui.AddMessage(fmt.Sprintf(" %s %-20s %-15s %s", mark, ct.Name, ct.Status.Label(false), ct.Addr))
	}
}

func (c *Controller) refreshPeers() {
	contacts := c.backend.Contacts()
	peers := make([]string, 0, len(contacts))
	for _, ct := range contacts {
		peers = append(peers, fmt.Sprintf("%s (%s)", ct.Name, ct.Status.Label(false)))
	}
	c.ui.SetPeers(peers)
}

// Render shows one event.
func (c *Controller) Render(e event.Event) {
	switch e := e.(type) {
	case event.ContactDiscovered:
		c.notice("%s is here (%s)", e.Contact.Name, e.Contact.Addr)
		c.refreshPeers()
	case event.ContactDisconnected:
		c.notice("%s left", e.Contact.Name)
		c.refreshPeers()
	case event.ContactRenamed:
		c.notice("%s is now known as %s", e.OldName, e.Contact.Name)
		if c.backend.IsChatOpen(e.Contact.Name) {
			c.ui.RemoveChannel(e.OldName)
			c.ui.AddChannel(e.Contact.Name)
		}
		c.refreshPeers()
	case event.ContactStatusChanged:
		c.notice("%s is %s", e.Contact.Name, e.Contact.Status.Label(false))
		c.refreshPeers()
	case event.LoginSucceeded:
		c.notice("logged in as %s", e.Name)
	case event.UsernameTaken:
		if e.Login {
			c.notice("username %s is taken, try /login with another name", e.Name)
		} else {
			c.notice("username %s is taken, keeping %s", e.Name, c.backend.Self().Name)
		}
	case event.UsernameChanged:
		c.notice("you are now known as %s", e.NewName)
	case event.StatusChanged:
		c.notice("you are now %s", e.Status.Label(true))
	case event.ChatInitiated:
		c.ui.AddChannel(e.Contact.Name)
		c.ui.AddMessageToChannel(e.Contact.Name, fmt.Sprintf("* %s opened a chat", e.Contact.Name))
	case event.ChatMessageReceived:
		c.ui.AddMessageToChannel(e.Contact.Name, fmt.Sprintf("<%s> %s", e.Contact.Name, e.Text))
	case event.ChatClosed:
		c.ui.AddMessageToChannel(e.Contact.Name, "* chat closed")
	default:
		c.ui.AddLogMessage(fmt.Sprintf("unhandled event %T", e))
	}
}
