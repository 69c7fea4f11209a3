package ui

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrNotCommand is returned by ParseCommand for lines without a leading
// slash.
var ErrNotCommand = errors.New("not a command")

// Command is a parsed slash command. Rest is the raw text following the
// positional arguments a command takes, with inner spacing preserved.
type Command struct {
	Name string
	Args []string
	Rest string
}

type commandDef struct {
	args  int // positional arguments before Rest
	min   int // minimum number of fields required
	usage string
	help  string
}

var commands = map[string]commandDef{
	"login":      {args: 1, min: 1, usage: "/login <name>", help: "claim a username and join the network"},
	"nick":       {args: 1, min: 1, usage: "/nick <name>", help: "change your username"},
	"status":     {args: 1, min: 1, usage: "/status <online|away|dnd|invisible>", help: "change your presence"},
	"chat":       {args: 1, min: 1, usage: "/chat <name>", help: "open a chat with a contact and switch to it"},
	"msg":        {args: 1, min: 2, usage: "/msg <name> <text>", help: "send a line on an open chat"},
	"close":      {args: 1, min: 0, usage: "/close [name]", help: "close a chat (the active one by default)"},
	"contacts":   {usage: "/contacts", help: "list known contacts"},
	"me":         {usage: "/me", help: "show your name and status"},
	"alias":      {args: 1, min: 0, usage: "/alias [name expansion]", help: "list aliases or define one"},
	"unalias":    {args: 1, min: 1, usage: "/unalias <name>", help: "remove an alias"},
	"help":       {usage: "/help", help: "show this help"},
	"disconnect": {usage: "/disconnect", help: "leave the network and quit"},
}

var commandAliases = map[string]string{
	"quit": "disconnect",
	"exit": "disconnect",
	"j":    "chat",
	"w":    "msg",
}

// ParseCommand splits a slash command line into its parts.
func ParseCommand(line string) (Command, error) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "/") {
		return Command{}, ErrNotCommand
	}
	fields := strings.Fields(line[1:])
	if len(fields) == 0 {
		return Command{}, errors.New("empty command")
	}
	name := strings.ToLower(fields[0])
	if canonical, ok := commandAliases[name]; ok {
		name = canonical
	}
	def, ok := commands[name]
	if !ok {
		return Command{}, fmt.Errorf("unknown command /%s, try /help", fields[0])
	}
	given := fields[1:]
	if len(given) < def.min {
		return Command{}, fmt.Errorf("usage: %s", def.usage)
	}

	n := min(def.args, len(given))
	cmd := Command{Name: name, Args: given[:n]}
	cmd.Rest = skipFields(line, 1+n)
	if def.args == 0 && cmd.Rest != "" {
		return Command{}, fmt.Errorf("usage: %s", def.usage)
	}
	return cmd, nil
}

// skipFields drops the first n whitespace-separated fields of s and returns
// the remainder without its leading space.
func skipFields(s string, n int) string {
	s = strings.TrimLeft(s, " \t")
	for k := 0; k < n; k++ {
		i := strings.IndexAny(s, " \t")
		if i < 0 {
			return ""
		}
		s = strings.TrimLeft(s[i:], " \t")
	}
	return strings.TrimRight(s, " \t")
}

// HelpText lists every command with its usage.
func HelpText() string {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	var b strings.Builder
	b.WriteString("commands:\n")
	for _, name := range names {
		def := commands[name]
		fmt.Fprintf(&b, "  %-38s %s\n", def.usage, def.help)
	}
	b.WriteString("  text without a slash goes to the active chat")
	return b.String()
}
