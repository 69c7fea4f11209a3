package ui

// StatusChannel is the pane for system notices that belong to no chat.
const StatusChannel = "*status*"

// Interface is implemented by every front end. Channels are named after
// the contact the chat is with, plus StatusChannel.
type Interface interface {
	// messages
	AddMessage(msg string)
	AddMessageToChannel(channel, msg string)
	AddLogMessage(msg string)

	// channels
	AddChannel(channel string)
	RemoveChannel(channel string)
	SetActiveChannel(channel string)
	GetActiveChannel() string

	// peers
	SetPeers(peers []string)

	SetDebugMode(enabled bool)
	SetInputHandler(handler func(string))

	Run() error
	Stop()
}
