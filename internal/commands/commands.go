// Package commands handles slash command parsing for the chat view.
package commands

import (
	"strings"
)

// Command interface for all command types
type Command interface {
	Type() string
}

// Help returns help text
type Help struct{}

func (Help) Type() string { return "help" }

// Cancel stops the in-flight response
type Cancel struct{}

func (Cancel) Type() string { return "cancel" }

// SwitchSession opens another session by id
type SwitchSession struct {
	ID string
}

func (SwitchSession) Type() string { return "session" }

// NewSession creates a session and switches to it
type NewSession struct {
	Title string
}

func (NewSession) Type() string { return "new" }

// ListSessions lists the server's sessions
type ListSessions struct{}

func (ListSessions) Type() string { return "sessions" }

// Clear closes the session and empties the view
type Clear struct{}

func (Clear) Type() string { return "clear" }

// Export writes the current session to a markdown file
type Export struct {
	Dir string
}

func (Export) Type() string { return "export" }

// Attach queues a file or directory for the next prompt. An empty path
// drops the queue.
type Attach struct {
	Path string
}

func (Attach) Type() string { return "attach" }

// Quit leaves the chat
type Quit struct{}

func (Quit) Type() string { return "quit" }

// ParseError represents a command parsing error
type ParseError struct {
	Message string
}

func (ParseError) Type() string { return "error" }

// Parse parses user input and returns the appropriate Command.
// Returns nil if the input is not a slash command.
func Parse(input string) Command {
	input = strings.TrimSpace(input)
	if !strings.HasPrefix(input, "/") {
		return nil
	}

	parts := strings.Fields(input)
	if len(parts) == 0 {
		return nil
	}

	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	switch cmd {
	case "/help", "/?":
		return Help{}

	case "/cancel", "/stop":
		return Cancel{}

	case "/session":
		if len(args) != 1 {
			return ParseError{Message: "/session requires a session id"}
		}
		return SwitchSession{ID: args[0]}

	case "/new":
		return NewSession{Title: strings.Join(args, " ")}

	case "/sessions":
		return ListSessions{}

	case "/clear":
		return Clear{}

	case "/export":
		return Export{Dir: strings.Join(args, " ")}

	case "/attach", "/a":
		return Attach{Path: strings.Join(args, " ")}

	case "/detach":
		return Attach{}

	case "/quit", "/exit", "/q":
		return Quit{}

	default:
		return ParseError{Message: "unknown command: " + cmd}
	}
}

// HelpText returns the help text for all available commands.
func HelpText() string {
	return `Available commands:
  /help           - Show this help
  /cancel         - Stop the current response
  /session <id>   - Switch to another session
  /new [title]    - Create a session and switch to it
  /sessions       - List sessions on the server
  /clear          - Close the session and clear the view
  /export [dir]   - Export the session as markdown
  /attach <path>  - Attach a file or directory to the next message
  /detach         - Drop pending attachments
  /quit           - Leave the chat`
}
