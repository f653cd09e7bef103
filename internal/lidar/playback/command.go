package playback

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidCommand is returned for unknown command names and out-of-window
// seeks.
var ErrInvalidCommand = errors.New("invalid playback command")

// Background is the viewer background colour.
type Background int

const (
	Black Background = iota
	White
)

// ParseBackground accepts "black" or "white".
func ParseBackground(s string) (Background, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "black", "":
		return Black, nil
	case "white":
		return White, nil
	}
	return Black, fmt.Errorf("unknown background %q", s)
}

func (b Background) String() string {
	if b == White {
		return "white"
	}
	return "black"
}

// Toggle returns the other background.
func (b Background) Toggle() Background {
	if b == White {
		return Black
	}
	return White
}

func (b Background) MarshalText() ([]byte, error) {
	return []byte(b.String()), nil
}

func (b *Background) UnmarshalText(text []byte) error {
	v, err := ParseBackground(string(text))
	if err != nil {
		return err
	}
	*b = v
	return nil
}

// CommandKind enumerates player commands.
type CommandKind int

const (
	CmdTogglePlay CommandKind = iota + 1
	CmdPlay
	CmdPause
	CmdNext
	CmdPrev
	CmdSeek
	CmdBlack
	CmdWhite
	CmdToggleBackground
	CmdQuit
)

var commandNames = map[CommandKind]string{
	CmdTogglePlay:       "toggle",
	CmdPlay:             "play",
	CmdPause:            "pause",
	CmdNext:             "next",
	CmdPrev:             "prev",
	CmdSeek:             "seek",
	CmdBlack:            "black",
	CmdWhite:            "white",
	CmdToggleBackground: "background",
	CmdQuit:             "quit",
}

func (k CommandKind) String() string {
	if name, ok := commandNames[k]; ok {
		return name
	}
	return fmt.Sprintf("CommandKind(%d)", int(k))
}

// Command is a request to the player. Frame is used by CmdSeek only.
type Command struct {
	Kind  CommandKind
	Frame int
}

func (c Command) String() string {
	if c.Kind == CmdSeek {
		return fmt.Sprintf("seek %d", c.Frame)
	}
	return c.Kind.String()
}

// CommandNames lists the names accepted by ParseCommand.
func CommandNames() []string {
	names := make([]string, 0, len(commandNames))
	for k := CmdTogglePlay; k <= CmdQuit; k++ {
		names = append(names, commandNames[k])
	}
	return names
}

// ParseCommand maps a command name, as used by the control RPC and the HTTP
// API, to a Command.
func ParseCommand(name string, frame int) (Command, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for k, n := range commandNames {
		if n == name {
			return Command{Kind: k, Frame: frame}, nil
		}
	}
	return Command{}, fmt.Errorf("%w %q, expected one of %s", ErrInvalidCommand, name, strings.Join(CommandNames(), ", "))
}
