package playback

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/chzyer/readline"
	"github.com/mattn/go-isatty"
)

// KeyHelp is printed when the console starts and on "help".
const KeyHelp = `[SPACE]/[ENTER] play/pause   [N] next frame   [P] previous frame
[B] black background        [W] white background
[seek N] jump to frame      [status] show position
[Q]/[ESC]/Ctrl-D quit`

// consoleAction is what a console line asks for besides a player command.
type consoleAction int

const (
	actionCommand consoleAction = iota
	actionNone
	actionStatus
	actionHelp
)

// parseConsoleLine maps one console input line to a command or action.
func parseConsoleLine(line string) (Command, consoleAction, error) {
	fields := strings.Fields(strings.ToLower(line))
	if len(fields) == 0 {
		return Command{Kind: CmdTogglePlay}, actionCommand, nil
	}
	switch fields[0] {
	case "space", "toggle":
		return Command{Kind: CmdTogglePlay}, actionCommand, nil
	case "n", "next":
		return Command{Kind: CmdNext}, actionCommand, nil
	case "p", "prev":
		return Command{Kind: CmdPrev}, actionCommand, nil
	case "b", "black":
		return Command{Kind: CmdBlack}, actionCommand, nil
	case "w", "white":
		return Command{Kind: CmdWhite}, actionCommand, nil
	case "q", "quit", "exit", "\x1b", "esc":
		return Command{Kind: CmdQuit}, actionCommand, nil
	case "status":
		return Command{}, actionStatus, nil
	case "help", "?":
		return Command{}, actionHelp, nil
	case "seek":
		if len(fields) != 2 {
			return Command{}, actionNone, fmt.Errorf("usage: seek N")
		}
		n, err := strconv.Atoi(fields[1])
		if err != nil {
			return Command{}, actionNone, fmt.Errorf("invalid frame number %q", fields[1])
		}
		return Command{Kind: CmdSeek, Frame: n}, actionCommand, nil
	}
	return Command{}, actionNone, fmt.Errorf("unknown input %q, type help for the key list", fields[0])
}

// ConsoleEnabled reports whether stdin is an interactive terminal.
func ConsoleEnabled() bool {
	fd := os.Stdin.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// Console reads control lines with readline and forwards them to a player.
type Console struct {
	player *Player
	rl     *readline.Instance
	out    io.Writer
}

// ConsoleConfig overrides the console's streams. Zero values use the
// process terminal.
type ConsoleConfig struct {
	Stdin  io.ReadCloser
	Stdout io.Writer
}

// NewConsole builds a console bound to player.
func NewConsole(player *Player, cfg ConsoleConfig) (*Console, error) {
	rlCfg := &readline.Config{
		Prompt:          "lidar> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "quit",
		FuncFilterInputRune: func(r rune) (rune, bool) {
			if r == readline.CharCtrlZ {
				return r, false
			}
			return r, true
		},
	}
	if cfg.Stdin != nil {
		rlCfg.Stdin = cfg.Stdin
	}
	if cfg.Stdout != nil {
		rlCfg.Stdout = cfg.Stdout
		rlCfg.Stderr = cfg.Stdout
	}
	rl, err := readline.NewEx(rlCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to start console: %w", err)
	}
	return &Console{player: player, rl: rl, out: rl.Stdout()}, nil
}

// Run reads lines until quit, EOF or ctx is done. Quitting the console quits
// the player.
func (c *Console) Run(ctx context.Context) error {
	fmt.Fprintln(c.out, KeyHelp)
	for {
		if ctx.Err() != nil {
			return nil
		}
		line, err := c.rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
			return c.player.Do(ctx, Command{Kind: CmdQuit})
		}
		if err != nil {
			return err
		}

		cmd, action, err := parseConsoleLine(line)
		if err != nil {
			fmt.Fprintln(c.out, err)
			continue
		}
		switch action {
		case actionStatus:
			s := c.player.Status()
			state := "paused"
			if s.Playing {
				state = "playing"
			}
			fmt.Fprintf(c.out, "frame %d [%d/%d] %s, %s background\n", s.Index, s.Progress+1, s.Total, state, s.Background)
			continue
		case actionHelp:
			fmt.Fprintln(c.out, KeyHelp)
			continue
		case actionNone:
			continue
		}

		if err := c.player.Do(ctx, cmd); err != nil {
			fmt.Fprintln(c.out, err)
			continue
		}
		if cmd.Kind == CmdQuit {
			return nil
		}
	}
}

// Close releases the terminal.
func (c *Console) Close() error {
	return c.rl.Close()
}
