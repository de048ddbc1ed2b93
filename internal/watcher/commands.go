package watcher

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/sharetube/watchparty/internal/player"
)

var (
	ErrUnknownCommand = errors.New("unknown command")
	ErrQuit           = errors.New("quit")
)

const usage = "commands: play | pause | seek SECONDS | scrub SECONDS | load PATH | volume 0..1 | mute | unmute | status | quit"

// ReadCommands executes one command per line of r until r ends, ctx is done or quit is entered.
func (s *Session) ReadCommands(ctx context.Context, r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		out, err := s.Execute(ctx, scanner.Text())
		if errors.Is(err, ErrQuit) {
			return s.client.Leave(ctx)
		}
		if err != nil {
			fmt.Fprintln(w, "error:", err)
			continue
		}
		if out != "" {
			fmt.Fprintln(w, out)
		}
	}

	return scanner.Err()
}

// Execute runs a single command line and returns text to show the user.
func (s *Session) Execute(ctx context.Context, line string) (string, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return "", nil
	}

	command, args := fields[0], fields[1:]
	switch command {
	case "play":
		s.element.Play()
	case "pause":
		s.element.Pause()
	case "seek", "scrub":
		position, err := parseFloatArg(args)
		if err != nil {
			return "", err
		}
		if command == "scrub" {
			s.element.BeginScrub()
			s.element.Seek(position)
			s.element.EndScrub()
		} else {
			s.element.Seek(position)
		}
	case "load":
		if len(args) == 0 {
			return "", fmt.Errorf("load needs a path")
		}
		media, err := player.Open(strings.Join(args, " "), s.identityMode)
		if err != nil {
			return "", err
		}
		s.element.Load(media)
		s.engine.SelectFile(ctx, media.Identity())
		return "loaded " + media.Identity(), nil
	case "volume":
		volume, err := parseFloatArg(args)
		if err != nil {
			return "", err
		}
		s.element.SetVolume(volume)
	case "mute":
		s.element.SetMuted(true)
	case "unmute":
		s.element.SetMuted(false)
	case "status":
		return s.status(), nil
	case "help":
		return usage, nil
	case "quit", "leave":
		return "", ErrQuit
	default:
		return "", fmt.Errorf("%w %q, %s", ErrUnknownCommand, command, usage)
	}

	return "", nil
}

func (s *Session) status() string {
	snapshot := s.element.Snapshot()
	var b strings.Builder
	fmt.Fprintf(&b, "state=%s position=%.2f paused=%t controller=%t",
		s.engine.State(), snapshot.Position, snapshot.Paused, s.engine.IsController())
	if record := s.engine.Record(); record != nil {
		fmt.Fprintf(&b, " room_position=%.2f room_playing=%t version=%d", record.Position, record.IsPlaying, record.Version)
	}
	if err := s.engine.Problem(); err != nil {
		fmt.Fprintf(&b, " problem=%q", err)
	}
	fmt.Fprintf(&b, " participants=%v", s.Participants())
	return b.String()
}

func parseFloatArg(args []string) (float64, error) {
	if len(args) != 1 {
		return 0, errors.New("expected one number")
	}
	v, err := strconv.ParseFloat(args[0], 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("not a finite number: %s", args[0])
	}
	return v, nil
}
