package client

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/luma/parley/protocol"
)

var ErrBadCommand = errors.New("invalid command")

const (
	// MinMulticastDests and MaxMulticastDests bound the destination count a
	// user may pass to %C. The wire format allows more; the CLI does not.
	MinMulticastDests = 2
	MaxMulticastDests = protocol.MaxDests
)

// Command is one parsed line of user input.
type Command interface {
	isCommand()
}

// BroadcastCommand is %B [text].
type BroadcastCommand struct {
	Text string
}

// UnicastCommand is %M dest [text].
type UnicastCommand struct {
	Dest string
	Text string
}

// MulticastCommand is %C k d1 .. dk [text].
type MulticastCommand struct {
	Dests []string
	Text  string
}

// ListCommand is %L.
type ListCommand struct{}

// HelpCommand is %H; it is handled locally and sends nothing.
type HelpCommand struct{}

func (*BroadcastCommand) isCommand() {}
func (*UnicastCommand) isCommand()   {}
func (*MulticastCommand) isCommand() {}
func (*ListCommand) isCommand()      {}
func (*HelpCommand) isCommand()      {}

// ParseCommand parses one input line against the command grammar. The
// command letter is case-insensitive. The text field is everything after
// the last required token with its internal spacing preserved; separator
// runs before it are consumed.
func ParseCommand(line string) (Command, error) {
	if len(line) < 2 || line[0] != '%' {
		return nil, ErrBadCommand
	}

	letter := unicode.ToUpper(rune(line[1]))
	rest := line[2:]

	if rest != "" && rest[0] != ' ' {
		// Commands are a single letter: reject "%Moo".
		return nil, ErrBadCommand
	}

	switch letter {
	case 'M':
		dest, rest := nextToken(rest)
		if dest == "" {
			return nil, fmt.Errorf("missing destination handle: %w", ErrBadCommand)
		}

		return &UnicastCommand{Dest: dest, Text: strings.TrimLeft(rest, " ")}, nil

	case 'B':
		return &BroadcastCommand{Text: strings.TrimLeft(rest, " ")}, nil

	case 'C':
		countToken, rest := nextToken(rest)

		count, err := strconv.Atoi(countToken)
		if err != nil {
			return nil, fmt.Errorf("destination count %q: %w", countToken, ErrBadCommand)
		}

		if count < MinMulticastDests || count > MaxMulticastDests {
			return nil, fmt.Errorf("%d destinations, want %d..%d: %w",
				count, MinMulticastDests, MaxMulticastDests, ErrBadCommand)
		}

		dests := make([]string, 0, count)
		for i := 0; i < count; i++ {
			var dest string

			dest, rest = nextToken(rest)
			if dest == "" {
				return nil, fmt.Errorf("missing destination handle %d of %d: %w",
					i+1, count, ErrBadCommand)
			}

			dests = append(dests, dest)
		}

		return &MulticastCommand{Dests: dests, Text: strings.TrimLeft(rest, " ")}, nil

	case 'L':
		return &ListCommand{}, nil

	case 'H':
		return &HelpCommand{}, nil

	default:
		return nil, ErrBadCommand
	}
}

// nextToken skips leading spaces and splits off one space-delimited token.
func nextToken(s string) (token, rest string) {
	s = strings.TrimLeft(s, " ")

	if i := strings.IndexByte(s, ' '); i >= 0 {
		return s[:i], s[i+1:]
	}

	return s, ""
}
