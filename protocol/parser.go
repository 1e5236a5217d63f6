package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

var (
	ErrUnknownFlag = errors.New("unknown flag")

	// ErrDestCount marks a unicast whose destination count is not 1. The
	// server ignores such packets instead of dropping the connection, so
	// the codec reports it apart from ErrProtocol.
	ErrDestCount = errors.New("unicast destination count is not 1")
)

// Decode parses one payload (flag byte first) into its typed message.
//
// Decode is total: every malformed payload yields an error naming the
// offending flag, wrapping ErrProtocol, ErrUnknownFlag, ErrDestCount, or
// ErrInvalidHandle (a handle length outside 1..100) so callers can pick a
// policy per class. Fixed-shape payloads must be exact;
// text-carrying payloads end at their NUL terminator and tolerate trailing
// bytes the way strlen-based peers produce them.
func Decode(payload []byte) (Message, error) {
	if len(payload) == 0 {
		return nil, fmt.Errorf("empty payload, a flag byte is required: %w", ErrProtocol)
	}

	flag := Flag(payload[0])
	r := payloadReader{buf: payload, off: 1, flag: flag}

	switch flag {
	case FlagRegister:
		handle, err := r.handle("handle")
		if err != nil {
			return nil, err
		}

		if err := r.expectEnd(); err != nil {
			return nil, err
		}

		return &Register{Handle: handle}, nil

	case FlagRegisterAck:
		if err := r.expectEnd(); err != nil {
			return nil, err
		}

		return &RegisterAck{}, nil

	case FlagRegisterNak:
		if err := r.expectEnd(); err != nil {
			return nil, err
		}

		return &RegisterNak{}, nil

	case FlagBroadcast:
		sender, err := r.handle("sender")
		if err != nil {
			return nil, err
		}

		text, err := r.text()
		if err != nil {
			return nil, err
		}

		return &Broadcast{Sender: sender, Text: text}, nil

	case FlagUnicast:
		sender, err := r.handle("sender")
		if err != nil {
			return nil, err
		}

		count, err := r.u8("destination count")
		if err != nil {
			return nil, err
		}

		if count != 1 {
			return nil, fmt.Errorf("flag %d carries %d destinations: %w", flag, count, ErrDestCount)
		}

		dest, err := r.handle("destination")
		if err != nil {
			return nil, err
		}

		text, err := r.text()
		if err != nil {
			return nil, err
		}

		return &Unicast{Sender: sender, Dest: dest, Text: text}, nil

	case FlagMulticast:
		sender, err := r.handle("sender")
		if err != nil {
			return nil, err
		}

		count, err := r.u8("destination count")
		if err != nil {
			return nil, err
		}

		// Any count that parses is relayed; clients restrict themselves to
		// 2..9 but the server does not police it.
		dests := make([]string, 0, count)
		for i := 0; i < int(count); i++ {
			dest, err := r.handle("destination")
			if err != nil {
				return nil, err
			}

			dests = append(dests, dest)
		}

		text, err := r.text()
		if err != nil {
			return nil, err
		}

		return &Multicast{Sender: sender, Dests: dests, Text: text}, nil

	case FlagUnknownDest:
		handle, err := r.handle("handle")
		if err != nil {
			return nil, err
		}

		if err := r.expectEnd(); err != nil {
			return nil, err
		}

		return &UnknownDest{Handle: handle}, nil

	case FlagListRequest:
		if err := r.expectEnd(); err != nil {
			return nil, err
		}

		return &ListRequest{}, nil

	case FlagListHeader:
		count, err := r.u32("count")
		if err != nil {
			return nil, err
		}

		if err := r.expectEnd(); err != nil {
			return nil, err
		}

		return &ListHeader{Count: count}, nil

	case FlagListEntry:
		handle, err := r.handle("handle")
		if err != nil {
			return nil, err
		}

		if err := r.expectEnd(); err != nil {
			return nil, err
		}

		return &ListEntry{Handle: handle}, nil

	case FlagListEnd:
		if err := r.expectEnd(); err != nil {
			return nil, err
		}

		return &ListEnd{}, nil

	default:
		return nil, fmt.Errorf("flag %d: %w", flag, ErrUnknownFlag)
	}
}

// payloadReader walks a payload with a cursor, producing ErrProtocol errors
// that name the flag and the field that failed.
type payloadReader struct {
	buf  []byte
	off  int
	flag Flag
}

func (r *payloadReader) u8(field string) (byte, error) {
	if r.off >= len(r.buf) {
		return 0, r.truncated(field)
	}

	b := r.buf[r.off]
	r.off++

	return b, nil
}

func (r *payloadReader) u32(field string) (uint32, error) {
	if r.off+4 > len(r.buf) {
		return 0, r.truncated(field)
	}

	v := binary.BigEndian.Uint32(r.buf[r.off:])
	r.off += 4

	return v, nil
}

func (r *payloadReader) handle(field string) (string, error) {
	n, err := r.u8(field + " length")
	if err != nil {
		return "", err
	}

	if n == 0 || n > MaxHandleLen {
		return "", fmt.Errorf("flag %d: %d byte %s: %w", r.flag, n, field, ErrInvalidHandle)
	}

	if r.off+int(n) > len(r.buf) {
		return "", r.truncated(field)
	}

	h := string(r.buf[r.off : r.off+int(n)])
	r.off += int(n)

	return h, nil
}

func (r *payloadReader) text() (string, error) {
	i := bytes.IndexByte(r.buf[r.off:], 0)
	if i < 0 {
		return "", fmt.Errorf("flag %d: text is missing its NUL terminator: %w", r.flag, ErrProtocol)
	}

	t := string(r.buf[r.off : r.off+i])
	r.off += i + 1

	return t, nil
}

func (r *payloadReader) expectEnd() error {
	if r.off != len(r.buf) {
		return fmt.Errorf("flag %d: %d trailing bytes: %w", r.flag, len(r.buf)-r.off, ErrProtocol)
	}

	return nil
}

func (r *payloadReader) truncated(field string) error {
	return fmt.Errorf("flag %d: payload ends inside the %s: %w", r.flag, field, ErrProtocol)
}
