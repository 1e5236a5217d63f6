package protocol

import (
	"errors"
	"fmt"
	"strings"
)

// Flag is the first payload byte of every PDU and selects the payload shape.
type Flag uint8

const (
	FlagRegister    Flag = 1
	FlagRegisterAck Flag = 2
	FlagRegisterNak Flag = 3
	FlagBroadcast   Flag = 4
	FlagUnicast     Flag = 5
	FlagMulticast   Flag = 6
	FlagUnknownDest Flag = 7
	FlagListRequest Flag = 10
	FlagListHeader  Flag = 11
	FlagListEntry   Flag = 12
	FlagListEnd     Flag = 13
)

const (
	// MaxHandleLen bounds every handle on the wire.
	MaxHandleLen = 100

	// MaxDests bounds the destination list a client will produce for a
	// multicast. The server relays whatever count it can parse.
	MaxDests = 9
)

var (
	ErrInvalidHandle = errors.New("handle must be 1..100 bytes with no NUL")
	ErrInvalidText   = errors.New("text may not contain NUL")
)

// Message is one decoded protocol payload. Marshal produces the exact
// payload bytes, flag byte included, ready for framing.
type Message interface {
	GetFlag() Flag
	Marshal() ([]byte, error)
}

// Register is the first packet a client sends: claim a handle.
type Register struct {
	Handle string
}

// RegisterAck accepts a registration.
type RegisterAck struct{}

// RegisterNak rejects a registration; the server closes the connection
// right after sending it.
type RegisterNak struct{}

// Broadcast carries text from the sender to every other registered client.
type Broadcast struct {
	Sender string
	Text   string
}

// Unicast carries text to exactly one destination handle. Its wire shape is
// a multicast with a destination count pinned to 1.
type Unicast struct {
	Sender string
	Dest   string
	Text   string
}

// Multicast carries text to an ordered list of destination handles. The
// full destination list travels with the payload to every recipient.
type Multicast struct {
	Sender string
	Dests  []string
	Text   string
}

// UnknownDest tells a sender that one destination handle did not resolve.
type UnknownDest struct {
	Handle string
}

// ListRequest asks the server for the roster.
type ListRequest struct{}

// ListHeader opens a roster reply and carries the entry count.
type ListHeader struct {
	Count uint32
}

// ListEntry carries one registered handle of a roster reply.
type ListEntry struct {
	Handle string
}

// ListEnd terminates a roster reply.
type ListEnd struct{}

func (m *Register) GetFlag() Flag    { return FlagRegister }
func (m *RegisterAck) GetFlag() Flag { return FlagRegisterAck }
func (m *RegisterNak) GetFlag() Flag { return FlagRegisterNak }
func (m *Broadcast) GetFlag() Flag   { return FlagBroadcast }
func (m *Unicast) GetFlag() Flag     { return FlagUnicast }
func (m *Multicast) GetFlag() Flag   { return FlagMulticast }
func (m *UnknownDest) GetFlag() Flag { return FlagUnknownDest }
func (m *ListRequest) GetFlag() Flag { return FlagListRequest }
func (m *ListHeader) GetFlag() Flag  { return FlagListHeader }
func (m *ListEntry) GetFlag() Flag   { return FlagListEntry }
func (m *ListEnd) GetFlag() Flag     { return FlagListEnd }

// ValidateHandle checks the wire constraints on a handle: 1..100 bytes,
// no embedded NUL. Equality elsewhere is byte-for-byte and case-sensitive.
func ValidateHandle(handle string) error {
	if len(handle) == 0 || len(handle) > MaxHandleLen {
		return fmt.Errorf("%d byte handle: %w", len(handle), ErrInvalidHandle)
	}

	if strings.IndexByte(handle, 0) >= 0 {
		return ErrInvalidHandle
	}

	return nil
}

func validateText(text string) error {
	if strings.IndexByte(text, 0) >= 0 {
		return ErrInvalidText
	}

	return nil
}
