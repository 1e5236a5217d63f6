package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
)

func (m *Register) Marshal() ([]byte, error) {
	if err := ValidateHandle(m.Handle); err != nil {
		return nil, err
	}

	return appendHandle([]byte{byte(FlagRegister)}, m.Handle), nil
}

func (m *RegisterAck) Marshal() ([]byte, error) {
	return []byte{byte(FlagRegisterAck)}, nil
}

func (m *RegisterNak) Marshal() ([]byte, error) {
	return []byte{byte(FlagRegisterNak)}, nil
}

func (m *Broadcast) Marshal() ([]byte, error) {
	if err := ValidateHandle(m.Sender); err != nil {
		return nil, err
	}

	if err := validateText(m.Text); err != nil {
		return nil, err
	}

	buf := appendHandle([]byte{byte(FlagBroadcast)}, m.Sender)

	return fitPayload(appendText(buf, m.Text))
}

func (m *Unicast) Marshal() ([]byte, error) {
	if err := ValidateHandle(m.Sender); err != nil {
		return nil, err
	}

	if err := ValidateHandle(m.Dest); err != nil {
		return nil, err
	}

	if err := validateText(m.Text); err != nil {
		return nil, err
	}

	buf := appendHandle([]byte{byte(FlagUnicast)}, m.Sender)
	buf = append(buf, 1)
	buf = appendHandle(buf, m.Dest)

	return fitPayload(appendText(buf, m.Text))
}

func (m *Multicast) Marshal() ([]byte, error) {
	if err := ValidateHandle(m.Sender); err != nil {
		return nil, err
	}

	if len(m.Dests) == 0 || len(m.Dests) > 255 {
		return nil, fmt.Errorf("%d destinations: %w", len(m.Dests), ErrPayloadSize)
	}

	if err := validateText(m.Text); err != nil {
		return nil, err
	}

	buf := appendHandle([]byte{byte(FlagMulticast)}, m.Sender)
	buf = append(buf, byte(len(m.Dests)))

	for _, dest := range m.Dests {
		if err := ValidateHandle(dest); err != nil {
			return nil, err
		}

		buf = appendHandle(buf, dest)
	}

	return fitPayload(appendText(buf, m.Text))
}

func (m *UnknownDest) Marshal() ([]byte, error) {
	if err := ValidateHandle(m.Handle); err != nil {
		return nil, err
	}

	return appendHandle([]byte{byte(FlagUnknownDest)}, m.Handle), nil
}

func (m *ListRequest) Marshal() ([]byte, error) {
	return []byte{byte(FlagListRequest)}, nil
}

func (m *ListHeader) Marshal() ([]byte, error) {
	buf := make([]byte, 5)
	buf[0] = byte(FlagListHeader)
	binary.BigEndian.PutUint32(buf[1:], m.Count)

	return buf, nil
}

func (m *ListEntry) Marshal() ([]byte, error) {
	if err := ValidateHandle(m.Handle); err != nil {
		return nil, err
	}

	return appendHandle([]byte{byte(FlagListEntry)}, m.Handle), nil
}

func (m *ListEnd) Marshal() ([]byte, error) {
	return []byte{byte(FlagListEnd)}, nil
}

// WriteMessage marshals m and sends it as one PDU.
func WriteMessage(w io.Writer, m Message) error {
	payload, err := m.Marshal()
	if err != nil {
		return fmt.Errorf("flag %d: %w", m.GetFlag(), err)
	}

	return SendPDU(w, payload)
}

func appendHandle(buf []byte, handle string) []byte {
	buf = append(buf, byte(len(handle)))

	return append(buf, handle...)
}

// appendText appends the text field including its on-wire NUL terminator.
// Empty text is a lone NUL.
func appendText(buf []byte, text string) []byte {
	buf = append(buf, text...)

	return append(buf, 0)
}

func fitPayload(buf []byte) ([]byte, error) {
	if len(buf) > MaxPayload {
		return nil, fmt.Errorf("%d byte payload: %w", len(buf), ErrPayloadSize)
	}

	return buf, nil
}

var _ Message = (*Register)(nil)
var _ Message = (*RegisterAck)(nil)
var _ Message = (*RegisterNak)(nil)
var _ Message = (*Broadcast)(nil)
var _ Message = (*Unicast)(nil)
var _ Message = (*Multicast)(nil)
var _ Message = (*UnknownDest)(nil)
var _ Message = (*ListRequest)(nil)
var _ Message = (*ListHeader)(nil)
var _ Message = (*ListEntry)(nil)
var _ Message = (*ListEnd)(nil)
