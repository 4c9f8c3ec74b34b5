package main

import "bytes"

// Telnet protocol constants
const (
	IAC  byte = 255 // Interpret As Command
	DONT byte = 254
	DO   byte = 253
	WONT byte = 252
	WILL byte = 251
	SB   byte = 250 // Subnegotiation Begin
	GA   byte = 249 // Go Ahead
	SE   byte = 240 // Subnegotiation End
)

// telnetState tracks the IAC state machine
type telnetState int

const (
	stateData telnetState = iota
	stateIAC
	stateWill
	stateWont
	stateDo
	stateDont
	stateSB
	stateSBIAC
)

// telnetFilter separates option negotiation from the data stream on the
// client side. The state persists across chunks, so a command split over two
// reads is still recognized.
//
// The agent implements no options: every WILL is answered DONT and every DO
// is answered WONT, which is what a minimal line-mode client does.
type telnetFilter struct {
	state telnetState
}

// Filter returns the data bytes of p and the negotiation replies that should
// be written back to the server (nil when there are none).
func (f *telnetFilter) Filter(p []byte) (data, replies []byte) {
	if f.state == stateData && bytes.IndexByte(p, IAC) < 0 {
		return p, nil
	}

	data = make([]byte, 0, len(p))
	for _, b := range p {
		switch f.state {
		case stateData:
			if b == IAC {
				f.state = stateIAC
			} else {
				data = append(data, b)
			}

		case stateIAC:
			switch b {
			case IAC:
				// Escaped 0xFF
				data = append(data, IAC)
				f.state = stateData
			case WILL:
				f.state = stateWill
			case WONT:
				f.state = stateWont
			case DO:
				f.state = stateDo
			case DONT:
				f.state = stateDont
			case SB:
				f.state = stateSB
			default:
				// GA, NOP, AYT and friends carry no data
				f.state = stateData
			}

		case stateWill:
			replies = append(replies, IAC, DONT, b)
			f.state = stateData
		case stateDo:
			replies = append(replies, IAC, WONT, b)
			f.state = stateData
		case stateWont, stateDont:
			f.state = stateData

		case stateSB:
			if b == IAC {
				f.state = stateSBIAC
			}
		case stateSBIAC:
			if b == SE {
				f.state = stateData
			} else {
				// IAC IAC inside a subnegotiation, or a malformed command
				f.state = stateSB
			}
		}
	}
	return data, replies
}

// escapeIAC doubles every 0xFF so it is sent as data, not as a command.
func escapeIAC(p []byte) []byte {
	if bytes.IndexByte(p, IAC) < 0 {
		return p
	}
	escaped := make([]byte, 0, len(p)+4)
	for _, b := range p {
		if b == IAC {
			escaped = append(escaped, IAC, IAC)
		} else {
			escaped = append(escaped, b)
		}
	}
	return escaped
}
