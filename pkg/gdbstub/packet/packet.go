// Package packet implements the framing used by the GDB Remote Serial
// Protocol and the payload encodings that the stub sends over it.
//
// The details of the wire protocol are described here:
//
//	https://sourceware.org/gdb/onlinedocs/gdb/Overview.html#Overview
package packet

import (
	"bytes"
	"fmt"
	"strconv"
)

const (
	escapeChar = '}'
	// escapeXor is XORed with escaped characters, as the protocol requires
	escapeXor byte = 0x20
	// runLengthChar marks a run-length encoded repeat of the previous byte.
	runLengthChar = '*'
	// runLengthBias is subtracted from the repeat count character.
	runLengthBias = 29
)

var hexdigit = []byte{'0', '1', '2', '3', '4', '5', '6', '7', '8', '9', 'a', 'b', 'c', 'd', 'e', 'f'}

// ProtocolError is returned when a frame read from the wire is malformed:
// missing framing characters, invalid escape sequences or a checksum that
// does not match the contents.
type ProtocolError struct {
	Reason string
	Packet []byte
	// BadChecksum is set when the framing and escapes are valid and only
	// the checksum does not match.
	BadChecksum bool
	// TooLong is set when the body exceeds the maximum packet size of the
	// Reader, Packet is truncated.
	TooLong bool
}

func (err *ProtocolError) Error() string {
	pkt := err.Packet
	if len(pkt) > 20 {
		pkt = append(pkt[:20:20], "..."...)
	}
	return fmt.Sprintf("protocol error: %s in %q", err.Reason, pkt)
}

// needsEscape reports whether b can not be transmitted as is inside a
// packet body.
func needsEscape(b byte) bool {
	switch b {
	case '$', '#', escapeChar, runLengthChar:
		return true
	}
	return false
}

// Escape returns the binary-safe form of payload: every special byte is
// replaced by '}' followed by the byte xor 0x20.
func Escape(payload []byte) []byte {
	out := make([]byte, 0, len(payload)+8)
	for _, b := range payload {
		if needsEscape(b) {
			out = append(out, escapeChar, b^escapeXor)
		} else {
			out = append(out, b)
		}
	}
	return out
}

// Encode frames payload as a packet: '$', escaped payload, '#' and the
// two digit checksum of the transmitted bytes.
func Encode(payload []byte) []byte {
	body := Escape(payload)
	out := make([]byte, 0, len(body)+4)
	out = append(out, '$')
	out = append(out, body...)
	out = append(out, '#')
	sum := Checksum(body)
	return append(out, hexdigit[sum>>4], hexdigit[sum&0xf])
}

// Checksum returns the modulo 256 sum of body.
func Checksum(body []byte) (sum uint8) {
	for _, b := range body {
		sum += b
	}
	return sum
}

// ChecksumOK checks that checksumBuf, two hex digits, is the checksum of body.
func ChecksumOK(body, checksumBuf []byte) bool {
	if len(checksumBuf) != 2 {
		return false
	}
	tgt, err := strconv.ParseUint(string(checksumBuf), 16, 8)
	if err != nil {
		return false
	}
	return Checksum(body) == uint8(tgt)
}

// Decode validates the framing and checksum of wire and returns the
// unescaped payload.
// Both '$' packets and '%' notifications are accepted.
func Decode(wire []byte) ([]byte, error) {
	payload, err := decode(wire)
	if err != nil {
		return nil, err
	}
	return payload, nil
}

// decode is like Decode but also returns the payload when only the
// checksum is wrong.
func decode(wire []byte) ([]byte, error) {
	if len(wire) < 4 {
		return nil, &ProtocolError{Reason: "packet too short", Packet: wire}
	}
	if wire[0] != '$' && wire[0] != '%' {
		return nil, &ProtocolError{Reason: "missing start of packet", Packet: wire}
	}
	hash := bytes.IndexByte(wire, '#')
	if hash < 0 {
		return nil, &ProtocolError{Reason: "missing end of packet", Packet: wire}
	}
	if len(wire) != hash+3 {
		return nil, &ProtocolError{Reason: "malformed checksum", Packet: wire}
	}
	body := wire[1:hash]
	payload, err := unescape(body)
	if err != nil {
		return nil, &ProtocolError{Reason: err.Error(), Packet: wire}
	}
	if !ChecksumOK(body, wire[hash+1:]) {
		return payload, &ProtocolError{Reason: "checksum mismatch", Packet: wire, BadChecksum: true}
	}
	return payload, nil
}

// unescape decodes the escape sequences and the run-length encoding of a
// packet body.
func unescape(body []byte) ([]byte, error) {
	buf := make([]byte, 0, len(body))
	for i := 0; i < len(body); i++ {
		switch ch := body[i]; ch {
		case escapeChar:
			if i+1 >= len(body) {
				return nil, fmt.Errorf("dangling escape character")
			}
			buf = append(buf, body[i+1]^escapeXor)
			i++
		case runLengthChar:
			if i+1 >= len(body) || len(buf) == 0 {
				return nil, fmt.Errorf("malformed run-length encoding")
			}
			n := int(body[i+1]) - runLengthBias
			if n < 0 {
				return nil, fmt.Errorf("malformed run-length count %q", body[i+1])
			}
			r := buf[len(buf)-1]
			for j := 0; j < n; j++ {
				buf = append(buf, r)
			}
			i++
		default:
			buf = append(buf, ch)
		}
	}
	return buf, nil
}
