package packet

import (
	"fmt"
	"strconv"
	"strings"
)

// AppendHex appends the lower case hex encoding of data to buf.
func AppendHex(buf, data []byte) []byte {
	for _, b := range data {
		buf = append(buf, hexdigit[b>>4], hexdigit[b&0xf])
	}
	return buf
}

// HexBytes returns the hex encoding of data as a string.
func HexBytes(data []byte) string {
	return string(AppendHex(make([]byte, 0, len(data)*2), data))
}

// ParseHexBytes decodes a string of hex byte pairs.
func ParseHexBytes(s string) ([]byte, error) {
	if len(s)%2 != 0 {
		return nil, fmt.Errorf("odd length hex string %q", s)
	}
	data := make([]byte, len(s)/2)
	for i := 0; i < len(s); i += 2 {
		n, err := strconv.ParseUint(s[i:i+2], 16, 8)
		if err != nil {
			return nil, fmt.Errorf("malformed hex string %q", s)
		}
		data[i/2] = uint8(n)
	}
	return data, nil
}

// ParseHexUint parses a hex number as used in packet arguments.
func ParseHexUint(s string) (uint64, error) {
	return strconv.ParseUint(s, 16, 64)
}

// ParseAddrLen parses the "addr,length" argument of memory packets.
func ParseAddrLen(s string) (addr uint64, length uint64, err error) {
	comma := strings.IndexByte(s, ',')
	if comma < 0 {
		return 0, 0, fmt.Errorf("malformed address range %q", s)
	}
	addr, err = ParseHexUint(s[:comma])
	if err != nil {
		return 0, 0, fmt.Errorf("malformed address %q", s[:comma])
	}
	length, err = ParseHexUint(s[comma+1:])
	if err != nil {
		return 0, 0, fmt.Errorf("malformed length %q", s[comma+1:])
	}
	return addr, length, nil
}
