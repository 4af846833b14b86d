package packet

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
)

func TestEncodeKnownPackets(t *testing.T) {
	// checksums as sent by lldb's test suite
	for _, tc := range []struct {
		payload, wire string
	}{
		{"QListThreadsInStopReply", "$QListThreadsInStopReply#21"},
		{"jThreadsInfo", "$jThreadsInfo#c1"},
		{"OK", "$OK#9a"},
		{"", "$#00"},
	} {
		if got := string(Encode([]byte(tc.payload))); got != tc.wire {
			t.Errorf("Encode(%q) = %q, expected %q", tc.payload, got, tc.wire)
		}
	}
}

func TestRoundTrip(t *testing.T) {
	all := make([]byte, 256)
	for i := range all {
		all[i] = byte(i)
	}
	for _, payload := range [][]byte{
		[]byte("T05thread:1f03;threads:1f03,1f04;"),
		[]byte("$#}*"),
		[]byte("}}}}"),
		[]byte(`[{"tid":1,"registers":{"16":"0000"}}]`),
		{0x7d, 0x23, 0x24, 0x2a, 0x00, 0xff},
		all,
	} {
		wire := Encode(payload)
		if bytes.IndexByte(wire[1:len(wire)-3], '#') >= 0 || bytes.IndexByte(wire[1:], '$') >= 0 {
			t.Errorf("special character left unescaped in %q", wire)
		}
		got, err := Decode(wire)
		if err != nil {
			t.Fatalf("Decode(%q): %v", wire, err)
		}
		if !bytes.Equal(got, payload) {
			t.Errorf("round trip mismatch: %q -> %q -> %q", payload, wire, got)
		}
	}
}

func TestDecodeCorruptedChecksum(t *testing.T) {
	wire := Encode([]byte("qfThreadInfo"))
	wire[len(wire)-1] ^= 0x1
	payload, err := Decode(wire)
	var perr *ProtocolError
	if !errors.As(err, &perr) {
		t.Fatalf("expected *ProtocolError got %T %v", err, err)
	}
	if perr.Reason != "checksum mismatch" || !perr.BadChecksum {
		t.Errorf("wrong reason %q (bad checksum %v)", perr.Reason, perr.BadChecksum)
	}
	if payload != nil {
		t.Errorf("unexpected payload %q", payload)
	}
}

func TestDecodeMalformed(t *testing.T) {
	for _, wire := range []string{
		"",
		"OK#9a",
		"$OK9a",
		"$OK#9",
		"$OK#zz",
		"$}#7d",
		"$*a#" + "8b",
	} {
		_, err := Decode([]byte(wire))
		if _, isproto := err.(*ProtocolError); !isproto {
			t.Errorf("Decode(%q): expected protocol error, got %v", wire, err)
		}
	}
}

func TestDecodeRunLength(t *testing.T) {
	// "0* " is '0' repeated 3 more times
	body := []byte("0* ")
	wire := append([]byte{'$'}, body...)
	wire = append(wire, '#')
	sum := Checksum(body)
	wire = append(wire, hexdigit[sum>>4], hexdigit[sum&0xf])
	got, err := Decode(wire)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "0000" {
		t.Errorf("expected 0000 got %q", got)
	}
}

func TestReader(t *testing.T) {
	var in bytes.Buffer
	in.WriteString("+")
	in.Write(Encode([]byte("qC")))
	in.WriteString("junk")
	in.WriteByte(CtrlC)
	bad := Encode([]byte("g"))
	bad[len(bad)-2] = 'f'
	in.Write(bad)
	in.WriteString("-")
	in.Write(Encode([]byte("x1000,4")))

	r := NewReader(&in)
	expect := []struct {
		kind    FrameKind
		payload string
		bad     bool
	}{
		{FrameAck, "", false},
		{FramePacket, "qC", false},
		{FrameInterrupt, "", false},
		{FramePacket, "g", true},
		{FrameNack, "", false},
		{FramePacket, "x1000,4", false},
	}
	for i, e := range expect {
		f, err := r.ReadFrame()
		if e.bad {
			if _, isproto := err.(*ProtocolError); !isproto {
				t.Fatalf("frame %d: expected protocol error, got %v", i, err)
			}
		} else if err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
		if f.Kind != e.kind || string(f.Payload) != e.payload {
			t.Fatalf("frame %d: got %s %q expected %s %q", i, f.Kind, f.Payload, e.kind, e.payload)
		}
	}
	if _, err := r.ReadFrame(); err != io.EOF {
		t.Fatalf("expected EOF got %v", err)
	}
}

func TestReaderMaxPacketSize(t *testing.T) {
	var in bytes.Buffer
	in.Write(Encode([]byte("x1000,4")))
	in.Write(Encode([]byte(strings.Repeat("m", 100))))
	in.Write(Encode([]byte("qC")))

	r := NewReader(&in)
	r.SetMaxPacketSize(len("$x1000,4#00"))

	f, err := r.ReadFrame()
	if err != nil || string(f.Payload) != "x1000,4" {
		t.Fatalf("got %q %v", f.Payload, err)
	}
	_, err = r.ReadFrame()
	var perr *ProtocolError
	if !errors.As(err, &perr) || !perr.TooLong {
		t.Fatalf("expected packet too long, got %v", err)
	}
	if len(perr.Packet) != len("$x1000,4#00") {
		t.Errorf("packet not truncated: %q", perr.Packet)
	}
	f, err = r.ReadFrame()
	if err != nil || string(f.Payload) != "qC" {
		t.Fatalf("got %q %v after long packet", f.Payload, err)
	}
}

func TestParseKeyValues(t *testing.T) {
	kvs := ParseKeyValues("thread:1f03;name:612e6f7574;threads:1f03,1f04;reason:breakpoint;orphan;")
	if len(kvs) != 5 {
		t.Fatalf("expected 5 pairs, got %v", kvs)
	}
	if v, _ := kvs.Get("threads"); v != "1f03,1f04" {
		t.Errorf("threads = %q", v)
	}
	if !kvs.Has("orphan") || kvs.Has("thread-pcs") {
		t.Errorf("wrong Has results for %v", kvs)
	}
	if s := kvs[:2].String(); s != "thread:1f03;name:612e6f7574;" {
		t.Errorf("String() = %q", s)
	}
}

func TestHex(t *testing.T) {
	if s := HexBytes([]byte{0x00, 0xab, 0x7d}); s != "00ab7d" {
		t.Errorf("HexBytes = %q", s)
	}
	data, err := ParseHexBytes("00AB7d")
	if err != nil || !bytes.Equal(data, []byte{0x00, 0xab, 0x7d}) {
		t.Errorf("ParseHexBytes = %x %v", data, err)
	}
	if _, err := ParseHexBytes("abc"); err == nil {
		t.Error("expected error for odd length")
	}
	addr, n, err := ParseAddrLen("7ffe0010,40")
	if err != nil || addr != 0x7ffe0010 || n != 0x40 {
		t.Errorf("ParseAddrLen = %#x %#x %v", addr, n, err)
	}
	for _, s := range []string{"1000", "zz,1", "10,"} {
		if _, _, err := ParseAddrLen(s); err == nil || !strings.Contains(err.Error(), "malformed") {
			t.Errorf("ParseAddrLen(%q) expected error, got %v", s, err)
		}
	}
}
