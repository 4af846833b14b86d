package packet

import (
	"bytes"
	"errors"
	"testing"
)

func TestThreadsInfoRoundTrip(t *testing.T) {
	threads := []ThreadInfo{
		{
			TID:    0x1f03,
			Name:   "a.out",
			Reason: "breakpoint",
			Signal: 5,
			Registers: map[int][]byte{
				16: {0x10, 0x00, 0x40, 0x00, 0x00, 0x00, 0x00, 0x00},
				7:  {0x00, 0xf0, 0xff, 0xff, 0xff, 0x7f, 0x00, 0x00},
			},
			Memory: []MemoryChunk{{Address: 0x7ffffffff000, Bytes: []byte{0x7d, 0x23, 0x24}}},
		},
		{TID: 0x1f04, Registers: map[int][]byte{}},
	}
	text, err := MarshalThreadsInfo(threads)
	if err != nil {
		t.Fatal(err)
	}
	// the JSON text contains '}' which is only valid on the wire once escaped
	wire := Encode(text)
	if bytes.Contains(wire[1:len(wire)-3], []byte{'}', '}'}) {
		t.Fatalf("unescaped json in %q", wire)
	}
	payload, err := Decode(wire)
	if err != nil {
		t.Fatal(err)
	}
	got, err := UnmarshalThreadsInfo(payload)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 threads got %d", len(got))
	}
	if got[0].TID != 0x1f03 || got[0].Name != "a.out" || got[0].Reason != "breakpoint" || got[0].Signal != 5 {
		t.Errorf("wrong thread header %+v", got[0])
	}
	if regs := got[0].RegisterNumbers(); len(regs) != 2 || regs[0] != 7 || regs[1] != 16 {
		t.Errorf("wrong registers %v", regs)
	}
	if !bytes.Equal(got[0].Registers[16], threads[0].Registers[16]) {
		t.Errorf("pc mismatch %x", got[0].Registers[16])
	}
	if len(got[0].Memory) != 1 || got[0].Memory[0].Address != 0x7ffffffff000 || !bytes.Equal(got[0].Memory[0].Bytes, []byte{0x7d, 0x23, 0x24}) {
		t.Errorf("memory mismatch %+v", got[0].Memory)
	}
	if got[1].TID != 0x1f04 || len(got[1].Memory) != 0 {
		t.Errorf("wrong second thread %+v", got[1])
	}
}

func TestUnmarshalThreadsInfoMalformed(t *testing.T) {
	for _, text := range []string{
		`{"tid":1}`,
		`[{"tid":1,"registers":{"16":"0000"}`,
		`[{"registers":{"16":"0000"}}]`,
		`[{"tid":1,"registers":{"pc":"0000"}}]`,
		`[{"tid":1,"registers":{"-1":"0000"}}]`,
		`[{"tid":1,"registers":{"16":"000"}}]`,
		`[{"tid":1,"registers":{},"memory":[{"address":4096}]}]`,
		`[{"tid":1,"registers":{},"memory":[{"bytes":"00"}]}]`,
		`[{"tid":1,"registers":{},"memory":[{"address":4096,"bytes":"zz"}]}]`,
		`[{"tid":1,"registers":{}},{"tid":"two"}]`,
	} {
		threads, err := UnmarshalThreadsInfo([]byte(text))
		var derr *DecodeError
		if !errors.As(err, &derr) {
			t.Errorf("%s: expected *DecodeError, got %v", text, err)
		}
		if threads != nil {
			t.Errorf("%s: partial data returned: %+v", text, threads)
		}
	}
}
