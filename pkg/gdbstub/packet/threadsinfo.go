package packet

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// DecodeError is returned when a structured payload, such as the response
// to jThreadsInfo, does not have the expected shape.
type DecodeError struct {
	What string
	Err  error
}

func (err *DecodeError) Error() string {
	if err.Err != nil {
		return fmt.Sprintf("could not decode %s: %v", err.What, err.Err)
	}
	return fmt.Sprintf("could not decode %s", err.What)
}

func (err *DecodeError) Unwrap() error {
	return err.Err
}

// MemoryChunk is a range of inferior memory sent along with thread
// information.
type MemoryChunk struct {
	Address uint64
	Bytes   []byte
}

// ThreadInfo is one element of a jThreadsInfo response.
// Register values are in target byte order, keyed by register number.
type ThreadInfo struct {
	TID       uint64
	Name      string
	Reason    string
	Signal    int
	Registers map[int][]byte
	Memory    []MemoryChunk
}

// RegisterNumbers returns the register numbers of ti in ascending order.
func (ti *ThreadInfo) RegisterNumbers() []int {
	r := make([]int, 0, len(ti.Registers))
	for regnum := range ti.Registers {
		r = append(r, regnum)
	}
	sort.Ints(r)
	return r
}

type wireThreadInfo struct {
	TID       *uint64           `json:"tid"`
	Name      string            `json:"name,omitempty"`
	Reason    string            `json:"reason,omitempty"`
	Signal    int               `json:"signal,omitempty"`
	Registers map[string]string `json:"registers"`
	Memory    []wireMemoryChunk `json:"memory"`
}

type wireMemoryChunk struct {
	Address *uint64 `json:"address"`
	Bytes   *string `json:"bytes"`
}

// MarshalThreadsInfo returns the jThreadsInfo text for threads.
// The text must still be sent with Encode, which escapes the characters
// that JSON and the packet framing have in common.
func MarshalThreadsInfo(threads []ThreadInfo) ([]byte, error) {
	out := make([]wireThreadInfo, 0, len(threads))
	for i := range threads {
		th := &threads[i]
		tid := th.TID
		wti := wireThreadInfo{
			TID:       &tid,
			Name:      th.Name,
			Reason:    th.Reason,
			Signal:    th.Signal,
			Registers: make(map[string]string, len(th.Registers)),
			Memory:    make([]wireMemoryChunk, 0, len(th.Memory)),
		}
		for regnum, value := range th.Registers {
			wti.Registers[strconv.Itoa(regnum)] = HexBytes(value)
		}
		for j := range th.Memory {
			addr := th.Memory[j].Address
			data := HexBytes(th.Memory[j].Bytes)
			wti.Memory = append(wti.Memory, wireMemoryChunk{Address: &addr, Bytes: &data})
		}
		out = append(out, wti)
	}
	return json.Marshal(out)
}

// UnmarshalThreadsInfo parses the (already unescaped) text of a
// jThreadsInfo response. Either every thread is decoded or a *DecodeError
// is returned.
func UnmarshalThreadsInfo(text []byte) ([]ThreadInfo, error) {
	var wire []wireThreadInfo
	if err := json.Unmarshal(text, &wire); err != nil {
		return nil, &DecodeError{"jThreadsInfo", err}
	}
	threads := make([]ThreadInfo, 0, len(wire))
	for i := range wire {
		wti := &wire[i]
		if wti.TID == nil {
			return nil, &DecodeError{What: fmt.Sprintf("jThreadsInfo: thread %d has no tid", i)}
		}
		ti := ThreadInfo{
			TID:       *wti.TID,
			Name:      wti.Name,
			Reason:    wti.Reason,
			Signal:    wti.Signal,
			Registers: make(map[int][]byte, len(wti.Registers)),
		}
		for key, value := range wti.Registers {
			regnum, err := strconv.Atoi(key)
			if err != nil || regnum < 0 {
				return nil, &DecodeError{fmt.Sprintf("jThreadsInfo: register index %q of thread %d", key, ti.TID), err}
			}
			data, err := ParseHexBytes(value)
			if err != nil {
				return nil, &DecodeError{fmt.Sprintf("jThreadsInfo: register %d of thread %d", regnum, ti.TID), err}
			}
			ti.Registers[regnum] = data
		}
		for j := range wti.Memory {
			chunk := &wti.Memory[j]
			if chunk.Address == nil || chunk.Bytes == nil {
				return nil, &DecodeError{What: fmt.Sprintf("jThreadsInfo: memory chunk %d of thread %d", j, ti.TID)}
			}
			data, err := ParseHexBytes(*chunk.Bytes)
			if err != nil {
				return nil, &DecodeError{fmt.Sprintf("jThreadsInfo: memory at %#x of thread %d", *chunk.Address, ti.TID), err}
			}
			ti.Memory = append(ti.Memory, MemoryChunk{Address: *chunk.Address, Bytes: data})
		}
		threads = append(threads, ti)
	}
	return threads, nil
}
