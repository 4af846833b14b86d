package gdbstub

import (
	"github.com/derekparker/trie"
)

// packetTag identifies a packet this stub implements.
type packetTag uint8

const (
	tagUnsupported packetTag = iota
	tagQSupported
	tagStartNoAckMode
	tagThreadSuffixSupported
	tagListThreadsInStopReply
	tagHaltReason
	tagCurrentThread
	tagFirstThreadInfo
	tagSubsequentThreadInfo
	tagThreadStopInfo
	tagThreadsInfo
	tagRegisterInfo
	tagProcessInfo
	tagHostInfo
	tagAttached
	tagSetThread
	tagThreadAlive
	tagReadRegister
	tagReadRegisters
	tagWriteRegister
	tagWriteRegisters
	tagReadMemory
	tagReadMemoryBinary
	tagWriteMemory
	tagInsertBreakpoint
	tagRemoveBreakpoint
	tagContinue
	tagStep
	tagVContSupported
	tagVCont
	tagKill
	tagDetach
)

// packetHandler answers a packet, args is the payload following the packet
// name. A nil reply is sent as the empty (unsupported) packet. When an
// error is returned nothing is sent and the session ends.
type packetHandler func(c *connection, args []byte) ([]byte, error)

type dispatchEntry struct {
	name string
	tag  packetTag
	// exact entries only match a payload equal to name, the others match
	// any payload starting with name.
	exact bool
	fn    packetHandler
}

var (
	dispatchTable    []dispatchEntry
	packetTrie       *trie.Trie
	maxPacketNameLen int
)

func init() {
	dispatchTable = []dispatchEntry{
		{"qSupported", tagQSupported, false, (*connection).qSupported},
		{"QStartNoAckMode", tagStartNoAckMode, true, negotiation("QStartNoAckMode")},
		{"QThreadSuffixSupported", tagThreadSuffixSupported, true, negotiation("QThreadSuffixSupported")},
		{"QListThreadsInStopReply", tagListThreadsInStopReply, true, negotiation("QListThreadsInStopReply")},
		{"?", tagHaltReason, true, (*connection).haltReason},
		{"qC", tagCurrentThread, true, (*connection).currentThread},
		{"qfThreadInfo", tagFirstThreadInfo, true, (*connection).firstThreadInfo},
		{"qsThreadInfo", tagSubsequentThreadInfo, true, (*connection).subsequentThreadInfo},
		{"qThreadStopInfo", tagThreadStopInfo, false, (*connection).threadStopInfo},
		{"jThreadsInfo", tagThreadsInfo, true, (*connection).threadsInfo},
		{"qRegisterInfo", tagRegisterInfo, false, (*connection).registerInfo},
		{"qProcessInfo", tagProcessInfo, true, (*connection).processInfo},
		{"qHostInfo", tagHostInfo, true, (*connection).hostInfo},
		{"qAttached", tagAttached, false, (*connection).attached},
		{"H", tagSetThread, false, (*connection).setThread},
		{"T", tagThreadAlive, false, (*connection).threadAlive},
		{"p", tagReadRegister, false, (*connection).readRegister},
		{"g", tagReadRegisters, false, (*connection).readRegisters},
		{"P", tagWriteRegister, false, (*connection).writeRegister},
		{"G", tagWriteRegisters, false, (*connection).writeRegisters},
		{"m", tagReadMemory, false, (*connection).readMemory},
		{"x", tagReadMemoryBinary, false, (*connection).readMemoryBinary},
		{"M", tagWriteMemory, false, (*connection).writeMemory},
		{"Z", tagInsertBreakpoint, false, (*connection).insertBreakpoint},
		{"z", tagRemoveBreakpoint, false, (*connection).removeBreakpoint},
		{"c", tagContinue, false, (*connection).cont},
		{"s", tagStep, false, (*connection).step},
		{"vCont?", tagVContSupported, true, (*connection).vContSupported},
		{"vCont;", tagVCont, false, (*connection).vCont},
		{"k", tagKill, true, (*connection).kill},
		{"D", tagDetach, false, (*connection).detach},
	}

	packetTrie = trie.New()
	for i := range dispatchTable {
		e := &dispatchTable[i]
		packetTrie.Add(e.name, e)
		if len(e.name) > maxPacketNameLen {
			maxPacketNameLen = len(e.name)
		}
	}
}

// lookupPacket returns the entry with the longest name that matches
// payload, or nil.
func lookupPacket(payload []byte) *dispatchEntry {
	n := len(payload)
	if n > maxPacketNameLen {
		n = maxPacketNameLen
	}
	for ; n > 0; n-- {
		node, ok := packetTrie.Find(string(payload[:n]))
		if !ok {
			continue
		}
		e := node.Meta().(*dispatchEntry)
		if e.exact && n != len(payload) {
			continue
		}
		return e
	}
	return nil
}

func (tag packetTag) String() string {
	for i := range dispatchTable {
		if dispatchTable[i].tag == tag {
			return dispatchTable[i].name
		}
	}
	return "unsupported"
}
