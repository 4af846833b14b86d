package gdbstub

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLookupPacket(t *testing.T) {
	for _, tc := range []struct {
		payload string
		tag     packetTag
	}{
		{"qSupported:swbreak+;hwbreak+", tagQSupported},
		{"qC", tagCurrentThread},
		{"qThreadStopInfo1092", tagThreadStopInfo},
		{"qRegisterInfo1a", tagRegisterInfo},
		{"QListThreadsInStopReply", tagListThreadsInStopReply},
		{"vCont?", tagVContSupported},
		{"vCont;c", tagVCont},
		{"vCont;s:1092", tagVCont},
		{"m7ffff7000000,10", tagReadMemory},
		{"x400000,0", tagReadMemoryBinary},
		{"Z0,400008,1", tagInsertBreakpoint},
		{"?", tagHaltReason},
		{"jThreadsInfo", tagThreadsInfo},
		{"Hg0", tagSetThread},
		{"D;1092", tagDetach},
	} {
		e := lookupPacket([]byte(tc.payload))
		if assert.NotNil(t, e, tc.payload) {
			assert.Equal(t, tc.tag, e.tag, tc.payload)
		}
	}

	// exact packets do not match longer payloads
	for _, payload := range []string{"qCRC:400000,10", "QListThreadsInStopReplyX", "QFooBar", "jThreadsInfoX", "vMustReplyEmpty", ""} {
		assert.Nil(t, lookupPacket([]byte(payload)), payload)
	}
}

func TestPacketTagString(t *testing.T) {
	assert.Equal(t, "jThreadsInfo", tagThreadsInfo.String())
	assert.Equal(t, "vCont;", tagVCont.String())
}

func TestSessionNegotiate(t *testing.T) {
	s := NewSession()
	assert.Equal(t, BasicStopReply, s.StopReplyMode())
	assert.True(t, s.AckMode())
	assert.False(t, s.ThreadSuffix())

	assert.False(t, s.Negotiate("QFooBar"))
	assert.Equal(t, BasicStopReply, s.StopReplyMode())
	assert.True(t, s.AckMode())

	assert.True(t, s.Negotiate("QListThreadsInStopReply"))
	assert.Equal(t, ExtendedStopReply, s.StopReplyMode())
	// negotiating twice changes nothing
	assert.True(t, s.Negotiate("QListThreadsInStopReply"))
	assert.Equal(t, ExtendedStopReply, s.StopReplyMode())

	assert.True(t, s.Negotiate("QStartNoAckMode"))
	assert.False(t, s.AckMode())
	assert.True(t, s.Negotiate("QThreadSuffixSupported"))
	assert.True(t, s.ThreadSuffix())
	assert.NotEqual(t, NewSession().ID, s.ID)
}
