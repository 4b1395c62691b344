package observer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRecorderCapturesAllCallbacks(t *testing.T) {
	r := NewRecorder(nil)
	var h Host = r

	h.NewSeqno(0, 5)
	h.SyncWriteComplete(0, "k", 5, true)
	h.SeqnoAck(0, 5)
	out := h.PreLinkDocument(0, "k", []byte("v"))

	assert.Equal(t, []int64{5}, r.Seqnos)
	assert.Equal(t, 1, len(r.Completions))
	assert.True(t, r.Completions[0].Committed)
	assert.Equal(t, []int64{5}, r.Acks)
	assert.Equal(t, []byte("v"), out)
	assert.Equal(t, 1, r.PreLinkCalls)
}
