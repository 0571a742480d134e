package postmsg

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkHeaderRoundTrip(t *testing.T) {
	cases := []chunkHeader{
		{n: 0, isFirst: false},
		{n: 0, isFirst: true},
		{n: 1000, isFirst: true},
		{n: maxChunkValue, isFirst: false},
		{n: maxChunkValue, isFirst: true},
	}
	for _, h := range cases {
		buf := make([]byte, ChunkHeaderSize)
		encodeChunkHeader(buf, h)
		got := decodeChunkHeader(buf)
		assert.Equal(t, h, got, "header should survive encode/decode unchanged")
	}
}

func TestChunkHeaderIsFirstFlagDoesNotLeakIntoLength(t *testing.T) {
	buf := make([]byte, ChunkHeaderSize)
	encodeChunkHeader(buf, chunkHeader{n: maxChunkValue, isFirst: true})
	got := decodeChunkHeader(buf)
	assert.Equal(t, uint32(maxChunkValue), got.n, "bit 7 of the last byte must not be mistaken for part of n")
	assert.True(t, got.isFirst)
}

func TestBuildChunkLayout(t *testing.T) {
	payload := []byte("hello")
	wire := buildChunk(chunkHeader{n: uint32(len(payload)), isFirst: true}, payload)
	require.Len(t, wire, ChunkHeaderSize+len(payload))
	assert.Equal(t, payload, wire[ChunkHeaderSize:], "payload should follow the header unchanged")

	h := decodeChunkHeader(wire)
	assert.Equal(t, uint32(len(payload)), h.n)
	assert.True(t, h.isFirst)
}

func TestNextChunkPayloadWalksForwardAtBoundary(t *testing.T) {
	framed := []byte("0123456789")
	var got [][]byte
	for offset := 0; offset < len(framed); {
		chunk := nextChunkPayload(framed, offset, 4)
		got = append(got, chunk)
		offset += len(chunk)
	}
	require.Len(t, got, 3)
	assert.Equal(t, []byte("0123"), got[0])
	assert.Equal(t, []byte("4567"), got[1])
	assert.Equal(t, []byte("89"), got[2])
}

func TestNextChunkPayloadEmptyFramedProducesEmptySlice(t *testing.T) {
	chunk := nextChunkPayload(nil, 0, 4)
	assert.Empty(t, chunk)
}

func TestNextChunkPayloadExactMultipleOfSize(t *testing.T) {
	framed := []byte("01234567")
	first := nextChunkPayload(framed, 0, 4)
	second := nextChunkPayload(framed, len(first), 4)
	assert.Equal(t, []byte("0123"), first)
	assert.Equal(t, []byte("4567"), second)
	assert.Empty(t, nextChunkPayload(framed, len(first)+len(second), 4))
}

func TestNextChunkPayloadOffsetPastEndIsEmpty(t *testing.T) {
	framed := []byte("0123")
	assert.Empty(t, nextChunkPayload(framed, 10, 4))
}

func TestNextChunkPayloadWholeObjectFitsSingleChunkAtTxChunkSizeBoundary(t *testing.T) {
	framed := make([]byte, 1000)
	chunk := nextChunkPayload(framed, 0, 1000)
	assert.Len(t, chunk, 1000, "an object whose length equals tx_chunk_size must fit in a single chunk")
}
