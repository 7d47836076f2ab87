package wspect

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/wspect/wspect/internal"
)

func TestFrameHeader(t *testing.T) {
	t.Run("generate and parse", func(t *testing.T) {
		var as = assert.New(t)
		for _, length := range []int{0, 1, 125, 126, 500, 65535, 65536, 1024 * 1024} {
			var fh = frameHeader{}
			headerLength, maskBytes := fh.GenerateHeader(true, true, false, OpcodeBinary, length)
			as.Nil(maskBytes)

			var parsed = frameHeader{}
			n, err := parsed.Parse(bytes.NewReader(fh[:headerLength]))
			as.NoError(err)
			as.Equal(length, n)
			as.True(parsed.GetFIN())
			as.False(parsed.GetRSV1())
			as.False(parsed.GetMask())
			as.Equal(OpcodeBinary, parsed.GetOpcode())
		}
	})

	t.Run("client frames are masked", func(t *testing.T) {
		var as = assert.New(t)
		var fh = frameHeader{}
		headerLength, maskBytes := fh.GenerateHeader(false, true, false, OpcodeText, 10)
		as.Equal(4, len(maskBytes))
		as.Equal(6, headerLength)

		var parsed = frameHeader{}
		n, err := parsed.Parse(bytes.NewReader(fh[:headerLength]))
		as.NoError(err)
		as.Equal(10, n)
		as.True(parsed.GetMask())
		as.Equal(maskBytes, parsed.GetMaskKey())
	})

	t.Run("length above int range rejected", func(t *testing.T) {
		var as = assert.New(t)
		var header = make([]byte, 10)
		header[0] = 0x82 // FIN + binary
		header[1] = 127
		binary.BigEndian.PutUint64(header[2:10], 1<<63)

		var parsed = frameHeader{}
		_, err := parsed.Parse(bytes.NewReader(header))
		as.ErrorIs(err, internal.CloseMessageTooLarge)
	})

	t.Run("rsv1 marks compression", func(t *testing.T) {
		var as = assert.New(t)
		var fh = frameHeader{}
		headerLength, _ := fh.GenerateHeader(true, true, true, OpcodeText, 5)

		var parsed = frameHeader{}
		_, err := parsed.Parse(bytes.NewReader(fh[:headerLength]))
		as.NoError(err)
		as.True(parsed.GetRSV1())
		as.False(parsed.GetRSV2())
		as.False(parsed.GetRSV3())
	})

	t.Run("fragment without fin", func(t *testing.T) {
		var as = assert.New(t)
		var fh = frameHeader{}
		headerLength, _ := fh.GenerateHeader(true, false, false, OpcodeContinuation, 5)

		var parsed = frameHeader{}
		_, err := parsed.Parse(bytes.NewReader(fh[:headerLength]))
		as.NoError(err)
		as.False(parsed.GetFIN())
		as.Equal(OpcodeContinuation, parsed.GetOpcode())
	})
}

func TestMaskXOR(t *testing.T) {
	var as = assert.New(t)
	for _, n := range []int{0, 1, 3, 7, 8, 9, 100, 1000} {
		var key = internal.AlphabetNumeric.Generate(4)
		var payload = internal.AlphabetNumeric.Generate(n)
		var original = append([]byte(nil), payload...)

		maskXOR(payload, key)
		if n > 0 {
			as.NotEqual(string(original), string(payload))
		}
		maskXOR(payload, key)
		as.Equal(string(original), string(payload))
	}
}
