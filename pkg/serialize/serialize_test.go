package serialize

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSerializeUInt8(t *testing.T) {

	numSteps := 256
	for i := 0; i < numSteps; i++ {
		input := uint8(i)

		writer := NewFixedSizeWriter(ByteSizeUInt8(input))
		SerializeUInt8(writer, input)

		bs := writer.Bytes()
		reader := NewReader(bs)

		var output uint8
		err := DeserializeUInt8(&output, reader)
		require.NoError(t, err)

		assert.Equal(t, input, output)
	}
}

func TestSerializeUInt32(t *testing.T) {

	numSteps := math.MaxUint16
	step := math.MaxUint32 / numSteps
	for i := 0; i < numSteps; i++ {
		input := uint32(i * step)

		writer := NewFixedSizeWriter(ByteSizeUInt32(input))
		SerializeUInt32(writer, input)

		bs := writer.Bytes()
		reader := NewReader(bs)

		var output uint32
		err := DeserializeUInt32(&output, reader)
		require.NoError(t, err)

		assert.Equal(t, input, output)
	}
}

func TestSerializeUInt64(t *testing.T) {

	numSteps := math.MaxUint16
	step := math.MaxUint64 / uint64(numSteps)
	for i := 0; i < numSteps; i++ {
		input := uint64(i) * step

		writer := NewFixedSizeWriter(ByteSizeUInt64(input))
		SerializeUInt64(writer, input)

		bs := writer.Bytes()
		reader := NewReader(bs)

		var output uint64
		err := DeserializeUInt64(&output, reader)
		require.NoError(t, err)

		assert.Equal(t, input, output)
	}
}

func TestSerializeMultipleTypesInSequence(t *testing.T) {

	payload := []byte(`{"result":"good"}`)

	size := ByteSizeUInt8(2) +
		ByteSizeUInt32(7) +
		ByteSizeUInt64(42) +
		ByteSizeBytes(payload)

	writer := NewFixedSizeWriter(size)
	SerializeUInt8(writer, 2)
	SerializeUInt32(writer, 7)
	SerializeUInt64(writer, 42)
	SerializeBytes(writer, payload)

	reader := NewReader(writer.Bytes())

	var u8 uint8
	var u32 uint32
	var u64 uint64
	require.NoError(t, DeserializeUInt8(&u8, reader))
	require.NoError(t, DeserializeUInt32(&u32, reader))
	require.NoError(t, DeserializeUInt64(&u64, reader))

	assert.Equal(t, uint8(2), u8)
	assert.Equal(t, uint32(7), u32)
	assert.Equal(t, uint64(42), u64)
	assert.Equal(t, payload, reader.Rest())
	assert.Empty(t, reader.Rest())
}

func TestReaderNotEnoughData(t *testing.T) {

	reader := NewReader([]byte{0x00, 0x01})

	var output uint32
	err := DeserializeUInt32(&output, reader)
	assert.Error(t, err)

	var id uint64
	err = DeserializeUInt64(&id, NewReader([]byte{0x00, 0x00, 0x00, 0x05, 'a'}))
	assert.Error(t, err)
}

func TestWriterPanicsOnOverflow(t *testing.T) {

	writer := NewFixedSizeWriter(2)
	assert.Panics(t, func() {
		SerializeUInt32(writer, 1)
	})

	writer = NewFixedSizeWriter(8)
	SerializeUInt32(writer, 1)
	assert.Panics(t, func() {
		writer.Bytes()
	})
}
