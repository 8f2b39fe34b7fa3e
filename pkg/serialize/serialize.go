package serialize

// ByteSizeBytes is the size of a trailing byte payload, which carries no
// length prefix and must be the last field written.
func ByteSizeBytes(data []byte) int {
	return len(data)
}

func SerializeBytes(writer *FixedSizeWriter, data []byte) {
	bs := writer.Next(len(data))
	copy(bs, data)
}

func ByteSizeUInt8(uint8) int {
	return 1
}

func SerializeUInt8(writer *FixedSizeWriter, data uint8) {
	bs := writer.Next(1)
	bs[0] = data
}

func DeserializeUInt8(data *uint8, reader *Reader) error {
	bs, err := reader.Read(1)
	if err != nil {
		return err
	}
	*data = bs[0]
	return nil
}

func ByteSizeUInt32(uint32) int {
	return 4
}

func SerializeUInt32(writer *FixedSizeWriter, data uint32) {
	bs := writer.Next(4)
	bs[0] = byte(data >> 24)
	bs[1] = byte(data >> 16)
	bs[2] = byte(data >> 8)
	bs[3] = byte(data)
}

func DeserializeUInt32(data *uint32, reader *Reader) error {
	bs, err := reader.Read(4)
	if err != nil {
		return err
	}
	*data = uint32(bs[0])<<24 |
		uint32(bs[1])<<16 |
		uint32(bs[2])<<8 |
		uint32(bs[3])
	return nil
}

func ByteSizeUInt64(uint64) int {
	return 8
}

func SerializeUInt64(writer *FixedSizeWriter, data uint64) {
	bs := writer.Next(8)
	bs[0] = byte(data >> 56)
	bs[1] = byte(data >> 48)
	bs[2] = byte(data >> 40)
	bs[3] = byte(data >> 32)
	bs[4] = byte(data >> 24)
	bs[5] = byte(data >> 16)
	bs[6] = byte(data >> 8)
	bs[7] = byte(data)
}

func DeserializeUInt64(data *uint64, reader *Reader) error {
	bs, err := reader.Read(8)
	if err != nil {
		return err
	}
	*data = uint64(bs[0])<<56 |
		uint64(bs[1])<<48 |
		uint64(bs[2])<<40 |
		uint64(bs[3])<<32 |
		uint64(bs[4])<<24 |
		uint64(bs[5])<<16 |
		uint64(bs[6])<<8 |
		uint64(bs[7])
	return nil
}
