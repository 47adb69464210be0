package wire

import (
	"encoding/binary"
	"fmt"
)

// putVarInt appends a Bitcoin-style variable-length integer to buf.
func putVarInt(buf []byte, v uint64) []byte {
	switch {
	case v < 0xfd:
		return append(buf, byte(v))
	case v <= 0xffff:
		b := make([]byte, 2)
		binary.LittleEndian.PutUint16(b, uint16(v))
		return append(append(buf, 0xfd), b...)
	case v <= 0xffffffff:
		b := make([]byte, 4)
		binary.LittleEndian.PutUint32(b, uint32(v))
		return append(append(buf, 0xfe), b...)
	default:
		b := make([]byte, 8)
		binary.LittleEndian.PutUint64(b, v)
		return append(append(buf, 0xff), b...)
	}
}

// readVarInt reads a Bitcoin-style variable-length integer from buf,
// returning the value and the number of bytes consumed.
func readVarInt(buf []byte) (uint64, int, error) {
	if len(buf) < 1 {
		return 0, 0, fmt.Errorf("wire: varint: empty buffer")
	}
	switch buf[0] {
	case 0xfd:
		if len(buf) < 3 {
			return 0, 0, fmt.Errorf("wire: varint: truncated uint16")
		}
		return uint64(binary.LittleEndian.Uint16(buf[1:3])), 3, nil
	case 0xfe:
		if len(buf) < 5 {
			return 0, 0, fmt.Errorf("wire: varint: truncated uint32")
		}
		return uint64(binary.LittleEndian.Uint32(buf[1:5])), 5, nil
	case 0xff:
		if len(buf) < 9 {
			return 0, 0, fmt.Errorf("wire: varint: truncated uint64")
		}
		return binary.LittleEndian.Uint64(buf[1:9]), 9, nil
	default:
		return uint64(buf[0]), 1, nil
	}
}

// capHint bounds a decoded element count by the bytes actually remaining,
// so a forged count can never force a huge allocation before the reads
// that would reject it.
func capHint(n uint64, remaining, elemSize int) int {
	max := remaining / elemSize
	if n > uint64(max) {
		return max
	}
	return int(n)
}

func putVarBytes(buf []byte, b []byte) []byte {
	buf = putVarInt(buf, uint64(len(b)))
	return append(buf, b...)
}

func readVarBytes(buf []byte) ([]byte, int, error) {
	n, consumed, err := readVarInt(buf)
	if err != nil {
		return nil, 0, err
	}
	if uint64(len(buf)-consumed) < n {
		return nil, 0, fmt.Errorf("wire: varbytes: truncated payload")
	}
	out := append([]byte(nil), buf[consumed:consumed+int(n)]...)
	return out, consumed + int(n), nil
}

func putVarString(buf []byte, s string) []byte {
	return putVarBytes(buf, []byte(s))
}

func readVarString(buf []byte) (string, int, error) {
	b, n, err := readVarBytes(buf)
	if err != nil {
		return "", 0, err
	}
	return string(b), n, nil
}
