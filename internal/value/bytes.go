package value

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Bytes is a byte sequence carried inside structured values as an array
// of numbers (the sandbox contract encodes optional byte payloads that
// way, not base64). A nil Bytes encodes as null.
type Bytes []byte

func (b Bytes) MarshalJSON() ([]byte, error) {
	if b == nil {
		return []byte("null"), nil
	}
	var sb strings.Builder
	sb.WriteByte('[')
	for i, v := range b {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(strconv.Itoa(int(v)))
	}
	sb.WriteByte(']')
	return []byte(sb.String()), nil
}

func (b *Bytes) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "null" {
		*b = nil
		return nil
	}
	var nums []json.Number
	if err := json.Unmarshal(data, &nums); err != nil {
		return fmt.Errorf("%w: byte array: %v", ErrDecode, err)
	}
	out := make([]byte, len(nums))
	for i, n := range nums {
		v, err := strconv.ParseUint(n.String(), 10, 8)
		if err != nil {
			return fmt.Errorf("%w: byte value %s out of range", ErrDecode, n)
		}
		out[i] = byte(v)
	}
	*b = out
	return nil
}
