package queue

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Offset type names accepted by ParseOffset.
const (
	OffsetTypeInt    = "int"
	OffsetTypeString = "string"
)

// Offset is a stream read position: an absolute integer position or an opaque
// broker token such as "first", "last" or "next".
type Offset struct {
	position int64
	token    string
	isToken  bool
}

// PositionOffset returns an absolute integer offset.
func PositionOffset(position int64) Offset {
	return Offset{position: position}
}

// TokenOffset returns an opaque string offset.
func TokenOffset(token string) Offset {
	return Offset{token: token, isToken: true}
}

// IsPosition reports whether the offset is an integer position.
func (o Offset) IsPosition() bool { return !o.isToken }

// Position returns the integer position. It is 0 for token offsets.
func (o Offset) Position() int64 { return o.position }

// Token returns the string token. It is empty for position offsets.
func (o Offset) Token() string { return o.token }

// Next returns the position following o. Token offsets are returned unchanged.
func (o Offset) Next() Offset {
	if o.isToken {
		return o
	}
	return PositionOffset(o.position + 1)
}

func (o Offset) String() string {
	if o.isToken {
		return o.token
	}
	return strconv.FormatInt(o.position, 10)
}

// Type returns OffsetTypeInt or OffsetTypeString.
func (o Offset) Type() string {
	if o.isToken {
		return OffsetTypeString
	}
	return OffsetTypeInt
}

// Equal reports whether both offsets have the same kind and value.
func (o Offset) Equal(other Offset) bool {
	return o == other
}

// MarshalJSON encodes positions as JSON numbers and tokens as JSON strings.
func (o Offset) MarshalJSON() ([]byte, error) {
	if o.isToken {
		return json.Marshal(o.token)
	}
	return []byte(strconv.FormatInt(o.position, 10)), nil
}

// UnmarshalJSON accepts a JSON number or a JSON string.
func (o *Offset) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var token string
		if err := json.Unmarshal(data, &token); err != nil {
			return err
		}
		*o = TokenOffset(token)
		return nil
	}
	position, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return Error(ErrInvalidOffsetType, fmt.Sprintf("offset %s is neither an integer nor a string", string(data)))
	}
	*o = PositionOffset(position)
	return nil
}

// ParseOffset converts an administrative input into an Offset of the declared type.
// An "int" value must round-trip exactly ("007" or "1e3" are rejected) so a
// relative token is never silently coerced into a position.
func ParseOffset(value, offsetType string) (Offset, error) {
	switch strings.ToLower(strings.TrimSpace(offsetType)) {
	case "", OffsetTypeInt:
		position, err := strconv.ParseInt(value, 10, 64)
		if err != nil || strconv.FormatInt(position, 10) != value {
			return Offset{}, Error(ErrInvalidOffsetType, fmt.Sprintf("offset %q cannot be used as int, use type string for relative offsets", value))
		}
		return PositionOffset(position), nil
	case OffsetTypeString:
		if strings.TrimSpace(value) == "" {
			return Offset{}, Error(ErrInvalidOffsetType, "string offset must not be empty")
		}
		return TokenOffset(value), nil
	default:
		return Offset{}, Error(ErrInvalidOffsetType, fmt.Sprintf("type must be either %q or %q, %q given", OffsetTypeInt, OffsetTypeString, offsetType))
	}
}
