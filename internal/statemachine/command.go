package statemachine

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

var ErrBadCommand = errors.New("statemachine: malformed command")

const (
	fieldKey       protowire.Number = 1
	fieldValue     protowire.Number = 2
	fieldWriter    protowire.Number = 3
	fieldTimestamp protowire.Number = 4
	fieldOpID      protowire.Number = 5
)

// Command is a write routed through the replicated log.
type Command struct {
	Key       string
	Value     []byte
	Writer    string
	Timestamp int64
	OpID      string
}

func (c Command) Marshal() []byte {
	b := make([]byte, 0, len(c.Key)+len(c.Value)+len(c.Writer)+len(c.OpID)+24)
	b = protowire.AppendTag(b, fieldKey, protowire.BytesType)
	b = protowire.AppendString(b, c.Key)
	b = protowire.AppendTag(b, fieldValue, protowire.BytesType)
	b = protowire.AppendBytes(b, c.Value)
	b = protowire.AppendTag(b, fieldWriter, protowire.BytesType)
	b = protowire.AppendString(b, c.Writer)
	b = protowire.AppendTag(b, fieldTimestamp, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(c.Timestamp))
	if c.OpID != "" {
		b = protowire.AppendTag(b, fieldOpID, protowire.BytesType)
		b = protowire.AppendString(b, c.OpID)
	}
	return b
}

func UnmarshalCommand(b []byte) (Command, error) {
	var c Command
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return Command{}, fmt.Errorf("%w: %v", ErrBadCommand, protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case num == fieldTimestamp && typ == protowire.VarintType:
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return Command{}, fmt.Errorf("%w: %v", ErrBadCommand, protowire.ParseError(m))
			}
			c.Timestamp = int64(v)
			n = m
		case typ == protowire.BytesType && num >= fieldKey && num <= fieldOpID:
			v, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return Command{}, fmt.Errorf("%w: %v", ErrBadCommand, protowire.ParseError(m))
			}
			switch num {
			case fieldKey:
				c.Key = string(v)
			case fieldValue:
				c.Value = append([]byte(nil), v...)
			case fieldWriter:
				c.Writer = string(v)
			case fieldOpID:
				c.OpID = string(v)
			}
			n = m
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return Command{}, fmt.Errorf("%w: %v", ErrBadCommand, protowire.ParseError(n))
			}
		}
		b = b[n:]
	}
	if c.Key == "" {
		return Command{}, fmt.Errorf("%w: missing key", ErrBadCommand)
	}
	return c, nil
}
