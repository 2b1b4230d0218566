package registry

import (
	"github.com/vmihailenco/msgpack/v5"

	"github.com/strandio/strand/engine"
)

// Suspension is the serializable state of a paused instance: which
// program it runs, which step re-enters it, and its variable slots.
// Values in Vars must round-trip through the codec; channels,
// continuations and other live handles do not belong in a suspension.
type Suspension struct {
	ProgramHash string          `msgpack:"hash" json:"hash"`
	Step        int             `msgpack:"step" json:"step"`
	Vars        engine.Snapshot `msgpack:"vars" json:"vars"`
}

// Codec serializes suspensions for storage or transport.
type Codec interface {
	Encode(s *Suspension) ([]byte, error)
	Decode(data []byte) (*Suspension, error)
	Name() string
}

// MsgpackCodec encodes suspensions as MessagePack.
type MsgpackCodec struct{}

func (c *MsgpackCodec) Encode(s *Suspension) ([]byte, error) {
	return msgpack.Marshal(s)
}

func (c *MsgpackCodec) Decode(data []byte) (*Suspension, error) {
	var s Suspension
	if err := msgpack.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (c *MsgpackCodec) Name() string { return "msgpack" }
