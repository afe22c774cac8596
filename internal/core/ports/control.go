package ports

import "github.com/thushan/oxide/internal/core/domain"

// ControlMessage is sent data-plane -> control thread over the per-pipeline
// event bus. Exactly one variant field is populated per message; Kind selects
// which.
type ControlMessageKind uint8

const (
	MsgChannel ControlMessageKind = iota
	MsgTask
	MsgEstablished
	MsgCounter
	MsgCRecords
	MsgGenTimeStamp
	MsgTimeStamps
	MsgStartEngine
	MsgPrintPerformance
	MsgFetchCounter
	MsgFetchCRecords
	MsgExit
)

type ControlMessage struct {
	Pipeline int
	Kind     ControlMessageKind

	// MsgTask
	TaskUUID string
	TaskType string

	// MsgEstablished
	Record *domain.Connection

	// MsgCounter
	TCPCounterClient uint64
	TCPCounterServer uint64
	TXCounter        uint64

	// MsgCRecords
	ClientMap map[domain.ClientKey]*domain.Connection
	ServerMap map[uint16]*domain.Connection

	// MsgGenTimeStamp
	Label string
	Count uint64
	Tsc0  uint64
	Tsc1  uint64

	// MsgTimeStamps
	T0 uint64
	T1 uint64

	// MsgPrintPerformance
	CoreIndices []int
}

// ReplyMessageKind mirrors the control-thread -> data-plane reply surface.
type ReplyMessageKind uint8

const (
	ReplyFetchCounter ReplyMessageKind = iota
	ReplyFetchCRecords
	ReplyStartGenerator
	ReplyCounter
	ReplyCRecords
	ReplyExit
)

type ReplyMessage struct {
	ReplyKind        ReplyMessageKind
	Pipeline         int
	TCPCounterClient uint64
	TCPCounterServer uint64
	TXCounter        uint64
}
