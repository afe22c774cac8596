package domain

import "net"

// MaxBufferedPayload bounds the client payload buffered while the server-side
// handshake is outstanding. A second client segment arriving in that window is
// concatenated up to this cap; bytes beyond it are dropped (the client will
// retransmit, per TCP semantics — never acknowledged to the client early).
const MaxBufferedPayload = 16 * 1024

// UserData is an opaque per-connection attachment for application-level
// extensions (select_server / process_payload). TypeID lets a consumer assert
// the concrete type it expects without nullable shared ownership.
type UserData interface {
	TypeID() string
}

// Timestamps captures the monotonic cycle counts used to derive setup latency
// and connection hold time for emitted connection records.
type Timestamps struct {
	SynReceived uint64
	SynSent     uint64
	AckReceived uint64
	AckSent     uint64
}

// ServerIdentity names the backend a connection was spliced to.
type ServerIdentity struct {
	Tag         string
	TargetIndex int
}

// Connection is the central per-flow control block. It is owned exclusively by
// the core that allocated it; only that core's pipeline ever mutates it.
type Connection struct {
	UserData UserData

	ClientKey ClientKey
	ClientTup FourTuple
	ServerTup FourTuple
	Server    ServerIdentity

	BufferedPayload []byte

	ClientState TCPState
	ServerState TCPState
	Cause       ReleaseCause

	// ClosedBy latches whichever side's FIN was received first, so the
	// eventual release cause reflects who actually initiated the close
	// rather than being re-derived from state that's identical on both
	// sides by the time the connection reaches Closed.
	ClosedBy ReleaseCause

	ClientISN uint32
	ProxyISN  uint32
	ServerISN uint32
	ProxyISN2 uint32

	// DeltaC2S/DeltaS2C are signed 32-bit modular offsets added to incoming
	// sequence/ack numbers so the client's and server's independent ISN
	// spaces present as one coherent stream on the other side.
	DeltaC2S int32
	DeltaS2C int32

	ClientMSS uint16
	ClientWSS uint16

	ProxyPort uint16

	Deadline   uint64
	WheelSlot  int
	WheelIndex int // 0 = handshake wheel, 1 = established wheel

	Timestamps Timestamps

	ClientMAC net.HardwareAddr
	ServerMAC net.HardwareAddr

	// arena bookkeeping, managed exclusively by connmgr
	index   int
	inUse   bool
	genID   uint32
}

// Reset zeroes mutable fields so the record is safe to hand to a new flow.
// Called by the connection manager on release, never by application code.
func (c *Connection) Reset() {
	c.UserData = nil
	c.ClientKey = ClientKey{}
	c.ClientTup = FourTuple{}
	c.ServerTup = FourTuple{}
	c.Server = ServerIdentity{}
	if c.BufferedPayload != nil {
		c.BufferedPayload = c.BufferedPayload[:0]
	}
	c.ClientState = Listen
	c.ServerState = Listen
	c.Cause = CauseNone
	c.ClosedBy = CauseNone
	c.ClientISN = 0
	c.ProxyISN = 0
	c.ServerISN = 0
	c.ProxyISN2 = 0
	c.DeltaC2S = 0
	c.DeltaS2C = 0
	c.ClientMSS = 0
	c.ClientWSS = 0
	c.ProxyPort = 0
	c.Deadline = 0
	c.WheelSlot = 0
	c.WheelIndex = 0
	c.Timestamps = Timestamps{}
	c.ClientMAC = nil
	c.ServerMAC = nil
}

// Index returns the connection's arena slot, stable for its whole lifetime
// (not reused until Release has returned it to the free list).
func (c *Connection) Index() int { return c.index }

// SetIndex stamps the arena slot this record lives in. Called once by
// connmgr at arena construction time, never by application code.
func (c *Connection) SetIndex(i int) { c.index = i }

// Generation disambiguates stale handles after the slot has been recycled.
func (c *Connection) Generation() uint32 { return c.genID }

// BumpGeneration increments the handle generation on release.
func (c *Connection) BumpGeneration() { c.genID++ }
