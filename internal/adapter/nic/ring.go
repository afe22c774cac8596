// Package nic provides the default Receiver/Transmitter/kni.ControlRing
// implementations that back the pipeline's NIC seam when no DPDK poll-mode
// driver is wired in: a bounded channel standing in for the RX/TX rings, so
// the engine runs end to end against an injectable frame source (tests, a
// packet-capture replay, or a future poll-mode driver adapter) without the
// pipeline package ever depending on a concrete driver.
package nic

import (
	"github.com/thushan/oxide/internal/core/domain"
	"github.com/thushan/oxide/internal/engine/classifier"
	"github.com/thushan/oxide/internal/engine/proxystate"
	"github.com/thushan/oxide/pkg/pool"
)

// payloadBufSize is the per-buffer capacity drawn from the packet buffer
// free list; large enough for one full segment payload without the
// reassembly cap (domain.MaxBufferedPayload).
const payloadBufSize = domain.MaxBufferedPayload

// Ring is a bounded, non-blocking frame queue used both as a Receiver (RX
// side) and a Transmitter sink (TX side). Producers feed it from Inject;
// consumers drain it via Recv without blocking, matching the per-core
// scheduler's bounded-work-per-turn model. TX payload bytes are copied out
// of a pooled free list so a connection's reused BufferedPayload backing
// array is never retained past the Send call that copied it.
type Ring struct {
	rx  chan classifier.Frame
	tx  chan TxRecord
	buf *pool.Pool[*[]byte]
}

// TxRecord captures one translated segment handed to the transmitter, for
// whatever sits downstream of this seam (loopback test harness, pcap writer,
// a future poll-mode driver). Payload is a pooled buffer; callers must call
// Ring.Release once they're done with it.
type TxRecord struct {
	ToServer bool
	Conn     *domain.Connection
	Seg      proxystate.Segment
	payload  *[]byte
}

// NewRing allocates a ring with the given RX/TX buffer depths.
func NewRing(rxDepth, txDepth int) *Ring {
	return &Ring{
		rx: make(chan classifier.Frame, rxDepth),
		tx: make(chan TxRecord, txDepth),
		buf: pool.NewLitePool(func() *[]byte {
			b := make([]byte, 0, payloadBufSize)
			return &b
		}),
	}
}

// Inject enqueues a frame for the next Recv call; it never blocks, dropping
// the frame if the RX buffer is full (the NIC would drop on an overrun too).
func (r *Ring) Inject(f classifier.Frame) bool {
	select {
	case r.rx <- f:
		return true
	default:
		return false
	}
}

// Recv implements pipeline.Receiver: drains up to max queued frames without
// blocking.
func (r *Ring) Recv(max int) []classifier.Frame {
	frames := make([]classifier.Frame, 0, max)
	for i := 0; i < max; i++ {
		select {
		case f := <-r.rx:
			frames = append(frames, f)
		default:
			return frames
		}
	}
	return frames
}

// Send implements pipeline.Transmitter: copies the segment's payload into a
// pooled buffer (so the connection's own BufferedPayload backing array can
// be reused the instant this call returns) and hands the record to the TX
// buffer, dropping it if the consumer isn't keeping up.
func (r *Ring) Send(toServer bool, conn *domain.Connection, seg proxystate.Segment) {
	var payload *[]byte
	if len(seg.Payload) > 0 {
		payload = r.buf.Get()
		*payload = append((*payload)[:0], seg.Payload...)
		seg.Payload = *payload
	}

	select {
	case r.tx <- TxRecord{ToServer: toServer, Conn: conn, Seg: seg, payload: payload}:
	default:
		if payload != nil {
			r.buf.Put(payload)
		}
	}
}

// DrainTx pulls up to max pending TX records off the ring, for a test
// harness or loopback consumer to inspect. Callers must pass each record to
// Release once its payload is no longer needed.
func (r *Ring) DrainTx(max int) []TxRecord {
	records := make([]TxRecord, 0, max)
	for i := 0; i < max; i++ {
		select {
		case rec := <-r.tx:
			records = append(records, rec)
		default:
			return records
		}
	}
	return records
}

// Release returns a drained record's payload buffer to the free list.
func (r *Ring) Release(rec TxRecord) {
	if rec.payload != nil {
		r.buf.Put(rec.payload)
	}
}
