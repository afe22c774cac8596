// Package classifier demuxes a received frame into one of the pipeline's
// downstream paths: ARP reply, KNI punt, client-side lookup, server-side
// lookup. It never mutates connection state, only resolves a handle.
package classifier

import (
	"github.com/thushan/oxide/internal/core/domain"
	"github.com/thushan/oxide/internal/core/ports"
	"github.com/thushan/oxide/internal/engine/connmgr"
)

type Action uint8

const (
	ActionARPReply Action = iota
	ActionToKNI
	ActionClientPath
	ActionServerPath
	ActionRSTNoHandle
)

// Frame is the minimal parsed header view the classifier needs. The NIC
// driver and zero-copy buffer allocator that produce it are out of scope;
// Frame is the seam between that external collaborator and this pipeline.
type Frame struct {
	EtherType  uint16
	IsIPv4     bool
	IPProtoTCP bool
	SrcIP      [4]byte
	DstIP      [4]byte
	SrcPort    uint16
	DstPort    uint16
	ARPTarget  [4]byte

	// TCP header fields, present only when IPProtoTCP is set.
	TCPFlags uint8
	Seq      uint32
	Ack      uint32
	MSS      uint16
	WSS      uint16
	Payload  []byte
}

const (
	TCPFlagFIN uint8 = 1 << 0
	TCPFlagSYN uint8 = 1 << 1
	TCPFlagRST uint8 = 1 << 2
	TCPFlagACK uint8 = 1 << 4
)

const (
	etherTypeARP  uint16 = 0x0806
	etherTypeIPv4 uint16 = 0x0800
	ipProtoTCP    uint8  = 6
)

// Config gives the classifier the proxy's identity and the ephemeral port
// range partitioned to this core, so it can tell client-side from
// server-side traffic (spec step 4 vs step 5) without consulting the
// connection manager first.
type Config struct {
	ProxyIP     [4]byte
	ListenPort  uint16
	EphemeralLo uint16
	EphemeralHi uint16
}

type Classifier struct {
	cfg   Config
	mgr   *connmgr.Manager
	admit ports.ConnectionAdmitter
}

func New(cfg Config, mgr *connmgr.Manager) *Classifier {
	return &Classifier{cfg: cfg, mgr: mgr}
}

// WithAdmitter installs a ConnectionAdmitter consulted for every SYN that
// would otherwise allocate a new connection record, ahead of pool
// exhaustion (spec 7, "Resource exhaustion"). Nil disables admission
// control entirely.
func (c *Classifier) WithAdmitter(admit ports.ConnectionAdmitter) *Classifier {
	c.admit = admit
	return c
}

// Classify resolves a frame to an action and, for client/server paths, the
// connection handle (nil if no handle could be resolved — caller then RSTs).
func (c *Classifier) Classify(f Frame) (Action, *domain.Connection) {
	if f.EtherType == etherTypeARP && f.ARPTarget == c.cfg.ProxyIP {
		return ActionARPReply, nil
	}

	if f.DstIP != c.cfg.ProxyIP {
		return ActionToKNI, nil
	}

	if !f.IPProtoTCP {
		return ActionToKNI, nil
	}

	if f.DstPort == c.cfg.ListenPort {
		key := domain.NewClientKey(ipOf(f.SrcIP), ipOf(f.DstIP), f.SrcPort, f.DstPort)
		if _, exists := c.mgr.GetByClientKey(key); !exists && c.admit != nil && !c.admit.Allow(f.SrcIP) {
			return ActionRSTNoHandle, nil
		}
		conn, _, err := c.mgr.GetOrAllocateClient(key)
		if err != nil {
			return ActionRSTNoHandle, nil
		}
		return ActionClientPath, conn
	}

	if f.DstPort >= c.cfg.EphemeralLo && f.DstPort <= c.cfg.EphemeralHi {
		conn, ok := c.mgr.GetByProxyPort(f.DstPort)
		if !ok {
			return ActionRSTNoHandle, nil
		}
		return ActionServerPath, conn
	}

	return ActionToKNI, nil
}

func ipOf(b [4]byte) []byte { return b[:] }
