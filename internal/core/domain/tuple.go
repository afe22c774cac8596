package domain

import (
	"fmt"
	"net"
)

// FourTuple identifies one half of a spliced connection: source IP/port and
// destination IP/port as seen on the wire for that half.
type FourTuple struct {
	SrcIP   [4]byte
	DstIP   [4]byte
	SrcPort uint16
	DstPort uint16
}

func NewFourTuple(srcIP, dstIP net.IP, srcPort, dstPort uint16) FourTuple {
	var t FourTuple
	copy(t.SrcIP[:], srcIP.To4())
	copy(t.DstIP[:], dstIP.To4())
	t.SrcPort = srcPort
	t.DstPort = dstPort
	return t
}

func (t FourTuple) String() string {
	return fmt.Sprintf("%s:%d->%s:%d", net.IP(t.SrcIP[:]), t.SrcPort, net.IP(t.DstIP[:]), t.DstPort)
}

// ClientKey is the index key into the by-client-tuple map: client IP/port and
// the proxy IP/listen-port the SYN arrived on.
type ClientKey struct {
	ClientIP   [4]byte
	ProxyIP    [4]byte
	ClientPort uint16
	ProxyPort  uint16
}

func NewClientKey(clientIP, proxyIP net.IP, clientPort, proxyPort uint16) ClientKey {
	var k ClientKey
	copy(k.ClientIP[:], clientIP.To4())
	copy(k.ProxyIP[:], proxyIP.To4())
	k.ClientPort = clientPort
	k.ProxyPort = proxyPort
	return k
}

func (k ClientKey) String() string {
	return fmt.Sprintf("%s:%d->%s:%d", net.IP(k.ClientIP[:]), k.ClientPort, net.IP(k.ProxyIP[:]), k.ProxyPort)
}
