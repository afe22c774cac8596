package proxystate

// Sequence arithmetic is modulo 2^32 by construction: Go's uint32 add/sub
// wraps natively, which is exactly the semantics TCP sequence numbers need.
// Deltas are carried as int32 so a "negative" offset wraps the same way a
// positive one does.

func seqAdd(seq uint32, delta int32) uint32 {
	return seq + uint32(delta)
}

func seqSub(seq uint32, delta int32) uint32 {
	return seq - uint32(delta)
}

// translateClientToServer rewrites a client-direction segment's seq/ack so
// the server sees its own ISN space: seq += delta_c2s, ack -= delta_s2c.
func translateClientToServer(seg Segment, deltaC2S, deltaS2C int32) Segment {
	seg.Seq = seqAdd(seg.Seq, deltaC2S)
	if seg.Flags.Has(FlagACK) {
		seg.Ack = seqSub(seg.Ack, deltaS2C)
	}
	return seg
}

// translateServerToClient rewrites a server-direction segment's seq/ack so
// the client sees its own ISN space: seq += delta_s2c, ack -= delta_c2s.
func translateServerToClient(seg Segment, deltaC2S, deltaS2C int32) Segment {
	seg.Seq = seqAdd(seg.Seq, deltaS2C)
	if seg.Flags.Has(FlagACK) {
		seg.Ack = seqSub(seg.Ack, deltaC2S)
	}
	return seg
}
