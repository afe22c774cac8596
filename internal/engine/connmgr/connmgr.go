// Package connmgr is the per-core connection store: a fixed-capacity arena of
// connection records plus two indexes (by client tuple, by proxy ephemeral
// port) storing arena indices, and a free-list stack of indices. No index
// ever owns a record; the arena does.
package connmgr

import (
	"github.com/thushan/oxide/internal/core/domain"
)

// Manager is a per-core connection pool. It is not safe for concurrent use —
// the owning pipeline is single-threaded.
type Manager struct {
	arena        []domain.Connection
	byClient     map[domain.ClientKey]int
	byProxyPort  map[uint16]int
	freeList     []int // stack of free arena indices
	portFreeList []uint16
	capacity     int
}

// Config seeds the manager's fixed capacity and the per-core ephemeral-port
// range it owns (disjoint from other cores', per §3 invariant 5).
type Config struct {
	Capacity     int
	PortRangeLo  uint16
	PortRangeHi  uint16 // inclusive
}

func New(cfg Config) *Manager {
	if cfg.Capacity <= 0 {
		panic("connmgr: capacity must be positive")
	}
	m := &Manager{
		arena:       make([]domain.Connection, cfg.Capacity),
		byClient:    make(map[domain.ClientKey]int, cfg.Capacity),
		byProxyPort: make(map[uint16]int, cfg.Capacity),
		freeList:    make([]int, cfg.Capacity),
		capacity:    cfg.Capacity,
	}
	for i := 0; i < cfg.Capacity; i++ {
		m.arena[i].SetIndex(i)
		m.freeList[i] = cfg.Capacity - 1 - i
	}
	for p := int(cfg.PortRangeLo); p <= int(cfg.PortRangeHi); p++ {
		m.portFreeList = append(m.portFreeList, uint16(p))
	}
	return m
}

// Capacity returns the fixed arena size.
func (m *Manager) Capacity() int { return m.capacity }

// Active returns the number of currently allocated records.
func (m *Manager) Active() int { return m.capacity - len(m.freeList) }

// GetOrAllocateClient returns the existing record for key, or draws a fresh
// one from the free list. isNew distinguishes the two cases so the caller
// (state machine) knows whether to treat this as a duplicate SYN.
func (m *Manager) GetOrAllocateClient(key domain.ClientKey) (*domain.Connection, bool, error) {
	if idx, ok := m.byClient[key]; ok {
		return &m.arena[idx], false, nil
	}
	if len(m.freeList) == 0 {
		return nil, false, domain.NewExhaustedError("pool", m.capacity)
	}
	if len(m.portFreeList) == 0 {
		return nil, false, domain.NewExhaustedError("ports", len(m.portFreeList))
	}

	idx := m.freeList[len(m.freeList)-1]
	m.freeList = m.freeList[:len(m.freeList)-1]

	port := m.portFreeList[len(m.portFreeList)-1]
	m.portFreeList = m.portFreeList[:len(m.portFreeList)-1]

	conn := &m.arena[idx]
	conn.Reset()
	conn.ClientKey = key
	conn.ProxyPort = port

	m.byClient[key] = idx
	m.byProxyPort[port] = idx

	return conn, true, nil
}

// GetByProxyPort resolves a handle for a server-direction packet.
func (m *Manager) GetByProxyPort(port uint16) (*domain.Connection, bool) {
	idx, ok := m.byProxyPort[port]
	if !ok {
		return nil, false
	}
	return &m.arena[idx], true
}

// GetByClientKey resolves a handle for a client-direction packet.
func (m *Manager) GetByClientKey(key domain.ClientKey) (*domain.Connection, bool) {
	idx, ok := m.byClient[key]
	if !ok {
		return nil, false
	}
	return &m.arena[idx], true
}

// Release removes both index entries, stamps the release cause, resets
// user-data and returns the record and its ephemeral port to their free
// lists. Safe to call once per allocation; calling it twice for the same
// handle is a caller bug (arena-index reuse would otherwise corrupt state).
func (m *Manager) Release(conn *domain.Connection, cause domain.ReleaseCause) {
	conn.Cause = cause

	delete(m.byClient, conn.ClientKey)
	delete(m.byProxyPort, conn.ProxyPort)

	idx := conn.Index()
	port := conn.ProxyPort

	conn.Reset()
	conn.BumpGeneration()

	m.freeList = append(m.freeList, idx)
	if port != 0 {
		m.portFreeList = append(m.portFreeList, port)
	}
}
