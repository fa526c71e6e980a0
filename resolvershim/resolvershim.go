// Package resolvershim adapts datagram session factories from the plugin
// graph to the socket-shaped API an external DNS resolution library
// expects in place of a real UDP socket: a process-wide registry maps a
// synthetic IPv4 address back to the factory that should actually handle
// traffic "sent" to it.
package resolvershim

import (
	"context"
	"encoding/binary"
	"errors"
	"net/netip"
	"sync"

	"github.com/flowproxy/core/flow"
	"github.com/flowproxy/core/registry"
)

var (
	ErrNotConnected      = errors.New("resolvershim: socket is not connected")
	ErrNotFound          = errors.New("resolvershim: no factory registered for address")
	ErrConnectionRefused = errors.New("resolvershim: bind failed")
	ErrConnectionAborted = errors.New("resolvershim: factory is no longer alive")
	ErrConnectionReset   = errors.New("resolvershim: session closed")
)

// factoryRegistry is the process-wide id -> weak factory table. Readers
// (the first WriteTo of each socket, which binds it) take the read lock;
// writers only run on Register and Unregister. The read lock is released before awaiting a bind, since
// binding never needs it again once the factory handle is upgraded.
var factoryRegistry struct {
	sync.RWMutex
	nextID    uint32
	factories map[uint32]registry.DatagramOutboundHandle
}

func init() {
	factoryRegistry.factories = make(map[uint32]registry.DatagramOutboundHandle)
}

// Register assigns a fresh id to factory and returns both the id and the
// synthetic IPv4 address it is encoded as.
func Register(factory registry.DatagramOutboundHandle) (id uint32, addr netip.Addr) {
	factoryRegistry.Lock()
	defer factoryRegistry.Unlock()
	id = factoryRegistry.nextID
	factoryRegistry.nextID++
	factoryRegistry.factories[id] = factory
	return id, EncodeAddr(id)
}

// Unregister removes id's entry. Sockets already bound against it are
// unaffected; only future binds are prevented.
func Unregister(id uint32) {
	factoryRegistry.Lock()
	defer factoryRegistry.Unlock()
	delete(factoryRegistry.factories, id)
}

func lookup(id uint32) (registry.DatagramOutboundHandle, bool) {
	factoryRegistry.RLock()
	defer factoryRegistry.RUnlock()
	h, ok := factoryRegistry.factories[id]
	return h, ok
}

// EncodeAddr renders id as the synthetic IPv4 address the shim uses in
// place of a real peer address.
func EncodeAddr(id uint32) netip.Addr {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], id)
	return netip.AddrFrom4(b)
}

// DecodeID recovers the id a synthetic address was built from. ok is
// false if addr is not an IPv4 address.
func DecodeID(addr netip.Addr) (id uint32, ok bool) {
	if !addr.Is4() {
		return 0, false
	}
	b := addr.As4()
	return binary.BigEndian.Uint32(b[:]), true
}

type bindResult struct {
	session flow.DatagramSession
	err     error
}

type socketState struct {
	id       uint32
	bindDone chan struct{}
	result   bindResult
}

// Socket is a DatagramSocket-shaped adapter: a resolution library sees
// something it can WriteTo/ReadFrom/Close like a UDP socket, but every
// destination address it uses is actually a synthetic id standing in for
// a registered DatagramSessionFactory. The first WriteTo's destination
// address picks (and binds) the factory for the socket's lifetime;
// ReadFrom and subsequent WriteTo calls reuse that one session.
type Socket struct {
	mu    sync.Mutex
	state *socketState
}

// NewSocket returns an unbound socket. It becomes bound to whichever
// factory its first WriteTo targets.
func NewSocket() *Socket {
	return &Socket{}
}

func (s *Socket) bindLocked(ctx context.Context, target netip.AddrPort) (*socketState, error) {
	if s.state != nil {
		return s.state, nil
	}
	id, ok := DecodeID(target.Addr())
	if !ok {
		return nil, ErrNotFound
	}
	handle, ok := lookup(id)
	if !ok {
		return nil, ErrNotFound
	}
	factory, ok := handle.Upgrade()
	if !ok {
		return nil, ErrConnectionAborted
	}

	st := &socketState{id: id, bindDone: make(chan struct{})}
	s.state = st
	fctx := &flow.FlowContext{
		LocalPeer:  target,
		RemotePeer: flow.DestinationAddr{Host: flow.IPHostName(target.Addr()), Port: 53},
	}
	go func() {
		session, err := factory.Bind(ctx, fctx)
		st.result = bindResult{session: session, err: err}
		close(st.bindDone)
	}()
	return st, nil
}

func waitBound(ctx context.Context, st *socketState) (flow.DatagramSession, error) {
	select {
	case <-st.bindDone:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if st.result.err != nil {
		return nil, ErrConnectionRefused
	}
	return st.result.session, nil
}

// WriteTo sends buf to target, binding the socket to target's factory on
// the first call. Subsequent calls ignore target's id and reuse the
// already-bound session, matching the resolution library's own
// assumption that a socket talks to one peer.
func (s *Socket) WriteTo(ctx context.Context, buf []byte, target netip.AddrPort) (int, error) {
	s.mu.Lock()
	st, err := s.bindLocked(ctx, target)
	s.mu.Unlock()
	if err != nil {
		return 0, err
	}

	session, err := waitBound(ctx, st)
	if err != nil {
		return 0, err
	}
	if err := session.PollSendReady(ctx); err != nil {
		return 0, err
	}
	session.SendTo(flow.DestinationAddr{Host: flow.IPHostName(target.Addr()), Port: target.Port()}, buf)
	return len(buf), nil
}

// ReadFrom waits for the next packet on the bound session and copies it
// into buf, reporting a synthetic source address so the caller treats it
// as having come from the peer the socket is bound to (the target of its
// first WriteTo).
func (s *Socket) ReadFrom(ctx context.Context, buf []byte) (n int, from netip.AddrPort, err error) {
	s.mu.Lock()
	st := s.state
	s.mu.Unlock()
	if st == nil {
		return 0, netip.AddrPort{}, ErrNotConnected
	}

	session, err := waitBound(ctx, st)
	if err != nil {
		return 0, netip.AddrPort{}, err
	}
	_, chunk, ok, err := session.PollRecvFrom(ctx)
	if err != nil {
		return 0, netip.AddrPort{}, err
	}
	if !ok {
		return 0, netip.AddrPort{}, ErrConnectionReset
	}
	n = copy(buf, chunk)
	return n, netip.AddrPortFrom(EncodeAddr(st.id), 53), nil
}

// Close tears the socket down. If a session was or becomes ready, its
// shutdown is scheduled fire-and-forget rather than awaited here.
func (s *Socket) Close() error {
	s.mu.Lock()
	st := s.state
	s.state = nil
	s.mu.Unlock()
	if st == nil {
		return nil
	}
	go func() {
		<-st.bindDone
		if st.result.err == nil && st.result.session != nil {
			_ = st.result.session.PollShutdown(context.Background())
		}
	}()
	return nil
}
