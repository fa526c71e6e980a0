package forward

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowproxy/core/flow"
)

// fakeRxStream plays only the rx half of the Stream interface: it hands
// out a fixed sequence of chunks, then EOFs. The tx half is never
// invoked on it by forwardOneway, so those methods panic if reached.
type fakeRxStream struct {
	chunks        [][]byte
	idx           int
	pendingBuf    []byte
	pendingOffset int
}

func (f *fakeRxStream) PollRequestSize(ctx context.Context) (flow.SizeHint, error) {
	return flow.SizeHint{}, nil
}
func (f *fakeRxStream) PollTxBuffer(ctx context.Context, size int) ([]byte, int, error) {
	panic("fakeRxStream is never used as tx")
}
func (f *fakeRxStream) CommitTxBuffer(buf []byte) error {
	panic("fakeRxStream is never used as tx")
}
func (f *fakeRxStream) CommitRxBuffer(buf []byte, offset int) ([]byte, error) {
	f.pendingBuf = buf
	f.pendingOffset = offset
	return nil, nil
}
func (f *fakeRxStream) PollRxBuffer(ctx context.Context) ([]byte, error) {
	if f.idx >= len(f.chunks) {
		return f.pendingBuf[:f.pendingOffset], flow.ErrEOF
	}
	chunk := f.chunks[f.idx]
	f.idx++
	n := copy(f.pendingBuf[f.pendingOffset:], chunk)
	return f.pendingBuf[:f.pendingOffset+n], nil
}
func (f *fakeRxStream) PollCloseTx(ctx context.Context) error {
	panic("fakeRxStream is never used as tx")
}

// fakeTxStream plays only the tx half: it lends buffers with a 4-byte
// reserved prefix and records every committed payload.
type fakeTxStream struct {
	written [][]byte
	closed  bool
}

func (f *fakeTxStream) PollRequestSize(ctx context.Context) (flow.SizeHint, error) {
	panic("fakeTxStream is never used as rx")
}
func (f *fakeTxStream) PollTxBuffer(ctx context.Context, size int) ([]byte, int, error) {
	return make([]byte, size+4), 4, nil
}
func (f *fakeTxStream) CommitTxBuffer(buf []byte) error {
	f.written = append(f.written, append([]byte(nil), buf[4:]...))
	return nil
}
func (f *fakeTxStream) CommitRxBuffer(buf []byte, offset int) ([]byte, error) {
	panic("fakeTxStream is never used as rx")
}
func (f *fakeTxStream) PollRxBuffer(ctx context.Context) ([]byte, error) {
	panic("fakeTxStream is never used as rx")
}
func (f *fakeTxStream) PollCloseTx(ctx context.Context) error {
	f.closed = true
	return nil
}

func TestForwardOnewayCleanEOF(t *testing.T) {
	rx := &fakeRxStream{chunks: [][]byte{[]byte("hello")}}
	tx := &fakeTxStream{}

	err := forwardOneway(context.Background(), rx, tx)
	require.NoError(t, err)

	require.Len(t, tx.written, 2)
	assert.Equal(t, "hello", string(tx.written[0]))
	assert.Empty(t, tx.written[1])
	assert.True(t, tx.closed)
}

var errBoom = errors.New("boom")

type erroringRxStream struct {
	fakeRxStream
	failOn int
}

func (f *erroringRxStream) PollRxBuffer(ctx context.Context) ([]byte, error) {
	if f.idx >= f.failOn {
		return f.pendingBuf[:f.pendingOffset], errBoom
	}
	return f.fakeRxStream.PollRxBuffer(ctx)
}

func TestForwardOnewayPropagatesNonEOFError(t *testing.T) {
	rx := &erroringRxStream{failOn: 0}
	tx := &fakeTxStream{}

	err := forwardOneway(context.Background(), rx, tx)
	require.ErrorIs(t, err, errBoom)
	// The half-filled buffer is still returned to tx, resized to its
	// reserved prefix, never dropped.
	require.Len(t, tx.written, 1)
	assert.Empty(t, tx.written[0])
	assert.False(t, tx.closed)
}

// pipeEnd is a full-duplex Stream double: data written via
// CommitTxBuffer lands in writeTo, and PollRxBuffer reads from in.
// Making writeTo equal in (see newEchoEnd) models a self-echoing remote.
type pipeEnd struct {
	in            chan []byte
	writeTo       chan []byte
	pendingBuf    []byte
	pendingOffset int
	closeOnce     sync.Once
}

func newEchoEnd() *pipeEnd {
	ch := make(chan []byte, 16)
	return &pipeEnd{in: ch, writeTo: ch}
}

func (p *pipeEnd) PollRequestSize(ctx context.Context) (flow.SizeHint, error) {
	return flow.SizeHint{}, nil
}
func (p *pipeEnd) PollTxBuffer(ctx context.Context, size int) ([]byte, int, error) {
	return make([]byte, size+4), 4, nil
}
func (p *pipeEnd) CommitTxBuffer(buf []byte) error {
	p.writeTo <- append([]byte(nil), buf[4:]...)
	return nil
}
func (p *pipeEnd) CommitRxBuffer(buf []byte, offset int) ([]byte, error) {
	p.pendingBuf = buf
	p.pendingOffset = offset
	return nil, nil
}
func (p *pipeEnd) PollRxBuffer(ctx context.Context) ([]byte, error) {
	chunk, ok := <-p.in
	if !ok {
		return p.pendingBuf[:p.pendingOffset], flow.ErrEOF
	}
	n := copy(p.pendingBuf[p.pendingOffset:], chunk)
	return p.pendingBuf[:p.pendingOffset+n], nil
}
func (p *pipeEnd) PollCloseTx(ctx context.Context) error {
	p.closeOnce.Do(func() { close(p.writeTo) })
	return nil
}

func TestForwardStreamsEchoRoundTrip(t *testing.T) {
	localIn := make(chan []byte, 4)
	localIn <- []byte("hello")
	close(localIn)
	local := &pipeEnd{in: localIn, writeTo: make(chan []byte, 4)}
	remote := newEchoEnd()

	err := ForwardStreams(context.Background(), local, remote)
	require.NoError(t, err)

	received := <-local.writeTo
	assert.Equal(t, "hello", string(received))
}
