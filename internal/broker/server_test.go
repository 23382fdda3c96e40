package broker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aeriedb/aerie/internal/protocol/wire"
)

// trackingBackend records which primitives ran, so decode-failure tests
// can prove the backend is never touched.
type trackingBackend struct {
	*LocalBackend
	calls []string
}

func (b *trackingBackend) Close(fd uint32) error {
	b.calls = append(b.calls, "close")
	return b.LocalBackend.Close(fd)
}

func (b *trackingBackend) Remove(path string) error {
	b.calls = append(b.calls, "remove")
	return b.LocalBackend.Remove(path)
}

func newTestServer(t *testing.T) (*Server, *trackingBackend) {
	t.Helper()
	local, err := NewLocalBackend(t.TempDir())
	require.NoError(t, err)
	tb := &trackingBackend{LocalBackend: local}
	return NewServer(":0", tb), tb
}

// decodeHeader pulls the opcode echo and status off a response.
func decodeHeader(t *testing.T, resp []byte) (Op, uint16, *wire.Decoder) {
	t.Helper()
	d := wire.NewDecoder(resp)
	op, err := d.Opcode()
	require.NoError(t, err)
	status, err := d.Uint16()
	require.NoError(t, err)
	return Op(op), status, d
}

func TestTruncatedCloseIsProtocolError(t *testing.T) {
	s, tb := newTestServer(t)

	// A CLOSE frame with no fd field at all.
	resp := s.handle(wire.NewEncoder(wire.Opcode(OpClose)).Bytes())

	op, status, d := decodeHeader(t, resp)
	assert.Equal(t, OpClose, op)
	assert.Equal(t, StatusProtocolError, status)

	msg, err := d.String()
	require.NoError(t, err)
	assert.Equal(t, "Encoding problem with CLOSE message", msg)

	// The primitive never ran.
	assert.Empty(t, tb.calls)
}

func TestTruncatedRemoveIsProtocolError(t *testing.T) {
	s, tb := newTestServer(t)

	// A REMOVE whose path length prefix promises bytes that never arrive.
	resp := s.handle(wire.NewEncoder(wire.Opcode(OpRemove)).Uint32(500).Bytes())

	_, status, d := decodeHeader(t, resp)
	assert.Equal(t, StatusProtocolError, status)

	msg, err := d.String()
	require.NoError(t, err)
	assert.Equal(t, "Encoding problem with REMOVE message", msg)
	assert.Empty(t, tb.calls)
}

func TestUnknownOpcodeIsProtocolError(t *testing.T) {
	s, _ := newTestServer(t)

	resp := s.handle(wire.NewEncoder(wire.Opcode(77)).Bytes())

	_, status, d := decodeHeader(t, resp)
	assert.Equal(t, StatusProtocolError, status)

	msg, err := d.String()
	require.NoError(t, err)
	assert.Equal(t, "Encoding problem with OP_77 message", msg)
}

func TestCreateWriteReadLifecycle(t *testing.T) {
	s, _ := newTestServer(t)

	resp := s.handle(wire.NewEncoder(wire.Opcode(OpCreate)).
		String("logs/a.txt").Bool(false).Bytes())
	_, status, d := decodeHeader(t, resp)
	require.Equal(t, StatusOK, status)
	fd, err := d.Uint32()
	require.NoError(t, err)

	resp = s.handle(wire.NewEncoder(wire.Opcode(OpWrite)).
		Uint32(fd).Blob([]byte("hello")).Bytes())
	_, status, d = decodeHeader(t, resp)
	require.Equal(t, StatusOK, status)
	offset, err := d.Uint64()
	require.NoError(t, err)
	written, err := d.Uint32()
	require.NoError(t, err)
	assert.Equal(t, uint64(0), offset)
	assert.Equal(t, uint32(5), written)

	// Rewind and read it back.
	resp = s.handle(wire.NewEncoder(wire.Opcode(OpSeek)).
		Uint32(fd).Uint64(0).Bytes())
	_, status, _ = decodeHeader(t, resp)
	require.Equal(t, StatusOK, status)

	resp = s.handle(wire.NewEncoder(wire.Opcode(OpRead)).
		Uint32(fd).Uint32(64).Bytes())
	_, status, d = decodeHeader(t, resp)
	require.Equal(t, StatusOK, status)
	offset, err = d.Uint64()
	require.NoError(t, err)
	data, err := d.Blob()
	require.NoError(t, err)
	assert.Equal(t, uint64(0), offset)
	assert.Equal(t, []byte("hello"), data)

	resp = s.handle(wire.NewEncoder(wire.Opcode(OpClose)).Uint32(fd).Bytes())
	_, status, _ = decodeHeader(t, resp)
	assert.Equal(t, StatusOK, status)
}

func TestAppendReportsStartOffset(t *testing.T) {
	s, _ := newTestServer(t)

	resp := s.handle(wire.NewEncoder(wire.Opcode(OpCreate)).
		String("a.log").Bool(false).Bytes())
	_, status, d := decodeHeader(t, resp)
	require.Equal(t, StatusOK, status)
	fd, err := d.Uint32()
	require.NoError(t, err)

	resp = s.handle(wire.NewEncoder(wire.Opcode(OpAppend)).
		Uint32(fd).Blob([]byte("12345")).Bytes())
	_, status, d = decodeHeader(t, resp)
	require.Equal(t, StatusOK, status)
	offset, err := d.Uint64()
	require.NoError(t, err)
	assert.Equal(t, uint64(0), offset)

	resp = s.handle(wire.NewEncoder(wire.Opcode(OpAppend)).
		Uint32(fd).Blob([]byte("678")).Bytes())
	_, status, d = decodeHeader(t, resp)
	require.Equal(t, StatusOK, status)
	offset, err = d.Uint64()
	require.NoError(t, err)
	assert.Equal(t, uint64(5), offset)

	resp = s.handle(wire.NewEncoder(wire.Opcode(OpLength)).
		String("a.log").Bytes())
	_, status, d = decodeHeader(t, resp)
	require.Equal(t, StatusOK, status)
	length, err := d.Uint64()
	require.NoError(t, err)
	assert.Equal(t, uint64(8), length)
}

func TestOpenMissingFile(t *testing.T) {
	s, _ := newTestServer(t)

	resp := s.handle(wire.NewEncoder(wire.Opcode(OpOpen)).
		String("nope.txt").Bytes())
	op, status, d := decodeHeader(t, resp)
	assert.Equal(t, OpOpen, op)
	assert.Equal(t, StatusFileNotFound, status)

	// Error responses carry a human-readable message.
	msg, err := d.String()
	require.NoError(t, err)
	assert.NotEmpty(t, msg)
}

func TestCreateExistingWithoutOverwrite(t *testing.T) {
	s, _ := newTestServer(t)

	resp := s.handle(wire.NewEncoder(wire.Opcode(OpCreate)).
		String("x").Bool(false).Bytes())
	_, status, _ := decodeHeader(t, resp)
	require.Equal(t, StatusOK, status)

	resp = s.handle(wire.NewEncoder(wire.Opcode(OpCreate)).
		String("x").Bool(false).Bytes())
	_, status, _ = decodeHeader(t, resp)
	assert.Equal(t, StatusFileExists, status)

	resp = s.handle(wire.NewEncoder(wire.Opcode(OpCreate)).
		String("x").Bool(true).Bytes())
	_, status, _ = decodeHeader(t, resp)
	assert.Equal(t, StatusOK, status)
}

func TestBadFd(t *testing.T) {
	s, _ := newTestServer(t)

	resp := s.handle(wire.NewEncoder(wire.Opcode(OpRead)).
		Uint32(9999).Uint32(10).Bytes())
	_, status, _ := decodeHeader(t, resp)
	assert.Equal(t, StatusBadFd, status)
}

func TestRemove(t *testing.T) {
	s, _ := newTestServer(t)

	resp := s.handle(wire.NewEncoder(wire.Opcode(OpCreate)).
		String("gone").Bool(false).Bytes())
	_, status, d := decodeHeader(t, resp)
	require.Equal(t, StatusOK, status)
	fd, err := d.Uint32()
	require.NoError(t, err)

	resp = s.handle(wire.NewEncoder(wire.Opcode(OpClose)).Uint32(fd).Bytes())
	_, status, _ = decodeHeader(t, resp)
	require.Equal(t, StatusOK, status)

	resp = s.handle(wire.NewEncoder(wire.Opcode(OpRemove)).String("gone").Bytes())
	_, status, _ = decodeHeader(t, resp)
	require.Equal(t, StatusOK, status)

	resp = s.handle(wire.NewEncoder(wire.Opcode(OpLength)).String("gone").Bytes())
	_, status, _ = decodeHeader(t, resp)
	assert.Equal(t, StatusFileNotFound, status)
}

func TestEscapingPathRejected(t *testing.T) {
	s, _ := newTestServer(t)

	resp := s.handle(wire.NewEncoder(wire.Opcode(OpOpen)).
		String("../outside").Bytes())
	_, status, _ := decodeHeader(t, resp)
	assert.NotEqual(t, StatusOK, status)
}
