package coordadapter

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"

	"github.com/aeriedb/aerie/internal/logger"
	"github.com/aeriedb/aerie/internal/protocol/wire"
	"github.com/aeriedb/aerie/pkg/coord"
	"github.com/aeriedb/aerie/pkg/coord/master"
)

// conn is one client connection. Requests on a connection are handled
// sequentially; notification pushes from other goroutines interleave
// between frames under writeMu.
type conn struct {
	nc     net.Conn
	master *master.Master

	writeMu sync.Mutex

	// bound tracks the sessions whose push sink points at this
	// connection, detached when the connection dies.
	boundMu sync.Mutex
	bound   map[coord.SessionID]struct{}
}

func newConn(nc net.Conn, m *master.Master) *conn {
	return &conn{
		nc:     nc,
		master: m,
		bound:  make(map[coord.SessionID]struct{}),
	}
}

func (c *conn) close() {
	c.nc.Close()
}

func (c *conn) serve() {
	remote := c.nc.RemoteAddr().String()
	logger.Debug("client connected", logger.KeyRemoteAddr, remote)

	defer func() {
		c.boundMu.Lock()
		bound := make([]coord.SessionID, 0, len(c.bound))
		for s := range c.bound {
			bound = append(bound, s)
		}
		c.boundMu.Unlock()
		for _, s := range bound {
			c.master.Dispatcher().DetachSink(s)
		}
		c.nc.Close()
		logger.Debug("client disconnected", logger.KeyRemoteAddr, remote)
	}()

	for {
		payload, err := wire.ReadFrame(c.nc)
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				logger.Debug("connection read failed",
					logger.KeyRemoteAddr, remote,
					logger.KeyError, err.Error())
			}
			return
		}

		resp := c.dispatch(payload)
		if err := c.writeFrame(resp); err != nil {
			logger.Debug("connection write failed",
				logger.KeyRemoteAddr, remote,
				logger.KeyError, err.Error())
			return
		}
	}
}

func (c *conn) writeFrame(payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return wire.WriteFrame(c.nc, payload)
}

// bind points the session's push sink at this connection. Called on
// CreateSession and on the first keepalive after a reconnect.
func (c *conn) bind(sess coord.SessionID) {
	c.boundMu.Lock()
	_, already := c.bound[sess]
	c.bound[sess] = struct{}{}
	c.boundMu.Unlock()

	if already {
		return
	}
	c.master.Dispatcher().AttachSink(sess, func(batch []coord.Notification) error {
		return c.writeFrame(encodeNotifyPush(batch))
	})
}

// dispatch decodes one request and produces the response payload. A
// decode failure is answered here with PROTOCOL_ERROR; the operation is
// never invoked on malformed input.
func (c *conn) dispatch(payload []byte) []byte {
	d := wire.NewDecoder(payload)
	op, err := d.Opcode()
	if err != nil {
		return errResp(op, coord.Errf(coord.CodeProtocolError, "missing opcode"))
	}

	h, ok := handlers[op]
	if !ok {
		return errResp(op, coord.Errf(coord.CodeProtocolError, "unknown opcode %d", uint16(op)))
	}

	resp, herr := h(c, d)
	if herr != nil {
		var ce *coord.Error
		if errors.As(herr, &ce) && ce.Code == coord.CodeProtocolError {
			logger.Warn("malformed request",
				logger.KeyOp, op.String(),
				logger.KeyRemoteAddr, c.nc.RemoteAddr().String())
		}
		return errResp(op, herr)
	}
	return resp
}

// decodeErr is the uniform decode-failure error for an operation.
func decodeErr(op wire.Opcode) error {
	return coord.Errf(coord.CodeProtocolError, "Encoding problem with %s message", op)
}

// okResp starts a success response: opcode echo + OK status.
func okResp(op wire.Opcode) *wire.Encoder {
	e := wire.NewEncoder(op)
	e.Uint16(wire.StatusOK)
	return e
}

// errResp builds an error response: opcode echo + status code + message.
// The message is the bare error text; the code travels separately.
func errResp(op wire.Opcode, err error) []byte {
	msg := err.Error()
	var ce *coord.Error
	if errors.As(err, &ce) && ce.Message != "" {
		msg = ce.Message
	}

	e := wire.NewEncoder(op)
	e.Uint16(uint16(coord.CodeOf(err)))
	e.String(msg)
	return e.Bytes()
}

func encodeNotification(e *wire.Encoder, n coord.Notification) {
	e.Uint64(n.Seq)
	e.Uint8(uint8(n.Kind))
	e.Uint64(uint64(n.Handle))
	e.String(n.Path)
	e.String(n.Name)
	e.Uint8(uint8(n.Mode))
}

func encodeNotifyPush(batch []coord.Notification) []byte {
	e := okResp(wire.OpNotify)
	e.Uint32(uint32(len(batch)))
	for _, n := range batch {
		encodeNotification(e, n)
	}
	return e.Bytes()
}

type handlerFunc func(*conn, *wire.Decoder) ([]byte, error)

var handlers = map[wire.Opcode]handlerFunc{
	wire.OpCreateSession:  handleCreateSession,
	wire.OpKeepalive:      handleKeepalive,
	wire.OpDestroySession: handleDestroySession,
	wire.OpOpen:           handleOpen,
	wire.OpClose:          handleClose,
	wire.OpMkdir:          handleMkdir,
	wire.OpDelete:         handleDelete,
	wire.OpAttrSet:        handleAttrSet,
	wire.OpAttrGet:        handleAttrGet,
	wire.OpAttrDel:        handleAttrDel,
	wire.OpExists:         handleExists,
	wire.OpReadDir:        handleReadDir,
	wire.OpLock:           handleLock,
	wire.OpRelease:        handleRelease,
	wire.OpLockStatus:     handleLockStatus,
}

func handleCreateSession(c *conn, d *wire.Decoder) ([]byte, error) {
	id, lease := c.master.CreateSession(c.nc.RemoteAddr().String())
	c.bind(id)

	e := okResp(wire.OpCreateSession)
	e.Uint64(uint64(id))
	e.Uint64(uint64(lease.Milliseconds()))
	return e.Bytes(), nil
}

func handleKeepalive(c *conn, d *wire.Decoder) ([]byte, error) {
	sess, err := d.Uint64()
	if err != nil {
		return nil, decodeErr(wire.OpKeepalive)
	}
	acked, err := d.Uint64()
	if err != nil {
		return nil, decodeErr(wire.OpKeepalive)
	}

	pending, kerr := c.master.Keepalive(coord.SessionID(sess), acked)
	if kerr != nil {
		return nil, kerr
	}
	// A keepalive after reconnect re-binds the push sink here.
	c.bind(coord.SessionID(sess))

	e := okResp(wire.OpKeepalive)
	e.Uint32(uint32(len(pending)))
	for _, n := range pending {
		encodeNotification(e, n)
	}
	return e.Bytes(), nil
}

func handleDestroySession(c *conn, d *wire.Decoder) ([]byte, error) {
	sess, err := d.Uint64()
	if err != nil {
		return nil, decodeErr(wire.OpDestroySession)
	}
	if err := c.master.DestroySession(coord.SessionID(sess)); err != nil {
		return nil, err
	}
	return okResp(wire.OpDestroySession).Bytes(), nil
}

func handleOpen(c *conn, d *wire.Decoder) ([]byte, error) {
	sess, err := d.Uint64()
	if err != nil {
		return nil, decodeErr(wire.OpOpen)
	}
	path, err := d.String()
	if err != nil {
		return nil, decodeErr(wire.OpOpen)
	}
	flags, err := d.Uint32()
	if err != nil {
		return nil, decodeErr(wire.OpOpen)
	}
	mask, err := d.Uint32()
	if err != nil {
		return nil, decodeErr(wire.OpOpen)
	}

	h, oerr := c.master.Open(context.Background(), coord.SessionID(sess), path,
		coord.OpenFlags(flags), coord.EventMask(mask))
	if oerr != nil {
		return nil, oerr
	}

	e := okResp(wire.OpOpen)
	e.Uint64(uint64(h))
	return e.Bytes(), nil
}

func handleClose(c *conn, d *wire.Decoder) ([]byte, error) {
	h, err := d.Uint64()
	if err != nil {
		return nil, decodeErr(wire.OpClose)
	}
	if err := c.master.Close(context.Background(), coord.HandleID(h)); err != nil {
		return nil, err
	}
	return okResp(wire.OpClose).Bytes(), nil
}

func handleMkdir(c *conn, d *wire.Decoder) ([]byte, error) {
	sess, err := d.Uint64()
	if err != nil {
		return nil, decodeErr(wire.OpMkdir)
	}
	path, err := d.String()
	if err != nil {
		return nil, decodeErr(wire.OpMkdir)
	}
	if err := c.master.Mkdir(context.Background(), coord.SessionID(sess), path); err != nil {
		return nil, err
	}
	return okResp(wire.OpMkdir).Bytes(), nil
}

func handleDelete(c *conn, d *wire.Decoder) ([]byte, error) {
	sess, err := d.Uint64()
	if err != nil {
		return nil, decodeErr(wire.OpDelete)
	}
	path, err := d.String()
	if err != nil {
		return nil, decodeErr(wire.OpDelete)
	}
	if err := c.master.Delete(context.Background(), coord.SessionID(sess), path); err != nil {
		return nil, err
	}
	return okResp(wire.OpDelete).Bytes(), nil
}

func handleAttrSet(c *conn, d *wire.Decoder) ([]byte, error) {
	h, err := d.Uint64()
	if err != nil {
		return nil, decodeErr(wire.OpAttrSet)
	}
	name, err := d.String()
	if err != nil {
		return nil, decodeErr(wire.OpAttrSet)
	}
	value, err := d.Blob()
	if err != nil {
		return nil, decodeErr(wire.OpAttrSet)
	}
	if err := c.master.AttrSet(context.Background(), coord.HandleID(h), name, value); err != nil {
		return nil, err
	}
	return okResp(wire.OpAttrSet).Bytes(), nil
}

func handleAttrGet(c *conn, d *wire.Decoder) ([]byte, error) {
	h, err := d.Uint64()
	if err != nil {
		return nil, decodeErr(wire.OpAttrGet)
	}
	name, err := d.String()
	if err != nil {
		return nil, decodeErr(wire.OpAttrGet)
	}
	value, gerr := c.master.AttrGet(context.Background(), coord.HandleID(h), name)
	if gerr != nil {
		return nil, gerr
	}

	e := okResp(wire.OpAttrGet)
	e.Blob(value)
	return e.Bytes(), nil
}

func handleAttrDel(c *conn, d *wire.Decoder) ([]byte, error) {
	h, err := d.Uint64()
	if err != nil {
		return nil, decodeErr(wire.OpAttrDel)
	}
	name, err := d.String()
	if err != nil {
		return nil, decodeErr(wire.OpAttrDel)
	}
	if err := c.master.AttrDel(context.Background(), coord.HandleID(h), name); err != nil {
		return nil, err
	}
	return okResp(wire.OpAttrDel).Bytes(), nil
}

func handleExists(c *conn, d *wire.Decoder) ([]byte, error) {
	sess, err := d.Uint64()
	if err != nil {
		return nil, decodeErr(wire.OpExists)
	}
	path, err := d.String()
	if err != nil {
		return nil, decodeErr(wire.OpExists)
	}
	ok, eerr := c.master.Exists(context.Background(), coord.SessionID(sess), path)
	if eerr != nil {
		return nil, eerr
	}

	e := okResp(wire.OpExists)
	e.Bool(ok)
	return e.Bytes(), nil
}

func handleReadDir(c *conn, d *wire.Decoder) ([]byte, error) {
	h, err := d.Uint64()
	if err != nil {
		return nil, decodeErr(wire.OpReadDir)
	}
	names, rerr := c.master.ReadDir(context.Background(), coord.HandleID(h))
	if rerr != nil {
		return nil, rerr
	}

	e := okResp(wire.OpReadDir)
	e.Uint32(uint32(len(names)))
	for _, n := range names {
		e.String(n)
	}
	return e.Bytes(), nil
}

func handleLock(c *conn, d *wire.Decoder) ([]byte, error) {
	h, err := d.Uint64()
	if err != nil {
		return nil, decodeErr(wire.OpLock)
	}
	mode, err := d.Uint8()
	if err != nil {
		return nil, decodeErr(wire.OpLock)
	}

	status, lerr := c.master.Lock(context.Background(), coord.HandleID(h), coord.LockMode(mode))
	if lerr != nil {
		return nil, lerr
	}

	e := okResp(wire.OpLock)
	e.Uint8(uint8(status))
	return e.Bytes(), nil
}

func handleRelease(c *conn, d *wire.Decoder) ([]byte, error) {
	h, err := d.Uint64()
	if err != nil {
		return nil, decodeErr(wire.OpRelease)
	}
	if err := c.master.Release(coord.HandleID(h)); err != nil {
		return nil, err
	}
	return okResp(wire.OpRelease).Bytes(), nil
}

func handleLockStatus(c *conn, d *wire.Decoder) ([]byte, error) {
	h, err := d.Uint64()
	if err != nil {
		return nil, decodeErr(wire.OpLockStatus)
	}
	mode, status, qerr := c.master.LockStatus(coord.HandleID(h))
	if qerr != nil {
		return nil, qerr
	}

	e := okResp(wire.OpLockStatus)
	e.Uint8(uint8(mode))
	e.Uint8(uint8(status))
	return e.Bytes(), nil
}
