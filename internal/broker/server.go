package broker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/aeriedb/aerie/internal/logger"
	"github.com/aeriedb/aerie/internal/protocol/wire"
	"github.com/aeriedb/aerie/pkg/metrics"
)

// Broker opcodes, a wire space separate from the coordination protocol.
type Op uint16

const (
	OpOpen Op = iota + 1
	OpCreate
	OpClose
	OpRead
	OpWrite
	OpAppend
	OpSeek
	OpRemove
	OpLength
)

func (o Op) String() string {
	switch o {
	case OpOpen:
		return "OPEN"
	case OpCreate:
		return "CREATE"
	case OpClose:
		return "CLOSE"
	case OpRead:
		return "READ"
	case OpWrite:
		return "WRITE"
	case OpAppend:
		return "APPEND"
	case OpSeek:
		return "SEEK"
	case OpRemove:
		return "REMOVE"
	case OpLength:
		return "LENGTH"
	default:
		return fmt.Sprintf("OP_%d", uint16(o))
	}
}

// Wire statuses.
const (
	StatusOK uint16 = iota
	StatusProtocolError
	StatusBadFd
	StatusFileNotFound
	StatusFileExists
	StatusIOError
)

func statusName(s uint16) string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusProtocolError:
		return "PROTOCOL_ERROR"
	case StatusBadFd:
		return "BAD_FD"
	case StatusFileNotFound:
		return "FILE_NOT_FOUND"
	case StatusFileExists:
		return "FILE_EXISTS"
	default:
		return "IO_ERROR"
	}
}

func statusOf(err error) uint16 {
	switch {
	case err == nil:
		return StatusOK
	case errors.Is(err, ErrBadFd):
		return StatusBadFd
	case errors.Is(err, ErrFileNotFound):
		return StatusFileNotFound
	case errors.Is(err, ErrFileExists):
		return StatusFileExists
	default:
		return StatusIOError
	}
}

// Server serves the broker protocol over TCP.
type Server struct {
	addr    string
	backend Backend
	metrics *metrics.BrokerMetrics

	mu sync.Mutex
	ln net.Listener
	wg sync.WaitGroup
}

// NewServer creates a broker server over the given backend.
func NewServer(addr string, backend Backend) *Server {
	return &Server{
		addr:    addr,
		backend: backend,
		metrics: metrics.NewBrokerMetrics(),
	}
}

// Serve listens and accepts until the context is cancelled, then shuts
// the backend down.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()

	logger.Info("broker listening", "address", ln.Addr().String())

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		nc, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			logger.Warn("broker accept failed", logger.KeyError, err.Error())
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.serveConn(ctx, nc)
		}()
	}

	s.wg.Wait()
	if err := s.backend.Shutdown(); err != nil {
		logger.Warn("broker backend shutdown failed", logger.KeyError, err.Error())
	}
	logger.Info("broker stopped")
	return nil
}

// Addr returns the bound listen address, for tests using port 0.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

func (s *Server) serveConn(ctx context.Context, nc net.Conn) {
	defer nc.Close()
	remote := nc.RemoteAddr().String()
	logger.Debug("broker client connected", logger.KeyRemoteAddr, remote)

	for {
		payload, err := wire.ReadFrame(nc)
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				logger.Debug("broker read failed",
					logger.KeyRemoteAddr, remote,
					logger.KeyError, err.Error())
			}
			return
		}

		resp := s.handle(payload)
		if err := wire.WriteFrame(nc, resp); err != nil {
			logger.Debug("broker write failed",
				logger.KeyRemoteAddr, remote,
				logger.KeyError, err.Error())
			return
		}
	}
}

// Response builds a broker response: opcode echo + status, then either
// the success fields or the error message.
func respOK(op Op) *wire.Encoder {
	e := wire.NewEncoder(wire.Opcode(op))
	e.Uint16(StatusOK)
	return e
}

func respErr(op Op, status uint16, msg string) []byte {
	e := wire.NewEncoder(wire.Opcode(op))
	e.Uint16(status)
	e.String(msg)
	return e.Bytes()
}

// protocolError is the decode-failure response. The filesystem
// primitive is never invoked for these: a truncated CLOSE must not
// close anything.
func (s *Server) protocolError(op Op) []byte {
	s.metrics.RecordProtocolError(op.String())
	msg := fmt.Sprintf("Encoding problem with %s message", op)
	logger.Warn("broker request rejected", logger.KeyOp, op.String(), logger.KeyStatus, "PROTOCOL_ERROR")
	return respErr(op, StatusProtocolError, msg)
}

func (s *Server) handle(payload []byte) []byte {
	d := wire.NewDecoder(payload)
	rawOp, err := d.Opcode()
	if err != nil {
		return s.protocolError(Op(0))
	}
	op := Op(rawOp)

	start := time.Now()
	var resp []byte
	var status uint16

	switch op {
	case OpOpen:
		resp, status = s.handleOpen(d)
	case OpCreate:
		resp, status = s.handleCreate(d)
	case OpClose:
		resp, status = s.handleClose(d)
	case OpRead:
		resp, status = s.handleRead(d)
	case OpWrite:
		resp, status = s.handleWrite(d)
	case OpAppend:
		resp, status = s.handleAppend(d)
	case OpSeek:
		resp, status = s.handleSeek(d)
	case OpRemove:
		resp, status = s.handleRemove(d)
	case OpLength:
		resp, status = s.handleLength(d)
	default:
		return s.protocolError(op)
	}

	if resp == nil {
		// Decode failure inside the handler.
		return s.protocolError(op)
	}
	s.metrics.RecordRequest(op.String(), statusName(status), time.Since(start))
	return resp
}

func (s *Server) handleOpen(d *wire.Decoder) ([]byte, uint16) {
	path, err := d.String()
	if err != nil {
		return nil, 0
	}

	fd, berr := s.backend.Open(path)
	if berr != nil {
		st := statusOf(berr)
		return respErr(OpOpen, st, berr.Error()), st
	}
	s.metrics.RecordOpen()

	e := respOK(OpOpen)
	e.Uint32(fd)
	return e.Bytes(), StatusOK
}

func (s *Server) handleCreate(d *wire.Decoder) ([]byte, uint16) {
	path, err := d.String()
	if err != nil {
		return nil, 0
	}
	overwrite, err := d.Bool()
	if err != nil {
		return nil, 0
	}

	fd, berr := s.backend.Create(path, overwrite)
	if berr != nil {
		st := statusOf(berr)
		return respErr(OpCreate, st, berr.Error()), st
	}
	s.metrics.RecordOpen()

	e := respOK(OpCreate)
	e.Uint32(fd)
	return e.Bytes(), StatusOK
}

func (s *Server) handleClose(d *wire.Decoder) ([]byte, uint16) {
	fd, err := d.Uint32()
	if err != nil {
		return nil, 0
	}

	if berr := s.backend.Close(fd); berr != nil {
		st := statusOf(berr)
		return respErr(OpClose, st, berr.Error()), st
	}
	s.metrics.RecordClose()
	return respOK(OpClose).Bytes(), StatusOK
}

func (s *Server) handleRead(d *wire.Decoder) ([]byte, uint16) {
	fd, err := d.Uint32()
	if err != nil {
		return nil, 0
	}
	amount, err := d.Uint32()
	if err != nil {
		return nil, 0
	}

	offset, data, berr := s.backend.Read(fd, amount)
	if berr != nil {
		st := statusOf(berr)
		return respErr(OpRead, st, berr.Error()), st
	}

	e := respOK(OpRead)
	e.Uint64(offset)
	e.Blob(data)
	return e.Bytes(), StatusOK
}

func (s *Server) handleWrite(d *wire.Decoder) ([]byte, uint16) {
	fd, err := d.Uint32()
	if err != nil {
		return nil, 0
	}
	data, err := d.Blob()
	if err != nil {
		return nil, 0
	}

	offset, berr := s.backend.Write(fd, data)
	if berr != nil {
		st := statusOf(berr)
		return respErr(OpWrite, st, berr.Error()), st
	}

	e := respOK(OpWrite)
	e.Uint64(offset)
	e.Uint32(uint32(len(data)))
	return e.Bytes(), StatusOK
}

func (s *Server) handleAppend(d *wire.Decoder) ([]byte, uint16) {
	fd, err := d.Uint32()
	if err != nil {
		return nil, 0
	}
	data, err := d.Blob()
	if err != nil {
		return nil, 0
	}

	offset, berr := s.backend.Append(fd, data)
	if berr != nil {
		st := statusOf(berr)
		return respErr(OpAppend, st, berr.Error()), st
	}

	e := respOK(OpAppend)
	e.Uint64(offset)
	e.Uint32(uint32(len(data)))
	return e.Bytes(), StatusOK
}

func (s *Server) handleSeek(d *wire.Decoder) ([]byte, uint16) {
	fd, err := d.Uint32()
	if err != nil {
		return nil, 0
	}
	offset, err := d.Uint64()
	if err != nil {
		return nil, 0
	}

	if berr := s.backend.Seek(fd, offset); berr != nil {
		st := statusOf(berr)
		return respErr(OpSeek, st, berr.Error()), st
	}
	return respOK(OpSeek).Bytes(), StatusOK
}

func (s *Server) handleRemove(d *wire.Decoder) ([]byte, uint16) {
	path, err := d.String()
	if err != nil {
		return nil, 0
	}

	if berr := s.backend.Remove(path); berr != nil {
		st := statusOf(berr)
		return respErr(OpRemove, st, berr.Error()), st
	}
	return respOK(OpRemove).Bytes(), StatusOK
}

func (s *Server) handleLength(d *wire.Decoder) ([]byte, uint16) {
	path, err := d.String()
	if err != nil {
		return nil, 0
	}

	length, berr := s.backend.Length(path)
	if berr != nil {
		st := statusOf(berr)
		return respErr(OpLength, st, berr.Error()), st
	}

	e := respOK(OpLength)
	e.Uint64(length)
	return e.Bytes(), StatusOK
}
