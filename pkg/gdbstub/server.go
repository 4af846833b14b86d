// Package gdbstub implements the debug stub side of the GDB remote serial
// protocol, as spoken by lldb: stop replies, the jThreadsInfo query and the
// packets a debugger needs to inspect and control a stopped inferior.
package gdbstub

import (
	"net"
	"sync"

	"github.com/go-delve/gdbstub/pkg/inferior"
	"github.com/go-delve/gdbstub/pkg/logflags"
)

// Config is all the information necessary to start the stub.
type Config struct {
	// Listener is used to accept debugger connections, the server takes
	// ownership of it.
	Listener net.Listener
	// Target is the inferior exposed to the debugger.
	Target inferior.Target

	// MaxPacketSize is advertised in qSupported and bounds memory reads.
	MaxPacketSize int
	// StackChunkSize is the number of bytes at the stack pointer sent with
	// each thread in jThreadsInfo.
	StackChunkSize int
	// FrameWalkDepth is the number of frame records sent with each thread
	// in jThreadsInfo.
	FrameWalkDepth int
	// MemoryCacheSize is the number of memory reads remembered during a
	// stop, zero disables the cache.
	MemoryCacheSize int

	// AcceptMulti makes the server accept a new debugger once the previous
	// one disconnects.
	AcceptMulti bool
	// DisconnectChan will be closed by the server when the debugger
	// disconnects, unless AcceptMulti is set.
	DisconnectChan chan<- struct{}
}

const (
	DefaultMaxPacketSize   = 0x20000
	DefaultStackChunkSize  = 0x100
	DefaultFrameWalkDepth  = 16
	DefaultMemoryCacheSize = 128
)

// Server accepts debugger connections and serves one session at a time.
// The server operates via two goroutines:
// (1) Main goroutine where the server is created via NewServer(),
// started via Run() and stopped via Stop().
// (2) Run goroutine started from Run() that accepts connections and serves
// them one after the other.
type Server struct {
	config   *Config
	listener net.Listener
	// stopChan is closed when the server is Stop()-ed.
	stopChan chan struct{}
	registry *inferior.Registry
	log      logflags.Logger

	mu      sync.Mutex
	conn    net.Conn // connection of the current session
	started bool
	done    chan struct{}
}

// NewServer creates a new Server. It takes an opened Listener via config and
// assumes its ownership.
func NewServer(config *Config) *Server {
	if config.MaxPacketSize <= 0 {
		config.MaxPacketSize = DefaultMaxPacketSize
	}
	if config.StackChunkSize < 0 {
		config.StackChunkSize = 0
	}
	if config.FrameWalkDepth < 0 {
		config.FrameWalkDepth = 0
	}
	logger := logflags.StubLogger()
	logger.Debugf("stub listening on %s, inferior pid %d", config.Listener.Addr(), config.Target.Pid())
	return &Server{
		config:   config,
		listener: config.Listener,
		stopChan: make(chan struct{}),
		registry: inferior.NewRegistry(config.Target.Arch()),
		log:      logger,
		done:     make(chan struct{}),
	}
}

// Addr returns the address the server listens on.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Stop closes the listener and the current connection, then waits for the
// run goroutine, if any, to exit. It must be called only once.
func (s *Server) Stop() {
	s.listener.Close()
	close(s.stopChan)
	s.mu.Lock()
	if s.conn != nil {
		s.conn.Close()
	}
	started := s.started
	s.mu.Unlock()
	if started {
		<-s.done
	}
}

// signalDisconnect closes config.DisconnectChan if not nil, it can be called
// multiple times.
func (s *Server) signalDisconnect() {
	if s.config.DisconnectChan != nil {
		close(s.config.DisconnectChan)
		s.config.DisconnectChan = nil
	}
}

func (s *Server) stopped() bool {
	select {
	case <-s.stopChan:
		return true
	default:
		return false
	}
}

// Run launches a new goroutine where it accepts debugger connections and
// serves them. Use Stop() to close the server.
func (s *Server) Run() {
	s.mu.Lock()
	s.started = true
	s.mu.Unlock()
	go func() {
		defer close(s.done)
		defer s.signalDisconnect()
		for {
			conn, err := s.listener.Accept()
			if err != nil {
				if !s.stopped() {
					s.log.Errorf("Error accepting client connection: %s", err)
				}
				return
			}
			s.mu.Lock()
			if s.stopped() {
				s.mu.Unlock()
				conn.Close()
				return
			}
			s.conn = conn
			s.mu.Unlock()

			s.serveConn(conn)

			s.mu.Lock()
			s.conn = nil
			s.mu.Unlock()
			if !s.config.AcceptMulti || s.stopped() {
				return
			}
		}
	}()
}

func (s *Server) serveConn(conn net.Conn) {
	defer conn.Close()
	c, err := newConnection(s, conn)
	if err != nil {
		s.log.Errorf("could not start session: %v", err)
		return
	}
	log := s.log.WithField("session", c.sess.ID)
	log.Infof("debugger connected from %s", conn.RemoteAddr())
	err = c.serve()
	switch err.(type) {
	case nil:
		log.Info("session ended")
	case *InvariantError:
		log.Errorf("session aborted: %v", err)
	default:
		if s.stopped() || err == ErrDisconnected || err == errSessionEnd {
			log.Infof("session ended: %v", err)
		} else {
			log.Errorf("session ended: %v", err)
		}
	}
}
