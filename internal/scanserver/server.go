// Package scanserver serves hash lookups over a line-oriented TCP
// protocol: the client sends one command byte followed by a binary
// hash, the server answers with a length-prefixed JSON payload. A
// zero-length payload is the empty-set sentinel.
package scanserver

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/forensicdb/hashdb"
)

// CmdScan asks for the record of the hash that follows.
const CmdScan = byte('s')

type Server struct {
	db       *hashdb.Database
	config   Config
	log      *logrus.Logger
	mu       sync.Mutex
	listener net.Listener
}

func New(db *hashdb.Database, config Config, log *logrus.Logger) *Server {
	if log == nil {
		log = logrus.New()
	}
	return &Server{db: db, config: config, log: log}
}

// ListenAndServe blocks serving scan queries until Close.
func (s *Server) ListenAndServe() error {
	addr := fmt.Sprintf("%s:%d", s.config.Bind, s.config.Port)
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("error listening on %s: %w", addr, err)
	}
	return s.Serve(l)
}

// Serve accepts connections from l until Close.
func (s *Server) Serve(l net.Listener) error {
	s.mu.Lock()
	s.listener = l
	s.mu.Unlock()

	s.log.WithFields(logrus.Fields{
		"addr": l.Addr().String(),
	}).Info("scan server listening")

	for {
		conn, err := l.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			return err
		}
		go s.handle(conn)
	}
}

// Addr returns the bound address once Serve has started.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	err := s.listener.Close()
	s.listener = nil
	return err
}

// handle answers queries on one connection until EOF, timeout, or a
// protocol violation. Transport errors drop the connection; the
// server keeps running.
func (s *Server) handle(conn net.Conn) {
	defer conn.Close()
	log := s.log.WithFields(logrus.Fields{"remote": conn.RemoteAddr().String()})
	log.Debug("connection opened")

	digest, err := s.db.Settings.Digest()
	if err != nil {
		log.Errorf("bad database digest: %v", err)
		return
	}
	timeout := time.Duration(s.config.ReadTimeoutSeconds) * time.Second
	request := make([]byte, 1+digest.Length)

	for {
		if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
			log.Errorf("error arming read deadline: %v", err)
			return
		}
		if _, err := io.ReadFull(conn, request); err != nil {
			if err != io.EOF {
				log.Debugf("connection dropped: %v", err)
			}
			return
		}
		if request[0] != CmdScan {
			log.Warnf("unknown command byte 0x%02x", request[0])
			return
		}

		payload, err := s.db.Scan(request[1:])
		if err != nil {
			log.Errorf("scan failed: %v", err)
			return
		}

		var length [4]byte
		binary.BigEndian.PutUint32(length[:], uint32(len(payload)))
		if _, err := conn.Write(length[:]); err != nil {
			log.Debugf("error writing response: %v", err)
			return
		}
		if len(payload) > 0 {
			if _, err := io.WriteString(conn, payload); err != nil {
				log.Debugf("error writing response: %v", err)
				return
			}
		}
	}
}

// Query is the client side of the protocol: one scan round trip on an
// established connection. An empty string means no match.
func Query(conn net.Conn, blockHash []byte) (string, error) {
	if _, err := conn.Write(append([]byte{CmdScan}, blockHash...)); err != nil {
		return "", err
	}
	var length [4]byte
	if _, err := io.ReadFull(conn, length[:]); err != nil {
		return "", err
	}
	n := binary.BigEndian.Uint32(length[:])
	if n == 0 {
		return "", nil
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(conn, payload); err != nil {
		return "", err
	}
	return string(payload), nil
}
