package devicescheduler

import (
	"net"

	"github.com/sirupsen/logrus"

	"KubeShare/pkg/devicescheduler/protocol"
)

// Server accepts pod-manager / hook-library connections and dispatches
// each fixed-length request frame to the Scheduler (spec.md §4.2). One
// goroutine runs per accepted connection. The entrypoints in cmd/ run the
// accept loop (Serve) on its own goroutine while the main goroutine waits
// for a stop signal.
type Server struct {
	sched *Scheduler
	log   *logrus.Logger
}

// NewServer wires a Server to the Scheduler it dispatches into.
func NewServer(sched *Scheduler, log *logrus.Logger) *Server {
	return &Server{sched: sched, log: log}
}

// Serve accepts connections on ln until it returns an error (typically
// because ln was closed). Each connection gets its own handler goroutine.
func (srv *Server) Serve(ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		srv.log.Infof("received an incoming connection from %s", conn.RemoteAddr())
		go srv.handleConn(conn)
	}
}

// handleConn reads fixed-length request frames from conn until recv
// returns <= 0 (spec.md §4.2's "connection is terminated when recv
// returns <= 0"), dispatching each to the scheduler.
func (srv *Server) handleConn(conn net.Conn) {
	defer conn.Close()
	buf := make([]byte, protocol.ReqMsgLen)
	for {
		n, err := readFull(conn, buf)
		if n <= 0 || err != nil {
			srv.log.Debugf("connection closed by peer: %v", err)
			return
		}
		req, err := protocol.DecodeRequest(buf)
		if err != nil {
			srv.log.Warnf("malformed request frame: %v", err)
			continue
		}
		srv.dispatch(conn, req)
	}
}

// readFull reads exactly len(buf) bytes, or returns what it has with an
// error/zero count on EOF/short read, matching a single blocking recv()
// of a fixed-size frame closely enough for this protocol's purposes.
func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		if n > 0 {
			total += n
		}
		if err != nil {
			return total, err
		}
		if n == 0 {
			return total, nil
		}
	}
	return total, nil
}

func (srv *Server) dispatch(conn net.Conn, req protocol.Request) {
	switch req.Kind {
	case protocol.ReqQuota:
		srv.sched.HandleQuotaRequest(conn, req.ClientName, req.ReqID, req.Overuse, req.Burst)
		// no immediate reply: the scheduler daemon replies once it grants a token

	case protocol.ReqMemLimit:
		used, limit, ok := srv.sched.HandleMemLimit(req.ClientName)
		if !ok {
			srv.log.Warnf("unknown client %q sent REQ_MEM_LIMIT, dropping", req.ClientName)
			return
		}
		rsp := protocol.EncodeResponse(protocol.Response{ReqID: req.ReqID, Kind: protocol.ReqMemLimit, MemUsed: used, MemLimit: limit})
		sendWithRetry(conn, rsp, srv.log, req.ClientName)

	case protocol.ReqMemUpdate:
		verdict, ok := srv.sched.HandleMemUpdate(req.ClientName, req.Bytes, req.IsAllocate)
		if !ok {
			srv.log.Warnf("unknown client %q sent REQ_MEM_UPDATE, dropping", req.ClientName)
			return
		}
		rsp := protocol.EncodeResponse(protocol.Response{ReqID: req.ReqID, Kind: protocol.ReqMemUpdate, Verdict: verdict})
		sendWithRetry(conn, rsp, srv.log, req.ClientName)

	default:
		srv.log.Warnf("%q sent an unknown request kind %d", req.ClientName, req.Kind)
	}
}
