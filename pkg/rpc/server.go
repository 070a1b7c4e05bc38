package rpc

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/bksd/bksd/pkg/appcontext"
)

// DefaultRequestTimeout bounds each individual RPC request's Persistence
// queries (spec §5: "RPC: per-request deadline (default 5s)").
const DefaultRequestTimeout = 5 * time.Second

// Server accepts TCP connections and speaks newline-delimited JSON-RPC 2.0,
// one frame per line, one goroutine per connection.
type Server struct {
	listener net.Listener
	handler  *Handler
	logger   logrus.FieldLogger
	timeout  time.Duration
}

func NewServer(listener net.Listener, handler *Handler, logger logrus.FieldLogger) *Server {
	return &Server{
		listener: listener,
		handler:  handler,
		logger:   logger,
		timeout:  DefaultRequestTimeout,
	}
}

// Serve accepts connections until the listener is closed.
func (s *Server) Serve() error {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return err
		}
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()

	ctx := appcontext.WithRequestId(context.Background(), connID(conn))
	logger := appcontext.LoggerFromContext(s.logger, ctx)

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		resp := s.handleFrame(ctx, line)

		encoded, err := json.Marshal(resp)
		if err != nil {
			logger.WithError(err).Error("unable to marshal rpc response")
			return
		}

		encoded = append(encoded, '\n')
		if _, err := conn.Write(encoded); err != nil {
			logger.WithError(err).Debug("unable to write rpc response")
			return
		}
	}
}

func (s *Server) handleFrame(ctx context.Context, line []byte) Response {
	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		return newError(nil, ParseErrorCode, "invalid JSON")
	}

	if req.JSONRPC != "2.0" || req.Method == "" {
		return newError(req.ID, InvalidRequestCode, "invalid request")
	}

	reqCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	result, rpcErr := s.handler.Dispatch(reqCtx, req.Method, req.Params)
	if rpcErr != nil {
		return newError(req.ID, rpcErr.Code, rpcErr.Message)
	}

	return newResult(req.ID, result)
}

func connID(conn net.Conn) string {
	return conn.RemoteAddr().String()
}
