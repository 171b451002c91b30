package main

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"github.com/prometheus/client_golang/prometheus"
	csvmanager "github.com/w4cha/csv-manager"
	"github.com/w4cha/csv-manager/core"
	"github.com/w4cha/csv-manager/db"
	"golang.org/x/time/rate"
)

var (
	ErrUnknownOp          = errors.New("unknown op")
	ErrRateLimited        = errors.New("rate limit exceeded")
	ErrTooManyConnections = errors.New("too many connections")
)

// Server is a TCP server answering one JSON request per line. Searches run
// concurrently; mutations and reloads hold the write lock, so a table has a
// single writer.
type Server struct {
	listener   net.Listener
	instance   *csvmanager.Instance
	identity   core.Identity
	auth       *AuthConfig
	logger     *slog.Logger
	limit      rate.Limit
	burst      int
	maxConns   int
	tlsEnabled bool

	pool          *ants.Pool
	registry      *prometheus.Registry
	metrics       *metrics
	metricsServer *http.Server

	mu     sync.RWMutex
	connMu sync.Mutex
	conns  map[net.Conn]struct{}
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	wg     sync.WaitGroup
}

type Option func(*Server)

// WithAuth requires every connection to send AUTH JWT <token> first when
// cfg holds a secret. Changes are then recorded with the token's identity.
func WithAuth(cfg *AuthConfig) Option {
	return func(s *Server) { s.auth = cfg }
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithRateLimit allows each connection limit requests per second with
// bursts of burst. A limit of zero turns limiting off.
func WithRateLimit(limit float64, burst int) Option {
	return func(s *Server) {
		s.limit = rate.Limit(limit)
		s.burst = burst
	}
}

// WithMaxConnections bounds the connections served at once; further
// connections are refused. Zero means unbounded.
func WithMaxConnections(n int) Option {
	return func(s *Server) { s.maxConns = n }
}

// NewServer creates a server over instance. identity authors the changes of
// unauthenticated connections.
func NewServer(instance *csvmanager.Instance, identity core.Identity, opts ...Option) *Server {
	registry := prometheus.NewRegistry()
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		instance: instance,
		identity: identity,
		logger:   slog.Default(),
		registry: registry,
		metrics:  newMetrics(registry),
		conns:    make(map[net.Conn]struct{}),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start begins listening for connections on the specified address.
func (s *Server) Start(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return s.serve(listener)
}

// StartTLS begins listening for TLS connections using the certificate and
// key files.
func (s *Server) StartTLS(addr, certFile, keyFile string) error {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return fmt.Errorf("failed to load certificate: %w", err)
	}
	listener, err := tls.Listen("tcp", addr, &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	})
	if err != nil {
		return fmt.Errorf("failed to start TLS server: %w", err)
	}
	s.tlsEnabled = true
	return s.serve(listener)
}

func (s *Server) serve(listener net.Listener) error {
	if s.maxConns > 0 {
		pool, err := ants.NewPool(s.maxConns, ants.WithNonblocking(true), ants.WithPanicHandler(func(v any) {
			s.logger.Error("connection handler panic", "panic", v)
		}))
		if err != nil {
			listener.Close()
			return fmt.Errorf("failed to create connection pool: %w", err)
		}
		s.pool = pool
	}
	s.listener = listener
	s.logger.Info("server listening", "addr", listener.Addr().String(), "tls", s.tlsEnabled, "auth", s.auth.enabled())

	go s.acceptLoop()
	return nil
}

// ServeMetrics exposes the server metrics at /metrics on addr and returns
// the bound address.
func (s *Server) ServeMetrics(addr string) (string, error) {
	srv, bound, err := serveMetrics(addr, s.registry, s.logger)
	if err != nil {
		return "", err
	}
	s.metricsServer = srv
	s.logger.Info("metrics listening", "addr", bound.String())
	return bound.String(), nil
}

// Watch reloads tables whose file in dir is changed by another process.
func (s *Server) Watch(dir string) error {
	return watchTables(s.ctx, dir, s.reload, s.logger)
}

// Stop closes the listener and every open connection, then waits for the
// handlers to return.
func (s *Server) Stop() error {
	close(s.done)
	s.cancel()
	if s.listener != nil {
		s.listener.Close()
	}
	if s.metricsServer != nil {
		s.metricsServer.Close()
	}

	s.connMu.Lock()
	for conn := range s.conns {
		conn.Close()
	}
	s.connMu.Unlock()

	s.wg.Wait()
	if s.pool != nil {
		_ = s.pool.ReleaseTimeout(3 * time.Second)
	}
	return nil
}

// Addr returns the server's listening address.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// TLSEnabled reports whether the server was started with StartTLS.
func (s *Server) TLSEnabled() bool {
	return s.tlsEnabled
}

func (s *Server) acceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
				s.logger.Warn("accept error", "err", err)
				continue
			}
		}

		s.wg.Add(1)
		if s.pool == nil {
			go s.handleConnection(conn)
			continue
		}
		if err := s.pool.Submit(func() { s.handleConnection(conn) }); err != nil {
			s.wg.Done()
			s.metrics.rejected.WithLabelValues("connections").Inc()
			s.logger.Warn("connection refused", "remote", conn.RemoteAddr().String(), "err", err)
			if data, err := EncodeResponse(failure("", ErrTooManyConnections)); err == nil {
				conn.Write(data)
			}
			conn.Close()
		}
	}
}

func (s *Server) track(conn net.Conn, open bool) {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if open {
		s.conns[conn] = struct{}{}
		s.metrics.connections.Inc()
	} else {
		delete(s.conns, conn)
		s.metrics.connections.Dec()
	}
}

func (s *Server) handleConnection(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()
	s.track(conn, true)
	defer s.track(conn, false)

	state := &ConnectionState{id: uuid.NewString()}
	if s.limit > 0 {
		state.limiter = rate.NewLimiter(s.limit, s.burst)
	}
	logger := s.logger.With("conn", state.id)
	logger.Info("client connected", "remote", conn.RemoteAddr().String())

	reader := bufio.NewReader(conn)
	for {
		select {
		case <-s.done:
			return
		default:
		}

		// Read until newline (one request per line)
		line, err := reader.ReadString('\n')
		if err != nil {
			if err != io.EOF && !errors.Is(err, net.ErrClosed) {
				logger.Warn("read error", "err", err)
			}
			return
		}

		text := strings.TrimSpace(line)
		if text == "" {
			continue
		}
		if strings.EqualFold(text, "quit") || strings.EqualFold(text, "exit") {
			logger.Info("client disconnected")
			return
		}

		response := s.handleLine(text, state)
		data, err := EncodeResponse(response)
		if err != nil {
			logger.Error("failed to encode response", "err", err)
			continue
		}
		if _, err := conn.Write(data); err != nil {
			logger.Warn("write error", "err", err)
			return
		}
	}
}

func (s *Server) handleLine(text string, state *ConnectionState) Response {
	if state.limiter != nil && !state.limiter.Allow() {
		s.metrics.rejected.WithLabelValues("rate").Inc()
		return failure("", ErrRateLimited)
	}
	if isAuthCommand(text) {
		return s.handleAuth(text, state)
	}

	identity := s.identity
	if s.auth.enabled() {
		if !state.IsAuthenticated() {
			s.metrics.rejected.WithLabelValues("auth").Inc()
			return failure("", ErrAuthRequired)
		}
		identity = *state.Identity()
	}

	req, err := DecodeRequest([]byte(text))
	if err != nil {
		return failure("", fmt.Errorf("invalid request: %w", err))
	}
	return s.execute(req, identity)
}

func (s *Server) execute(req Request, identity core.Identity) Response {
	start := time.Now()
	var (
		response Response
		rows     int
		err      error
	)

	switch req.Op {
	case OpTables:
		var names []string
		if names, err = s.instance.Tables(); err == nil {
			response = success("tables", TablesResponse{Tables: names})
		}

	case OpSearch:
		var result db.QueryResult
		if result, err = s.search(req); err == nil {
			rows = result.RecordsRead
			response = success("query", QueryResponse{
				Columns:      result.Columns,
				Data:         result.Data,
				Summary:      result.Summary,
				RecordsRead:  result.RecordsRead,
				LimitReached: result.LimitReached,
				TimeMs:       result.ExecutionTimeSec * 1000,
			})
		}

	case OpUpdate, OpDelete:
		var result db.CommitResult
		err = s.mutate(req.Table, identity, func(engine *db.Engine) error {
			var err error
			if req.Op == OpUpdate {
				result, err = engine.ExecuteUpdate(req.Text, req.Mapping)
			} else {
				result, err = engine.ExecuteDelete(req.Text)
			}
			return err
		})
		if err == nil {
			rows = result.RecordsUpdated + result.RecordsDeleted
			response = success("commit", CommitResponse{
				Transaction:    result.Transaction.ShortId(),
				Status:         result.Status,
				Deleted:        result.Deleted,
				Updates:        result.Updates,
				RecordsUpdated: result.RecordsUpdated,
				RecordsDeleted: result.RecordsDeleted,
				TimeMs:         result.ExecutionTimeSec * 1000,
			})
		}

	case OpAppend:
		var row core.Row
		var txn string
		err = s.mutate(req.Table, identity, func(engine *db.Engine) error {
			table := engine.Table()
			var err error
			switch {
			case len(req.Record) > 0:
				row, err = table.AppendRecord(req.Record)
			case len(req.Unique) > 0:
				row, err = table.AppendUnique(req.Unique, req.Values...)
			default:
				row, err = table.Append(req.Values...)
			}
			txn = table.Persistence.LatestTransaction().ShortId()
			return err
		})
		if err == nil {
			rows = 1
			response = success("append", AppendResponse{Row: row, Transaction: txn})
		}

	default:
		err = fmt.Errorf("%w %q, expected one of %s", ErrUnknownOp, req.Op,
			strings.Join([]string{OpSearch, OpUpdate, OpDelete, OpAppend, OpTables}, ", "))
	}

	op := req.Op
	if err != nil {
		response = failure("", err)
		if !knownOp(op) {
			op = "unknown"
		}
	}
	s.metrics.observe(op, start, rows, err)
	s.logger.Debug("request", "op", req.Op, "table", req.Table, "rows", rows, "err", err)
	return response
}

func knownOp(op string) bool {
	switch op {
	case OpSearch, OpUpdate, OpDelete, OpAppend, OpTables:
		return true
	}
	return false
}

func (s *Server) search(req Request) (db.QueryResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	engine, err := s.instance.Engine(req.Table)
	if err != nil {
		return db.QueryResult{}, err
	}
	return engine.ExecuteSearch(req.Text)
}

// mutate runs fn under the write lock with identity as the table's author.
func (s *Server) mutate(name string, identity core.Identity, fn func(*db.Engine) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	engine, err := s.instance.Engine(name)
	if err != nil {
		return err
	}
	table := engine.Table()
	previous := table.Identity
	table.Identity = identity
	defer func() { table.Identity = previous }()
	return fn(engine)
}

func (s *Server) reload(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.instance.Reload(name)
}
