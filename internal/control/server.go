// Package control exposes the optimizer's query surface over a local
// unix-domain socket. The daemon serves it; one-shot CLI invocations and
// other local processes dial it instead of opening the database a second
// time. One JSON command per connection, one JSON response back.
package control

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/caelum-ai/kaizen/internal/optimizer"
	"github.com/caelum-ai/kaizen/internal/types"
)

// Command types the server understands
const (
	CommandStatus     = "status"
	CommandPrinciples = "principles"
	CommandInsights   = "insights"
	CommandTrigger    = "trigger"
	CommandEvidence   = "evidence"
	CommandAlerts     = "alerts"
	CommandRun        = "run"
	CommandPing       = "ping"
)

// commandTimeout bounds how long one command may hold the optimizer
const commandTimeout = 10 * time.Second

// Command is one request over the control socket
type Command struct {
	Type string `json:"type"`

	// Event carries the payload for "evidence" commands
	Event *types.EvidenceEvent `json:"event,omitempty"`

	// RunID selects the record for "run" commands
	RunID string `json:"run_id,omitempty"`

	Timestamp time.Time `json:"timestamp,omitempty"`
}

// Response is the answer to a command. Data holds the command's typed
// result re-encoded as JSON; Success reflects whether the command was
// processed, not whether the system it describes is healthy.
type Response struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// AlertsData is the payload answering an alerts command
type AlertsData struct {
	Alerts []*types.Alert `json:"alerts"`
	Count  int            `json:"count"`
}

// Server answers control commands against an optimizer
type Server struct {
	socketPath string
	opt        *optimizer.Optimizer
	logger     *zap.Logger

	mu       sync.RWMutex
	listener net.Listener
	running  bool
	stopped  bool

	stopCh chan struct{}
	doneCh chan struct{}
	connWG sync.WaitGroup
}

// NewServer prepares a control server on the given socket path. A stale
// socket file from a crashed process is removed.
func NewServer(socketPath string, opt *optimizer.Optimizer, logger *zap.Logger) (*Server, error) {
	if opt == nil {
		return nil, fmt.Errorf("optimizer is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	dir := filepath.Dir(socketPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create socket directory: %w", err)
	}
	if err := os.RemoveAll(socketPath); err != nil {
		return nil, fmt.Errorf("failed to remove stale socket: %w", err)
	}

	return &Server{
		socketPath: socketPath,
		opt:        opt,
		logger:     logger,
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}, nil
}

// Start begins accepting commands
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("control server already running")
	}
	if s.stopped {
		s.mu.Unlock()
		return fmt.Errorf("control server is stopped")
	}

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("failed to create control socket: %w", err)
	}
	s.listener = listener
	s.running = true
	s.mu.Unlock()

	go s.acceptLoop(ctx)

	s.logger.Info("control server listening", zap.String("socket", s.socketPath))
	return nil
}

func (s *Server) acceptLoop(ctx context.Context) {
	defer close(s.doneCh)
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		default:
		}

		// Short accept deadline so the stop channel is checked regularly
		if err := s.listener.(*net.UnixListener).SetDeadline(time.Now().Add(1 * time.Second)); err != nil {
			s.logger.Warn("failed to set accept deadline", zap.Error(err))
			continue
		}

		conn, err := s.listener.Accept()
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			select {
			case <-s.stopCh:
				return
			default:
			}
			s.logger.Warn("accept failed", zap.Error(err))
			continue
		}

		s.connWG.Add(1)
		go func() {
			defer s.connWG.Done()
			s.handleConnection(conn)
		}()
	}
}

func (s *Server) handleConnection(conn net.Conn) {
	defer conn.Close()

	// Bad clients must not hold the connection open
	if err := conn.SetDeadline(time.Now().Add(commandTimeout)); err != nil {
		s.logger.Warn("failed to set connection deadline", zap.Error(err))
		return
	}

	var cmd Command
	if err := json.NewDecoder(conn).Decode(&cmd); err != nil {
		s.respond(conn, Response{
			Success: false,
			Message: "malformed command",
			Error:   fmt.Sprintf("failed to decode command: %v", err),
		})
		return
	}
	if cmd.Timestamp.IsZero() {
		cmd.Timestamp = time.Now().UTC()
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	s.respond(conn, s.dispatch(ctx, cmd))
}

// dispatch executes one command against the optimizer. Every branch
// produces a response; nothing propagates out of the boundary.
func (s *Server) dispatch(ctx context.Context, cmd Command) Response {
	switch cmd.Type {
	case CommandPing:
		return Response{Success: true, Message: "pong"}

	case CommandStatus:
		result := s.opt.GetOptimizationStatus(ctx)
		return s.result(cmd.Type, result.Status, result.Message, result)

	case CommandPrinciples:
		result := s.opt.GetCurrentPrinciples(ctx)
		return s.result(cmd.Type, result.Status, result.Message, result)

	case CommandInsights:
		result := s.opt.GetSystemInsights(ctx)
		return s.result(cmd.Type, result.Status, result.Message, result)

	case CommandTrigger:
		result := s.opt.TriggerOptimizationCycle(ctx)
		return s.result(cmd.Type, result.Status, result.Message, result)

	case CommandAlerts:
		alerts := s.opt.ActiveAlerts()
		return s.result(cmd.Type, "ok", "", &AlertsData{Alerts: alerts, Count: len(alerts)})

	case CommandRun:
		if cmd.RunID == "" {
			return Response{
				Success: false,
				Message: "run command requires a run id",
				Error:   "missing run id",
			}
		}
		run, err := s.opt.GetRun(ctx, cmd.RunID)
		if err != nil {
			return Response{
				Success: false,
				Message: fmt.Sprintf("failed to load run %s", cmd.RunID),
				Error:   err.Error(),
			}
		}
		data, _ := json.Marshal(run)
		return Response{Success: true, Message: "run loaded", Data: data}

	case CommandEvidence:
		if cmd.Event == nil {
			return Response{
				Success: false,
				Message: "evidence command requires an event",
				Error:   "missing event payload",
			}
		}
		if err := s.opt.Evidence().Record(ctx, cmd.Event); err != nil {
			return Response{
				Success: false,
				Message: "failed to record evidence",
				Error:   err.Error(),
			}
		}
		data, _ := json.Marshal(map[string]string{"event_id": cmd.Event.ID})
		return Response{Success: true, Message: "evidence recorded", Data: data}

	default:
		return Response{
			Success: false,
			Message: fmt.Sprintf("unknown command %q", cmd.Type),
			Error:   "unknown command",
		}
	}
}

// result packages a typed query result. The result's own status field
// decides success; its message rides along when it has one.
func (s *Server) result(cmdType, status, message string, payload any) Response {
	data, err := json.Marshal(payload)
	if err != nil {
		return Response{
			Success: false,
			Message: fmt.Sprintf("failed to encode %s result", cmdType),
			Error:   err.Error(),
		}
	}

	resp := Response{Success: status != "error", Data: data, Message: message}
	if resp.Message == "" {
		resp.Message = fmt.Sprintf("%s completed", cmdType)
	}
	if status == "error" {
		resp.Error = message
	}
	return resp
}

func (s *Server) respond(conn net.Conn, resp Response) {
	if err := json.NewEncoder(conn).Encode(resp); err != nil {
		s.logger.Warn("failed to send response", zap.Error(err))
	}
}

// Stop closes the listener, waits for in-flight commands, and removes
// the socket file. Safe to call more than once.
func (s *Server) Stop() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	wasRunning := s.running
	listener := s.listener
	s.mu.Unlock()

	close(s.stopCh)
	if listener != nil {
		if err := listener.Close(); err != nil {
			s.logger.Warn("error closing listener", zap.Error(err))
		}
	}
	if wasRunning {
		<-s.doneCh
	}
	s.connWG.Wait()

	if err := os.RemoveAll(s.socketPath); err != nil {
		s.logger.Warn("failed to remove socket file", zap.Error(err))
	}

	s.logger.Info("control server stopped")
	return nil
}

// IsRunning reports whether the accept loop is live
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// SocketPath returns the path the server listens on
func (s *Server) SocketPath() string {
	return s.socketPath
}
