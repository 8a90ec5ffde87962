package service

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/go-logr/logr"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/AMDEPYC/adaptive-cpu-agent/internal/controller"
	"github.com/AMDEPYC/adaptive-cpu-agent/internal/workdurations"
)

// Frame kinds accepted on the socket.
const (
	kindHint          = "hint"
	kindWorkDurations = "work_durations"
)

type workDurationFrame struct {
	TimestampNanos int64 `msgpack:"timestamp_ns"`
	DurationNanos  int64 `msgpack:"duration_ns"`
}

type frame struct {
	Kind        string              `msgpack:"kind"`
	Name        string              `msgpack:"name"`
	Enable      bool                `msgpack:"enable"`
	Durations   []workDurationFrame `msgpack:"durations"`
	TargetNanos int64               `msgpack:"target_ns"`
}

// Endpoint is the inbound transport: a local unix socket carrying
// msgpack-encoded frames. Enable hints and work-duration batches are
// dispatched to the controller; everything is fire-and-forget, so producers
// never block on the control loop.
type Endpoint struct {
	controller *controller.AdaptiveCpu
	log        logr.Logger
	listener   net.Listener
}

// Listen binds the unix socket at socketPath, replacing a stale socket file
// left by a previous run.
func Listen(socketPath string, ctrl *controller.AdaptiveCpu, log logr.Logger) (*Endpoint, error) {
	if err := os.Remove(socketPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to remove stale socket %s: %w", socketPath, err)
	}
	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", socketPath, err)
	}
	return &Endpoint{controller: ctrl, log: log, listener: listener}, nil
}

// Serve accepts connections until the endpoint is closed.
func (e *Endpoint) Serve() error {
	for {
		conn, err := e.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("failed to accept connection: %w", err)
		}
		go e.handleConnection(conn)
	}
}

func (e *Endpoint) Close() error {
	return e.listener.Close()
}

func (e *Endpoint) handleConnection(conn net.Conn) {
	defer conn.Close()
	decoder := msgpack.NewDecoder(conn)
	for {
		var f frame
		if err := decoder.Decode(&f); err != nil {
			if !errors.Is(err, io.EOF) {
				e.log.V(5).Info("Closing connection on decode error", "error", err.Error())
			}
			return
		}
		e.dispatch(f)
	}
}

func (e *Endpoint) dispatch(f frame) {
	switch f.Kind {
	case kindHint:
		if f.Name != controller.HintName {
			e.log.V(5).Info("Ignoring unknown hint", "name", f.Name)
			return
		}
		e.controller.HintReceived(f.Enable)
	case kindWorkDurations:
		if f.TargetNanos <= 0 {
			e.log.V(5).Info("Dropping work durations with non-positive target",
				"targetNs", f.TargetNanos)
			return
		}
		durations := make([]workdurations.WorkDuration, len(f.Durations))
		for i, d := range f.Durations {
			durations[i] = workdurations.WorkDuration{
				TimestampNanos: d.TimestampNanos,
				DurationNanos:  d.DurationNanos,
			}
		}
		e.controller.ReportWorkDurations(durations, time.Duration(f.TargetNanos))
	default:
		e.log.V(5).Info("Ignoring unknown frame kind", "kind", f.Kind)
	}
}
