package replica

import (
	"context"
	"errors"
	"time"

	"github.com/cuemby/tablemesh/pkg/hlc"
	"github.com/cuemby/tablemesh/pkg/kverrors"
	"github.com/cuemby/tablemesh/pkg/metrics"
)

// DefaultTimeout is RPC_TIMEOUT for replica invocations, per spec §5
// "Cancellation and timeouts".
const DefaultTimeout = 3 * time.Second

// Request is one replica operation dispatched to a node.
type Request struct {
	GroupID   string
	Op        string
	TxID      string
	Timestamp hlc.Timestamp
	Payload   []byte
}

// ErrorReplicaResponse is the embedded-error shape a remote replica
// returns instead of a normal payload; Invoke unwraps it into a Go
// error rather than surfacing it as a successful Response.
type ErrorReplicaResponse struct {
	Kind    kverrors.Kind
	Message string
}

// Response is one replica operation's result.
type Response struct {
	Timestamp                  hlc.Timestamp
	Payload                    []byte
	Error                      *ErrorReplicaResponse
	PartitionAssignmentChanged bool
}

// Transport sends one request to node and waits for a response or
// ctx's deadline, the network boundary Invoke dispatches through.
type Transport interface {
	Send(ctx context.Context, node string, req Request) (Response, error)
}

// ErrGroupUnknown is returned by a Transport when the remote reports
// the addressed group is unknown or not yet started; Invoke maps it
// to kverrors.ReplicaUnavailable.
var ErrGroupUnknown = errors.New("replica group unknown or not started")

// Service dispatches replica operations to remote nodes, injecting HLC
// updates from every timestamped response, per spec §4.6.
type Service struct {
	transport Transport
	clock     *hlc.Clock
	timeout   time.Duration
	stopped   bool
}

// New creates a Service. timeout <= 0 uses DefaultTimeout.
func New(transport Transport, clock *hlc.Clock, timeout time.Duration) *Service {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Service{transport: transport, clock: clock, timeout: timeout}
}

// Stop marks the local node as shutting down; subsequent Invoke calls
// fail immediately with NodeStopping.
func (s *Service) Stop() { s.stopped = true }

// Invoke sends req to node and waits up to the service's RPC timeout.
// On success the clock is advanced past the response's timestamp
// before the response is returned.
func (s *Service) Invoke(ctx context.Context, node string, req Request) (Response, error) {
	if s.stopped {
		return Response{}, kverrors.New(kverrors.NodeStopping, "local node is stopping")
	}

	timer := metrics.NewTimer()
	outcome := "ok"
	defer func() {
		timer.ObserveDurationVec(metrics.ReplicaInvokeDuration, outcome)
	}()

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	resp, err := s.transport.Send(ctx, node, req)
	if err != nil {
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			outcome = "timeout"
			return Response{}, kverrors.Wrap(kverrors.ReplicationTimeout, "replica invoke timed out", err)
		case errors.Is(err, ErrGroupUnknown):
			outcome = "unavailable"
			return Response{}, kverrors.Wrap(kverrors.ReplicaUnavailable, "replica group unavailable", err)
		default:
			outcome = "network"
			return Response{}, kverrors.Wrap(kverrors.Network, "replica invoke failed", err)
		}
	}

	if resp.Error != nil {
		outcome = "remote_error"
		return Response{}, kverrors.New(resp.Error.Kind, resp.Error.Message)
	}

	if s.clock != nil && resp.Timestamp != (hlc.Timestamp{}) {
		s.clock.Update(resp.Timestamp)
	}

	return resp, nil
}
