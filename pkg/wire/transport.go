package wire

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/cuemby/tablemesh/pkg/kverrors"
)

// Handler answers one framed request with a framed response, the
// connection-side counterpart of a replica or snapshot RPC.
type Handler func(ctx context.Context, req Message) (Message, error)

// Server accepts connections on a TCP listener, performs the
// handshake from handshake.go, and dispatches every subsequent frame
// on the connection to handler, one request at a time per connection.
type Server struct {
	ln       net.Listener
	nodeID   string
	nodeName string
	idle     time.Duration
	handler  Handler

	wg sync.WaitGroup
}

// Listen opens addr and returns a Server ready to Serve. idle <= 0
// disables the handshake's idle-timeout advertisement.
func Listen(addr, nodeID, nodeName string, idle time.Duration, handler Handler) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, kverrors.Wrap(kverrors.Network, "listen wire transport", err)
	}
	return &Server{ln: ln, nodeID: nodeID, nodeName: nodeName, idle: idle, handler: handler}, nil
}

// Addr returns the listener's bound address.
func (s *Server) Addr() string { return s.ln.Addr().String() }

// Serve accepts connections until Close is called, blocking the
// caller; run it in its own goroutine.
func (s *Server) Serve() error {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			s.wg.Wait()
			return err
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.serveConn(conn)
		}()
	}
}

func (s *Server) serveConn(conn net.Conn) {
	defer conn.Close()

	if _, err := ReadClientHandshake(conn); err != nil {
		return
	}
	idleSeconds := uint32(0)
	if s.idle > 0 {
		idleSeconds = uint32(s.idle / time.Second)
	}
	reply := ServerHandshake{
		Version:            Version{Major: 1},
		NodeID:             s.nodeID,
		NodeName:           s.nodeName,
		IdleTimeoutSeconds: idleSeconds,
	}
	if err := WriteServerHandshake(conn, reply); err != nil {
		return
	}

	for {
		req, err := ReadMessage(conn)
		if err != nil {
			return
		}
		resp, err := s.handler(context.Background(), req)
		if err != nil {
			resp = Message{Header: Header{MessageType: "error", RequestID: req.Header.RequestID}}
		}
		if resp.Header.RequestID == "" {
			resp.Header.RequestID = req.Header.RequestID
		}
		if err := WriteMessage(conn, resp); err != nil {
			return
		}
	}
}

// Close stops accepting new connections.
func (s *Server) Close() error {
	return s.ln.Close()
}

// Client is a persistent wire connection to one remote node. Calls
// are serialized: Call blocks concurrent callers out until its own
// response arrives, matching the protocol's one-request-in-flight-
// per-connection framing.
type Client struct {
	addr string

	mu   sync.Mutex
	conn net.Conn
}

// Dial opens a connection to addr and performs the client handshake,
// returning an error if either fails. Once a Client exists, Call dials
// again whenever a previous failure dropped its connection.
func Dial(addr string) (*Client, error) {
	c := &Client{addr: addr}
	if err := c.connect(context.Background()); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Client) connect(ctx context.Context) error {
	d := net.Dialer{}
	conn, err := d.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return kverrors.Wrap(kverrors.Network, "dial wire transport", err)
	}
	if err := WriteClientHandshake(conn, ClientHandshake{Version: Version{Major: 1}}); err != nil {
		conn.Close()
		return err
	}
	if _, err := ReadServerHandshake(conn); err != nil {
		conn.Close()
		return err
	}
	c.conn = conn
	return nil
}

// Call sends req and waits for the matching response. If writing the
// request fails it reconnects once and resends; if reading the response
// fails it drops the connection and returns the error without retrying.
func (c *Client) Call(ctx context.Context, req Message) (Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		if err := c.connect(ctx); err != nil {
			return Message{}, err
		}
	}
	if deadline, ok := ctx.Deadline(); ok {
		c.conn.SetDeadline(deadline)
	} else {
		c.conn.SetDeadline(time.Time{})
	}

	if err := WriteMessage(c.conn, req); err != nil {
		c.conn.Close()
		c.conn = nil
		if err2 := c.connect(ctx); err2 != nil {
			return Message{}, err
		}
		if err := WriteMessage(c.conn, req); err != nil {
			return Message{}, err
		}
	}

	resp, err := ReadMessage(c.conn)
	if err != nil {
		c.conn.Close()
		c.conn = nil
		return Message{}, err
	}
	return resp, nil
}

// Close closes the underlying connection, if open.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}
