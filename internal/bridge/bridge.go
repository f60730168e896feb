// Package bridge implements the IPC transport bridge: it
// republishes selected dataflow outputs to the controlling CLI over two
// named Unix-domain request/reply sockets, and re-injects action commands
// the CLI sends back into the graph.
package bridge

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/robotcap/agent/internal/bus"
	"github.com/robotcap/agent/internal/core"
)

// ReplyDeadline bounds every request: absence of data yields an
// empty-payload reply within this window so the CLI never blocks
// indefinitely.
const ReplyDeadline = 100 * time.Millisecond

// Reply is the wire shape returned for every request.
type Reply struct {
	Topic   string `json:"topic"`
	Payload any    `json:"payload,omitempty"`
}

// Bridge is lazy: no socket is bound until Connect is called.
type Bridge struct {
	ImagesSocketPath string
	JointsSocketPath string
	Latest           *bus.LatestBus

	imagesLn net.Listener
	jointsLn net.Listener

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Bridge serving reads/writes against latest.
func New(imagesSocketPath, jointsSocketPath string, latest *bus.LatestBus) *Bridge {
	return &Bridge{ImagesSocketPath: imagesSocketPath, JointsSocketPath: jointsSocketPath, Latest: latest}
}

// Connect binds both sockets and starts their accept loops.
func (b *Bridge) Connect(ctx context.Context) error {
	b.ctx, b.cancel = context.WithCancel(context.Background())

	var err error
	b.imagesLn, err = bindSocket(b.ImagesSocketPath)
	if err != nil {
		return fmt.Errorf("bridge: bind images socket: %w", err)
	}
	b.jointsLn, err = bindSocket(b.JointsSocketPath)
	if err != nil {
		b.imagesLn.Close()
		return fmt.Errorf("bridge: bind joints socket: %w", err)
	}

	b.wg.Add(2)
	go b.acceptLoop(b.imagesLn)
	go b.acceptLoop(b.jointsLn)
	return nil
}

// Disconnect closes both sockets with zero linger and terminates the
// bridge's context; CLI-side read timeouts during this window are the
// normal idle-pull signal, not an error.
func (b *Bridge) Disconnect(ctx context.Context) error {
	if b.cancel != nil {
		b.cancel()
	}
	if b.imagesLn != nil {
		b.imagesLn.Close()
	}
	if b.jointsLn != nil {
		b.jointsLn.Close()
	}
	os.Remove(b.ImagesSocketPath)
	os.Remove(b.JointsSocketPath)
	b.wg.Wait()
	return nil
}

func bindSocket(path string) (net.Listener, error) {
	_ = os.Remove(path) // stale socket from a previous session
	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, err
	}
	_ = os.Chmod(path, 0o600)
	return ln, nil
}

func (b *Bridge) acceptLoop(ln net.Listener) {
	defer b.wg.Done()
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-b.ctx.Done():
				return
			default:
				slog.Error("bridge: accept failed", "error", err)
				return
			}
		}
		go b.serve(conn)
	}
}

// serve handles one request/reply exchange: a single line "GET <topic>"
// or "PUT <topic> <json>", then one JSON reply line, then close.
func (b *Bridge) serve(conn net.Conn) {
	defer conn.Close()
	deadline := time.Now().Add(ReplyDeadline)
	_ = conn.SetDeadline(deadline)

	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		// A read timeout here is the normal idle-pull signal; do not log.
		return
	}
	line = strings.TrimSpace(line)

	parts := strings.SplitN(line, " ", 3)
	if len(parts) < 2 {
		b.writeReply(conn, Reply{})
		return
	}

	switch parts[0] {
	case "GET":
		topic := parts[1]
		v, ok := b.Latest.Topic(topic).Load()
		if !ok {
			b.writeReply(conn, Reply{Topic: topic})
			return
		}
		b.writeReply(conn, Reply{Topic: topic, Payload: v})
	case "PUT":
		if len(parts) < 3 {
			b.writeReply(conn, Reply{})
			return
		}
		topic := parts[1]
		var vec core.JointVector
		if err := json.Unmarshal([]byte(parts[2]), &vec); err != nil {
			b.writeReply(conn, Reply{Topic: topic})
			return
		}
		b.Latest.Topic(topic).Publish(vec)
		b.writeReply(conn, Reply{Topic: topic, Payload: vec})
	default:
		b.writeReply(conn, Reply{})
	}
}

func (b *Bridge) writeReply(conn net.Conn, reply Reply) {
	data, err := json.Marshal(reply)
	if err != nil {
		return
	}
	data = append(data, '\n')
	_, _ = conn.Write(data)
}
