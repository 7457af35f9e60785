package nfs

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/marmos91/nfsd/internal/logger"
	nfsproto "github.com/marmos91/nfsd/internal/protocol/nfs"
	"github.com/marmos91/nfsd/internal/protocol/rpc"
)

// NFSConnection reads record-marked calls from one TCP connection and hands
// them to the worker pool. Several calls may be in flight at once; replies
// are written whole under writeMu, in completion order.
type NFSConnection struct {
	server *NFSAdapter
	conn   net.Conn
	client nfsproto.Client

	writeMu  sync.Mutex
	inflight sync.WaitGroup
}

func NewNFSConnection(server *NFSAdapter, conn net.Conn) *NFSConnection {
	return &NFSConnection{
		server: server,
		conn:   conn,
		client: nfsproto.Client{Protocol: "tcp", Addr: conn.RemoteAddr().String()},
	}
}

// Serve handles calls until the client disconnects, a timeout fires or the
// server shuts down. Sessions bound to the connection are closed after the
// last in-flight call has replied.
func (c *NFSConnection) Serve(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Panic in connection handler from %s: %v", c.client.Addr, r)
		}
		c.inflight.Wait()
		_ = c.conn.Close()
		if n := c.server.sessions.CloseConnection(ctx, c.client.Protocol, c.client.Addr); n > 0 {
			logger.Debug("Closed %d session(s) of %s", n, c.client.Addr)
		}
	}()

	for {
		select {
		case <-c.server.shutdown:
			logger.Debug("Connection from %s closed due to server shutdown", c.client.Addr)
			return
		default:
		}

		message, err := c.readRecord()
		if err != nil {
			var netErr net.Error
			switch {
			case errors.Is(err, io.EOF):
				logger.Debug("Connection from %s closed by client", c.client.Addr)
			case errors.As(err, &netErr) && netErr.Timeout():
				logger.Debug("Connection from %s timed out: %v", c.client.Addr, err)
			default:
				logger.Debug("Error reading from %s: %v", c.client.Addr, err)
			}
			return
		}
		c.server.metrics.RecordBytesTransferred("in", int64(len(message)))

		c.inflight.Add(1)
		err = c.server.pool.Submit(ctx, func() {
			defer c.inflight.Done()
			if reply := c.server.process(ctx, message, c.client); reply != nil {
				c.sendReply(reply)
			}
		})
		if err != nil {
			c.inflight.Done()
			logger.Debug("Connection from %s: %v", c.client.Addr, err)
			return
		}
	}
}

// readRecord waits up to the idle timeout for a record to start, then
// gives it the read timeout to arrive.
func (c *NFSConnection) readRecord() ([]byte, error) {
	timeouts := c.server.config.Timeouts
	if timeouts.Idle > 0 {
		if err := c.conn.SetReadDeadline(time.Now().Add(timeouts.Idle)); err != nil {
			return nil, err
		}
	}

	var first [1]byte
	if _, err := io.ReadFull(c.conn, first[:]); err != nil {
		return nil, err
	}

	if timeouts.Read > 0 {
		if err := c.conn.SetReadDeadline(time.Now().Add(timeouts.Read)); err != nil {
			return nil, err
		}
	}
	r := io.MultiReader(bytes.NewReader(first[:]), c.conn)
	return rpc.ReadRecord(r, c.server.config.MaxRecordSize)
}

func (c *NFSConnection) sendReply(reply []byte) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if t := c.server.config.Timeouts.Write; t > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(t)); err != nil {
			logger.Debug("Failed to set write deadline for %s: %v", c.client.Addr, err)
			return
		}
	}

	framed := rpc.AddRecordMark(reply)
	if _, err := c.conn.Write(framed); err != nil {
		logger.Debug("Error writing reply to %s: %v", c.client.Addr, err)
		_ = c.conn.Close()
		return
	}
	c.server.metrics.RecordBytesTransferred("out", int64(len(framed)))
}
