package main

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"net"
	"sync"

	"github.com/google/uuid"

	"github.com/dbroker/dbr/internal/wire"
	"github.com/dbroker/dbr/pkg/tuplestore"
)

// client is a single wire-protocol connection to a forwarding daemon,
// issuing requests and matching their completions back by cookie. It
// mirrors cmd/dbr-forwardd's own pending-call table, just from the other
// side of the socket.
type client struct {
	conn net.Conn
	r    *bufio.Reader

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[uint64]chan *wire.DecodedCompletion

	done    chan struct{}
	doneErr error
}

func dial(addr string) (*client, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", addr, err)
	}
	c := &client{
		conn:    conn,
		r:       bufio.NewReader(conn),
		pending: make(map[uint64]chan *wire.DecodedCompletion),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

func (c *client) Close() error {
	return c.conn.Close()
}

// nextCookie generates a request correlation token from a fresh UUID's
// low 8 bytes: cheap uniqueness across however many workers share this
// client without a shared counter.
func nextCookie() uint64 {
	id := uuid.New()
	return binary.BigEndian.Uint64(id[8:16])
}

// Do sends req and blocks until its matching completion arrives.
func (c *client) Do(req *tuplestore.Request) (*wire.DecodedCompletion, error) {
	cookie := nextCookie()
	ch := make(chan *wire.DecodedCompletion, 1)

	c.mu.Lock()
	c.pending[cookie] = ch
	c.mu.Unlock()

	c.writeMu.Lock()
	err := wire.EncodeRequest(c.conn, req, cookie)
	c.writeMu.Unlock()
	if err != nil {
		c.mu.Lock()
		delete(c.pending, cookie)
		c.mu.Unlock()
		return nil, err
	}

	select {
	case dc := <-ch:
		return dc, nil
	case <-c.done:
		return nil, c.doneErr
	}
}

func (c *client) readLoop() {
	for {
		dc, err := wire.DecodeCompletion(c.r)
		if err != nil {
			c.doneErr = err
			close(c.done)
			return
		}

		c.mu.Lock()
		ch, ok := c.pending[dc.Comp.Cookie]
		if ok {
			delete(c.pending, dc.Comp.Cookie)
		}
		c.mu.Unlock()

		if ok {
			ch <- dc
		}
	}
}
