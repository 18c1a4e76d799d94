// Package notify delivers session lifecycle events to an external
// notification service over JSON-RPC.
package notify

import (
	"context"
	"fmt"
	"net"
	"net/rpc/jsonrpc"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/guiIerme/JobFinder-sub003/internal/domain"
	"github.com/guiIerme/JobFinder-sub003/internal/logging"
)

// Client calls Notifier.Deliver on the configured address. An empty address
// disables delivery.
type Client struct {
	addr        string
	dialTimeout time.Duration
	callTimeout time.Duration
	wg          sync.WaitGroup
}

func NewClient(addr string) *Client {
	return &Client{
		addr:        resolveRPCAddr(addr),
		dialTimeout: 5 * time.Second,
		callTimeout: 5 * time.Second,
	}
}

// DeliverRequest is the body of Notifier.Deliver.
type DeliverRequest struct {
	Type        string `json:"type"`
	SessionID   string `json:"session_id"`
	UserID      string `json:"user_id,omitempty"`
	AnonymousID string `json:"anonymous_id,omitempty"`
	Reason      string `json:"reason,omitempty"`
	At          int64  `json:"at"`
}

// DeliverResponse is the reply of Notifier.Deliver.
type DeliverResponse struct {
	OK bool `json:"ok"`
}

// Enabled reports whether an address is configured.
func (c *Client) Enabled() bool { return c.addr != "" }

// Notify sends ev in the background. Failures are logged and dropped.
func (c *Client) Notify(ev domain.SessionEvent) {
	if c.addr == "" {
		return
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if err := c.Deliver(context.Background(), ev); err != nil {
			logging.Warn().Err(err).
				Str("session_id", ev.SessionID).
				Str("event", string(ev.Type)).
				Msg("notification delivery failed")
		}
	}()
}

// Wait blocks until background deliveries finished.
func (c *Client) Wait() { c.wg.Wait() }

// Deliver sends ev synchronously.
func (c *Client) Deliver(ctx context.Context, ev domain.SessionEvent) error {
	if c.addr == "" {
		return nil
	}

	req := &DeliverRequest{
		Type:        string(ev.Type),
		SessionID:   ev.SessionID,
		UserID:      ev.UserID,
		AnonymousID: ev.AnonymousID,
		Reason:      ev.Reason,
		At:          ev.At.UnixMilli(),
	}

	var resp DeliverResponse
	ctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	if err := c.call(ctx, "Notifier.Deliver", req, &resp); err != nil {
		return &domain.ExternalServiceError{Op: "notifier", Err: err}
	}
	if !resp.OK {
		return &domain.ExternalServiceError{Op: "notifier", Err: fmt.Errorf("notifier returned ok=false")}
	}
	return nil
}

func (c *Client) call(ctx context.Context, method string, args, reply interface{}) error {
	conn, err := net.DialTimeout("tcp", c.addr, c.dialTimeout)
	if err != nil {
		return err
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	} else if c.callTimeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(c.callTimeout))
	}

	client := jsonrpc.NewClient(conn)
	call := client.Go(method, args, reply, nil)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-call.Done:
		return call.Error
	}
}

func resolveRPCAddr(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if strings.Contains(raw, "://") {
		parsed, err := url.Parse(raw)
		if err == nil && parsed.Host != "" {
			return parsed.Host
		}
	}
	return raw
}
