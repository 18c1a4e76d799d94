// Package main provides a terminal chat client for the assistant gateway.
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/guiIerme/JobFinder-sub003/internal/protocol"
)

// inbound is an outbound gateway frame as seen by the client.
type inbound struct {
	Type      string          `json:"type"`
	SessionID string          `json:"session_id,omitempty"`
	RequestID string          `json:"request_id,omitempty"`
	Payload   json.RawMessage `json:"payload"`
}

// Client represents a WebSocket client.
type Client struct {
	conn      *websocket.Conn
	sessionID string
	done      chan struct{}
}

// NewClient connects to the gateway. token takes precedence over anonID.
func NewClient(addr, token, anonID, page string) (*Client, error) {
	u, err := url.Parse(addr)
	if err != nil {
		return nil, fmt.Errorf("parse addr: %w", err)
	}
	q := u.Query()
	if anonID != "" {
		q.Set("anon_id", anonID)
	}
	if page != "" {
		q.Set("page", page)
	}
	u.RawQuery = q.Encode()

	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	conn, _, err := websocket.DefaultDialer.Dial(u.String(), header)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}

	return &Client{
		conn: conn,
		done: make(chan struct{}),
	}, nil
}

// Close closes the client connection.
func (c *Client) Close() error {
	close(c.done)
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	return c.conn.Close()
}

// AwaitSession reads the first frame, which is either the session snapshot
// or an authentication error.
func (c *Client) AwaitSession() (*protocol.SessionPayload, error) {
	var f inbound
	if err := c.conn.ReadJSON(&f); err != nil {
		return nil, fmt.Errorf("read session: %w", err)
	}
	if f.Type == protocol.TypeError {
		var e protocol.ErrorPayload
		_ = json.Unmarshal(f.Payload, &e)
		return nil, fmt.Errorf("connection refused: %s - %s", e.Code, e.Message)
	}
	var s protocol.SessionPayload
	if err := json.Unmarshal(f.Payload, &s); err != nil || s.Event != protocol.EventSession {
		return nil, fmt.Errorf("expected session frame, got %s", f.Type)
	}
	c.sessionID = s.SessionID
	return &s, nil
}

// SendChat sends a chat message.
func (c *Client) SendChat(text string) error {
	return c.send(protocol.TypeChat, protocol.ChatPayload{
		Text:      text,
		RequestID: fmt.Sprintf("req_%d", time.Now().UnixNano()),
	})
}

// SendRating rates the conversation.
func (c *Client) SendRating(score int, comment string) error {
	return c.send(protocol.TypeRating, protocol.RatingPayload{Score: score, Comment: comment})
}

func (c *Client) send(typ string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return c.conn.WriteJSON(protocol.Envelope{Type: typ, Payload: data})
}

// ReadMessages reads and prints frames from the server.
func (c *Client) ReadMessages() {
	for {
		select {
		case <-c.done:
			return
		default:
			var f inbound
			if err := c.conn.ReadJSON(&f); err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
					log.Printf("Read error: %v", err)
				}
				return
			}
			c.print(&f)
		}
	}
}

func (c *Client) print(f *inbound) {
	switch f.Type {
	case protocol.TypeTyping:
		var p protocol.TypingPayload
		if json.Unmarshal(f.Payload, &p) == nil && p.Typing {
			fmt.Println("  assistente digitando...")
		}
	case protocol.TypeMessage:
		var s protocol.SessionPayload
		if json.Unmarshal(f.Payload, &s) == nil && s.Event == protocol.EventSession {
			c.sessionID = s.SessionID
			fmt.Printf("\n[session %s]\n", s.SessionID)
			if s.Notice != "" {
				fmt.Printf("  %s\n", s.Notice)
			}
			return
		}
		var m protocol.MessageView
		if err := json.Unmarshal(f.Payload, &m); err != nil {
			log.Printf("Unmarshal error: %v", err)
			return
		}
		if m.Sender == "user" {
			return
		}
		label := m.Sender
		if m.Cached {
			label += ", cache"
		}
		fmt.Printf("\n[%s] %s\n", label, m.Content)
	case protocol.TypeRateLimited:
		var p protocol.RateLimitedPayload
		_ = json.Unmarshal(f.Payload, &p)
		fmt.Printf("\n[limite] %s (%ds)\n", p.Message, p.RetryAfterSeconds)
	case protocol.TypeError:
		var p protocol.ErrorPayload
		_ = json.Unmarshal(f.Payload, &p)
		fmt.Printf("\n[erro %s] %s\n", p.Code, p.Message)
	default:
		fmt.Printf("\n[%s] %s\n", f.Type, string(f.Payload))
	}
}

func main() {
	addr := flag.String("addr", "ws://localhost:8090/ws", "WebSocket server address")
	token := flag.String("token", "", "Bearer token for an authenticated user")
	anonID := flag.String("anon-id", "", "Anonymous visitor id, used when no token is given")
	page := flag.String("page", "", "Page the visitor is on")
	flag.Parse()

	log.SetFlags(log.Ltime)
	if *token == "" && *anonID == "" {
		*anonID = fmt.Sprintf("cli-%d", time.Now().UnixNano())
	}

	fmt.Printf("Connecting to %s...\n", *addr)

	client, err := NewClient(*addr, *token, *anonID, *page)
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer client.Close()

	sess, err := client.AwaitSession()
	if err != nil {
		log.Fatalf("%v", err)
	}

	state := "new"
	if sess.Resumed {
		state = "resumed"
	}
	fmt.Printf("Session %s (%s, %s)\n", sess.SessionID, state, sess.Role)
	for _, m := range sess.History {
		fmt.Printf("  [%s] %s\n", m.Sender, m.Content)
	}
	fmt.Println("\nType a message and press Enter to send.")
	fmt.Println("Commands: /rate <1-5> [comment], /quit")

	go client.ReadMessages()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	for {
		fmt.Print("> ")
		select {
		case <-interrupt:
			fmt.Println("\nInterrupted")
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			input := strings.TrimSpace(line)
			switch {
			case input == "":
				continue
			case input == "/quit":
				fmt.Println("Bye!")
				return
			case strings.HasPrefix(input, "/rate"):
				fields := strings.Fields(input)
				if len(fields) < 2 {
					fmt.Println("usage: /rate <1-5> [comment]")
					continue
				}
				score, err := strconv.Atoi(fields[1])
				if err != nil {
					fmt.Println("score must be a number")
					continue
				}
				if err := client.SendRating(score, strings.Join(fields[2:], " ")); err != nil {
					log.Printf("Send error: %v", err)
				}
			default:
				if err := client.SendChat(input); err != nil {
					log.Printf("Send error: %v", err)
				}
			}
		}
	}
}
