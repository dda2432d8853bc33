package bus

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/loqalabs/loqa-parrot/internal/config"
	"github.com/loqalabs/loqa-parrot/internal/hotkey"
	"github.com/loqalabs/loqa-parrot/internal/protocol"
)

// Client wraps NATS connection and JetStream context with minimal helpers.
type Client struct {
	conn *nats.Conn
	js   nats.JetStreamContext
	log  *slog.Logger
}

func Connect(ctx context.Context, cfg config.BusConfig, log *slog.Logger) (*Client, error) {
	if len(cfg.Servers) == 0 {
		return nil, errors.New("no NATS servers configured")
	}

	options := []nats.Option{
		nats.Name("loqa-parrot"),
		nats.Timeout(time.Duration(cfg.ConnectTimeout) * time.Millisecond),
	}

	if cfg.Username != "" || cfg.Password != "" {
		options = append(options, nats.UserInfo(cfg.Username, cfg.Password))
	}
	if cfg.Token != "" {
		options = append(options, nats.Token(cfg.Token))
	}
	if cfg.TLSInsecure {
		options = append(options, nats.Secure(&tls.Config{InsecureSkipVerify: true}))
	}

	url := strings.Join(cfg.Servers, ",")
	conn, err := nats.Connect(url, options...)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("create jetstream context: %w", err)
	}

	log.Info("connected to NATS", slog.String("servers", url))

	return &Client{
		conn: conn,
		js:   js,
		log:  log,
	}, nil
}

func (c *Client) Close() {
	if c == nil {
		return
	}
	c.log.Info("closing NATS connection")
	c.conn.Drain()
	c.conn.Close()
}

func (c *Client) Healthy() bool {
	return c != nil && c.conn != nil && c.conn.Status() == nats.CONNECTED
}

func (c *Client) Conn() *nats.Conn {
	return c.conn
}

// EnsureTranscriptStream creates the stream retaining final transcripts.
// Servers without JetStream yield an error the caller may ignore.
func (c *Client) EnsureTranscriptStream(maxAge time.Duration) error {
	_, err := c.js.StreamInfo(protocol.StreamTranscripts)
	if err == nil {
		return nil
	}
	if !errors.Is(err, nats.ErrStreamNotFound) {
		return fmt.Errorf("lookup transcript stream: %w", err)
	}
	_, err = c.js.AddStream(&nats.StreamConfig{
		Name:     protocol.StreamTranscripts,
		Subjects: []string{protocol.SubjectTranscriptFinal},
		Storage:  nats.FileStorage,
		MaxAge:   maxAge,
	})
	if err != nil {
		return fmt.Errorf("create transcript stream: %w", err)
	}
	return nil
}

// PublishTranscript fans a transcript out on the partial or final subject.
func (c *Client) PublishTranscript(tr protocol.Transcript) error {
	subject := protocol.SubjectTranscriptFinal
	if tr.Partial {
		subject = protocol.SubjectTranscriptPartial
	}
	return c.publishJSON(subject, tr)
}

func (c *Client) PublishState(st protocol.SessionState) error {
	return c.publishJSON(protocol.SubjectSessionState, st)
}

func (c *Client) publishJSON(subject string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.conn.Publish(subject, data)
}

// SubscribeControl forwards remote control commands to out until the
// subscription is drained.
func (c *Client) SubscribeControl(ctx context.Context, out chan<- hotkey.Command) (*nats.Subscription, error) {
	return c.conn.Subscribe(protocol.SubjectControl, func(msg *nats.Msg) {
		cmd, err := DecodeControl(msg.Data)
		if err != nil {
			c.log.Warn("invalid control command", slog.String("error", err.Error()))
			c.reply(msg, err)
			return
		}
		select {
		case out <- cmd:
			c.reply(msg, nil)
		case <-ctx.Done():
		}
	})
}

func (c *Client) reply(msg *nats.Msg, err error) {
	if msg.Reply == "" {
		return
	}
	resp := map[string]string{"status": "ok"}
	if err != nil {
		resp = map[string]string{"status": "error", "error": err.Error()}
	}
	data, _ := json.Marshal(resp)
	if err := msg.Respond(data); err != nil {
		c.log.Warn("failed to reply to control command", slog.String("error", err.Error()))
	}
}

// DecodeControl parses a control payload.
func DecodeControl(data []byte) (hotkey.Command, error) {
	var msg protocol.ControlCommand
	if err := json.Unmarshal(data, &msg); err != nil {
		return hotkey.Command{}, fmt.Errorf("decode control command: %w", err)
	}
	cmd, err := hotkey.ParseCommand(msg.Command, msg.Slot)
	if err != nil {
		return hotkey.Command{}, err
	}
	cmd.Origin = "bus"
	return cmd, nil
}
