package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/linkeye/internal/notify"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

const (
	SubjectAck     = "linkeye.ack"
	SubjectInhibit = "linkeye.inhibit"
)

func Connect(url string, logger *zap.Logger) (*nats.Conn, error) {
	conn, err := nats.Connect(url,
		nats.Name("linkeye"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("NATS reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}
	return conn, nil
}

// Close drains conn so in-flight messages are handled first.
func Close(conn *nats.Conn) {
	if conn != nil {
		_ = conn.Drain()
		conn.Close()
	}
}

// Conn is the publishing side of *nats.Conn.
type Conn interface {
	Publish(subject string, data []byte) error
}

// Publisher emits alert events on a subject. It is a notify destination.
type Publisher struct {
	conn    Conn
	subject string
}

func NewPublisher(conn Conn, subject string) *Publisher {
	return &Publisher{conn: conn, subject: subject}
}

func (p *Publisher) Name() string { return "nats" }

func (p *Publisher) Send(ctx context.Context, msg notify.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal alert event: %w", err)
	}
	if err := p.conn.Publish(p.subject, data); err != nil {
		return fmt.Errorf("failed to publish alert event: %w", err)
	}
	return nil
}

// AckCommand accepts the current loss of a link for a while.
type AckCommand struct {
	Serial string  `json:"serial"`
	Loss   float64 `json:"loss"`
	Hours  float64 `json:"hours,omitempty"`
	By     string  `json:"by,omitempty"`
}

// InhibitCommand sets or clears an inhibition.
type InhibitCommand struct {
	Serial  string `json:"serial"`
	Inhibit bool   `json:"inhibit"`
	Reason  string `json:"reason,omitempty"`
	By      string `json:"by,omitempty"`
}

type reply struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

type CommandStore interface {
	SetAcknowledgment(ctx context.Context, serial string, loss float64, expiresAt time.Time, by string) error
	Inhibit(ctx context.Context, serial, reason, by string) error
	ClearInhibition(ctx context.Context, serial string) error
}

// Subscriber applies operator commands published by external tools.
type Subscriber struct {
	conn        *nats.Conn
	store       CommandStore
	ackDuration time.Duration
	logger      *zap.Logger
	subs        []*nats.Subscription
	now         func() time.Time
}

func NewSubscriber(conn *nats.Conn, store CommandStore, ackDuration time.Duration, logger *zap.Logger) *Subscriber {
	return &Subscriber{
		conn:        conn,
		store:       store,
		ackDuration: ackDuration,
		logger:      logger,
		now:         time.Now,
	}
}

func (s *Subscriber) Start() error {
	handlers := map[string]func(context.Context, []byte) error{
		SubjectAck:     s.HandleAck,
		SubjectInhibit: s.HandleInhibit,
	}
	for subject, handle := range handlers {
		subject, handle := subject, handle
		sub, err := s.conn.Subscribe(subject, func(msg *nats.Msg) {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			err := handle(ctx, msg.Data)
			if err != nil {
				s.logger.Warn("Operator command rejected", zap.String("subject", subject), zap.Error(err))
			}
			if msg.Reply != "" {
				r := reply{OK: err == nil}
				if err != nil {
					r.Error = err.Error()
				}
				data, _ := json.Marshal(r)
				_ = msg.Respond(data)
			}
		})
		if err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", subject, err)
		}
		s.subs = append(s.subs, sub)
	}
	s.logger.Info("Listening for operator commands", zap.Strings("subjects", []string{SubjectAck, SubjectInhibit}))
	return nil
}

func (s *Subscriber) Stop() {
	for _, sub := range s.subs {
		_ = sub.Unsubscribe()
	}
	s.subs = nil
}

func (s *Subscriber) HandleAck(ctx context.Context, data []byte) error {
	var cmd AckCommand
	if err := json.Unmarshal(data, &cmd); err != nil {
		return fmt.Errorf("invalid ack command: %w", err)
	}
	if cmd.Serial == "" {
		return fmt.Errorf("ack command without serial")
	}
	if cmd.Loss <= 0 {
		return fmt.Errorf("ack command for %s without loss", cmd.Serial)
	}
	d := s.ackDuration
	if cmd.Hours > 0 {
		d = time.Duration(cmd.Hours * float64(time.Hour))
	}
	by := cmd.By
	if by == "" {
		by = "nats"
	}
	if err := s.store.SetAcknowledgment(ctx, cmd.Serial, cmd.Loss, s.now().Add(d), by); err != nil {
		return err
	}
	s.logger.Info("Loss level acknowledged",
		zap.String("origin", cmd.Serial),
		zap.Float64("loss", cmd.Loss),
		zap.Duration("for", d),
		zap.String("by", by))
	return nil
}

func (s *Subscriber) HandleInhibit(ctx context.Context, data []byte) error {
	var cmd InhibitCommand
	if err := json.Unmarshal(data, &cmd); err != nil {
		return fmt.Errorf("invalid inhibit command: %w", err)
	}
	if cmd.Serial == "" {
		return fmt.Errorf("inhibit command without serial")
	}
	if !cmd.Inhibit {
		if err := s.store.ClearInhibition(ctx, cmd.Serial); err != nil {
			return err
		}
		s.logger.Info("Inhibition cleared", zap.String("origin", cmd.Serial))
		return nil
	}
	by := cmd.By
	if by == "" {
		by = "nats"
	}
	if err := s.store.Inhibit(ctx, cmd.Serial, cmd.Reason, by); err != nil {
		return err
	}
	s.logger.Info("Link inhibited", zap.String("origin", cmd.Serial), zap.String("reason", cmd.Reason))
	return nil
}
