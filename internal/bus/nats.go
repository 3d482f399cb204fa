package bus

import (
	"encoding/json"

	"github.com/nats-io/nats.go"
)

// Subjects the platform publishes on.
const (
	SubjectAlerts = "alerts.dispatched"
	SubjectCycles = "cycles.completed"
)

// Publisher is a thin JSON publisher over a NATS connection. The bus is
// optional infrastructure; callers hold a nil *Publisher when no broker
// is configured and skip publishing.
type Publisher struct {
	Conn *nats.Conn
}

func NewPublisher(url string) (*Publisher, error) {
	conn, err := nats.Connect(url)
	if err != nil {
		return nil, err
	}
	return &Publisher{Conn: conn}, nil
}

func (p *Publisher) Close() {
	if p.Conn != nil {
		p.Conn.Drain()
		p.Conn.Close()
	}
}

func (p *Publisher) Publish(subject string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return p.Conn.Publish(subject, data)
}
