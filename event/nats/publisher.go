package nats

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/code-payments/flipchat-billing/event"
)

// Publisher is the part of *nats.Conn the handler needs.
type Publisher interface {
	Publish(subject string, data []byte) error
}

type handler[Key ~string, Event any] struct {
	log    *zap.Logger
	pub    Publisher
	prefix string
}

// NewHandler returns a bus handler publishing every event as JSON on the
// subject "<prefix>.<key>".
func NewHandler[Key ~string, Event any](log *zap.Logger, pub Publisher, prefix string) event.Handler[Key, Event] {
	return &handler[Key, Event]{
		log:    log,
		pub:    pub,
		prefix: strings.TrimSuffix(prefix, "."),
	}
}

func (h *handler[Key, Event]) OnEvent(key Key, e Event) {
	subject := Subject(h.prefix, string(key))
	log := h.log.With(zap.String("subject", subject))

	data, err := json.Marshal(e)
	if err != nil {
		log.Warn("Failed to marshal event", zap.Error(err))
		return
	}

	if err := h.pub.Publish(subject, data); err != nil {
		log.Warn("Failed to publish event", zap.Error(err))
		return
	}

	log.Debug("Published event", zap.Int("size", len(data)))
}

func Subject(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}

// Connect opens a connection to url that keeps reconnecting in the
// background and logs connection changes.
func Connect(log *zap.Logger, url string) (*nats.Conn, error) {
	conn, err := nats.Connect(url,
		nats.Name("flipchat-billing"),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(10),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Warn("NATS disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to nats")
	}
	return conn, nil
}
