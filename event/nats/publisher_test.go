package nats

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/code-payments/flipchat-billing/event"
)

type published struct {
	subject string
	data    []byte
}

type fakePublisher struct {
	err  error
	msgs []published
}

func (p *fakePublisher) Publish(subject string, data []byte) error {
	if p.err != nil {
		return p.err
	}
	p.msgs = append(p.msgs, published{subject: subject, data: data})
	return nil
}

type kind string

type payload struct {
	Code  int    `json:"code"`
	Token string `json:"token"`
}

func TestHandler(t *testing.T) {
	pub := &fakePublisher{}

	bus := event.NewBus[kind, *payload]()
	bus.AddHandler(NewHandler[kind, *payload](zap.NewNop(), pub, "billing."))

	require.NoError(t, bus.OnEvent("consume_finished", &payload{Code: 0, Token: "token"}))
	require.NoError(t, bus.OnEvent("disconnected", &payload{Code: -1}))

	require.Len(t, pub.msgs, 2)
	assert.Equal(t, "billing.consume_finished", pub.msgs[0].subject)
	assert.Equal(t, "billing.disconnected", pub.msgs[1].subject)

	var decoded payload
	require.NoError(t, json.Unmarshal(pub.msgs[0].data, &decoded))
	assert.Equal(t, "token", decoded.Token)
}

func TestHandler_PublishError(t *testing.T) {
	pub := &fakePublisher{err: errors.New("connection closed")}

	h := NewHandler[kind, *payload](zap.NewNop(), pub, "billing")
	h.OnEvent("query_completed", &payload{})

	assert.Empty(t, pub.msgs)
}

func TestSubject(t *testing.T) {
	assert.Equal(t, "billing.setup_finished", Subject("billing", "setup_finished"))
	assert.Equal(t, "setup_finished", Subject("", "setup_finished"))
}
