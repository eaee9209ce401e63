// Package notify carries wager events between server instances over Redis
// pub/sub.
package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"horse-wager/internal/logging"
	"horse-wager/internal/model"
)

const (
	typeBigWin     = "big_win"
	typeSettlement = "settlement"
)

// Sink receives relayed events, typically the local ws hub.
type Sink interface {
	PublishBigWin(ctx context.Context, ev model.BigWinEvent) error
	PublishSettlement(ctx context.Context, accountID string, res model.SettlementResult) error
}

type envelope struct {
	Type      string          `json:"type"`
	AccountID string          `json:"account_id,omitempty"`
	Data      json.RawMessage `json:"data"`
}

type RedisBus struct {
	rdb     *redis.Client
	channel string
	log     zerolog.Logger
}

func NewRedisClient(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{Addr: addr})
}

func NewRedisBus(rdb *redis.Client, channel string) *RedisBus {
	return &RedisBus{rdb: rdb, channel: channel, log: logging.Component("notify")}
}

func (b *RedisBus) PublishBigWin(ctx context.Context, ev model.BigWinEvent) error {
	return b.publish(ctx, typeBigWin, "", ev)
}

func (b *RedisBus) PublishSettlement(ctx context.Context, accountID string, res model.SettlementResult) error {
	return b.publish(ctx, typeSettlement, accountID, res)
}

func (b *RedisBus) publish(ctx context.Context, typ, accountID string, data any) error {
	payload, err := encode(typ, accountID, data)
	if err != nil {
		return err
	}
	if err := b.rdb.Publish(ctx, b.channel, payload).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

// Relay forwards every event on the channel to sink until ctx is done.
func (b *RedisBus) Relay(ctx context.Context, sink Sink) error {
	sub := b.rdb.Subscribe(ctx, b.channel)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("redis subscribe: %w", err)
	}
	b.log.Info().Str("channel", b.channel).Msg("relaying events")

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			if err := dispatch(ctx, sink, msg.Payload); err != nil {
				b.log.Warn().Err(err).Msg("drop relayed event")
			}
		}
	}
}

func encode(typ, accountID string, data any) (string, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return "", err
	}
	b, err := json.Marshal(envelope{Type: typ, AccountID: accountID, Data: raw})
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func dispatch(ctx context.Context, sink Sink, payload string) error {
	var env envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		return fmt.Errorf("decode envelope: %w", err)
	}
	switch env.Type {
	case typeBigWin:
		var ev model.BigWinEvent
		if err := json.Unmarshal(env.Data, &ev); err != nil {
			return fmt.Errorf("decode big win: %w", err)
		}
		return sink.PublishBigWin(ctx, ev)
	case typeSettlement:
		var res model.SettlementResult
		if err := json.Unmarshal(env.Data, &res); err != nil {
			return fmt.Errorf("decode settlement: %w", err)
		}
		return sink.PublishSettlement(ctx, env.AccountID, res)
	}
	return fmt.Errorf("unknown event type %q", env.Type)
}
