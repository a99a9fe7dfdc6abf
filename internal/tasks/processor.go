package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const TypeExpirePermissions = "expire_permissions"

type Expirer interface {
	ExpireOverdue(ctx context.Context) (int64, error)
}

type Processor struct {
	expirer Expirer
	timeout time.Duration
	logger  zerolog.Logger
}

type TaskPayload struct {
	Type        string `json:"type"`
	RequestedAt string `json:"requestedAt"`
}

func NewProcessor(expirer Expirer, logger zerolog.Logger) *Processor {
	return &Processor{
		expirer: expirer,
		timeout: time.Minute,
		logger:  logger,
	}
}

func (p *Processor) Handle(ctx context.Context, msg redis.XMessage) error {
	var payload TaskPayload
	if err := decodePayload(msg.Values, &payload); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}

	switch payload.Type {
	case TypeExpirePermissions:
		return p.handleExpire(ctx, msg.ID, payload)
	default:
		p.logger.Warn().Str("type", payload.Type).Str("message_id", msg.ID).Msg("unknown task type")
		return nil
	}
}

func decodePayload(values map[string]interface{}, out *TaskPayload) error {
	bytes, err := json.Marshal(values)
	if err != nil {
		return err
	}
	return json.Unmarshal(bytes, out)
}

func (p *Processor) handleExpire(ctx context.Context, messageID string, payload TaskPayload) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	start := time.Now()
	n, err := p.expirer.ExpireOverdue(ctx)
	if err != nil {
		return fmt.Errorf("expire overdue permissions: %w", err)
	}
	p.logger.Info().
		Str("message_id", messageID).
		Str("requested_at", payload.RequestedAt).
		Int64("expired", n).
		Dur("took", time.Since(start)).
		Msg("expiry sweep finished")
	return nil
}
