package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

const (
	CommandTick      = "tick"
	CommandReconcile = "reconcile"
)

// DispatchCommand asks a worker to run a tick or a recovery pass.
type DispatchCommand struct {
	Action      string    `json:"action"`
	RequestedAt time.Time `json:"requested_at"`
}

// CommandHandler runs one dispatch command.
type CommandHandler func(ctx context.Context) error

func decodeCommand(payload any) (DispatchCommand, error) {
	switch v := payload.(type) {
	case DispatchCommand:
		return v, nil
	case *DispatchCommand:
		return *v, nil
	case json.RawMessage:
		var cmd DispatchCommand
		err := json.Unmarshal(v, &cmd)
		return cmd, err
	case []byte:
		var cmd DispatchCommand
		err := json.Unmarshal(v, &cmd)
		return cmd, err
	default:
		return DispatchCommand{}, fmt.Errorf("unexpected payload type %T", payload)
	}
}

// StartDispatchCommandSubscriber routes dispatch commands to handlers by
// action. Malformed or unknown commands are dropped without retry.
func StartDispatchCommandSubscriber(ctx context.Context, q Queue, handlers map[string]CommandHandler, log zerolog.Logger) error {
	return q.Subscribe(TopicDispatchCommands, func(payload any) error {
		cmd, err := decodeCommand(payload)
		if err != nil {
			log.Warn().Err(err).Msg("invalid dispatch command")
			return nil
		}

		handler, ok := handlers[cmd.Action]
		if !ok {
			log.Warn().Str("action", cmd.Action).Msg("unknown dispatch command")
			return nil
		}

		log.Info().Str("action", cmd.Action).Time("requested_at", cmd.RequestedAt).Msg("running dispatch command")
		if err := handler(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("%s command failed: %w", cmd.Action, err)
		}
		return nil
	})
}
