/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/rewear/apiserver/config"
	"github.com/rewear/apiserver/internal/logging"
	"github.com/rewear/apiserver/internal/mq"
	"github.com/spf13/cobra"
)

// notifyCmd represents the notify command
var notifyCmd = &cobra.Command{
	Use:   "notify",
	Short: "Consume marketplace events and log them",
	Long: `Subscribes to the events channel and logs every listing moderation,
order and swap request event. Requires MQ_BACKEND.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.LoadConfig()
		log := newLogger(cfg)

		broker, err := mq.Open(cmd.Context(), cfg.MQ)
		if err != nil {
			return fmt.Errorf("open message queue: %w", err)
		}
		if broker == nil {
			return errors.New("MQ_BACKEND is not set")
		}
		defer broker.Close()

		log.Info(cmd.Context(), "consuming events", "channel", cfg.MQ.Channel, "backend", cfg.MQ.Backend)
		err = broker.Subscribe(cmd.Context(), cfg.MQ.Channel, logEvent(log))
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(notifyCmd)
}

// logEvent logs each event. Malformed messages are logged and acknowledged.
func logEvent(log logging.Logger) mq.Handler {
	return func(ctx context.Context, msg mq.Message) error {
		event, err := mq.DecodeEvent(msg)
		if err != nil {
			log.Warn(ctx, "dropping malformed event", "message_id", msg.ID, "error", err)
			return nil
		}
		log.Info(ctx, "event received",
			"event_id", event.ID,
			"type", event.Type,
			"occurred_at", event.OccurredAt,
			"payload", string(event.Payload),
		)
		return nil
	}
}
