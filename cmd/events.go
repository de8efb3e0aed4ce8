/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/authgate/apiserver/config"
	"github.com/authgate/apiserver/internal/mq"
	"github.com/authgate/apiserver/internal/services"
	"github.com/spf13/cobra"
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Inspect the auth event stream",
}

var eventsTailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Print auth events as JSON lines until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.LoadConfig()
		log := newLogger(cfg)

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		queue, err := mq.Open(ctx, cfg.MQ)
		if err != nil {
			return err
		}
		if queue == nil {
			return errors.New("MQ_BACKEND is not set")
		}
		defer func() { _ = queue.Close() }()

		var mu sync.Mutex
		enc := json.NewEncoder(os.Stdout)
		err = queue.Subscribe(ctx, cfg.MQ.EventsChannel, func(ctx context.Context, msg mq.Message) error {
			event, err := services.DecodeEvent(msg)
			if err != nil {
				// undecodable messages are dropped, not redelivered
				log.Warn(ctx, "skip malformed event", "message_id", msg.ID, "err", err)
				return nil
			}
			mu.Lock()
			defer mu.Unlock()
			return enc.Encode(event)
		})
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	},
}

func init() {
	rootCmd.AddCommand(eventsCmd)
	eventsCmd.AddCommand(eventsTailCmd)
}
