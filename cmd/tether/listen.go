package main

import (
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"tether/internal/channel"
	"tether/internal/journal"
	"tether/internal/types"

	"github.com/goccy/go-json"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	listenTypes  []string
	listenFilter string
	listenRecord string
)

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Print envelopes from the event channel until interrupted",
	Long: `Connect the event channel and print every received envelope as one JSON
line. Lost connections are retried with exponential backoff; the command
exits once the reconnect ceiling is reached.`,
	Example: `  tether listen
  tether listen -t draw_result -t balance_update
  tether listen -t balance_update --filter 'amount > ` + "`100`" + `'
  tether listen --record events.tj`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		sess, err := openSession(ctx)
		if err != nil {
			return err
		}
		defer sess.Close()

		var rec *journal.Writer
		if listenRecord != "" {
			rec, err = journal.Open(listenRecord)
			if err != nil {
				return fmt.Errorf("journal: %w", err)
			}
			defer func() {
				_ = rec.Close()
			}()
		}

		out := cmd.OutOrStdout()
		emit := func(env types.Envelope) {
			b, err := json.Marshal(env)
			if err != nil {
				return
			}
			fmt.Fprintln(out, string(b))
			if rec != nil {
				if err := rec.Append(env); err != nil {
					log.WithError(err).Warn("failed to record envelope")
				}
			}
		}

		ch := sess.Channel
		if len(listenTypes) == 0 && listenFilter == "" {
			ch.OnAll(emit)
		}
		for _, t := range listenTypes {
			msgType := t
			h := channel.Handler(func(payload any) { emit(types.Envelope{Type: msgType, Payload: payload}) })
			if listenFilter != "" {
				if _, err := ch.OnFiltered(msgType, listenFilter, h); err != nil {
					return err
				}
				continue
			}
			ch.On(msgType, h)
		}
		if len(listenTypes) == 0 && listenFilter != "" {
			if _, err := ch.OnFiltered(types.WildcardType, listenFilter, func(v any) {
				if env, ok := v.(types.Envelope); ok {
					emit(env)
				}
			}); err != nil {
				return err
			}
		}

		gaveUp := make(chan channel.CloseEvent, 1)
		ch.OnClose(func(ev channel.CloseEvent) {
			if ev.Terminal {
				gaveUp <- ev
			}
		})
		ch.OnError(func(err error) {
			log.WithError(err).Debug("event channel error")
		})

		if err := ch.Connect(ctx); err != nil {
			log.WithError(err).Warn("initial connect failed")
			if errors.Is(err, types.ErrNoCredential) {
				return err
			}
		}

		select {
		case <-ctx.Done():
			ch.Disconnect()
			return nil
		case ev := <-gaveUp:
			if ev.Err != nil {
				return fmt.Errorf("event channel closed after %d attempts: %w", ev.Attempt, ev.Err)
			}
			return fmt.Errorf("event channel closed after %d attempts (code %d)", ev.Attempt, ev.Code)
		}
	},
}

func init() {
	listenCmd.Flags().StringArrayVarP(&listenTypes, "type", "t", nil, "only print these message types (repeatable)")
	listenCmd.Flags().StringVar(&listenFilter, "filter", "", "JMESPath expression the payload must satisfy (the envelope without --type)")
	listenCmd.Flags().StringVar(&listenRecord, "record", "", "append received envelopes to this journal file")
}
