package commands

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/total-audio/meshos/internal/printer"
)

var (
	watchMessages bool
	watchDrift    bool
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream live mesh events",
	Long: `Stream message and drift events for the workspace as they are
published. Events are delivered over Redis Pub/Sub, so only events
emitted while watching are shown.

By default both event streams are watched; narrow with --messages or
--drift. Stop with Ctrl-C.`,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().BoolVar(&watchMessages, "messages", false, "Watch message events only")
	watchCmd.Flags().BoolVar(&watchDrift, "drift", false, "Watch drift events only")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	// Neither flag set means watch everything.
	all := !watchMessages && !watchDrift

	cfg, store, _, err := connect()
	if err != nil {
		return err
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	printer.Info("Watching workspace %q (Ctrl-C to stop)\n\n", cfg.Workspace)

	done := make(chan struct{})

	if all || watchMessages {
		sub, err := store.SubscribeMessageEvents(ctx)
		if err != nil {
			return printer.Error("Subscription failed", err.Error(), nil)
		}
		defer sub.Close()

		go func() {
			for m := range sub.Events() {
				printer.Printf("%s  message  %s -> %s  %s (%s)\n",
					time.Now().Format("15:04:05"), m.Source, m.Target, m.Type, m.ID)
			}
			done <- struct{}{}
		}()
	} else {
		go func() { <-ctx.Done(); done <- struct{}{} }()
	}

	if all || watchDrift {
		sub, err := store.SubscribeDriftEvents(ctx)
		if err != nil {
			return printer.Error("Subscription failed", err.Error(), nil)
		}
		defer sub.Close()

		go func() {
			for d := range sub.Events() {
				printer.Printf("%s  drift    %s  score %.2f (%s)  %v\n",
					time.Now().Format("15:04:05"), d.DriftType, d.Score,
					printer.Severity(string(d.Severity)), d.Systems)
			}
			done <- struct{}{}
		}()
	} else {
		go func() { <-ctx.Done(); done <- struct{}{} }()
	}

	<-done
	<-done
	printer.Info("\nStopped.\n")
	return nil
}
