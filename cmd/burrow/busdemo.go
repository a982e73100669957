package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuemby/burrow/pkg/bus"
	"github.com/cuemby/burrow/pkg/container"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/storage"
)

var busDemoCmd = &cobra.Command{
	Use:   "bus-demo",
	Short: "Exercise the in-process message bus",
	Long: `Starts a message bus, subscribes to wildcard patterns, publishes a
burst of events, performs one request/reply round trip, and prints the
resulting statistics.`,
	RunE: runBusDemo,
}

func init() {
	busDemoCmd.Flags().Int("worker_threads", 4, "Bus worker count")
	busDemoCmd.Flags().Int("events", 100, "Events to publish")
	busDemoCmd.Flags().String("dead_letter_dir", "", "Persist dead letters under this directory")
}

func runBusDemo(cmd *cobra.Command, args []string) error {
	workers, _ := cmd.Flags().GetInt("worker_threads")
	events, _ := cmd.Flags().GetInt("events")
	dlqDir, _ := cmd.Flags().GetString("dead_letter_dir")

	cfg := bus.DefaultConfig()
	cfg.WorkerThreads = workers

	if dlqDir != "" {
		store, err := storage.NewDeadLetterStore(dlqDir)
		if err != nil {
			return err
		}
		defer store.Close()
		cfg.DeadLetterSink = store
	}

	b := bus.New(cfg)
	if err := b.Start(); err != nil {
		return err
	}
	defer b.Stop()

	seen := make(chan string, events*2)
	if _, err := b.Subscribe("demo.*", func(msg *bus.Message) error {
		seen <- msg.Topic
		return nil
	}, nil, 5); err != nil {
		return err
	}
	if _, err := b.Subscribe("demo.#", func(msg *bus.Message) error {
		seen <- msg.Topic
		return nil
	}, nil, 3); err != nil {
		return err
	}

	for i := 0; i < events; i++ {
		msg, err := bus.NewMessage(fmt.Sprintf("demo.event%d", i%4)).
			Source("bus-demo").
			Payload(container.NewMessage("data_container",
				container.NewInt("sequence", int32(i)))).
			Build()
		if err != nil {
			return err
		}
		if err := b.Publish(msg); err != nil {
			log.Logger.Warn().Err(err).Msg("publish failed")
		}
	}

	srv, err := bus.NewRequestServer(b, "demo.svc")
	if err != nil {
		return err
	}
	defer srv.Stop()
	if err := srv.RegisterHandler(func(req *bus.Message) (*bus.Message, error) {
		reply, err := bus.NewMessage("demo.svc.reply").Source("demo-service").Build()
		return reply, err
	}); err != nil {
		return err
	}

	cli, err := bus.NewRequestClient(b, "demo.svc")
	if err != nil {
		return err
	}
	defer cli.Close()

	req, err := bus.NewMessage("demo.svc").Source("bus-demo").Build()
	if err != nil {
		return err
	}
	if _, err := cli.Request(req, 3*time.Second); err != nil {
		return fmt.Errorf("request/reply round trip: %w", err)
	}

	time.Sleep(500 * time.Millisecond)
	stats := b.Stats()
	log.Logger.Info().
		Uint64("published", stats.Published).
		Uint64("processed", stats.Processed).
		Uint64("failed", stats.Failed).
		Uint64("dropped", stats.Dropped).
		Int("deliveries", len(seen)).
		Msg("bus demo complete")
	return nil
}
