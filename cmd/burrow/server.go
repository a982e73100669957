package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cuemby/burrow/pkg/container"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/metrics"
	"github.com/cuemby/burrow/pkg/server"
	"github.com/cuemby/burrow/pkg/session"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Run an echo messaging server",
	Long: `Starts a messaging server that accepts framed TCP sessions, confirms
handshakes against the connection key, and echoes every received message
back to its source.`,
	RunE: runServer,
}

func init() {
	serverCmd.Flags().Int("server_port", 5690, "Port to listen on")
	serverCmd.Flags().String("connection_key", "burrow_network", "Shared handshake key")
	serverCmd.Flags().Bool("encrypt_mode", false, "Offer AES-CBC encryption to clients")
	serverCmd.Flags().Bool("compress_mode", false, "Offer LZ4 compression to clients")
	serverCmd.Flags().Int("compress_block_size", 1024, "Compression block size in bytes")
	serverCmd.Flags().Int("high_priority_count", 4, "High priority worker count")
	serverCmd.Flags().Int("normal_priority_count", 4, "Normal priority worker count")
	serverCmd.Flags().Int("low_priority_count", 2, "Low priority worker count")
	serverCmd.Flags().Int("session_limit_count", 0, "Maximum confirmed sessions (0 = unlimited)")
	serverCmd.Flags().String("metrics_addr", "", "Prometheus listen address (empty = disabled)")
}

func runServer(cmd *cobra.Command, args []string) error {
	port, _ := cmd.Flags().GetInt("server_port")
	key, _ := cmd.Flags().GetString("connection_key")
	encrypt, _ := cmd.Flags().GetBool("encrypt_mode")
	compress, _ := cmd.Flags().GetBool("compress_mode")
	blockSize, _ := cmd.Flags().GetInt("compress_block_size")
	high, _ := cmd.Flags().GetInt("high_priority_count")
	normal, _ := cmd.Flags().GetInt("normal_priority_count")
	low, _ := cmd.Flags().GetInt("low_priority_count")
	limit, _ := cmd.Flags().GetInt("session_limit_count")
	metricsAddr, _ := cmd.Flags().GetString("metrics_addr")

	// Echo every application message back to where it came from.
	var srv *server.Server
	notif := server.Notifications{
		Connection: func(id, subID string, connected bool) {
			log.Logger.Info().Str("id", id).Str("sub_id", subID).Bool("connected", connected).Msg("session")
		},
		Message: func(msg *container.Container) {
			reply := msg.Copy(true)
			reply.SwapHeader()
			if err := srv.Send(reply); err != nil {
				log.Logger.Warn().Err(err).Msg("echo send failed")
			}
		},
	}
	srv = server.New(server.Config{
		ServerID:            "burrow-server",
		ConnectionKey:       key,
		EncryptMode:         encrypt,
		CompressMode:        compress,
		CompressBlockBytes:  blockSize,
		SessionLimit:        limit,
		HighPriorityCount:   high,
		NormalPriorityCount: normal,
		LowPriorityCount:    low,
		PossibleSessionTypes: []session.Type{
			session.MessageLine, session.FileLine, session.BinaryLine,
		},
	}, notif)

	if metricsAddr != "" {
		go func() {
			if err := metrics.StartMetricsServer(metricsAddr); err != nil {
				log.Logger.Warn().Err(err).Msg("metrics server failed")
			}
		}()
	}

	if err := srv.Start(port); err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	srv.Stop()
	return nil
}
