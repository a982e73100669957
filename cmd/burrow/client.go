package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuemby/burrow/pkg/client"
	"github.com/cuemby/burrow/pkg/container"
	"github.com/cuemby/burrow/pkg/fileio"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/session"
)

var clientCmd = &cobra.Command{
	Use:   "client",
	Short: "Run an echo messaging client",
	Long: `Connects to a messaging server, performs the handshake, sends a batch
of test messages, and prints the echoed replies. With a source folder set,
the listed files are transferred instead.`,
	RunE: runClient,
}

func init() {
	clientCmd.Flags().String("server_ip", "127.0.0.1", "Server address")
	clientCmd.Flags().Int("server_port", 5690, "Server port")
	clientCmd.Flags().String("connection_key", "burrow_network", "Shared handshake key")
	clientCmd.Flags().Bool("encrypt_mode", false, "Request AES-CBC encryption")
	clientCmd.Flags().Bool("compress_mode", false, "Request LZ4 compression")
	clientCmd.Flags().Int("compress_block_size", 1024, "Compression block size in bytes")
	clientCmd.Flags().Int("high_priority_count", 2, "High priority worker count")
	clientCmd.Flags().Int("normal_priority_count", 2, "Normal priority worker count")
	clientCmd.Flags().Int("low_priority_count", 2, "Low priority worker count")
	clientCmd.Flags().String("source_folder", "", "Send every file in this folder instead of test messages")
	clientCmd.Flags().String("target_folder", "", "Remote folder for transferred files")
	clientCmd.Flags().Int("count", 10, "Number of test messages to send")
}

func runClient(cmd *cobra.Command, args []string) error {
	ip, _ := cmd.Flags().GetString("server_ip")
	port, _ := cmd.Flags().GetInt("server_port")
	key, _ := cmd.Flags().GetString("connection_key")
	encrypt, _ := cmd.Flags().GetBool("encrypt_mode")
	compress, _ := cmd.Flags().GetBool("compress_mode")
	blockSize, _ := cmd.Flags().GetInt("compress_block_size")
	high, _ := cmd.Flags().GetInt("high_priority_count")
	normal, _ := cmd.Flags().GetInt("normal_priority_count")
	low, _ := cmd.Flags().GetInt("low_priority_count")
	sourceFolder, _ := cmd.Flags().GetString("source_folder")
	targetFolder, _ := cmd.Flags().GetString("target_folder")
	count, _ := cmd.Flags().GetInt("count")

	received := make(chan *container.Container, count)

	sessionType := session.MessageLine
	if sourceFolder != "" {
		sessionType = session.FileLine
	}

	cli := client.New(client.Config{
		SourceID:            "burrow-client",
		ConnectionKey:       key,
		SessionType:         sessionType,
		EncryptMode:         encrypt,
		CompressMode:        compress,
		CompressBlockBytes:  blockSize,
		HighPriorityCount:   high,
		NormalPriorityCount: normal,
		LowPriorityCount:    low,
	}, client.Notifications{
		Connection: func(id, subID string, connected bool) {
			log.Logger.Info().Str("id", id).Str("sub_id", subID).Bool("connected", connected).Msg("connection")
		},
		Message: func(msg *container.Container) {
			received <- msg
		},
	})

	if err := cli.Start(ip, port); err != nil {
		return err
	}
	defer cli.Stop()

	if err := cli.WaitConnected(5 * time.Second); err != nil {
		return err
	}

	if sourceFolder != "" {
		return sendFolder(cli, sourceFolder, targetFolder)
	}

	for i := 0; i < count; i++ {
		msg := container.NewMessage("echo_data",
			container.NewInt("sequence", int32(i)),
			container.NewString("body", fmt.Sprintf("test message %d", i)),
		)
		if err := cli.Send(msg); err != nil {
			return err
		}
	}

	deadline := time.After(10 * time.Second)
	for i := 0; i < count; i++ {
		select {
		case msg := <-received:
			seq := int32(-1)
			if v := msg.Value("sequence"); v != nil {
				seq = v.ToInt()
			}
			log.Logger.Info().Int32("sequence", seq).Msg("echo received")
		case <-deadline:
			return fmt.Errorf("request timeout: %d of %d echoes received", i, count)
		}
	}
	return nil
}

func sendFolder(cli *client.Client, sourceFolder, targetFolder string) error {
	files, err := fileio.List(sourceFolder, true)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("invalid argument: no files under %s", sourceFolder)
	}

	entries := make([]session.FileEntry, 0, len(files))
	for _, path := range files {
		entries = append(entries, session.FileEntry{
			SourcePath: path,
			TargetPath: targetFolder + "/" + path,
		})
	}
	if err := cli.SendFiles(entries, "cli-transfer"); err != nil {
		return err
	}
	log.Logger.Info().Int("files", len(entries)).Msg("file transfer scheduled")
	time.Sleep(2 * time.Second)
	return nil
}
