package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/gosuda/swiftdrop/controller"
	"github.com/gosuda/swiftdrop/core/chunker"
	"github.com/gosuda/swiftdrop/transfer"
)

var receiveCmd = &cobra.Command{
	Use:   "receive",
	Short: "Listen for inbound transfers and write them into --dir",
	RunE:  runReceive,
}

// autoAcceptFactory accepts every inbound offer, writing into dir.
type autoAcceptFactory struct {
	dir string
}

func (f autoAcceptFactory) OnIncomingOffer(transferID string, meta chunker.FilePrep) (transfer.Sink, bool) {
	fmt.Printf("incoming: %s (%d bytes) -> accepting\n", meta.Name, meta.Size)
	sink, err := newFileSink(f.dir, meta.Name)
	if err != nil {
		fmt.Println("receive: failed to open destination:", err)
		return nil, false
	}
	return sink, true
}

func runReceive(cmd *cobra.Command, args []string) error {
	logger := setupLogging()

	ln, err := listenerFor(flagTransport, flagPort)
	if err != nil {
		return fmt.Errorf("receive: listen: %w", err)
	}
	defer ln.Close()
	fmt.Printf("listening on %s\n", ln.Addr())

	identity := newDeviceIdentity()
	ctrl := controller.New(identity, 3, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ctrl.Receive(ctx, ln, autoAcceptFactory{dir: flagDir})

	bars := make(map[string]*progressbar.ProgressBar)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case <-sig:
			return nil
		case rec := <-ctrl.RecordUpdates():
			bar, ok := bars[rec.ID]
			if !ok && rec.ChunksTotal > 0 {
				bar = progressbar.Default(int64(rec.ChunksTotal), rec.FileName)
				bars[rec.ID] = bar
			}
			if bar != nil {
				bar.Set(int(rec.ChunksCompleted))
			}
			if rec.State.IsTerminal() {
				fmt.Printf("%s: %s\n", rec.FileName, rec.State)
			}
		}
	}
}
