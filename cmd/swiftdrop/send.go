package main

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/skip2/go-qrcode"
	"github.com/spf13/cobra"

	"github.com/gosuda/swiftdrop/controller"
	"github.com/gosuda/swiftdrop/transport"
)

var flagSendTo string

var sendCmd = &cobra.Command{
	Use:   "send <file>",
	Short: "Send a file to a peer at --to host:port",
	Args:  cobra.ExactArgs(1),
	RunE:  runSend,
}

func init() {
	sendCmd.Flags().StringVar(&flagSendTo, "to", "", "receiver address as host:port (required)")
	sendCmd.MarkFlagRequired("to")
}

func runSend(cmd *cobra.Command, args []string) error {
	logger := setupLogging()
	filePath := args[0]

	host, portStr, err := net.SplitHostPort(flagSendTo)
	if err != nil {
		return fmt.Errorf("--to must be host:port: %w", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return fmt.Errorf("--to port must be numeric: %w", err)
	}

	identity := newDeviceIdentity()
	ctrl := controller.New(identity, 3, logger)

	code, err := qrcode.New(fmt.Sprintf("swiftdrop://%s", flagSendTo), qrcode.Medium)
	if err == nil {
		fmt.Println(code.ToString(false))
	}

	dialer, err := dialerFor(flagTransport)
	if err != nil {
		return err
	}
	id, err := ctrl.Send(func() (transport.Listener, error) {
		return dialOnce(dialer, host, port), nil
	}, flagSendTo, filePath)
	if err != nil {
		return fmt.Errorf("send: %w", err)
	}

	bar := progressbar.Default(-1, "connecting")
	for {
		select {
		case list := <-ctrl.FullListUpdates():
			for _, rec := range list {
				if rec.ID != id {
					continue
				}
				if rec.ChunksTotal > 0 {
					bar.ChangeMax(int(rec.ChunksTotal))
					bar.Set(int(rec.ChunksCompleted))
				}
				if rec.State.IsTerminal() {
					fmt.Println()
					return reportOutcome(rec)
				}
			}
		case <-time.After(2 * time.Minute):
			return fmt.Errorf("send: timed out waiting for transfer to finish")
		}
	}
}

func reportOutcome(rec controller.Record) error {
	switch rec.State {
	case "completed":
		fmt.Println("transfer completed")
		return nil
	case "cancelled":
		return fmt.Errorf("transfer cancelled: %s", rec.ErrorMessage)
	default:
		return fmt.Errorf("transfer failed: %s", rec.ErrorMessage)
	}
}
