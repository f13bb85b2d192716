package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/gosuda/swiftdrop/discovery"
)

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Browse for SwiftDrop peers on the local network",
	RunE:  runDiscover,
}

func runDiscover(cmd *cobra.Command, args []string) error {
	identity := newDeviceIdentity()

	svc, errs := discovery.New(discovery.Identity{
		ShortID:     identity.ShortID(),
		DisplayName: identity.DisplayName(),
		Class:       discovery.ClassLinux,
		Port:        flagPort,
		Version:     1,
	})
	for _, err := range errs {
		fmt.Fprintln(os.Stderr, "discovery backend failed to start:", err)
	}
	defer svc.Stop()

	fmt.Println("browsing for peers, press Ctrl+C to stop")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case <-sig:
			return nil
		case devices := <-svc.Updates():
			fmt.Printf("--- %d device(s) ---\n", len(devices))
			for _, d := range devices {
				fmt.Printf("%s  %-20s %-8s %s:%d  %s\n", d.ShortID, d.Name, d.Class, d.Address, d.Port, d.State)
			}
		}
	}
}
