package main

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	flagVerbose   bool
	flagPort      int
	flagDir       string
	flagTransport string
)

var rootCmd = &cobra.Command{
	Use:   "swiftdrop",
	Short: "Zero-configuration peer-to-peer file transfer over the local network",
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.BoolVar(&flagVerbose, "verbose", false, "enable debug logging")
	flags.IntVar(&flagPort, "port", 0, "transfer listen port (0 picks an ephemeral port)")
	flags.StringVar(&flagDir, "dir", ".", "directory to write received files into")
	flags.StringVar(&flagTransport, "transport", "tcp", "wire transport to use: tcp or ws")

	rootCmd.AddCommand(sendCmd, receiveCmd, discoverCmd)
}

func setupLogging() zerolog.Logger {
	level := zerolog.InfoLevel
	if flagVerbose {
		level = zerolog.DebugLevel
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level).With().Timestamp().Logger()
	log.Logger = logger
	return logger
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("swiftdrop exited with an error")
	}
}
