package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/luma/parley/client"
	"github.com/luma/parley/internal/env"
	"github.com/luma/parley/protocol"
)

var ConnectCmd = &cobra.Command{
	Use:   "connect <handle> <server-host> <server-port> [clientID]",
	Short: "Connect to a Parley relay as a chat client",
	Long: `Connect to a Parley relay as a chat client

Usage
	parley connect <handle> <server-host> <server-port> [clientID]

Commands at the prompt:
	%M dest [text]           send a private message
	%B [text]                broadcast to everyone
	%C k d1 .. dk [text]     multicast to k handles (2..9)
	%L                       list registered handles
	%H                       help
`,
	Args: cobra.RangeArgs(3, 4),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		handle, serverHost, serverPort := args[0], args[1], args[2]

		if err := protocol.ValidateHandle(handle); err != nil {
			return fmt.Errorf("invalid handle %q: %w", handle, err)
		}

		clientID := 0
		if len(args) == 4 {
			var err error

			clientID, err = strconv.Atoi(args[3])
			if err != nil {
				return fmt.Errorf("invalid clientID %q: %w", args[3], err)
			}
		}

		conf, err := env.LoadConfig(ctx)
		if err != nil {
			return err
		}

		log, err := env.MakeLogger(conf.LogLevel)
		if err != nil {
			return err
		}

		c := client.New(handle, log.Named("client"))

		if err := c.Dial(ctx, net.JoinHostPort(serverHost, serverPort)); err != nil {
			return err
		}
		defer c.Close()

		fmt.Println(client.Greeting(serverHost, serverPort, handle, clientID))

		if err := c.Register(); err != nil {
			if errors.Is(err, client.ErrHandleInUse) {
				return fmt.Errorf("%w: %s", client.ErrHandleInUse, handle)
			}

			return err
		}

		sess := client.NewSession(c, os.Stdin, os.Stdout, log.Named("session"))

		return sess.Run(ctx)
	},
}
