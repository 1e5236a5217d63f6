package cmd

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/luma/parley/admin"
	"github.com/luma/parley/internal/env"
	"github.com/luma/parley/registry"
	"github.com/luma/parley/transport"
)

var (
	// The host to listen on
	host string

	// The port to listen for http status requests on. Empty disables the
	// status API.
	httpPort string

	// The port to listen for chat clients on. Zero lets the OS pick.
	port int

	// How many accept loops share the listen address
	numListeners int
)

func init() {
	flags := ServeCmd.PersistentFlags()

	flags.IntVarP(&port, "port", "p", 0, "The port to listen for chat clients on (0 lets the OS choose)")
	flags.StringVar(&httpPort, "http-port", "7362", "The port for the HTTP status API (empty disables it)")
	flags.StringVarP(&host, "host", "a", "0.0.0.0", "The host to listen on")
	flags.IntVar(&numListeners, "listeners", 1, "How many accept loops to run")
}

var ServeCmd = &cobra.Command{
	Use:   "serve [port]",
	Short: "Start the Parley chat relay",
	Long: `Start the Parley chat relay

Usage
	parley serve [port]

The optional positional port overrides --port.
`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		ctx, signalStop := signal.NotifyContext(context.Background(), os.Interrupt, os.Kill)
		defer signalStop()

		conf, err := env.LoadConfig(ctx)
		if err != nil {
			return err
		}

		log, err := env.MakeLogger(conf.LogLevel)
		if err != nil {
			return err
		}

		if len(args) == 1 {
			port, err = strconv.Atoi(args[0])
			if err != nil {
				return err
			}
		}

		fileLimit, err := setFileLimit()
		if err != nil {
			return err
		}

		log.Info("Set file limit", zap.Uint64("fileLimit", fileLimit))

		reg := registry.NewInmemory()
		defer reg.Close()

		roster := admin.NewRosterDoc(log.Named("admin"))
		go roster.Follow(reg.ListenToEvents())

		var statusServer *http.Server

		if httpPort != "" {
			router := admin.NewRouter(roster, conf.DebugHTTP, log)

			statusServer = &http.Server{
				Addr:    net.JoinHostPort(host, httpPort),
				Handler: router,
			}

			// Initializing the server in a goroutine so that
			// it won't block the graceful shutdown handling below
			go func() {
				if err := statusServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("Http server errored", zap.Error(err))
				}
			}()
		}

		tcp := transport.NewTCP(transport.Options{
			Host:         host,
			Port:         port,
			Reuseport:    true,
			NumListeners: numListeners,
			Registry:     reg,
			Log:          log.Named("transport"),
		})

		if err := tcp.Start(ctx); err != nil {
			return err
		}

		log.Info("Listening",
			zap.Any("config", conf),
			zap.String("addr", tcp.Addr()),
			zap.String("httpPort", httpPort))

		// Listen for the interrupt signal.
		<-ctx.Done()

		// Restore default behavior on the interrupt signal and notify user of shutdown.
		signalStop()
		log.Info("Shutting down gracefully, press Ctrl+C again to force")

		if statusServer != nil {
			// The context is used to inform the server it has 5 seconds to
			// finish the request it is currently handling
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			statusServer.SetKeepAlivesEnabled(false)

			if err := statusServer.Shutdown(shutdownCtx); err != nil {
				log.Error("Http server forced to shutdown", zap.Error(err))
			}
		}

		if err := tcp.Close(); err != nil {
			log.Error("TCP server forced to shutdown", zap.Error(err))
		}

		log.Info("Exiting")
		return nil
	},
}

func setFileLimit() (uint64, error) {
	var rLimit syscall.Rlimit

	if err := syscall.Getrlimit(syscall.RLIMIT_NOFILE, &rLimit); err != nil {
		return 0, err
	}

	rLimit.Cur = rLimit.Max
	if err := syscall.Setrlimit(syscall.RLIMIT_NOFILE, &rLimit); err != nil {
		return 0, err
	}

	return rLimit.Cur, nil
}
