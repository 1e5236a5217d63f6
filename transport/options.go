package transport

import (
	"github.com/luma/parley/registry"
	"go.uber.org/zap"
)

type Options struct {
	// Host to listen on
	Host string

	// Port to listen on. Zero lets the OS assign one; read it back with
	// TCP.Addr() after Start.
	Port int

	// Reuseport controls setting SO_REUSEPORT, which NumListeners > 1
	// relies on.
	Reuseport bool

	// Trace will dump every received payload to the debug log. This is only useful in
	// local debugging
	Trace bool

	NumListeners int

	Registry registry.Registry

	Log *zap.Logger
}
