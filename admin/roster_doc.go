package admin

import (
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"go.uber.org/zap"

	"github.com/luma/parley/registry"
)

const emptyDoc = `{"count":0,"clients":{}}`

// RosterDoc mirrors the registry into a single JSON document served by the
// status API. It follows the registry's event stream, so reads never touch
// the registry itself.
type RosterDoc struct {
	mu     sync.RWMutex
	values []byte

	log *zap.Logger
}

func NewRosterDoc(log *zap.Logger) *RosterDoc {
	return &RosterDoc{
		values: []byte(emptyDoc),
		log:    log,
	}
}

// Follow applies registry events until the channel closes. Run it in its
// own goroutine next to the transport.
func (d *RosterDoc) Follow(events <-chan *registry.Event) {
	for event := range events {
		d.apply(event)
	}
}

func (d *RosterDoc) apply(event *registry.Event) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var err error

	switch event.Kind {
	case registry.Joined:
		d.values, err = sjson.SetBytes(d.values,
			"clients."+escapePath(event.Handle)+".connectedAt",
			time.Now().UTC().Format(time.RFC3339))

	case registry.Left:
		d.values, err = sjson.DeleteBytes(d.values,
			"clients."+escapePath(event.Handle))
	}

	if err != nil {
		d.log.Warn("Failed to apply roster event",
			zap.String("handle", event.Handle),
			zap.Error(err))
		return
	}

	count := len(gjson.GetBytes(d.values, "clients").Map())

	d.values, err = sjson.SetBytes(d.values, "count", count)
	if err != nil {
		d.log.Warn("Failed to update roster count", zap.Error(err))
	}
}

// Get queries the document, e.g. Get("clients.alice").
func (d *RosterDoc) Get(path string) gjson.Result {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return gjson.GetBytes(d.values, path)
}

// Bytes returns a copy of the whole document.
func (d *RosterDoc) Bytes() []byte {
	d.mu.RLock()
	defer d.mu.RUnlock()

	doc := make([]byte, len(d.values))
	copy(doc, d.values)

	return doc
}

// escapePath protects JSON path metacharacters in handles, which are
// arbitrary bytes as far as the protocol is concerned.
func escapePath(handle string) string {
	return pathEscaper.Replace(handle)
}

var pathEscaper = strings.NewReplacer(
	`\`, `\\`,
	`.`, `\.`,
	`*`, `\*`,
	`?`, `\?`,
	`|`, `\|`,
	`#`, `\#`,
	`@`, `\@`,
)
