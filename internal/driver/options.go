package driver

import (
	"context"
	"path"
	"time"

	"github.com/go-logr/logr"

	"patchbay/internal/domain"
	"patchbay/internal/queue"
	"patchbay/internal/seq"
)

const (
	DefaultAttachTimeout = 5 * time.Second
	DefaultDetachTimeout = 5 * time.Second
	DefaultClientName    = "patchbay"
)

// Launcher prepares the sequencer subsystem before it is opened, for
// example by loading a kernel module or starting a bridge daemon
type Launcher interface {
	Launch(ctx context.Context) error
}

// Options configure a Driver
type Options struct {
	// Opener opens the sequencer on Attach
	Opener seq.Opener
	// Sequencer is passed to Opener
	Sequencer seq.Options
	// Launcher runs when Attach is asked to launch the backend
	Launcher Launcher

	QueueCapacity int
	AttachTimeout time.Duration
	DetachTimeout time.Duration

	Rules Rules

	// Consumer receives deltas produced outside ProcessEvents, Refresh and
	// DestroyAll, such as the teardown in Detach
	Consumer Consumer
	Logger   logr.Logger
}

func (o *Options) applyDefaults() {
	if o.QueueCapacity <= 0 {
		o.QueueCapacity = queue.DefaultCapacity
	}
	if o.AttachTimeout <= 0 {
		o.AttachTimeout = DefaultAttachTimeout
	}
	if o.DetachTimeout <= 0 {
		o.DetachTimeout = DefaultDetachTimeout
	}
	if o.Sequencer.ClientName == "" {
		o.Sequencer.ClientName = DefaultClientName
	}
	if o.Logger.GetSink() == nil {
		o.Logger = logr.Discard()
	}
}

// Rules are the user preferences that shape the model
type Rules struct {
	// IgnoreClients are glob patterns matched against client names
	IgnoreClients []string
	// IgnorePorts are addresses never modeled
	IgnorePorts []domain.Address
	// Split forces (true) or forbids (false) splitting a client, by name,
	// into separate input and output modules
	Split map[string]bool
}

func (r Rules) ignoresClient(name string) bool {
	for _, pattern := range r.IgnoreClients {
		if ok, _ := path.Match(pattern, name); ok {
			return true
		}
	}
	return false
}

func (r Rules) ignoresPort(addr domain.Address) bool {
	for _, a := range r.IgnorePorts {
		if a == addr {
			return true
		}
	}
	return false
}

// moduleType picks the module a port view joins. Hardware clients and
// duplex ports are split by direction unless a rule says otherwise.
func (r Rules) moduleType(desc domain.PortDescription, dir domain.Direction) domain.ModuleType {
	split := !desc.Application || desc.Duplex()
	if forced, ok := r.Split[desc.ClientName]; ok {
		split = forced
	}
	if split {
		return domain.ModuleTypeFor(dir)
	}
	return domain.ModuleTypeInputOutput
}
