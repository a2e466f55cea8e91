//go:build !linux

package alsa

import (
	"context"
	"fmt"
	"runtime"

	"patchbay/internal/seq"
)

func init() {
	seq.Register("alsa", Open)
}

// Open always fails: the ALSA sequencer only exists on Linux
func Open(ctx context.Context, opts seq.Options) (seq.Sequencer, error) {
	return nil, fmt.Errorf("%w: alsa is not supported on %s", seq.ErrUnavailable, runtime.GOOS)
}
