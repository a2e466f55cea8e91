// Package launcher prepares the sequencer device before the driver opens it.
//
// Probe inspects the device node and the permissions of the current user.
// Launcher runs a configured command (typically "modprobe snd-seq" or a
// bridge daemon) when the device is missing and waits for it to appear.
package launcher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"os/user"
	"strings"
	"time"

	"github.com/go-logr/logr"
)

const (
	// DefaultWait bounds how long Launch waits for the device after the command
	DefaultWait = 3 * time.Second
	pollEvery   = 50 * time.Millisecond
)

// ErrDeviceMissing reports a device that never appeared
var ErrDeviceMissing = errors.New("sequencer device missing")

// Finding is one fact learned about the environment
type Finding struct {
	Property string `json:"property"`
	Value    any    `json:"value"`
	Method   string `json:"method"`
}

// Report is the result of Probe
type Report struct {
	Device   string    `json:"device"`
	Exists   bool      `json:"exists"`
	Readable bool      `json:"readable"`
	Writable bool      `json:"writable"`
	Findings []Finding `json:"findings"`
	Warnings []string  `json:"warnings,omitempty"`
}

// Usable reports whether the driver can open the device
func (r *Report) Usable() bool {
	return r.Exists && r.Readable && r.Writable
}

// Probe inspects device and the current user
func Probe(device string) *Report {
	r := &Report{Device: device}

	info, err := os.Stat(device)
	switch {
	case err == nil:
		r.Exists = true
		r.Findings = append(r.Findings, Finding{"device_mode", info.Mode().String(), "stat " + device})
		r.Readable = access(device, accessRead)
		r.Writable = access(device, accessWrite)
	case errors.Is(err, os.ErrNotExist):
		r.Warnings = append(r.Warnings, fmt.Sprintf("%s does not exist; is the snd-seq module loaded?", device))
	default:
		r.Warnings = append(r.Warnings, fmt.Sprintf("stat %s: %v", device, err))
	}

	euid := os.Geteuid()
	r.Findings = append(r.Findings, Finding{"effective_uid", euid, "os.Geteuid()"})

	if u, err := user.Current(); err == nil {
		r.Findings = append(r.Findings, Finding{"username", u.Username, "user.Current()"})
	}

	inAudio := false
	if gids, err := os.Getgroups(); err == nil {
		names := make([]string, 0, len(gids))
		for _, gid := range gids {
			name := fmt.Sprint(gid)
			if g, err := user.LookupGroupId(name); err == nil {
				name = g.Name
			}
			if name == "audio" {
				inAudio = true
			}
			names = append(names, name)
		}
		r.Findings = append(r.Findings, Finding{"groups", strings.Join(names, ","), "os.Getgroups()"})
	}

	if r.Exists && !(r.Readable && r.Writable) {
		msg := fmt.Sprintf("%s is not readable and writable by this user", device)
		if !inAudio && euid != 0 {
			msg += "; add the user to the audio group"
		}
		r.Warnings = append(r.Warnings, msg)
	}
	return r
}

// Launcher implements driver.Launcher
type Launcher struct {
	Device  string
	Command []string
	Wait    time.Duration
	Log     logr.Logger
}

// Launch makes sure the device exists, running the command if it does not
func (l *Launcher) Launch(ctx context.Context) error {
	log := l.Log
	if log.GetSink() == nil {
		log = logr.Discard()
	}

	if exists(l.Device) {
		return nil
	}
	if len(l.Command) == 0 {
		return fmt.Errorf("%w: %s and no launch command configured", ErrDeviceMissing, l.Device)
	}

	log.Info("sequencer device missing, running launch command", "device", l.Device, "command", strings.Join(l.Command, " "))
	out, err := exec.CommandContext(ctx, l.Command[0], l.Command[1:]...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("launch command %q: %w: %s", l.Command[0], err, strings.TrimSpace(string(out)))
	}

	wait := l.Wait
	if wait <= 0 {
		wait = DefaultWait
	}
	ctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	ticker := time.NewTicker(pollEvery)
	defer ticker.Stop()
	for !exists(l.Device) {
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %s did not appear: %w", ErrDeviceMissing, l.Device, ctx.Err())
		case <-ticker.C:
		}
	}
	log.V(1).Info("sequencer device appeared", "device", l.Device)
	return nil
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
