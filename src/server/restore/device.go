package restore

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// UnknownMode is shown when the device mode cannot be read
const UnknownMode = "unknown"

// Device probes and reboots the host device
type Device struct {
	ModeCommand   []string
	RebootCommand []string
	RebootDelay   time.Duration
	Logger        zerolog.Logger

	mu          sync.Mutex
	rebootTimer *time.Timer
}

// Mode returns the device's current operating mode, or UnknownMode
func (d *Device) Mode(ctx context.Context) string {
	if len(d.ModeCommand) == 0 {
		return UnknownMode
	}
	status, err := runCommand(ctx, 5*time.Second, d.ModeCommand[0], d.ModeCommand[1:]...)
	if err == nil && status.Error != nil {
		err = status.Error
	}
	if err != nil || status.Exit != 0 || len(status.Stdout) == 0 {
		d.Logger.Debug().Err(err).Int("exit", status.Exit).Msg("device mode probe failed")
		return UnknownMode
	}
	mode := strings.TrimSpace(status.Stdout[0])
	if mode == "" {
		return UnknownMode
	}
	return mode
}

// ScheduleReboot runs the reboot command after RebootDelay, giving the
// confirmation page time to reach the browser. It returns false when reboots
// are disabled or one is already scheduled.
func (d *Device) ScheduleReboot() bool {
	if len(d.RebootCommand) == 0 {
		return false
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.rebootTimer != nil {
		return false
	}

	d.rebootTimer = time.AfterFunc(d.RebootDelay, func() {
		d.Logger.Warn().Strs("command", d.RebootCommand).Msg("rebooting device")
		status, err := runCommand(context.Background(), time.Minute, d.RebootCommand[0], d.RebootCommand[1:]...)
		if err == nil && status.Error != nil {
			err = status.Error
		}
		if err != nil || status.Exit != 0 {
			d.Logger.Error().Err(err).Int("exit", status.Exit).Strs("stderr", status.Stderr).Msg("reboot command failed")
			d.mu.Lock()
			d.rebootTimer = nil
			d.mu.Unlock()
		}
	})
	return true
}

// CancelReboot stops a scheduled reboot that has not fired yet
func (d *Device) CancelReboot() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.rebootTimer == nil {
		return false
	}
	stopped := d.rebootTimer.Stop()
	d.rebootTimer = nil
	return stopped
}
