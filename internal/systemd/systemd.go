// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package systemd talks to the service manager using the sd_notify protocol.
// Outside of systemd every method is a no-op.
package systemd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"
)

// State is a sd_notify state line.
// See https://www.freedesktop.org/software/systemd/man/sd_notify.html.
type State string

const (
	// Ready tells the service manager that startup is finished.
	Ready State = "READY=1"
	// Stopping tells the service manager that shutdown has begun.
	Stopping State = "STOPPING=1"
	// Watchdog updates the watchdog timestamp.
	Watchdog State = "WATCHDOG=1"
)

// Status returns a state line that sets the free-form service status shown
// by systemctl status.
func Status(msg string) State {
	return State("STATUS=" + strings.ReplaceAll(msg, "\n", " "))
}

// Notifier sends states to the socket named by NOTIFY_SOCKET.
type Notifier struct {
	socket   string
	watchdog time.Duration
	slog     *slog.Logger
}

// New returns a Notifier configured from getenv. Errors in WATCHDOG_USEC are
// logged and disable the watchdog.
func New(getenv func(string) string, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	n := &Notifier{socket: getenv("NOTIFY_SOCKET"), slog: logger}
	if usec := getenv("WATCHDOG_USEC"); n.socket != "" && usec != "" {
		d, err := parseWatchdog(usec)
		if err != nil {
			logger.Warn("systemd watchdog disabled", "error", err)
		}
		n.watchdog = d
	}
	return n
}

// Enabled reports whether the process runs under systemd with notifications
// enabled.
func (n *Notifier) Enabled() bool { return n.socket != "" }

// Notify sends states in one datagram. Failures are logged.
func (n *Notifier) Notify(states ...State) {
	if !n.Enabled() || len(states) == 0 {
		return
	}
	lines := make([]string, len(states))
	for i, s := range states {
		lines[i] = string(s)
	}
	if err := n.send(strings.Join(lines, "\n")); err != nil {
		n.slog.Warn("systemd notification failed", "error", err)
	}
}

func (n *Notifier) send(msg string) error {
	addr := &net.UnixAddr{Net: "unixgram", Name: n.socket}
	// Abstract namespace sockets are passed with a leading @.
	if strings.HasPrefix(addr.Name, "@") {
		addr.Name = "\x00" + addr.Name[1:]
	}
	conn, err := net.DialUnix(addr.Net, nil, addr)
	if err != nil {
		return err
	}
	defer conn.Close()
	_, err = conn.Write([]byte(msg))
	return err
}

// WatchdogLoop pings the watchdog at half of its timeout until ctx is
// canceled. It returns nil immediately when the watchdog is disabled.
func (n *Notifier) WatchdogLoop(ctx context.Context) error {
	if n.watchdog <= 0 {
		return nil
	}
	ticker := time.NewTicker(n.watchdog / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			n.Notify(Watchdog)
		case <-ctx.Done():
			return nil
		}
	}
}

func parseWatchdog(usec string) (time.Duration, error) {
	v, err := strconv.ParseInt(usec, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing WATCHDOG_USEC: %w", err)
	}
	if v <= 0 {
		return 0, errors.New("WATCHDOG_USEC must be positive")
	}
	return time.Duration(v) * time.Microsecond, nil
}
