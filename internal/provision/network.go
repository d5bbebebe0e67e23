package provision

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/bryanchriswhite/minicam/internal/logger"
)

// Network applies a provisioning plan to the host
type Network interface {
	JoinStation(ctx context.Context, iface, ssid, password string) error
	StartAccessPoint(ctx context.Context, iface, ssid, password string) error
	Name() string
}

// NewNetwork returns the backend for a config name
func NewNetwork(backend string) (Network, error) {
	switch backend {
	case "", "none":
		return NoopNetwork{}, nil
	case "nmcli":
		return NewNMCLINetwork(), nil
	}
	return nil, fmt.Errorf("unknown network backend %q", backend)
}

// NoopNetwork only logs; used when the host network is managed elsewhere
type NoopNetwork struct{}

func (NoopNetwork) Name() string { return "none" }

func (NoopNetwork) JoinStation(ctx context.Context, iface, ssid, password string) error {
	logger.WithComponent("provision").Info().Str("ssid", ssid).Msg("Network managed externally, not joining")
	return nil
}

func (NoopNetwork) StartAccessPoint(ctx context.Context, iface, ssid, password string) error {
	logger.WithComponent("provision").Info().Str("ssid", ssid).Msg("Network managed externally, not starting access point")
	return nil
}

// Runner executes a command and returns its combined output
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// NMCLINetwork drives NetworkManager through nmcli
type NMCLINetwork struct {
	run Runner
}

// NewNMCLINetwork creates an nmcli backend
func NewNMCLINetwork() *NMCLINetwork {
	return &NMCLINetwork{run: execRunner}
}

// NewNMCLINetworkWithRunner creates an nmcli backend with a custom runner
func NewNMCLINetworkWithRunner(run Runner) *NMCLINetwork {
	return &NMCLINetwork{run: run}
}

func (n *NMCLINetwork) Name() string { return "nmcli" }

// JoinStation connects iface to ssid
func (n *NMCLINetwork) JoinStation(ctx context.Context, iface, ssid, password string) error {
	args := []string{"--wait", waitSeconds(ctx), "device", "wifi", "connect", ssid}
	if password != "" {
		args = append(args, "password", password)
	}
	if iface != "" {
		args = append(args, "ifname", iface)
	}
	return n.exec(ctx, args...)
}

// accessPointConnection is the NetworkManager connection name used for AP mode
const accessPointConnection = "minicam-ap"

// StartAccessPoint creates (or replaces) a shared-mode AP connection and brings it up
func (n *NMCLINetwork) StartAccessPoint(ctx context.Context, iface, ssid, password string) error {
	// Ignore the error: the connection usually does not exist yet
	_ = n.exec(ctx, "connection", "delete", accessPointConnection)

	args := []string{
		"connection", "add", "type", "wifi",
		"con-name", accessPointConnection,
		"autoconnect", "no",
		"ssid", ssid,
		"802-11-wireless.mode", "ap",
		"ipv4.method", "shared",
	}
	if iface != "" {
		args = append(args, "ifname", iface)
	}
	if password != "" {
		args = append(args, "wifi-sec.key-mgmt", "wpa-psk", "wifi-sec.psk", password)
	}
	if err := n.exec(ctx, args...); err != nil {
		return err
	}
	return n.exec(ctx, "connection", "up", accessPointConnection)
}

func (n *NMCLINetwork) exec(ctx context.Context, args ...string) error {
	out, err := n.run(ctx, "nmcli", args...)
	if err != nil {
		return fmt.Errorf("nmcli %s: %w: %s", args[0], err, strings.TrimSpace(string(out)))
	}
	return nil
}

// waitSeconds converts the context deadline into nmcli's --wait value
func waitSeconds(ctx context.Context) string {
	deadline, ok := ctx.Deadline()
	if !ok {
		return "0"
	}
	secs := int(time.Until(deadline).Seconds())
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}
