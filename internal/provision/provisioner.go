package provision

import (
	"context"
	"fmt"

	"github.com/bryanchriswhite/minicam/internal/config"
	"github.com/bryanchriswhite/minicam/internal/logger"
	"github.com/spf13/afero"
)

// Mode is how the board is attached to the network
type Mode int

const (
	ModeStation Mode = iota
	ModeAccessPoint
)

func (m Mode) String() string {
	if m == ModeStation {
		return "station"
	}
	return "access_point"
}

// Plan is the network the board will be on
type Plan struct {
	Mode     Mode
	SSID     string
	Password string
}

// NewPlan joins the configured network when there is an SSID, otherwise
// opens the access point
func NewPlan(creds Credentials, n config.NetworkConfig) Plan {
	if !creds.Empty() {
		return Plan{Mode: ModeStation, SSID: creds.SSID, Password: creds.Password}
	}
	return accessPoint(n)
}

func accessPoint(n config.NetworkConfig) Plan {
	return Plan{Mode: ModeAccessPoint, SSID: n.APSSID, Password: n.APPassword}
}

// Provisioner loads credentials and applies them through a Network backend
type Provisioner struct {
	fs  afero.Fs
	cfg config.NetworkConfig
	net Network
}

// NewProvisioner creates a provisioner
func NewProvisioner(fsys afero.Fs, cfg config.NetworkConfig, net Network) *Provisioner {
	return &Provisioner{fs: fsys, cfg: cfg, net: net}
}

// Apply joins the configured network, falling back to the access point when
// there are no credentials or the join fails. The returned plan is the one
// that was applied.
func (p *Provisioner) Apply(ctx context.Context) (Plan, error) {
	log := logger.WithComponent("provision")

	creds, err := LoadCredentials(p.fs, p.cfg)
	if err != nil {
		log.Warn().Err(err).Msg("Could not load credentials, using access point")
	}
	plan := NewPlan(creds, p.cfg)

	if plan.Mode == ModeStation {
		joinCtx, cancel := p.withTimeout(ctx)
		err := p.net.JoinStation(joinCtx, p.cfg.Interface, plan.SSID, plan.Password)
		cancel()
		if err == nil {
			log.Info().Str("ssid", plan.SSID).Str("backend", p.net.Name()).Msg("Joined Wi-Fi network")
			return plan, nil
		}
		log.Warn().Err(err).Str("ssid", plan.SSID).Msg("Failed to join Wi-Fi network, starting access point")
		plan = accessPoint(p.cfg)
	}

	apCtx, cancel := p.withTimeout(ctx)
	defer cancel()
	if err := p.net.StartAccessPoint(apCtx, p.cfg.Interface, plan.SSID, plan.Password); err != nil {
		return plan, fmt.Errorf("failed to start access point %q: %w", plan.SSID, err)
	}

	log.Info().
		Str("ssid", plan.SSID).
		Bool("open", plan.Password == "").
		Str("backend", p.net.Name()).
		Msg("Access point started")
	return plan, nil
}

func (p *Provisioner) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.cfg.ConnectTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, p.cfg.ConnectTimeout)
}
