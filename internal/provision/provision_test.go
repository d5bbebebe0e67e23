package provision

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/bryanchriswhite/minicam/internal/config"
	"github.com/spf13/afero"
)

func testNetworkConfig() config.NetworkConfig {
	return config.Defaults("/etc/minicam").Network
}

// fakeNetwork records calls and fails joins on demand
type fakeNetwork struct {
	joinErr error
	apErr   error
	joins   []string
	aps     []string
}

func (f *fakeNetwork) Name() string { return "fake" }

func (f *fakeNetwork) JoinStation(ctx context.Context, iface, ssid, password string) error {
	f.joins = append(f.joins, iface+"/"+ssid+"/"+password)
	return f.joinErr
}

func (f *fakeNetwork) StartAccessPoint(ctx context.Context, iface, ssid, password string) error {
	f.aps = append(f.aps, iface+"/"+ssid+"/"+password)
	return f.apErr
}

func TestCredentialsRoundTrip(t *testing.T) {
	fsys := afero.NewMemMapFs()
	n := testNetworkConfig()

	creds, err := LoadCredentials(fsys, n)
	if err != nil {
		t.Fatalf("LoadCredentials() with no files = %v", err)
	}
	if !creds.Empty() {
		t.Fatalf("expected empty credentials, got %+v", creds)
	}

	if err := SaveCredentials(fsys, n, Credentials{SSID: "HomeWifi", Password: "s3cretpass"}); err != nil {
		t.Fatalf("SaveCredentials() failed: %v", err)
	}
	data, err := afero.ReadFile(fsys, "/etc/minicam/ssid.txt")
	if err != nil || string(data) != "HomeWifi\n" {
		t.Errorf("ssid.txt = %q, %v", data, err)
	}
	info, err := fsys.Stat("/etc/minicam/password.txt")
	if err != nil {
		t.Fatalf("password file missing: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("password file mode = %v, want 0600", info.Mode().Perm())
	}

	creds, err = LoadCredentials(fsys, n)
	if err != nil {
		t.Fatalf("LoadCredentials() failed: %v", err)
	}
	if creds.SSID != "HomeWifi" || creds.Password != "s3cretpass" {
		t.Errorf("loaded %+v", creds)
	}

	if err := ClearCredentials(fsys, n); err != nil {
		t.Fatalf("ClearCredentials() failed: %v", err)
	}
	if err := ClearCredentials(fsys, n); err != nil {
		t.Errorf("ClearCredentials() twice = %v", err)
	}
	creds, _ = LoadCredentials(fsys, n)
	if !creds.Empty() {
		t.Errorf("credentials survived clear: %+v", creds)
	}
}

func TestLoadCredentialsTrimsWhitespace(t *testing.T) {
	fsys := afero.NewMemMapFs()
	n := testNetworkConfig()
	afero.WriteFile(fsys, "/etc/minicam/ssid.txt", []byte("  Cafe Net \r\n"), 0600)

	creds, err := LoadCredentials(fsys, n)
	if err != nil {
		t.Fatalf("LoadCredentials() failed: %v", err)
	}
	if creds.SSID != "Cafe Net" || creds.Password != "" {
		t.Errorf("loaded %+v, want SSID %q and no password", creds, "Cafe Net")
	}
}

func TestSaveCredentialsRejectsBadInput(t *testing.T) {
	fsys := afero.NewMemMapFs()
	n := testNetworkConfig()

	if err := SaveCredentials(fsys, n, Credentials{}); err == nil {
		t.Error("empty SSID accepted")
	}
	if err := SaveCredentials(fsys, n, Credentials{SSID: "a\nb"}); err == nil {
		t.Error("multi-line SSID accepted")
	}
}

func TestApplyJoinsStation(t *testing.T) {
	fsys := afero.NewMemMapFs()
	n := testNetworkConfig()
	SaveCredentials(fsys, n, Credentials{SSID: "HomeWifi", Password: "s3cretpass"})

	net := &fakeNetwork{}
	plan, err := NewProvisioner(fsys, n, net).Apply(context.Background())
	if err != nil {
		t.Fatalf("Apply() failed: %v", err)
	}
	if plan.Mode != ModeStation || plan.SSID != "HomeWifi" {
		t.Errorf("plan = %+v, want station on HomeWifi", plan)
	}
	if len(net.joins) != 1 || net.joins[0] != "wlan0/HomeWifi/s3cretpass" {
		t.Errorf("joins = %v", net.joins)
	}
	if len(net.aps) != 0 {
		t.Errorf("access point started after a successful join: %v", net.aps)
	}
}

func TestApplyFallsBackToAccessPoint(t *testing.T) {
	fsys := afero.NewMemMapFs()
	n := testNetworkConfig()
	SaveCredentials(fsys, n, Credentials{SSID: "Gone"})

	net := &fakeNetwork{joinErr: errors.New("no network with SSID Gone")}
	plan, err := NewProvisioner(fsys, n, net).Apply(context.Background())
	if err != nil {
		t.Fatalf("Apply() failed: %v", err)
	}
	if plan.Mode != ModeAccessPoint || plan.SSID != "mini-cam" {
		t.Errorf("plan = %+v, want access point mini-cam", plan)
	}
	if len(net.joins) != 1 || len(net.aps) != 1 {
		t.Errorf("joins %v aps %v, want one of each", net.joins, net.aps)
	}
}

func TestApplyWithoutCredentials(t *testing.T) {
	n := testNetworkConfig()
	n.APPassword = "camera-pass"

	net := &fakeNetwork{}
	plan, err := NewProvisioner(afero.NewMemMapFs(), n, net).Apply(context.Background())
	if err != nil {
		t.Fatalf("Apply() failed: %v", err)
	}
	if plan.Mode != ModeAccessPoint || plan.Mode.String() != "access_point" {
		t.Errorf("plan mode = %s", plan.Mode)
	}
	if len(net.joins) != 0 {
		t.Errorf("tried to join without credentials: %v", net.joins)
	}
	if len(net.aps) != 1 || net.aps[0] != "wlan0/mini-cam/camera-pass" {
		t.Errorf("aps = %v", net.aps)
	}
}

func TestApplyAccessPointFailure(t *testing.T) {
	net := &fakeNetwork{apErr: errors.New("device busy")}
	_, err := NewProvisioner(afero.NewMemMapFs(), testNetworkConfig(), net).Apply(context.Background())
	if err == nil || !strings.Contains(err.Error(), "device busy") {
		t.Errorf("Apply() = %v, want access point error", err)
	}
}

type recordedCall struct {
	name string
	args []string
}

func recordingRunner(calls *[]recordedCall, fail string) Runner {
	return func(ctx context.Context, name string, args ...string) ([]byte, error) {
		*calls = append(*calls, recordedCall{name: name, args: args})
		if fail != "" && strings.Join(args, " ") == fail {
			return []byte("Error: unknown connection"), errors.New("exit status 10")
		}
		return nil, nil
	}
}

func TestNMCLIJoinStation(t *testing.T) {
	var calls []recordedCall
	net := NewNMCLINetworkWithRunner(recordingRunner(&calls, ""))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	if err := net.JoinStation(ctx, "wlan0", "HomeWifi", "s3cretpass"); err != nil {
		t.Fatalf("JoinStation() failed: %v", err)
	}

	if len(calls) != 1 || calls[0].name != "nmcli" {
		t.Fatalf("calls = %+v", calls)
	}
	got := strings.Join(calls[0].args, " ")
	if !strings.HasPrefix(got, "--wait 19 ") && !strings.HasPrefix(got, "--wait 20 ") {
		t.Errorf("args %q do not start with the deadline wait", got)
	}
	if !strings.HasSuffix(got, "device wifi connect HomeWifi password s3cretpass ifname wlan0") {
		t.Errorf("args = %q", got)
	}
}

func TestNMCLIStartAccessPoint(t *testing.T) {
	var calls []recordedCall
	net := NewNMCLINetworkWithRunner(recordingRunner(&calls, "connection delete minicam-ap"))

	if err := net.StartAccessPoint(context.Background(), "wlan0", "mini-cam", ""); err != nil {
		t.Fatalf("StartAccessPoint() failed: %v", err)
	}
	if len(calls) != 3 {
		t.Fatalf("made %d nmcli calls, want delete, add and up", len(calls))
	}
	add := strings.Join(calls[1].args, " ")
	if !strings.Contains(add, "802-11-wireless.mode ap") || !strings.Contains(add, "ssid mini-cam") {
		t.Errorf("add args = %q", add)
	}
	if strings.Contains(add, "wpa-psk") {
		t.Errorf("open access point configured with a key: %q", add)
	}
	if up := strings.Join(calls[2].args, " "); up != "connection up minicam-ap" {
		t.Errorf("up args = %q", up)
	}
}

func TestNMCLIErrorIncludesOutput(t *testing.T) {
	var calls []recordedCall
	net := NewNMCLINetworkWithRunner(recordingRunner(&calls, "connection up minicam-ap"))

	err := net.StartAccessPoint(context.Background(), "", "mini-cam", "camera-pass")
	if err == nil || !strings.Contains(err.Error(), "unknown connection") {
		t.Errorf("StartAccessPoint() = %v, want nmcli output in error", err)
	}
	if add := strings.Join(calls[1].args, " "); !strings.Contains(add, "wifi-sec.psk camera-pass") || strings.Contains(add, "ifname") {
		t.Errorf("add args = %q", add)
	}
}

func TestNewNetwork(t *testing.T) {
	for backend, want := range map[string]string{"": "none", "none": "none", "nmcli": "nmcli"} {
		net, err := NewNetwork(backend)
		if err != nil || net.Name() != want {
			t.Errorf("NewNetwork(%q) = %v, %v; want %s", backend, net, err, want)
		}
	}
	if _, err := NewNetwork("connman"); err == nil {
		t.Error("unknown backend accepted")
	}
}
