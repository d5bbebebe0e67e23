// Package provision brings the board onto a network before the camera server
// starts: it joins the Wi-Fi network named in the credential files, or opens
// its own access point when there are none or joining fails.
package provision

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/bryanchriswhite/minicam/internal/config"
	"github.com/spf13/afero"
)

// Credentials are the station-mode Wi-Fi settings
type Credentials struct {
	SSID     string `json:"ssid"`
	Password string `json:"-"`
}

// Empty reports whether there is no SSID to join
func (c Credentials) Empty() bool {
	return c.SSID == ""
}

// LoadCredentials reads the SSID and password files. Missing files are not
// an error; they just leave the field empty.
func LoadCredentials(fsys afero.Fs, n config.NetworkConfig) (Credentials, error) {
	ssidPath, passwordPath := n.CredentialPaths()

	ssid, err := readTrimmed(fsys, ssidPath)
	if err != nil {
		return Credentials{}, fmt.Errorf("failed to read SSID file: %w", err)
	}
	password, err := readTrimmed(fsys, passwordPath)
	if err != nil {
		return Credentials{}, fmt.Errorf("failed to read password file: %w", err)
	}
	return Credentials{SSID: ssid, Password: password}, nil
}

func readTrimmed(fsys afero.Fs, path string) (string, error) {
	if path == "" {
		return "", nil
	}
	data, err := afero.ReadFile(fsys, path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil
		}
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// SaveCredentials writes both files, creating the directory if needed
func SaveCredentials(fsys afero.Fs, n config.NetworkConfig, creds Credentials) error {
	if creds.SSID == "" {
		return fmt.Errorf("ssid must not be empty")
	}
	if strings.ContainsAny(creds.SSID, "\r\n") || strings.ContainsAny(creds.Password, "\r\n") {
		return fmt.Errorf("credentials must be a single line")
	}

	ssidPath, passwordPath := n.CredentialPaths()
	for path, value := range map[string]string{ssidPath: creds.SSID, passwordPath: creds.Password} {
		if err := fsys.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return fmt.Errorf("failed to create credentials directory: %w", err)
		}
		if err := afero.WriteFile(fsys, path, []byte(value+"\n"), 0600); err != nil {
			return fmt.Errorf("failed to write %s: %w", path, err)
		}
	}
	return nil
}

// ClearCredentials removes both files
func ClearCredentials(fsys afero.Fs, n config.NetworkConfig) error {
	ssidPath, passwordPath := n.CredentialPaths()
	for _, path := range []string{ssidPath, passwordPath} {
		if err := fsys.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to remove %s: %w", path, err)
		}
	}
	return nil
}
