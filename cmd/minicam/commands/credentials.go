package commands

import (
	"fmt"

	"github.com/bryanchriswhite/minicam/internal/config"
	"github.com/bryanchriswhite/minicam/internal/provision"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

var credentialsCmd = &cobra.Command{
	Use:     "credentials",
	Aliases: []string{"wifi"},
	Short:   "Manage Wi-Fi credentials",
	Long: `Manage the Wi-Fi network minicam joins at startup.

Credentials are stored in the SSID and password files named in the
network section of the config. Without an SSID, minicam opens its own
access point instead.`,
}

var credentialsSetCmd = &cobra.Command{
	Use:   "set SSID [PASSWORD]",
	Short: "Set the Wi-Fi network to join",
	Example: `  # Join a WPA network
  minicam credentials set HomeWifi s3cretpass

  # Join an open network
  minicam credentials set CoffeeShop`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runCredentialsSet,
}

var credentialsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show what network minicam will use",
	RunE:  runCredentialsShow,
}

var credentialsClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove stored credentials (minicam will start an access point)",
	RunE:  runCredentialsClear,
}

func init() {
	rootCmd.AddCommand(credentialsCmd)
	credentialsCmd.AddCommand(credentialsSetCmd)
	credentialsCmd.AddCommand(credentialsShowCmd)
	credentialsCmd.AddCommand(credentialsClearCmd)
}

func networkConfig() (config.NetworkConfig, error) {
	configMgr, err := config.NewManager(GetConfigFile())
	if err != nil {
		return config.NetworkConfig{}, fmt.Errorf("failed to load config: %w", err)
	}
	return configMgr.Get().Network, nil
}

func runCredentialsSet(cmd *cobra.Command, args []string) error {
	n, err := networkConfig()
	if err != nil {
		return err
	}

	creds := provision.Credentials{SSID: args[0]}
	if len(args) == 2 {
		creds.Password = args[1]
	}
	if err := provision.SaveCredentials(afero.NewOsFs(), n, creds); err != nil {
		return err
	}

	fmt.Printf("✅ Wi-Fi network set: %s\n", creds.SSID)
	return nil
}

func runCredentialsShow(cmd *cobra.Command, args []string) error {
	n, err := networkConfig()
	if err != nil {
		return err
	}

	creds, err := provision.LoadCredentials(afero.NewOsFs(), n)
	if err != nil {
		return err
	}
	plan := provision.NewPlan(creds, n)

	ssidPath, passwordPath := n.CredentialPaths()
	fmt.Printf("Mode:          %s\n", plan.Mode)
	fmt.Printf("SSID:          %s\n", plan.SSID)
	fmt.Printf("Password set:  %t\n", plan.Password != "")
	fmt.Printf("SSID file:     %s\n", ssidPath)
	fmt.Printf("Password file: %s\n", passwordPath)
	return nil
}

func runCredentialsClear(cmd *cobra.Command, args []string) error {
	n, err := networkConfig()
	if err != nil {
		return err
	}
	if err := provision.ClearCredentials(afero.NewOsFs(), n); err != nil {
		return err
	}
	fmt.Printf("✅ Credentials removed, access point %q will be used\n", n.APSSID)
	return nil
}
