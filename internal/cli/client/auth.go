package client

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
)

// AuthCmd creates the auth parent command
func AuthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Manage API credentials",
		Long:  "Login, logout, and check which repomem server the CLI talks to",
	}

	cmd.AddCommand(AuthLoginCmd())
	cmd.AddCommand(AuthLogoutCmd())
	cmd.AddCommand(AuthStatusCmd())

	return cmd
}

// AuthLoginCmd creates the auth login command
func AuthLoginCmd() *cobra.Command {
	var apiKey string
	var apiURL string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Store server URL and API key",
		Long:  "Store API URL and key in global config (~/.config/repomem/config.json). The key may be empty for servers without authentication.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAuthLogin(cmd.OutOrStdout(), apiKey, apiURL)
		},
	}

	cmd.Flags().StringVar(&apiKey, "key", "", "API key")
	cmd.Flags().StringVar(&apiURL, "url", defaultAPIURL, "API URL")

	return cmd
}

// AuthLogoutCmd creates the auth logout command
func AuthLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Clear stored credentials",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := DeleteGlobalConfig(); err != nil {
				return fmt.Errorf("failed to logout: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Successfully logged out")
			return nil
		},
	}
}

// AuthStatusCmd creates the auth status command
func AuthStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show configured server and credential source",
		RunE: func(cmd *cobra.Command, args []string) error {
			outputJSON, _ := cmd.Flags().GetBool("output")
			flagKey, _ := cmd.Flags().GetString("api-key")
			flagURL, _ := cmd.Flags().GetString("api-url")
			return runAuthStatus(cmd.OutOrStdout(), flagKey, flagURL, outputJSON)
		},
	}
}

func runAuthLogin(out io.Writer, apiKey, apiURL string) error {
	apiURL = strings.TrimRight(strings.TrimSpace(apiURL), "/")
	if apiURL == "" {
		return fmt.Errorf("API URL is required")
	}
	if _, err := NewAPIClientWithConfig(apiKey, apiURL); err != nil {
		return err
	}

	config, err := LoadGlobalConfig()
	if err != nil {
		return err
	}
	if config == nil {
		config = &GlobalConfig{}
	}
	config.APIKey = strings.TrimSpace(apiKey)
	config.APIURL = apiURL

	if err := SaveGlobalConfig(config); err != nil {
		return fmt.Errorf("failed to save credentials: %w", err)
	}

	fmt.Fprintln(out, "Successfully logged in")
	return nil
}

func runAuthStatus(out io.Writer, flagKey, flagURL string, outputJSON bool) error {
	source, apiKey, apiURL := GetCredentialSource(flagKey, flagURL)

	if outputJSON {
		status := map[string]any{
			"configured": source != SourceNone,
			"source":     string(source),
		}
		if source != SourceNone {
			status["api_url"] = apiURL
			status["api_key"] = maskAPIKey(apiKey)
		}
		return printJSON(out, status)
	}

	if source == SourceNone {
		fmt.Fprintf(out, "Not configured, using %s\n", defaultAPIURL)
		fmt.Fprintln(out, "Run 'repomem auth login' to configure")
		return nil
	}

	fmt.Fprintf(out, "Source: %s\n", source)
	fmt.Fprintf(out, "API URL: %s\n", apiURL)
	fmt.Fprintf(out, "API Key: %s\n", maskAPIKey(apiKey))
	return nil
}

func maskAPIKey(key string) string {
	switch {
	case key == "":
		return "(none)"
	case len(key) < 12:
		return "***"
	}
	return key[:4] + "..." + key[len(key)-4:]
}
