package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/solatis/abusefilter/internal/core/auth"
	"github.com/solatis/abusefilter/internal/core/config"
)

var (
	apiKeyClient   string
	apiKeySecretID string
)

var apiKeyCmd = &cobra.Command{
	Use:   "apikey",
	Short: "Issue and revoke filter API keys",
}

var apiKeyCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Issue a key for a client",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		authenticator, closeApp, err := openAuthenticator(ctx)
		if err != nil {
			return err
		}
		defer closeApp()

		secretID, err := pickSecretID(apiKeySecretID)
		if err != nil {
			return err
		}
		id, key, err := authenticator.Issue(ctx, apiKeyClient, secretID)
		if err != nil {
			return fmt.Errorf("failed to issue key: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "id:  %s\nkey: %s\n", id, key)
		return nil
	},
}

var apiKeyRevokeCmd = &cobra.Command{
	Use:   "revoke <id>",
	Short: "Revoke a key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		authenticator, closeApp, err := openAuthenticator(ctx)
		if err != nil {
			return err
		}
		defer closeApp()

		if err := authenticator.Revoke(ctx, args[0]); err != nil {
			return fmt.Errorf("failed to revoke key %s: %w", args[0], err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "revoked %s\n", args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(apiKeyCmd)
	apiKeyCmd.AddCommand(apiKeyCreateCmd, apiKeyRevokeCmd)
	apiKeyCreateCmd.Flags().StringVar(&apiKeyClient, "client", "", "client name (required)")
	apiKeyCreateCmd.Flags().StringVar(&apiKeySecretID, "secret-id", "", "HMAC secret to sign the key with (optional when only one is configured)")
	_ = apiKeyCreateCmd.MarkFlagRequired("client")
}

func openAuthenticator(ctx context.Context) (*auth.Authenticator, func() error, error) {
	secrets, err := config.HMACSecrets()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load HMAC secrets: %w", err)
	}
	a, err := openApp(ctx)
	if err != nil {
		return nil, nil, err
	}
	return auth.NewAuthenticator(secrets, a.queries), a.Close, nil
}

// pickSecretID defaults to the only configured secret.
func pickSecretID(id string) (string, error) {
	if id != "" {
		return id, nil
	}
	secrets, err := config.HMACSecrets()
	if err != nil {
		return "", err
	}
	if len(secrets) != 1 {
		return "", fmt.Errorf("--secret-id required when %d HMAC secrets are configured", len(secrets))
	}
	for id := range secrets {
		return id, nil
	}
	return "", nil
}
