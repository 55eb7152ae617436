package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"pkt.systems/booksden"
	"pkt.systems/booksden/internal/authtoken"
)

func newTokenCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue and inspect credentials with the configured signing secret",
	}
	cmd.AddCommand(newTokenIssueCommand(), newTokenVerifyCommand())
	return cmd
}

func newTokenIssueCommand() *cobra.Command {
	var email string
	cmd := &cobra.Command{
		Use:   "issue",
		Short: "Sign a credential for an email",
		RunE: func(cmd *cobra.Command, args []string) error {
			tokens, err := tokenServiceFromConfig()
			if err != nil {
				return err
			}
			token, err := tokens.Issue(strings.TrimSpace(email))
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
			return err
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "identity embedded in the credential")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

type verifyOutput struct {
	Email     string    `json:"email"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

func newTokenVerifyCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify <token>",
		Short: "Check a credential and print its identity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tokens, err := tokenServiceFromConfig()
			if err != nil {
				return err
			}
			id, err := tokens.Verify(strings.TrimSpace(args[0]))
			switch {
			case errors.Is(err, authtoken.ErrExpired):
				return fmt.Errorf("token expired")
			case err != nil:
				return fmt.Errorf("token invalid: %w", err)
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(verifyOutput{Email: id.Email, IssuedAt: id.IssuedAt, ExpiresAt: id.ExpiresAt})
		},
	}
	return cmd
}

func tokenServiceFromConfig() (*authtoken.Service, error) {
	if _, err := loadConfigFile(); err != nil {
		return nil, err
	}
	var cfg booksden.Config
	bindTokenConfig(&cfg)
	var secret authtoken.SecretSource
	switch {
	case cfg.TokenSecretFile != "":
		path, err := expandPath(cfg.TokenSecretFile)
		if err != nil {
			return nil, fmt.Errorf("expand token secret path: %w", err)
		}
		loaded, err := authtoken.ReadSecretFile(path)
		if err != nil {
			return nil, err
		}
		secret = loaded
	case cfg.TokenSecret != "":
		secret = authtoken.StaticSecret(cfg.TokenSecret)
	default:
		return nil, fmt.Errorf("token secret required (set --token-secret or --token-secret-file)")
	}
	if cfg.TokenTTL < 0 {
		return nil, fmt.Errorf("token ttl must be >= 0")
	}
	return authtoken.New(authtoken.Config{Secret: secret, TTL: cfg.TokenTTL})
}
