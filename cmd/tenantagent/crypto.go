package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/tenantagent/internal/tokencipher"
)

const tokenKeyEnv = "TENANTAGENT_TOKEN_KEY"

func buildKeygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Generate a base64 token key",
		Long: `Generate a random 32-byte key for crypto.token_key.

The same key must be configured on every remote tool server that decrypts
token bundles.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := tokencipher.GenerateKey()
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), key)
			return err
		},
	}
}

func buildEncryptCmd() *cobra.Command {
	var key string
	cmd := &cobra.Command{
		Use:   "encrypt [token]",
		Short: "Encrypt a token into an {enc, iv, tag} bundle",
		Example: `  tenantagent encrypt --key "$KEY" my-app-token
  echo -n my-app-token | tenantagent encrypt`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := cipherFromFlag(key)
			if err != nil {
				return err
			}
			token, err := argOrStdin(cmd, args)
			if err != nil {
				return err
			}
			if token == "" {
				return errors.New("token is required")
			}
			bundle, err := c.Encrypt(token)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			return enc.Encode(bundle)
		},
	}
	cmd.Flags().StringVar(&key, "key", "", "Base64 token key (default $"+tokenKeyEnv+")")
	return cmd
}

func buildDecryptCmd() *cobra.Command {
	var key string
	cmd := &cobra.Command{
		Use:   "decrypt [bundle-json]",
		Short: "Decrypt an {enc, iv, tag} bundle",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := cipherFromFlag(key)
			if err != nil {
				return err
			}
			raw, err := argOrStdin(cmd, args)
			if err != nil {
				return err
			}
			var bundle tokencipher.Bundle
			if err := json.Unmarshal([]byte(raw), &bundle); err != nil {
				return fmt.Errorf("invalid bundle JSON: %w", err)
			}
			token, err := c.Decrypt(bundle)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
			return err
		},
	}
	cmd.Flags().StringVar(&key, "key", "", "Base64 token key (default $"+tokenKeyEnv+")")
	return cmd
}

func cipherFromFlag(key string) (*tokencipher.Cipher, error) {
	if strings.TrimSpace(key) == "" {
		key = os.Getenv(tokenKeyEnv)
	}
	return tokencipher.New(key)
}

func argOrStdin(cmd *cobra.Command, args []string) (string, error) {
	if len(args) == 1 {
		return strings.TrimSpace(args[0]), nil
	}
	data, err := io.ReadAll(io.LimitReader(cmd.InOrStdin(), 1<<20))
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}
