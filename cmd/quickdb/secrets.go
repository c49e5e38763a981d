package main

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/redbco/quickdb/pkg/keyring"
)

func newSecretsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secrets",
		Short: "Manage credentials referenced as keyring:service/user",
		Long: `Store database credentials in the system keyring, or in an encrypted file
when no keyring is available (QUICKDB_KEYRING_PATH, QUICKDB_KEYRING_PASSWORD).
Reference them from the config file as keyring:service/user.`,
	}
	cmd.AddCommand(newSetSecretCmd(), newDeleteSecretCmd())
	return cmd
}

func openStore() *keyring.Store {
	return keyring.NewStore(keyring.DefaultPath(), keyring.MasterPasswordFromEnv())
}

func newSetSecretCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set [service/user]",
		Short: "Store a secret read from standard input",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			service, user, err := keyring.ParseReference(keyring.ReferencePrefix + args[0])
			if err != nil {
				return err
			}
			line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			secret := strings.TrimRight(line, "\r\n")
			if secret == "" {
				if err != nil {
					return fmt.Errorf("failed to read secret: %w", err)
				}
				return fmt.Errorf("empty secret")
			}
			if err := openStore().Set(service, user, secret); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "stored %s%s/%s\n", keyring.ReferencePrefix, service, user)
			return nil
		},
	}
}

func newDeleteSecretCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete [service/user]",
		Short: "Remove a stored secret",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			service, user, err := keyring.ParseReference(keyring.ReferencePrefix + args[0])
			if err != nil {
				return err
			}
			return openStore().Delete(service, user)
		},
	}
}
