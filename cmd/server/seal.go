package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/soaringjerry/moderator/internal/remote"
)

var (
	unsealKeyFile string
	unsealOutDir  string
)

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Create a key pair for sealing remote records",
	Long: `Prints a public key for MODERATOR_SEAL_PUBLIC_KEY and the private key
needed by "moderator unseal". Keep the private key off the study server.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		pub, priv, err := remote.GenerateKeyPair()
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "public:  %s\nprivate: %s\n", pub, priv)
		return nil
	},
}

var unsealCmd = &cobra.Command{
	Use:   "unseal FILE...",
	Short: "Decrypt sealed records pulled from the results repository",
	Long: `Opens each sealed envelope with the private key and writes the plain
record. Without --out-dir the record is written to stdout.

Examples:
  moderator unseal --key-file researcher.key trial_0.json
  moderator unseal --key-file researcher.key --out-dir plain sealed/*.json`,
	Args: cobra.MinimumNArgs(1),
	RunE: runUnseal,
}

func init() {
	rootCmd.AddCommand(keygenCmd)
	rootCmd.AddCommand(unsealCmd)
	unsealCmd.Flags().StringVar(&unsealKeyFile, "key-file", "", "File holding the base64 private key")
	unsealCmd.Flags().StringVar(&unsealOutDir, "out-dir", "", "Write plain records here under their original names")
	_ = unsealCmd.MarkFlagRequired("key-file")
}

func runUnseal(cmd *cobra.Command, args []string) error {
	// #nosec G304 -- key path is operator input.
	key, err := os.ReadFile(unsealKeyFile)
	if err != nil {
		return fmt.Errorf("read key: %w", err)
	}
	u, err := remote.NewUnsealer(string(key))
	if err != nil {
		return err
	}
	if unsealOutDir != "" {
		if err := os.MkdirAll(unsealOutDir, 0o700); err != nil {
			return err
		}
	}
	for _, path := range args {
		if err := unsealFile(cmd, u, path, unsealOutDir); err != nil {
			return err
		}
	}
	return nil
}

func unsealFile(cmd *cobra.Command, u *remote.Unsealer, path, outDir string) error {
	// #nosec G304 -- operator-supplied record path.
	envelope, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	plain, err := u.Open(envelope)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	if outDir == "" {
		_, err = cmd.OutOrStdout().Write(plain)
		return err
	}
	return os.WriteFile(filepath.Join(outDir, filepath.Base(path)), plain, 0o600)
}
