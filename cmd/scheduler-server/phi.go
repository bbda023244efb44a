package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ehr/surgery-scheduler/internal/config"
	"github.com/ehr/surgery-scheduler/internal/platform/hipaa"
)

// phiCmd is operator tooling over the configured field encryption key. Values
// are read from stdin, one per line, so they never appear in shell history.
func phiCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "phi",
		Short: "Encrypt or decrypt PHI field values with the configured key",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "encrypt",
		Short: "Encrypt stdin lines to v<version>:<iv>.<tag>.<ciphertext>",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := encryptionFromConfig()
			if err != nil {
				return err
			}
			return transformLines(cmd.InOrStdin(), cmd.OutOrStdout(), svc.EncryptField)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "decrypt",
		Short: "Decrypt stdin lines produced by phi encrypt",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := encryptionFromConfig()
			if err != nil {
				return err
			}
			return transformLines(cmd.InOrStdin(), cmd.OutOrStdout(), svc.DecryptField)
		},
	})

	return cmd
}

func encryptionFromConfig() (*hipaa.EncryptionService, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	salt, err := cfg.PHISalt()
	if err != nil {
		return nil, err
	}
	// Diagnostics go to stderr so stdout stays machine-readable.
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	return hipaa.NewEncryptionService(hipaa.EncryptionConfig{
		Passphrase: cfg.PHIEncryptionPassphrase,
		Salt:       salt,
		KeyVersion: cfg.PHIKeyVersion,
	}, logger)
}

// transformLines applies fn to each non-empty input line. The first failure
// stops processing and is reported by line number only.
func transformLines(r io.Reader, w io.Writer, fn func(string) (string, error)) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	line := 0
	for scanner.Scan() {
		line++
		in := strings.TrimSpace(scanner.Text())
		if in == "" {
			continue
		}
		out, err := fn(in)
		if err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
		if _, err := fmt.Fprintln(w, out); err != nil {
			return err
		}
	}
	return scanner.Err()
}
