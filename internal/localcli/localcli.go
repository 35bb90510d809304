// Package localcli implements the file-mode `encrypt` and `decrypt`
// subcommands: one-shot, offline use of the same container codec the proxy
// uses for in-flight traffic, per SPEC_FULL.md §6.
package localcli

import (
	"fmt"
	"io"
	"os"

	"github.com/prn-tf/cipherproxy/internal/cipher"
	"github.com/prn-tf/cipherproxy/internal/config"
)

// Encrypt reads cfg.InputFile, encrypts it under the keyring's most recently
// added key, and writes the container to cfg.OutputFile.
func Encrypt(cfg *config.EncryptDecryptConfig) error {
	in, err := os.Open(cfg.InputFile)
	if err != nil {
		return fmt.Errorf("localcli: opening input file %q: %w", cfg.InputFile, err)
	}
	defer in.Close()

	keyID, key, ok := cfg.Keyring.GetLast()
	if !ok {
		return fmt.Errorf("localcli: keyring has no keys; run add-key first")
	}

	encoder, err := cipher.NewEncoder(in, key[:], keyID, cfg.ChunkSize)
	if err != nil {
		return fmt.Errorf("localcli: initializing encoder: %w", err)
	}

	out, err := os.OpenFile(cfg.OutputFile, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("localcli: creating output file %q: %w", cfg.OutputFile, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, encoder); err != nil {
		return fmt.Errorf("localcli: encrypting: %w", err)
	}
	return out.Sync()
}

// Decrypt reads cfg.InputFile, probes it for the container header, decrypts
// it under the key the header names, and writes the plaintext to
// cfg.OutputFile. An input with no container header is copied through
// unchanged.
func Decrypt(cfg *config.EncryptDecryptConfig) error {
	in, err := os.Open(cfg.InputFile)
	if err != nil {
		return fmt.Errorf("localcli: opening input file %q: %w", cfg.InputFile, err)
	}
	defer in.Close()

	out, err := os.OpenFile(cfg.OutputFile, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("localcli: creating output file %q: %w", cfg.OutputFile, err)
	}
	defer out.Close()

	probe, residual, err := cipher.Probe(in)
	if err != nil {
		return fmt.Errorf("localcli: probing input: %w", err)
	}

	if !probe.Encrypted {
		if _, err := io.Copy(out, residual); err != nil {
			return fmt.Errorf("localcli: copying plaintext through: %w", err)
		}
		return out.Sync()
	}

	key, err := cfg.Keyring.Get(probe.Header.KeyID)
	if err != nil {
		return fmt.Errorf("localcli: resolving key id %d: %w", probe.Header.KeyID, err)
	}

	decoder, err := cipher.NewDecoder(residual, key[:], probe.Header.ChunkSize)
	if err != nil {
		return fmt.Errorf("localcli: initializing decoder: %w", err)
	}

	if _, err := io.Copy(out, decoder); err != nil {
		return fmt.Errorf("localcli: decrypting: %w", err)
	}
	return out.Sync()
}
