package main

import (
	"bufio"
	"errors"
	"io"
	"os"
	"strings"

	"github.com/goldilockshq/connector-hub/internal/auth"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

const generatedKeyLength = 32

var apiKeysCmd = &cobra.Command{
	Use:   "api-keys",
	Short: "Manage the API keys accepted by the connector routes.",
}

var (
	apiKeyStdin    bool
	apiKeyGenerate bool
)

var apiKeysHashCmd = &cobra.Command{
	Use:   "hash",
	Short: "Print the argon2id hash of an API key for API_KEY_HASHES.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		key, generated, err := resolveAPIKey(cmd, os.Stdin)
		if err != nil {
			return err
		}
		hash, err := auth.HashAPIKey(key)
		if err != nil {
			return err
		}
		if generated {
			cmd.Printf("generated key: %s\n", key)
		}
		cmd.Println(hash)
		return nil
	},
}

func resolveAPIKey(cmd *cobra.Command, stdin *os.File) (string, bool, error) {
	if apiKeyStdin && apiKeyGenerate {
		return "", false, usageError(errors.New("--key-stdin and --generate are mutually exclusive"))
	}

	if apiKeyGenerate {
		key, err := auth.GenerateAPIKey(generatedKeyLength)
		if err != nil {
			return "", false, err
		}
		return key, true, nil
	}

	if apiKeyStdin {
		in, err := stdin.Stat()
		if err != nil {
			return "", false, err
		}
		if in.Mode()&os.ModeCharDevice != 0 {
			return "", false, errors.New("stdin is a terminal; omit --key-stdin to prompt")
		}
		key, err := readFirstLine(stdin)
		if err != nil {
			return "", false, err
		}
		if key == "" {
			return "", false, errors.New("api key is empty")
		}
		return key, false, nil
	}

	if !term.IsTerminal(int(stdin.Fd())) {
		return "", false, errors.New("no api key provided (use --key-stdin or --generate)")
	}
	cmd.Print("API key: ")
	raw, err := term.ReadPassword(int(stdin.Fd()))
	cmd.Println()
	if err != nil {
		return "", false, err
	}
	key := strings.TrimSpace(string(raw))
	if key == "" {
		return "", false, errors.New("api key is empty")
	}
	return key, false, nil
}

func readFirstLine(r io.Reader) (string, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4*1024), 64*1024)
	if !scanner.Scan() {
		return "", scanner.Err()
	}
	return strings.TrimRight(scanner.Text(), "\r\n"), nil
}

func init() {
	apiKeysCmd.AddCommand(apiKeysHashCmd)
	apiKeysHashCmd.Flags().BoolVar(&apiKeyStdin, "key-stdin", false, "Read the key from stdin")
	apiKeysHashCmd.Flags().BoolVar(&apiKeyGenerate, "generate", false, "Generate a new key and print it with its hash")
}
