package cmd

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ozkandogan90-glitch/algolab-bridge-server/crypto"
)

var (
	cryptoAPIKey   string
	cryptoHostname string
	checkerBody    string
)

var cryptoCmd = &cobra.Command{
	Use:   "crypto",
	Short: "Broker request signing tools",
	Long: `Commands that reproduce what the bridge sends to the broker: encrypted
login fields and the Checker header. The API key is read from --api-key or
ALGOLAB_API_KEY.`,
}

var encryptCmd = &cobra.Command{
	Use:   "encrypt <plaintext>",
	Short: "Encrypt a value the way login fields are encrypted",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		signer, err := newSigner()
		if err != nil {
			return err
		}
		defer signer.Credential().Destroy()
		out, err := signer.Encrypt(args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), out)
		return nil
	},
}

var decryptCmd = &cobra.Command{
	Use:   "decrypt <base64>",
	Short: "Decrypt a value produced by encrypt",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		signer, err := newSigner()
		if err != nil {
			return err
		}
		defer signer.Credential().Destroy()
		out, err := signer.Decrypt(args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), out)
		return nil
	},
}

var checkerCmd = &cobra.Command{
	Use:   "checker <endpoint>",
	Short: "Compute the Checker header for an endpoint and JSON body",
	Example: `  bridge crypto checker /api/GetEquityInfo --body '{"symbol":"ASELS"}'
  bridge crypto checker /api/SessionRefresh`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		body, err := parseBody(checkerBody)
		if err != nil {
			return err
		}
		signer, err := newSigner()
		if err != nil {
			return err
		}
		defer signer.Credential().Destroy()
		out, err := signer.Checker(args[0], body)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), out)
		return nil
	},
}

func newSigner() (*crypto.Signer, error) {
	key := cryptoAPIKey
	if key == "" {
		key = os.Getenv("ALGOLAB_API_KEY")
	}
	if key == "" {
		return nil, errors.New("an API key is required (--api-key or ALGOLAB_API_KEY)")
	}
	cred, err := crypto.ParseCredential(key)
	if err != nil {
		return nil, err
	}
	return crypto.NewSigner(cred, cryptoHostname), nil
}

// parseBody decodes a top-level JSON object keeping its key order, which the
// checker hash depends on. Values are kept as raw JSON.
func parseBody(raw string) (crypto.Body, error) {
	if raw == "" {
		return crypto.Body{}, nil
	}
	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("parsing body: %w", err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, errors.New("parsing body: expected a JSON object")
	}
	body := crypto.Body{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("parsing body: %w", err)
		}
		key, ok := tok.(string)
		if !ok {
			return nil, errors.New("parsing body: expected an object key")
		}
		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return nil, fmt.Errorf("parsing body field %q: %w", key, err)
		}
		body = append(body, crypto.Field{Key: key, Value: value})
	}
	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("parsing body: %w", err)
	}
	return body, nil
}

func init() {
	rootCmd.AddCommand(cryptoCmd)
	cryptoCmd.AddCommand(encryptCmd, decryptCmd, checkerCmd)
	cryptoCmd.PersistentFlags().StringVar(&cryptoAPIKey, "api-key", "", "Algolab API key (APIKEY-...)")
	cryptoCmd.PersistentFlags().StringVar(&cryptoHostname, "hostname", "https://www.algolab.com.tr", "Hostname hashed into the checker")
	checkerCmd.Flags().StringVar(&checkerBody, "body", "", "JSON request body; omit for an empty body")
}
