package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/MeKo-Tech/defectscan/internal/client"
	"github.com/MeKo-Tech/defectscan/internal/config"
	"github.com/spf13/cobra"
)

const clientTimeout = 5 * time.Minute

// clientCmd groups commands that talk to a running server.
var clientCmd = &cobra.Command{
	Use:   "client",
	Short: "Talk to a running defectscan server",
	Long: `Log in, upload images and browse detection history on a defectscan server.

The token from "client login" is stored in --token-file (or client.token_file)
and reused by the other commands. Without a stored token they log in with
--username and --password.

Examples:
  defectscan client login --username root --password 123456
  defectscan client upload capture.jpg
  defectscan client history --page 2 --per-page 20`,
}

var clientLoginCmd = &cobra.Command{
	Use:   "login",
	Short: "Log in and store the token",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cc, err := clientConfig(cmd)
		if err != nil {
			return err
		}
		c, err := client.New(cc.ServerURL, clientTimeout)
		if err != nil {
			return err
		}
		if cc.Username == "" || cc.Password == "" {
			return errors.New("--username and --password are required")
		}
		resp, err := c.Login(cmd.Context(), cc.Username, cc.Password)
		if err != nil {
			return err
		}
		if cc.TokenFile != "" {
			if err := saveToken(cc.TokenFile, resp.Token); err != nil {
				return err
			}
		}
		return printJSON(cmd.OutOrStdout(), resp)
	},
}

var clientRegisterCmd = &cobra.Command{
	Use:   "register",
	Short: "Create an account",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cc, err := clientConfig(cmd)
		if err != nil {
			return err
		}
		email, _ := cmd.Flags().GetString("email")
		c, err := client.New(cc.ServerURL, clientTimeout)
		if err != nil {
			return err
		}
		if err := c.Register(cmd.Context(), cc.Username, cc.Password, email); err != nil {
			return err
		}
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Registration successful")
		return nil
	},
}

var clientUploadCmd = &cobra.Command{
	Use:   "upload <image>",
	Short: "Upload an image for detection",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := authedClient(cmd)
		if err != nil {
			return err
		}
		ver, _ := cmd.Flags().GetString("model-version")
		resp, err := c.Upload(cmd.Context(), args[0], ver)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), resp)
	},
}

var clientHistoryCmd = &cobra.Command{
	Use:   "history",
	Short: "List detection history",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := authedClient(cmd)
		if err != nil {
			return err
		}
		page, _ := cmd.Flags().GetInt("page")
		perPage, _ := cmd.Flags().GetInt("per-page")
		resp, err := c.History(cmd.Context(), page, perPage)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), resp)
	},
}

var clientDeleteCmd = &cobra.Command{
	Use:   "delete <record-id>",
	Short: "Delete a history record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var id int64
		if _, err := fmt.Sscan(args[0], &id); err != nil || id <= 0 {
			return fmt.Errorf("invalid record id %q", args[0])
		}
		c, err := authedClient(cmd)
		if err != nil {
			return err
		}
		if err := c.DeleteRecord(cmd.Context(), id); err != nil {
			return err
		}
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Record deleted")
		return nil
	},
}

// clientConfig merges the client section with explicitly set flags.
func clientConfig(cmd *cobra.Command) (config.ClientConfig, error) {
	cfg, err := GetConfig()
	if err != nil {
		return config.ClientConfig{}, err
	}
	cc := cfg.Client
	f := cmd.Flags()
	if f.Changed("server") {
		cc.ServerURL, _ = f.GetString("server")
	}
	if f.Changed("username") {
		cc.Username, _ = f.GetString("username")
	}
	if f.Changed("password") {
		cc.Password, _ = f.GetString("password")
	}
	if f.Changed("token-file") {
		cc.TokenFile, _ = f.GetString("token-file")
	}
	return cc, nil
}

// authedClient returns a client with a stored token, logging in with the
// configured credentials when no token is stored.
func authedClient(cmd *cobra.Command) (*client.Client, error) {
	cc, err := clientConfig(cmd)
	if err != nil {
		return nil, err
	}
	c, err := client.New(cc.ServerURL, clientTimeout)
	if err != nil {
		return nil, err
	}

	if cc.TokenFile != "" {
		token, err := loadToken(cc.TokenFile)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		if token != "" {
			c.SetToken(token)
			return c, nil
		}
	}

	if cc.Username == "" || cc.Password == "" {
		return nil, errors.New("not logged in: run \"client login\" or pass --username and --password")
	}
	if _, err := c.Login(cmd.Context(), cc.Username, cc.Password); err != nil {
		return nil, err
	}
	return c, nil
}

func saveToken(path, token string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create token directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(token+"\n"), 0o600); err != nil {
		return fmt.Errorf("failed to save token: %w", err)
	}
	return nil
}

func loadToken(path string) (string, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from the operator
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	rootCmd.AddCommand(clientCmd)
	clientCmd.AddCommand(clientLoginCmd, clientRegisterCmd, clientUploadCmd, clientHistoryCmd, clientDeleteCmd)

	clientCmd.PersistentFlags().String("server", "http://127.0.0.1:5003", "server base URL")
	clientCmd.PersistentFlags().StringP("username", "u", "", "account name")
	clientCmd.PersistentFlags().String("password", "", "account password")
	clientCmd.PersistentFlags().String("token-file", "", "file holding the login token")

	clientRegisterCmd.Flags().String("email", "", "account email")
	clientUploadCmd.Flags().String("model-version", "", "model version (default: server default)")
	clientHistoryCmd.Flags().Int("page", 1, "page number")
	clientHistoryCmd.Flags().Int("per-page", 10, "records per page")
}
