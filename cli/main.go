package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var (
	adminURL   string
	adminToken string
	tokenFile  string
	Version    = "dev"
)

type device struct {
	DeviceID       string    `json:"device_id"`
	DisplayName    string    `json:"display_name"`
	CreatedAt      time.Time `json:"created_at"`
	TokenExpiresAt time.Time `json:"token_expires_at"`
	LastSeenAt     time.Time `json:"last_seen_at"`
	Active         bool      `json:"active"`
}

func main() {
	rootCmd := &cobra.Command{
		Use:   "pairlock",
		Short: "Pairlock - local-network device pairing",
		Long:  "Issue pairing offers and manage paired devices on the local pairlock server",
	}

	rootCmd.PersistentFlags().StringVarP(&adminURL, "server", "s", "http://127.0.0.1:8444", "Admin API URL")
	rootCmd.PersistentFlags().StringVar(&adminToken, "token", "", "Admin bearer token")
	rootCmd.PersistentFlags().StringVar(&tokenFile, "token-file", "keystore/admin.token", "File containing the admin bearer token")

	rootCmd.AddCommand(
		offerCmd(),
		devicesCmd(),
		revokeCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func offerCmd() *cobra.Command {
	var ttl int
	cmd := &cobra.Command{
		Use:   "offer",
		Short: "Issue a one-time pairing code and print the payload",
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := json.Marshal(map[string]int{"ttl_s": ttl})
			if err != nil {
				return err
			}
			resp, err := adminRequest(http.MethodPost, "/v1/admin/codes", body)
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusCreated {
				return fmt.Errorf("server returned status %d", resp.StatusCode)
			}

			payload, err := io.ReadAll(resp.Body)
			if err != nil {
				return err
			}
			// The payload is what the counterpart device consumes; print it
			// verbatim so it can be piped into a QR encoder or the agent.
			fmt.Println(string(payload))
			return nil
		},
	}
	cmd.Flags().IntVar(&ttl, "ttl", 0, "Code TTL in seconds (server default when 0)")
	return cmd
}

func devicesCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "devices",
		Aliases: []string{"ls", "list"},
		Short:   "List paired devices",
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := adminRequest(http.MethodGet, "/v1/admin/devices", nil)
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("server returned status %d", resp.StatusCode)
			}

			var devices []device
			if err := json.NewDecoder(resp.Body).Decode(&devices); err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "DEVICE ID\tNAME\tACTIVE\tLAST SEEN\tTOKEN EXPIRES")
			fmt.Fprintln(w, "---------\t----\t------\t---------\t-------------")
			for _, d := range devices {
				active := "yes"
				if !d.Active {
					active = "revoked"
				}
				lastSeen := time.Since(d.LastSeenAt).Round(time.Second)
				fmt.Fprintf(w, "%s\t%s\t%s\t%s ago\t%s\n",
					d.DeviceID, d.DisplayName, active, lastSeen,
					d.TokenExpiresAt.Format(time.RFC3339))
			}
			w.Flush()
			return nil
		},
	}
}

func revokeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke [device-id]",
		Short: "Revoke a paired device",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := adminRequest(http.MethodDelete, "/v1/admin/devices/"+args[0], nil)
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			switch resp.StatusCode {
			case http.StatusNoContent:
				fmt.Printf("revoked %s\n", args[0])
				return nil
			case http.StatusNotFound:
				return fmt.Errorf("device %s not found", args[0])
			default:
				return fmt.Errorf("server returned status %d", resp.StatusCode)
			}
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("pairlock version %s\n", Version)
		},
	}
}

func adminRequest(method, path string, body []byte) (*http.Response, error) {
	token, err := resolveToken()
	if err != nil {
		return nil, err
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequest(method, adminURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to server: %w", err)
	}
	return resp, nil
}

func resolveToken() (string, error) {
	if adminToken != "" {
		return adminToken, nil
	}
	if env := os.Getenv("PAIRLOCK_ADMIN_TOKEN"); env != "" {
		return env, nil
	}
	raw, err := os.ReadFile(tokenFile)
	if err != nil {
		return "", fmt.Errorf("admin token required: %w", err)
	}
	return strings.TrimSpace(string(raw)), nil
}
