package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/imyashkale/fleetd/internal/auth"
	"github.com/spf13/cobra"
)

var deployFlags struct {
	name     string
	address  string
	secret   string
	provider string
	ref      string
	shutdown bool
	timeout  time.Duration
}

var deployCmd = &cobra.Command{
	Use:   "deploy",
	Short: "Trigger a deployment through a node's webhook endpoint",
	RunE: func(cmd *cobra.Command, args []string) error {
		body := []byte(`{}`)
		if deployFlags.ref != "" {
			ref := deployFlags.ref
			if !strings.HasPrefix(ref, "refs/") {
				ref = "refs/heads/" + ref
			}
			var err error
			if body, err = json.Marshal(map[string]string{"ref": ref}); err != nil {
				return err
			}
		}

		route := "/webhook/deploy/"
		if deployFlags.shutdown {
			route = "/webhook/shutdown/"
		}
		target := strings.TrimRight(deployFlags.address, "/") + route + url.PathEscape(deployFlags.name)
		req, err := http.NewRequestWithContext(cmd.Context(), http.MethodPost, target, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")

		secret := deployFlags.secret
		if secret == "" {
			secret = os.Getenv("FLEETD_WEBHOOK_SECRET")
		}
		if secret != "" {
			if err := auth.Sign(req.Header, auth.Provider(deployFlags.provider), secret, body); err != nil {
				return err
			}
		}

		client := &http.Client{Timeout: deployFlags.timeout}
		resp, err := client.Do(req)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		defer resp.Body.Close()

		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to read response: %w", err)
		}

		var pretty bytes.Buffer
		if json.Indent(&pretty, raw, "", "  ") == nil {
			raw = pretty.Bytes()
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(raw))

		if resp.StatusCode >= 300 {
			return fmt.Errorf("deployment %s: %s", deployFlags.name, resp.Status)
		}
		return nil
	},
}

func init() {
	deployCmd.Flags().StringVarP(&deployFlags.name, "name", "n", "", "Deployment name")
	deployCmd.Flags().StringVarP(&deployFlags.address, "address", "a", "http://127.0.0.1:8111", "Node address")
	deployCmd.Flags().StringVar(&deployFlags.secret, "secret", "", "Webhook secret (defaults to FLEETD_WEBHOOK_SECRET)")
	deployCmd.Flags().StringVar(&deployFlags.provider, "provider", string(auth.ProviderGitHub), "Signature scheme: github, gitea or gitlab")
	deployCmd.Flags().StringVar(&deployFlags.ref, "ref", "", "Branch or ref to report in the payload")
	deployCmd.Flags().BoolVar(&deployFlags.shutdown, "shutdown", false, "Run the deployment's shutdown commands instead")
	deployCmd.Flags().DurationVar(&deployFlags.timeout, "timeout", 65*time.Minute, "Request timeout")
	_ = deployCmd.MarkFlagRequired("name")
}
