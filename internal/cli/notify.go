package cli

import (
	"bytes"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

// notifyCmd signs and fires one webhook call the way the board API's write
// hook does: short timeout, and every failure is swallowed so the caller's
// transaction is never blocked by a sick hub.
func notifyCmd(cfgPath *string) *cobra.Command {
	var method, url, body string
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "notify",
		Short: "Sign and send a webhook notification to a hub",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, signer, err := loadSigner(*cfgPath)
			if err != nil {
				return err
			}
			raw, err := readBody(body)
			if err != nil {
				return err
			}

			req, err := http.NewRequest(method, url, bytes.NewReader(raw))
			if err != nil {
				return err
			}
			req.Header.Set("X-Signature", signer.SignRequest(method, url, raw))
			if len(raw) > 0 {
				req.Header.Set("Content-Type", "application/json")
			}

			client := &http.Client{Timeout: timeout}
			resp, err := client.Do(req)
			if err != nil {
				fmt.Fprintf(os.Stderr, "notify failed (ignored): %v\n", err)
				return nil
			}
			defer resp.Body.Close()
			if resp.StatusCode/100 != 2 {
				fmt.Fprintf(os.Stderr, "notify got %s (ignored)\n", resp.Status)
				return nil
			}
			fmt.Println("Ok")
			return nil
		},
	}

	cmd.Flags().StringVar(&method, "method", "POST", "HTTP method: POST|PUT|DELETE")
	cmd.Flags().StringVar(&url, "url", "", "full webhook URL, e.g. http://localhost:8080/task/7")
	cmd.Flags().StringVar(&body, "body", "", "request body (or @file)")
	cmd.Flags().DurationVar(&timeout, "timeout", 500*time.Millisecond, "request timeout")
	_ = cmd.MarkFlagRequired("url")
	return cmd
}
