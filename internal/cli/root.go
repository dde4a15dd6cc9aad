package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jsherman999/watercooler/internal/config"
	"github.com/jsherman999/watercooler/internal/signing"
)

func Main() {
	var cfgPath string

	root := &cobra.Command{
		Use:   "watercooler",
		Short: "Watercooler CLI: mint tokens and sign webhook calls",
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", "", "config file (yaml)")

	root.AddCommand(tokenCmd(&cfgPath))
	root.AddCommand(signCmd(&cfgPath))
	root.AddCommand(notifyCmd(&cfgPath))

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadSigner(cfgPath string) (*config.Config, *signing.Signer, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, nil, err
	}
	return cfg, signing.New(cfg.Secret), nil
}

func tokenCmd(cfgPath *string) *cobra.Command {
	var channel string

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a signed connection token for a channel",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, signer, err := loadSigner(*cfgPath)
			if err != nil {
				return err
			}
			fmt.Println(signer.Sign(channel))
			return nil
		},
	}

	cmd.Flags().StringVar(&channel, "channel", "", "channel identifier (board/sprint id)")
	_ = cmd.MarkFlagRequired("channel")
	return cmd
}

func signCmd(cfgPath *string) *cobra.Command {
	var method, url, body string

	cmd := &cobra.Command{
		Use:   "sign",
		Short: "Produce the X-Signature header for a webhook call",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, signer, err := loadSigner(*cfgPath)
			if err != nil {
				return err
			}
			raw, err := readBody(body)
			if err != nil {
				return err
			}
			fmt.Println(signer.SignRequest(method, url, raw))
			return nil
		},
	}

	cmd.Flags().StringVar(&method, "method", "POST", "HTTP method the hub will receive")
	cmd.Flags().StringVar(&url, "url", "", "full webhook URL, e.g. http://localhost:8080/task/7")
	cmd.Flags().StringVar(&body, "body", "", "request body (or @file)")
	_ = cmd.MarkFlagRequired("url")
	return cmd
}

// readBody interprets @path as a file, anything else as a literal.
func readBody(body string) ([]byte, error) {
	if strings.HasPrefix(body, "@") {
		return os.ReadFile(body[1:])
	}
	return []byte(body), nil
}
