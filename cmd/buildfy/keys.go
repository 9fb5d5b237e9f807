package main

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/manash/buildfy/internal/keys"
)

func newKeysCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Manage stored API keys",
		Long: `Store bearer tokens for generation services in keys.json, keyed by the
service host. A stored key is used when no key comes from --api-key,
BUILDFY_API_KEY or the config file.`,
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "set [key]",
			Short: "Store a key for the configured service (reads stdin when no key is given)",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(_ *cobra.Command, args []string) error {
				key := ""
				if len(args) == 1 {
					key = args[0]
				} else {
					line, err := bufio.NewReader(app.In).ReadString('\n')
					if err != nil && line == "" {
						return fmt.Errorf("no key given")
					}
					key = strings.TrimSpace(line)
				}
				if err := app.Keys.Set(app.cfg.API.BaseURL, key); err != nil {
					return err
				}
				service, _ := keys.ServiceKey(app.cfg.API.BaseURL)
				fmt.Fprintf(app.Out, "Stored key for %s (%s)\n", service, keys.MaskKey(key))
				return nil
			},
		},
		&cobra.Command{
			Use:   "list",
			Short: "List services with a stored key",
			Args:  cobra.NoArgs,
			RunE: func(_ *cobra.Command, _ []string) error {
				services, err := app.Keys.List()
				if err != nil {
					return err
				}
				if len(services) == 0 {
					fmt.Fprintln(app.Out, "No keys stored.")
					return nil
				}
				for _, service := range services {
					key, err := app.Keys.Get(service)
					if err != nil {
						return err
					}
					fmt.Fprintf(app.Out, "%-30s  %s\n", service, keys.MaskKey(key))
				}
				return nil
			},
		},
		&cobra.Command{
			Use:     "delete",
			Aliases: []string{"rm"},
			Short:   "Remove the key for the configured service",
			Args:    cobra.NoArgs,
			RunE: func(_ *cobra.Command, _ []string) error {
				if err := app.Keys.Delete(app.cfg.API.BaseURL); err != nil {
					return err
				}
				fmt.Fprintln(app.Out, "Key removed.")
				return nil
			},
		},
	)
	return cmd
}
