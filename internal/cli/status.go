package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/prjuan627-wq/bot-masitaprex-wa.me/internal/config"
	"github.com/prjuan627-wq/bot-masitaprex-wa.me/internal/llm"
	"github.com/prjuan627-wq/bot-masitaprex-wa.me/internal/version"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show configuration summary and whether the bot is running",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "masitaprex %s (commit %s)\n\n", version.Version, version.Commit)
			fmt.Fprintf(out, "Config:  %s\n", paths.Config)
			fmt.Fprintf(out, "Data:    %s\n\n", paths.Data)

			cfg, err := config.Load(paths.Config)
			if err != nil {
				if os.IsNotExist(err) {
					fmt.Fprintln(out, "Config:  not found (using defaults)")
					cfg = config.Defaults()
				} else {
					fmt.Fprintf(out, "Config:  error loading: %v\n", err)
					return nil
				}
			}
			printSummary(out, cfg)

			ctx, cancel := context.WithTimeout(cmd.Context(), 3*time.Second)
			defer cancel()
			c := newAPIClient(cfg, "", "")
			var sessions struct {
				Sessions []struct {
					ID       string `json:"id"`
					TenantID string `json:"tenantId"`
					State    string `json:"state"`
				} `json:"sessions"`
			}
			if err := c.do(ctx, "GET", "/api/sessions", nil, &sessions); err != nil {
				fmt.Fprintf(out, "\nGateway: not reachable at %s (%v)\n", c.base, err)
				return nil
			}
			fmt.Fprintf(out, "\nGateway: running at %s\n", c.base)
			for _, s := range sessions.Sessions {
				fmt.Fprintf(out, "Session: %s tenant=%s state=%s\n", s.ID, s.TenantID, s.State)
			}
			return nil
		},
	}
}

func printSummary(out io.Writer, cfg config.Config) {
	fmt.Fprintf(out, "Gateway: port=%d bind=%s auth=%s\n", cfg.Gateway.Port, cfg.Gateway.Bind, cfg.Gateway.Auth.Mode)
	if cfg.Bridge.URL != "" {
		fmt.Fprintf(out, "Bridge:  %s\n", cfg.Bridge.URL)
	} else {
		fmt.Fprintln(out, "Bridge:  (not configured)")
	}

	providers := llm.NewRegistryFromConfig(cfg.Inference, log).List()
	if len(providers) > 0 {
		fmt.Fprintf(out, "AI:      %s (vision=%s)\n", strings.Join(providers, ", "), cfg.Inference.VisionBackend)
	} else {
		fmt.Fprintln(out, "AI:      (no provider keys)")
	}
	speech := "(disabled)"
	if cfg.Inference.Speech.APIKey != "" || cfg.Inference.Speech.AccessToken != "" {
		speech = cfg.Inference.Speech.LanguageCode
	}
	fmt.Fprintf(out, "Speech:  %s\n", speech)

	fmt.Fprintf(out, "Tenants: %s\n", strings.Join(config.TenantIDs(cfg.Tenants), ", "))
	if cfg.Escalation.Telegram != nil {
		fmt.Fprintf(out, "Notify:  telegram chats=%d\n", len(cfg.Escalation.Telegram.ChatIDs))
	}
	if irc := cfg.Escalation.IRC; irc != nil {
		fmt.Fprintf(out, "Notify:  irc server=%s nick=%s channels=%s\n", irc.Server, irc.Nick, strings.Join(irc.Channels, ","))
	}

	issues := config.Validate(&cfg)
	if len(issues) > 0 {
		fmt.Fprintf(out, "\nValidation issues (%d):\n", len(issues))
		for _, issue := range issues {
			fmt.Fprintf(out, "  - %s: %s\n", issue.Path, issue.Message)
		}
	}
}
