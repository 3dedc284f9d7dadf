package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/skip2/go-qrcode"
	"github.com/spf13/cobra"

	"github.com/prjuan627-wq/bot-masitaprex-wa.me/internal/config"
)

func newSessionCmd() *cobra.Command {
	var (
		apiURL string
		secret string
	)
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Manage WhatsApp sessions of a running bot",
	}
	cmd.PersistentFlags().StringVar(&apiURL, "url", "", "gateway base URL (default from config)")
	cmd.PersistentFlags().StringVar(&secret, "token", "", "gateway token or password (default from config)")

	client := func() *apiClient {
		cfg, err := config.Load(paths.Config)
		if err != nil {
			cfg = config.Defaults()
		}
		return newAPIClient(cfg, apiURL, secret)
	}

	cmd.AddCommand(newSessionCreateCmd(client))
	cmd.AddCommand(newSessionQRCmd(client))
	cmd.AddCommand(newSessionResetCmd(client))
	cmd.AddCommand(newSessionSendCmd(client))
	cmd.AddCommand(newSessionListCmd(client))
	return cmd
}

func printJSON(cmd *cobra.Command, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}

func newSessionCreateCmd(client func() *apiClient) *cobra.Command {
	var tenantID string
	cmd := &cobra.Command{
		Use:   "create [session-id]",
		Short: "Create a session and start pairing",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]string{"tenant": tenantID}
			if len(args) == 1 {
				body["sessionId"] = args[0]
			}
			var out map[string]any
			if err := client().do(cmd.Context(), "POST", "/api/session/create", body, &out); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Session %v created. Run `masitaprex session qr %v` to pair.\n", out["sessionId"], out["sessionId"])
			return nil
		},
	}
	cmd.Flags().StringVar(&tenantID, "tenant", "", "tenant the session serves (default from config)")
	return cmd
}

func newSessionQRCmd(client func() *apiClient) *cobra.Command {
	return &cobra.Command{
		Use:   "qr <session-id>",
		Short: "Print the pairing QR code of a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var out pairing
			path := "/api/session/qr?sessionId=" + url.QueryEscape(args[0])
			if err := client().do(cmd.Context(), "GET", path, nil, &out); err != nil {
				return err
			}
			return out.print(cmd.OutOrStdout())
		},
	}
}

// pairing is the QR endpoint response.
type pairing struct {
	QR        string `json:"qr"`
	Challenge string `json:"challenge"`
	Status    string `json:"status"`
}

// print renders the raw challenge as a terminal QR code. Without one the
// data URL is printed for a browser.
func (p pairing) print(w io.Writer) error {
	fmt.Fprintf(w, "Status: %s\n", p.Status)
	switch {
	case p.Challenge != "":
		q, err := qrcode.New(p.Challenge, qrcode.Medium)
		if err != nil {
			return err
		}
		fmt.Fprint(w, q.ToSmallString(false))
	case p.QR != "":
		fmt.Fprintln(w, "Open this data URL in a browser and scan it with WhatsApp:")
		fmt.Fprintln(w, p.QR)
	default:
		fmt.Fprintln(w, "No pairing code pending.")
	}
	return nil
}

func newSessionResetCmd(client func() *apiClient) *cobra.Command {
	return &cobra.Command{
		Use:   "reset <session-id>",
		Short: "Log out a session and delete its credentials",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := client().do(cmd.Context(), "POST", "/api/session/reset", map[string]string{"sessionId": args[0]}, nil); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Session %s removed.\n", args[0])
			return nil
		},
	}
}

func newSessionSendCmd(client func() *apiClient) *cobra.Command {
	var (
		mediaURL  string
		mediaKind string
	)
	cmd := &cobra.Command{
		Use:   "send <session-id> <number> [text...]",
		Short: "Send a message from a session",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]string{
				"sessionId": args[0],
				"to":        args[1],
				"text":      strings.Join(args[2:], " "),
			}
			if mediaURL != "" {
				body["mediaUrl"] = mediaURL
				body["mediaKind"] = mediaKind
			}
			if err := client().do(cmd.Context(), "POST", "/api/session/send", body, nil); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Sent to %s.\n", args[1])
			return nil
		},
	}
	cmd.Flags().StringVar(&mediaURL, "media-url", "", "attach media downloaded from this URL")
	cmd.Flags().StringVar(&mediaKind, "media-kind", "image", "media kind (image, document, video, audio)")
	return cmd
}

func newSessionListCmd(client func() *apiClient) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var out map[string]any
			if err := client().do(cmd.Context(), "GET", "/api/sessions", nil, &out); err != nil {
				return err
			}
			return printJSON(cmd, out["sessions"])
		},
	}
}
