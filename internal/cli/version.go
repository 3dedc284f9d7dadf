package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/prjuan627-wq/bot-masitaprex-wa.me/internal/version"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version of masitaprex",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.Info())
		},
	}
}
