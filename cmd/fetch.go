package cmd

import (
	"github.com/spf13/cobra"

	"github.com/JakeFAU/roundup-crawler/internal/report"
)

func newFetchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fetch",
		Short: "Fetch the articles of every unprocessed roundup",
		Long: `Processes every input document not yet present in the results or errors
checkpoint. Progress is saved as records finish and again on exit, including
after Ctrl-C.`,
		Args: cobra.NoArgs,
		RunE: runFetchCommand,
	}
}

func runFetchCommand(cmd *cobra.Command, _ []string) error {
	appInstance, release, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	defer release()
	summary, err := appInstance.Fetch(cmd.Context())
	if summary.RunID != "" {
		report.Run(cmd.OutOrStdout(), summary)
	} else if err == nil {
		cmd.Println("nothing to do: no input documents")
	}
	return err
}
