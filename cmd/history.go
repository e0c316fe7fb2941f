package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/qget/qget/internal/history"
	"github.com/qget/qget/internal/output"
	"github.com/qget/qget/internal/utils"
)

var (
	historyClear      bool
	historyRemoveURL  string
	historyDeleteFile bool
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List or edit the download history",
	Run: func(cmd *cobra.Command, args []string) {
		utils.InitLogger(debug)
		hist, err := history.Open(historyPath())
		if err != nil {
			output.PrintError("Could not open history: " + err.Error())
			os.Exit(1)
		}

		switch {
		case historyClear:
			if err := hist.Clear(); err != nil {
				output.PrintError("Could not clear history: " + err.Error())
				os.Exit(1)
			}
			output.PrintSuccess("History cleared")
		case historyRemoveURL != "":
			if err := hist.Remove(historyRemoveURL, historyDeleteFile); err != nil {
				output.PrintError("Could not remove entry: " + err.Error())
				os.Exit(1)
			}
			output.PrintSuccess("Removed " + historyRemoveURL)
		default:
			records := hist.Records()
			if len(records) == 0 {
				output.PrintInfo("No downloads recorded")
				return
			}
			for _, rec := range records {
				output.PrintSuccess(rec.Filename)
				output.PrintDetail(fmt.Sprintf("  %s", rec.URL))
				when := time.Unix(rec.Timestamp, 0).Format("2006-01-02 15:04")
				output.PrintDetail(fmt.Sprintf("  %s  %s", rec.Folder, when))
			}
		}
	},
}

func init() {
	historyCmd.Flags().BoolVar(&historyClear, "clear", false, "Remove all history entries")
	historyCmd.Flags().StringVar(&historyRemoveURL, "remove", "", "Remove the entry for a URL")
	historyCmd.Flags().BoolVar(&historyDeleteFile, "delete-file", false, "Also delete the downloaded file when removing")
	rootCmd.AddCommand(historyCmd)
}
