package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var mineCmd = &cobra.Command{
	Use:   "mine",
	Short: "Mine the low-confidence queue for noise-phrase candidates",
	Long: `Scans recent low-confidence normalizations for recurring n-grams and
stores the ones that clear the frequency floor as pending candidates.
Nothing is activated until a reviewer approves it with "patterns approve".`,
	RunE: runMine,
}

func init() {
	rootCmd.AddCommand(mineCmd)
}

func runMine(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()

	a, err := buildApp(ctx, "", nil)
	if err != nil {
		return err
	}
	defer a.Close()

	var bar *progressbar.ProgressBar
	if !jsonOutput {
		a.Miner.OnProgress = func(done, total int) {
			if bar == nil {
				bar = progressbar.Default(int64(total), "scanning queue")
			}
			_ = bar.Set(done)
		}
	}

	candidates, err := a.Pipeline.MinePatterns(ctx)
	if bar != nil {
		_ = bar.Finish()
		fmt.Println()
	}
	if err != nil {
		return err
	}

	if jsonOutput {
		return json.NewEncoder(os.Stdout).Encode(candidates)
	}

	if len(candidates) == 0 {
		fmt.Println("No candidates cleared the frequency floor.")
		return nil
	}

	color.New(color.Bold).Printf("%d candidate(s) pending review:\n\n", len(candidates))
	for _, c := range candidates {
		fmt.Printf("  %s  %q  freq=%d  conf=%.2f\n", c.ID, c.Phrase, c.Frequency, c.Confidence)
		for _, ex := range c.Examples {
			fmt.Printf("      e.g. %q\n", ex)
		}
	}
	fmt.Println("\nReview with: query-engine patterns approve|reject <id>")
	return nil
}
