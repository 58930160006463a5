package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/vidya-ai/vidya/libs/query-engine/internal/engine"
	"github.com/vidya-ai/vidya/libs/query-engine/internal/retrieval"
)

var (
	askSubject string
	askUser    string
	askContent string
)

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Ask a question and retrieve curriculum content for it",
	Args:  cobra.ExactArgs(1),
	RunE:  runAsk,
}

func init() {
	askCmd.Flags().StringVarP(&askSubject, "subject", "s", "", "subject hint (physics, chemistry, biology, math)")
	askCmd.Flags().StringVarP(&askUser, "user", "u", "cli", "user ID recorded in the normalization log")
	askCmd.Flags().StringVar(&askContent, "content", "", "content file to index before asking")
	rootCmd.AddCommand(askCmd)
}

func runAsk(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()

	a, err := buildApp(ctx, askContent, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	var spin *spinner.Spinner
	if !jsonOutput {
		spin = spinner.New(spinner.CharSets[14], 100*time.Millisecond)
		spin.Suffix = " searching..."
		spin.Start()
	}

	answer, err := a.Pipeline.HandleQuery(ctx, args[0], askUser, askSubject)
	if spin != nil {
		spin.Stop()
	}
	if err != nil {
		return err
	}

	if jsonOutput {
		return json.NewEncoder(os.Stdout).Encode(answer)
	}
	printAnswer(answer)
	return nil
}

func printAnswer(answer *engine.Answer) {
	if answer.Message != "" {
		fmt.Println(answer.Message)
		return
	}

	bold := color.New(color.Bold)
	bold.Printf("Question: ")
	fmt.Println(answer.CleanText)
	fmt.Printf("Intent:   %s\n", answer.Intent)
	if answer.ScaffoldedPrompt != "" {
		fmt.Printf("Prompt:   %s\n", answer.ScaffoldedPrompt)
	}
	fmt.Printf("Score:    %.2f %s\n", answer.Confidence, bandLabel(answer.Band))
	if answer.Fallback {
		color.Yellow("Served via keyword fallback; no vector match under the distance threshold.")
	}
	if answer.Degraded {
		color.Red("Retrieval was unavailable; answer has no supporting content.")
	}

	if len(answer.Results) == 0 {
		fmt.Println("\nNo relevant content found.")
		return
	}
	fmt.Println()
	for i, r := range answer.Results {
		bold.Printf("%d. %s", i+1, r.Source)
		fmt.Printf("  (distance %.3f, %s)\n", r.Distance, r.Collection)
		fmt.Printf("   %s\n", r.Text)
	}
}

func bandLabel(band retrieval.Band) string {
	switch band {
	case retrieval.BandHigh:
		return color.GreenString("[high]")
	case retrieval.BandMedium:
		return color.YellowString("[medium]")
	default:
		return color.RedString("[low]")
	}
}
