package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var patternsCmd = &cobra.Command{
	Use:   "patterns",
	Short: "Review mined noise-phrase candidates",
}

var patternsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List candidates pending review",
	RunE:  runPatternsList,
}

var patternsApproveCmd = &cobra.Command{
	Use:   "approve <id>",
	Short: "Approve a candidate into the active phrase set",
	Args:  cobra.ExactArgs(1),
	RunE:  runPatternsApprove,
}

var patternsRejectCmd = &cobra.Command{
	Use:   "reject <id>",
	Short: "Reject a candidate",
	Args:  cobra.ExactArgs(1),
	RunE:  runPatternsReject,
}

func init() {
	patternsCmd.AddCommand(patternsListCmd, patternsApproveCmd, patternsRejectCmd)
	rootCmd.AddCommand(patternsCmd)
}

func runPatternsList(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()

	a, err := buildApp(ctx, "", nil)
	if err != nil {
		return err
	}
	defer a.Close()

	pending, err := a.Pipeline.PendingPatterns(ctx)
	if err != nil {
		return err
	}

	if jsonOutput {
		return json.NewEncoder(os.Stdout).Encode(pending)
	}

	if len(pending) == 0 {
		fmt.Println("Review queue is empty.")
		return nil
	}
	for _, p := range pending {
		fmt.Printf("%s  %q  freq=%d  conf=%.2f\n", p.ID, p.Phrase, p.Frequency, p.Confidence)
	}
	return nil
}

func runPatternsApprove(cmd *cobra.Command, args []string) error {
	return reviewPattern(args[0], true)
}

func runPatternsReject(cmd *cobra.Command, args []string) error {
	return reviewPattern(args[0], false)
}

func reviewPattern(rawID string, approve bool) error {
	id, err := uuid.Parse(rawID)
	if err != nil {
		return fmt.Errorf("invalid pattern ID %q: %w", rawID, err)
	}

	ctx, cancel := commandContext()
	defer cancel()

	a, err := buildApp(ctx, "", nil)
	if err != nil {
		return err
	}
	defer a.Close()

	if approve {
		if err := a.Pipeline.ApprovePattern(ctx, id); err != nil {
			return err
		}
		color.Green("Pattern %s approved and active.", id)
		return nil
	}
	if err := a.Pipeline.RejectPattern(ctx, id); err != nil {
		return err
	}
	color.Yellow("Pattern %s rejected.", id)
	return nil
}
