package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/mender/internal/checks"
	"github.com/lucasnoah/mender/internal/feedback"
)

var classifyCmd = &cobra.Command{
	Use:   "classify [FILE|-]",
	Short: "Classify saved pytest output and show the extracted feedback",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		exitCode, _ := cmd.Flags().GetInt("exit-code")
		format, _ := cmd.Flags().GetString("format")

		var data []byte
		var err error
		if len(args) == 0 || args[0] == "-" {
			data, err = io.ReadAll(cmd.InOrStdin())
		} else {
			data, err = os.ReadFile(args[0])
		}
		if err != nil {
			return fmt.Errorf("read output: %w", err)
		}
		output := string(data)
		res := checks.NewExecutionResult(output, exitCode)

		w := cmd.OutOrStdout()
		if format == "json" {
			enc := json.NewEncoder(w)
			enc.SetIndent("", "  ")
			return enc.Encode(struct {
				checks.ExecutionResult
				Succeeded bool            `json:"succeeded"`
				Feedback  []feedback.Item `json:"feedback"`
			}{res, res.Succeeded(), feedback.Items(output)})
		}

		fmt.Fprintf(w, "passed:            %d\n", res.Passed)
		fmt.Fprintf(w, "failed:            %d\n", res.Failed)
		fmt.Fprintf(w, "collection error:  %v\n", res.CollectionError)
		fmt.Fprintf(w, "has tests:         %v\n", res.HasTests)
		fmt.Fprintf(w, "result:            %s\n", verdictLabel(res.Succeeded()))
		if ex := feedback.Extract(output); ex != "" && !res.Succeeded() {
			fmt.Fprintf(w, "\n%s\n%s\n", bold("Feedback:"), ex)
		}
		return nil
	},
}

func init() {
	classifyCmd.Flags().Int("exit-code", 1, "exit code the test run finished with")
	classifyCmd.Flags().String("format", "text", "Output format: text or json")
}
