package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/ICJIA/icjia-accessibility-status/internal/openapi"
)

func newOpenAPICmd() *cobra.Command {
	var (
		baseURL    string
		outputFile string
	)

	cmd := &cobra.Command{
		Use:   "openapi",
		Short: "Print the OpenAPI document of the API",
		Long:  "Render the OpenAPI 3 document that the server publishes at /openapi.json.",
		Example: `  a11ystatus openapi
  a11ystatus openapi --base-url https://status.example.org -o openapi.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOpenAPI(cmd.OutOrStdout(), baseURL, outputFile)
		},
	}

	cmd.Flags().StringVar(&baseURL, "base-url", "", "Server URL to list in the document")
	cmd.Flags().StringVarP(&outputFile, "output", "o", "", "Write document to file instead of stdout")

	return cmd
}

func runOpenAPI(out io.Writer, baseURL, outputFile string) error {
	jsonBytes, err := json.MarshalIndent(openapi.Document(baseURL, versionString()), "", "  ")
	if err != nil {
		return fmt.Errorf("render openapi document: %w", err)
	}

	if outputFile != "" {
		if err := os.WriteFile(outputFile, jsonBytes, 0644); err != nil {
			return fmt.Errorf("write %s: %w", outputFile, err)
		}
		fmt.Fprintf(out, "Wrote %s\n", outputFile)
		return nil
	}
	fmt.Fprintln(out, string(jsonBytes))
	return nil
}
