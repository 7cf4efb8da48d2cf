package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/dharsanguruparan/settlementops/internal/client"
	"github.com/dharsanguruparan/settlementops/internal/llm"
)

func newCasesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cases",
		Short: "Manage cases on a running API",
	}
	cmd.AddCommand(
		newCasesListCmd(),
		newCasesGetCmd(),
		newCasesUploadCmd(),
		newCasesAnalyzeCmd(),
		newCasesChatCmd(),
		newCasesDeleteCmd(),
		newCasesExportCmd(),
		newCasesDocumentCmd(),
	)
	return cmd
}

func apiClient() *client.Client {
	return client.New(apiURL)
}

func parseID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid case id %q", arg)
	}
	return id, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

func orDash(s *string) string {
	if s == nil || *s == "" {
		return "-"
	}
	return *s
}

func newCasesListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List cases, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cases, err := apiClient().ListCases(cmd.Context())
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tSTATUS\tCASE\tSETTLEMENT\tBID\tCREATED")
			for _, c := range cases {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n",
					c.ID, c.AnalysisStatus, orDash(c.CaseName), c.SettlementFilename,
					orDash(c.BidFilename), c.CreatedAt.Format("2006-01-02 15:04"))
			}
			return tw.Flush()
		},
	}
}

func newCasesGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Print a case with its analysis",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			c, err := apiClient().GetCase(cmd.Context(), id)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), c)
		},
	}
}

func newCasesUploadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "upload <settlement> [bid]",
		Short: "Create a case from a settlement agreement and an optional bid",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			settlement, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer settlement.Close()
			var bid *client.File
			if len(args) == 2 {
				f, err := os.Open(args[1])
				if err != nil {
					return err
				}
				defer f.Close()
				bid = &client.File{Name: args[1], Body: f}
			}
			up, err := apiClient().UploadCase(cmd.Context(), client.File{Name: args[0], Body: settlement}, bid)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), up)
		},
	}
}

func newCasesAnalyzeCmd() *cobra.Command {
	var async bool
	cmd := &cobra.Command{
		Use:   "analyze <id>",
		Short: "Analyze a case, or return the stored analysis",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			res, err := apiClient().Analyze(cmd.Context(), id, async)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().BoolVar(&async, "async", false, "Queue the analysis and return immediately")
	return cmd
}

// newCasesChatCmd keeps the conversation in memory and sends the whole
// history with every question.
func newCasesChatCmd() *cobra.Command {
	var question string
	cmd := &cobra.Command{
		Use:   "chat <id>",
		Short: "Ask questions about an analyzed case",
		Long:  "With --question a single answer is printed; otherwise questions are read from stdin, one per line.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			c := apiClient()
			out := cmd.OutOrStdout()
			var history []llm.Message
			ask := func(q string) error {
				history = append(history, llm.Message{Role: llm.RoleUser, Content: q})
				var answer strings.Builder
				err := c.Chat(cmd.Context(), id, history, func(delta string) error {
					answer.WriteString(delta)
					_, err := io.WriteString(out, delta)
					return err
				})
				fmt.Fprintln(out)
				if err != nil {
					history = history[:len(history)-1]
					return err
				}
				history = append(history, llm.Message{Role: llm.RoleAssistant, Content: answer.String()})
				return nil
			}
			if question != "" {
				return ask(question)
			}

			scanner := bufio.NewScanner(cmd.InOrStdin())
			for {
				fmt.Fprint(out, "> ")
				if !scanner.Scan() {
					fmt.Fprintln(out)
					return scanner.Err()
				}
				q := strings.TrimSpace(scanner.Text())
				if q == "" {
					continue
				}
				if err := ask(q); err != nil {
					var apiErr *client.APIError
					if !errors.As(err, &apiErr) {
						return err
					}
					fmt.Fprintf(cmd.ErrOrStderr(), "error: %s\n", apiErr.Detail)
				}
			}
		},
	}
	cmd.Flags().StringVarP(&question, "question", "q", "", "Ask a single question and exit")
	return cmd
}

func newCasesDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a case and its documents",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			if err := apiClient().DeleteCase(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted case %d\n", id)
			return nil
		},
	}
}

func newCasesExportCmd() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "export <id>",
		Short: "Download the checklist workbook of an analyzed case",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			if output == "" {
				output = fmt.Sprintf("case-%d.xlsx", id)
			}
			body, err := apiClient().Export(cmd.Context(), id)
			if err != nil {
				return err
			}
			defer body.Close()
			if err := writeFile(output, body); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", output)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output path (default case-<id>.xlsx)")
	return cmd
}

func newCasesDocumentCmd() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "document <id> <settlement|bid>",
		Short: "Download a stored document",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			body, _, err := apiClient().Document(cmd.Context(), id, args[1])
			if err != nil {
				return err
			}
			defer body.Close()
			if output == "" {
				_, err = io.Copy(cmd.OutOrStdout(), body)
				return err
			}
			return writeFile(output, body)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output path (default stdout)")
	return cmd
}

func writeFile(path string, r io.Reader) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
