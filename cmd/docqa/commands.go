package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

// --- upload ---

var uploadCmd = &cobra.Command{
	Use:   "upload <file>",
	Short: "Upload a document and wait for it to be ready",
	Long: `Upload a document into the current session.

Examples:
  docqa upload ./contract.pdf
  docqa upload ./notes.txt --title "Meeting notes"
  docqa upload ./report.pdf --no-wait`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]
		title, _ := cmd.Flags().GetString("title")
		noWait, _ := cmd.Flags().GetBool("no-wait")

		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading file: %w", err)
		}
		if title == "" {
			title = filepath.Base(path)
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		req := map[string]any{
			"title":    title,
			"content":  base64.StdEncoding.EncodeToString(data),
			"encoding": "base64",
		}
		resp, err := client.post(cmd.Context(), "/documents", req)
		if err != nil {
			return err
		}

		var created struct {
			ID     string `json:"id"`
			Status string `json:"status"`
		}
		if err := decodeJSON(resp, &created); err != nil {
			return err
		}
		printSuccess("Uploaded %s as %s", title, created.ID)

		if noWait {
			return nil
		}
		return waitForReady(cmd.Context(), client, created.ID)
	},
}

func waitForReady(ctx context.Context, client *apiClient, id string) error {
	printStep("Waiting for ingestion...")
	deadline := time.Now().Add(2 * time.Minute)
	for time.Now().Before(deadline) {
		resp, err := client.get(ctx, "/documents/"+id)
		if err != nil {
			return err
		}
		var view struct {
			Status     string   `json:"status"`
			Error      string   `json:"error"`
			ChunkCount int      `json:"chunk_count"`
			Suggested  []string `json:"suggested_questions"`
		}
		if err := decodeJSON(resp, &view); err != nil {
			return err
		}
		switch view.Status {
		case "ready":
			printSuccess("Ready (%d chunks)", view.ChunkCount)
			for _, q := range view.Suggested {
				printStatus("Try", "%s", q)
			}
			return nil
		case "failed":
			return fmt.Errorf("ingestion failed: %s", view.Error)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(300 * time.Millisecond):
		}
	}
	return fmt.Errorf("timed out waiting for document %s", id)
}

func init() {
	uploadCmd.Flags().String("title", "", "title for the document (default: file name)")
	uploadCmd.Flags().Bool("no-wait", false, "return immediately without waiting for ingestion")
}

// --- ask ---

var askCmd = &cobra.Command{
	Use:   "ask <document-id> <question>",
	Short: "Ask a question about an uploaded document",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id := args[0]
		question := strings.Join(args[1:], " ")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/documents/"+id+"/questions", map[string]string{
			"question": question,
		})
		if err != nil {
			return err
		}

		var ans struct {
			Answer  string `json:"answer"`
			Mode    string `json:"mode"`
			Sources []struct {
				Page    int    `json:"page"`
				Section string `json:"section"`
			} `json:"sources"`
			UsedFallback bool     `json:"used_fallback"`
			Suggested    []string `json:"suggested_questions"`
		}
		if err := decodeJSON(resp, &ans); err != nil {
			return err
		}

		fmt.Println(ans.Answer)
		if len(ans.Sources) > 0 {
			var refs []string
			for _, s := range ans.Sources {
				refs = append(refs, formatSource(s.Page, s.Section))
			}
			fmt.Printf("\n%s %s\n", colorize(colorBold, "Sources:"), strings.Join(refs, "; "))
		}
		if ans.Mode != "" && ans.Mode != "grounded" {
			printWarning("Degraded answer (mode: %s)", ans.Mode)
		}
		for _, q := range ans.Suggested {
			printStatus("Try", "%s", q)
		}
		return nil
	},
}

func formatSource(page int, section string) string {
	switch {
	case page > 0 && section != "":
		return fmt.Sprintf("page %d (%s)", page, section)
	case page > 0:
		return fmt.Sprintf("page %d", page)
	default:
		return section
	}
}

// --- list / show / delete ---

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List documents in the current session",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/documents")
		if err != nil {
			return err
		}

		var docs []struct {
			ID        string `json:"id"`
			Title     string `json:"title"`
			Status    string `json:"status"`
			ExpiresAt string `json:"expires_at"`
		}
		if err := decodeJSON(resp, &docs); err != nil {
			return err
		}

		if len(docs) == 0 {
			fmt.Println("No documents in session.")
			return nil
		}
		for _, d := range docs {
			fmt.Printf("%s  %-10s  %s\n",
				colorize(colorCyan, shortID(d.ID)),
				d.Status,
				d.Title,
			)
		}
		return nil
	},
}

// shortID abbreviates an ID for table output. The server normally returns
// UUIDs, but the length is not trusted.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

var showCmd = &cobra.Command{
	Use:   "show <document-id>",
	Short: "Show a document's status and metadata as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/documents/"+args[0])
		if err != nil {
			return err
		}

		var doc any
		if err := decodeJSON(resp, &doc); err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(doc)
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <document-id>",
	Short: "Remove a document from the session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.delete(cmd.Context(), "/documents/"+args[0])
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Deleted %s", args[0])
		return nil
	},
}
