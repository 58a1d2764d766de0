package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/kalambet/reelrec/internal/api"
	"github.com/kalambet/reelrec/internal/catalog"
	"github.com/kalambet/reelrec/internal/config"
	"github.com/kalambet/reelrec/internal/recommend"
)

// --- recommend / surprise / titles ---

var recommendCmd = &cobra.Command{
	Use:   "recommend <title>",
	Short: "List the movies most similar to a title",
	Long: `List the movies most similar to a title, best match first.

The title must match a catalog entry exactly. Use "reelrec titles <query>"
to find the exact spelling.

Examples:
  reelrec recommend "Avatar"
  reelrec recommend "The Dark Knight" -k 10`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		k, _ := cmd.Flags().GetInt("k")
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if k <= 0 {
			k = cfg.Retrieval.TopK
		}
		eng, err := loadEngine(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		return runRecommend(eng, strings.Join(args, " "), k)
	},
}

var surpriseCmd = &cobra.Command{
	Use:   "surprise",
	Short: "Pick a random movie from the catalog",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		eng, err := loadEngine(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		title, err := eng.Surprise()
		if err != nil {
			return err
		}
		fmt.Fprintln(stdout, title)
		return nil
	},
}

var titlesCmd = &cobra.Command{
	Use:   "titles [query]",
	Short: "Search catalog titles",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		cat, err := catalog.LoadCatalog(cfg.CatalogPath())
		if err != nil {
			return err
		}
		items := cat.Search(strings.Join(args, " "), limit)
		if len(items) == 0 {
			fmt.Fprintln(stdout, "No titles found.")
			return nil
		}
		for _, it := range items {
			fmt.Fprintf(stdout, "%s  %s\n", colorize(colorCyan, fmt.Sprintf("%6d", it.Index)), it.Title)
		}
		return nil
	},
}

func init() {
	recommendCmd.Flags().IntP("k", "k", 0, "number of recommendations (default retrieval.top_k)")
	titlesCmd.Flags().Int("limit", 20, "maximum number of titles to list")
}

// recommendEngine is the part of recommend.Engine the CLI uses.
type recommendEngine interface {
	Recommend(title string, k int) (recommend.Result, error)
}

func runRecommend(eng recommendEngine, title string, k int) error {
	res, err := eng.Recommend(title, k)
	if errors.Is(err, recommend.ErrNotFound) {
		return fmt.Errorf("%q is not in the catalog; try reelrec titles %q", title, title)
	}
	if err != nil {
		return err
	}
	printRanked(res.Titles)
	if res.Partial {
		printWarning("only %d similar titles available", len(res.Titles))
	}
	return nil
}

// --- index ---

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Manage the similarity artifact",
}

var indexImportCmd = &cobra.Command{
	Use:   "import <matrix.json>",
	Short: "Convert a JSON similarity matrix into the binary artifact",
	Long: `Convert a JSON similarity matrix (an array of equal-length number
arrays, one row per catalog title) into the binary similarity artifact.

Use "-" to read the matrix from stdin.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		out, _ := cmd.Flags().GetString("out")
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if out == "" {
			out = cfg.SimilarityPath()
		}

		var src io.Reader = os.Stdin
		if args[0] != "-" {
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("opening matrix: %w", err)
			}
			defer f.Close()
			src = f
		}

		n, err := importSimilarity(src, out)
		if err != nil {
			return err
		}
		if cat, err := catalog.LoadCatalog(cfg.CatalogPath()); err == nil && cat.Len() != n {
			printWarning("matrix has %d rows but the catalog has %d titles", n, cat.Len())
		}
		printSuccess("Wrote %d×%d similarity index to %s", n, n, out)
		return nil
	},
}

func init() {
	indexImportCmd.Flags().String("out", "", "output path (default catalog.similarity_path)")
	indexCmd.AddCommand(indexImportCmd)
}

// importSimilarity decodes a JSON matrix from src and writes it to dst in
// binary form. The destination is replaced only after a complete write.
func importSimilarity(src io.Reader, dst string) (int, error) {
	var rows [][]float32
	if err := json.NewDecoder(src).Decode(&rows); err != nil {
		return 0, fmt.Errorf("decoding matrix: %w", err)
	}
	if _, err := catalog.NewIndex(rows); err != nil {
		return 0, err
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return 0, err
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".similarity-*.tmp")
	if err != nil {
		return 0, err
	}
	defer os.Remove(tmp.Name())

	w := bufio.NewWriter(tmp)
	if err := catalog.WriteSimilarity(w, rows); err != nil {
		tmp.Close()
		return 0, err
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return 0, err
	}
	if err := tmp.Close(); err != nil {
		return 0, err
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return 0, err
	}
	return len(rows), nil
}

// --- users ---

var usersCmd = &cobra.Command{
	Use:   "users",
	Short: "Manage accounts on the running server",
}

var usersAddCmd = &cobra.Command{
	Use:   "add <email>",
	Short: "Register an account",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")
		password, err := passwordFlag(cmd)
		if err != nil {
			return err
		}
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		if err := addUser(cmd.Context(), client, args[0], password, name); err != nil {
			return err
		}
		printSuccess("Registered %s", args[0])
		return nil
	},
}

var usersShowCmd = &cobra.Command{
	Use:   "show <email>",
	Short: "Show an account and its recent recommendations",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		view, err := showUser(cmd.Context(), client, args[0])
		if err != nil {
			return err
		}
		printStatus("Email", "%s", view.Email)
		printStatus("Name", "%s", view.Name)
		printStatus("Created", "%s", view.CreatedAt)
		printStatus("History", "%d", view.History)
		if len(view.Recent) > 0 {
			fmt.Fprintln(stdout, colorize(colorBold, "Recent:"))
			printRanked(view.Recent)
		}
		return nil
	},
}

var usersPasswdCmd = &cobra.Command{
	Use:   "passwd <email>",
	Short: "Set a new password for an account",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		password, err := passwordFlag(cmd)
		if err != nil {
			return err
		}
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		if err := setUserPassword(cmd.Context(), client, args[0], password); err != nil {
			return err
		}
		printSuccess("Password updated for %s", args[0])
		return nil
	},
}

func init() {
	usersAddCmd.Flags().String("name", "", "display name")
	usersAddCmd.MarkFlagRequired("name")
	for _, c := range []*cobra.Command{usersAddCmd, usersPasswdCmd} {
		c.Flags().String("password", "", `password ("-" reads one line from stdin)`)
		c.MarkFlagRequired("password")
	}
	usersCmd.AddCommand(usersAddCmd)
	usersCmd.AddCommand(usersShowCmd)
	usersCmd.AddCommand(usersPasswdCmd)
}

func passwordFlag(cmd *cobra.Command) (string, error) {
	pw, _ := cmd.Flags().GetString("password")
	if pw != "-" {
		return pw, nil
	}
	return readLine(cmd.InOrStdin())
}

func readLine(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("reading password: %w", err)
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return "", errors.New("empty password")
	}
	return line, nil
}

func addUser(ctx context.Context, c *apiClient, email, password, name string) error {
	resp, err := c.post(ctx, "/admin/users", api.SignUpRequest{Email: email, Password: password, Name: name})
	if err != nil {
		return err
	}
	var out map[string]string
	return decodeJSON(resp, &out)
}

func showUser(ctx context.Context, c *apiClient, email string) (api.UserView, error) {
	var view api.UserView
	resp, err := c.get(ctx, userPath(email, ""))
	if err != nil {
		return view, err
	}
	err = decodeJSON(resp, &view)
	return view, err
}

func setUserPassword(ctx context.Context, c *apiClient, email, password string) error {
	resp, err := c.post(ctx, userPath(email, "/password"), api.PasswordRequest{Password: password})
	if err != nil {
		return err
	}
	var out map[string]string
	return decodeJSON(resp, &out)
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		for _, k := range config.ShowAll(cfg) {
			fmt.Fprintf(stdout, "  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		printStatus("File", "%s", config.FilePath())
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long:  "Set a configuration value. Valid keys: " + strings.Join(config.ValidKeys(), ", "),
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
