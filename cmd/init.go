package cmd

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jacklau/reposcout/internal/config"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Interactive setup for reposcout configuration",
	Long:  `Creates a default configuration file with guided prompts.`,
	RunE:  runInit,
}

func init() {
	rootCmd.AddCommand(initCmd)
}

// initAnswers holds the responses gathered by the setup prompts.
type initAnswers struct {
	GitLab           bool
	Bitbucket        bool
	BitbucketUser    string
	SemanticProvider string
}

func runInit(cmd *cobra.Command, args []string) error {
	reader := bufio.NewReader(cmd.InOrStdin())
	out := cmd.OutOrStdout()

	fmt.Fprintln(out, "Welcome to reposcout setup!")
	fmt.Fprintln(out, "This will create a configuration file for you.")
	fmt.Fprintln(out)

	configPath := cfgFile
	if configPath == "" {
		configPath = config.DefaultPath()
	}

	if _, err := os.Stat(configPath); err == nil {
		fmt.Fprintf(out, "Config file already exists at %s\n", configPath)
		if !askYesNo(reader, out, "Overwrite? [y/N]: ") {
			fmt.Fprintln(out, "Aborted.")
			return nil
		}
	}

	var a initAnswers
	a.GitLab = askYesNo(reader, out, "Search GitLab too? [y/N]: ")
	a.Bitbucket = askYesNo(reader, out, "Search Bitbucket too? [y/N]: ")
	if a.Bitbucket {
		a.BitbucketUser = ask(reader, out, "Bitbucket username: ")
	}
	a.SemanticProvider = ask(reader, out, "Semantic rerank provider (openai/ollama, Enter to skip): ")

	data := buildConfigYAML(a)

	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(configPath, []byte(data), 0o600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	fmt.Fprintf(out, "\nConfig written to %s\n", configPath)
	fmt.Fprintln(out, "Export the referenced environment variables before running reposcout.")
	return nil
}

func ask(r *bufio.Reader, w io.Writer, prompt string) string {
	fmt.Fprint(w, prompt)
	line, _ := r.ReadString('\n')
	return strings.TrimSpace(line)
}

func askYesNo(r *bufio.Reader, w io.Writer, prompt string) bool {
	answer := strings.ToLower(ask(r, w, prompt))
	return answer == "y" || answer == "yes"
}

func buildConfigYAML(a initAnswers) string {
	var b strings.Builder

	b.WriteString("# reposcout configuration\n")
	b.WriteString("# Values of the form ${VAR} are read from the environment.\n\n")

	b.WriteString("platforms:\n")
	b.WriteString("  github:\n")
	b.WriteString("    token: ${GITHUB_TOKEN}\n")
	b.WriteString("  gitlab:\n")
	fmt.Fprintf(&b, "    enabled: %t\n", a.GitLab)
	if a.GitLab {
		b.WriteString("    token: ${GITLAB_TOKEN}\n")
	} else {
		b.WriteString("    # token: ${GITLAB_TOKEN}\n")
	}
	b.WriteString("  bitbucket:\n")
	fmt.Fprintf(&b, "    enabled: %t\n", a.Bitbucket)
	if a.Bitbucket && a.BitbucketUser != "" {
		fmt.Fprintf(&b, "    username: %s\n", a.BitbucketUser)
		b.WriteString("    app_password: ${BITBUCKET_APP_PASSWORD}\n")
	} else {
		b.WriteString("    # username: your-user\n")
		b.WriteString("    # app_password: ${BITBUCKET_APP_PASSWORD}\n")
	}
	b.WriteString("\n")

	b.WriteString("cache:\n")
	b.WriteString("  path: ~/.reposcout/cache.db\n")
	b.WriteString("  ttl: 24h\n")
	b.WriteString("  max_size_mb: 500\n")
	b.WriteString("\n")

	b.WriteString("search:\n")
	b.WriteString("  deadline: 15s\n")
	b.WriteString("  per_page: 30\n")
	b.WriteString("  workers: 4\n")
	b.WriteString("  priority: [github, gitlab, bitbucket]\n")
	b.WriteString("  weights:\n")
	b.WriteString("    popularity: 0.4\n")
	b.WriteString("    relevance: 0.4\n")
	b.WriteString("    freshness: 0.2\n")
	b.WriteString("\n")

	b.WriteString("governor:\n")
	b.WriteString("  max_attempts: 3\n")
	b.WriteString("  base_delay: 1s\n")
	b.WriteString("  max_delay: 30s\n")
	b.WriteString("  failure_threshold: 5\n")
	b.WriteString("  cool_down: 30s\n")

	switch a.SemanticProvider {
	case "openai", "ollama":
		model, apiKey := semanticProviderDefaults(a.SemanticProvider)
		b.WriteString("\nsemantic:\n")
		fmt.Fprintf(&b, "  type: %s\n", a.SemanticProvider)
		fmt.Fprintf(&b, "  model: %s\n", model)
		if apiKey != "" {
			fmt.Fprintf(&b, "  api_key: %s\n", apiKey)
		}
		b.WriteString("  weight: 0.3\n")
	}

	return b.String()
}

// semanticProviderDefaults returns the default model and api_key placeholder
// for the given embedding provider type.
func semanticProviderDefaults(provider string) (model, apiKey string) {
	switch provider {
	case "ollama":
		return "nomic-embed-text", ""
	default: // openai
		return "text-embedding-3-small", "${OPENAI_API_KEY}"
	}
}
