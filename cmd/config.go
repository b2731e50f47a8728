package cmd

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"text/template"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

var configForce bool

// configDirFunc returns the config directory path, replaceable in tests.
var configDirFunc = defaultConfigDir

func defaultConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "qasync"), nil
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or manage configuration",
	Long: `Show or manage qasync configuration.

Running bare 'qasync config' is the same as 'qasync config show'.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return configShowRun()
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create config file with commented defaults",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configInitRun()
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show effective configuration with sources",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configShowRun()
	},
}

var configEditCmd = &cobra.Command{
	Use:   "edit",
	Short: "Open config file in $EDITOR",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configEditRun()
	},
}

func init() {
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "Overwrite existing config file")
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configEditCmd)
	rootCmd.AddCommand(configCmd)
}

// configTemplate is the template for generating config.yaml with comments.
const configTemplate = `# qasync configuration
# See: qasync config show (for effective values and sources)

# Directory holding the JSON data files (default: data)
data_dir: "{{ .DataDir }}"

# SQLite database path or DSN (default: data/qasync.db)
# Overridden by QASYNC_DATABASE_URL.
database_url: "{{ .DatabaseURL }}"

# Directory for sync-<run id>.json reports; empty disables them
results_dir: "{{ .ResultsDir }}"

match:
  # Ordered match rules; the first rule that accepts a pair is recorded
  rules:
{{- range .MatchRules }}
    - {{ . }}
{{- end }}

  # Defects on one test case above this similarity are flagged as duplicates
  duplicate_threshold: {{ .DuplicateThreshold }}

sync:
  # Map unresolved team/cell names to the first available row (default: false)
  fallback_first_available: {{ .FallbackFirstAvailable }}

  # Delete rule-created relations that no longer match (default: false)
  prune_relations: {{ .PruneRelations }}

store:
  # Retries with backoff for busy/locked database writes (default: 0)
  retries: {{ .StoreRetries }}

log:
  level: "{{ .LogLevel }}"
  format: "{{ .LogFormat }}"
  # Rotated log file; empty logs to stderr
  file: "{{ .LogFile }}"
`

type configTemplateData struct {
	DataDir                string
	DatabaseURL            string
	ResultsDir             string
	MatchRules             []string
	DuplicateThreshold     float64
	FallbackFirstAvailable bool
	PruneRelations         bool
	StoreRetries           int
	LogLevel               string
	LogFormat              string
	LogFile                string
}

func configFilePath() (string, error) {
	dir, err := configDirFunc()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

func configInitRun() error {
	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	// Check if file already exists
	if _, err := os.Stat(cfgPath); err == nil {
		if !configForce {
			return fmt.Errorf("config file already exists: %s (use --force to overwrite)", cfgPath)
		}
		ui.Warning("Overwriting existing config file")
	}

	// Build template data from current viper values
	data := configTemplateData{
		DataDir:                viper.GetString("data_dir"),
		DatabaseURL:            viper.GetString("database_url"),
		ResultsDir:             viper.GetString("results_dir"),
		MatchRules:             viper.GetStringSlice("match.rules"),
		DuplicateThreshold:     viper.GetFloat64("match.duplicate_threshold"),
		FallbackFirstAvailable: viper.GetBool("sync.fallback_first_available"),
		PruneRelations:         viper.GetBool("sync.prune_relations"),
		StoreRetries:           viper.GetInt("store.retries"),
		LogLevel:               viper.GetString("log.level"),
		LogFormat:              viper.GetString("log.format"),
		LogFile:                viper.GetString("log.file"),
	}

	tmpl, err := template.New("config").Parse(configTemplate)
	if err != nil {
		return fmt.Errorf("template parse error: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return fmt.Errorf("template execute error: %w", err)
	}

	if dryRun {
		ui.DryRunMsg("Would create config file: %s", cfgPath)
		fmt.Fprintln(ui.Out)
		fmt.Fprint(ui.Out, buf.String())
		return nil
	}

	// Create config directory
	dir := filepath.Dir(cfgPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(cfgPath, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	ui.Success("Config file created: %s", cfgPath)
	fmt.Fprintln(ui.Out)
	fmt.Fprint(ui.Out, buf.String())
	return nil
}

// configKeyInfo describes a config key for display purposes.
type configKeyInfo struct {
	Key    string
	EnvVar string
}

var configKeys = []configKeyInfo{
	{Key: "data_dir", EnvVar: "QASYNC_DATA_DIR"},
	{Key: "database_url", EnvVar: "QASYNC_DATABASE_URL"},
	{Key: "results_dir", EnvVar: "QASYNC_RESULTS_DIR"},
	{Key: "match.rules", EnvVar: "QASYNC_MATCH_RULES"},
	{Key: "match.duplicate_threshold", EnvVar: "QASYNC_MATCH_DUPLICATE_THRESHOLD"},
	{Key: "sync.fallback_first_available", EnvVar: "QASYNC_SYNC_FALLBACK_FIRST_AVAILABLE"},
	{Key: "sync.prune_relations", EnvVar: "QASYNC_SYNC_PRUNE_RELATIONS"},
	{Key: "store.retries", EnvVar: "QASYNC_STORE_RETRIES"},
	{Key: "log.level", EnvVar: "QASYNC_LOG_LEVEL"},
	{Key: "log.format", EnvVar: "QASYNC_LOG_FORMAT"},
	{Key: "log.file", EnvVar: "QASYNC_LOG_FILE"},
}

func configShowRun() error {
	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	// Check if config file exists
	if _, err := os.Stat(cfgPath); err == nil {
		ui.Info("Config file: %s", cfgPath)
	} else {
		ui.Info("Config file: (none)")
	}
	fmt.Fprintln(ui.Out)

	// Read config file values to determine file source
	fileValues := readConfigFileValues(cfgPath)

	for _, k := range configKeys {
		val := viper.Get(k.Key)
		source := detectSource(k.Key, k.EnvVar, fileValues)
		fmt.Fprintf(ui.Out, "  %-32s %v  %s\n", k.Key, val, source)
	}

	return nil
}

// readConfigFileValues reads the raw YAML file and returns a flat map of keys present in it.
func readConfigFileValues(path string) map[string]bool {
	result := make(map[string]bool)

	data, err := os.ReadFile(path)
	if err != nil {
		return result
	}

	var parsed map[string]any
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return result
	}

	// Flatten nested keys with dot notation
	flattenKeys("", parsed, result)
	return result
}

// flattenKeys recursively flattens a nested map to dot-notation keys.
func flattenKeys(prefix string, m map[string]any, result map[string]bool) {
	for key, val := range m {
		fullKey := key
		if prefix != "" {
			fullKey = prefix + "." + key
		}
		if nested, ok := val.(map[string]any); ok {
			flattenKeys(fullKey, nested, result)
		} else {
			result[fullKey] = true
		}
	}
}

// detectSource determines where a config value is coming from.
func detectSource(key, envVar string, fileValues map[string]bool) string {
	if _, ok := os.LookupEnv(envVar); ok {
		return fmt.Sprintf("(env: %s)", envVar)
	}
	if fileValues[key] {
		return "(file)"
	}
	return "(default)"
}

func configEditRun() error {
	editor := os.Getenv("EDITOR")
	if editor == "" {
		editor = os.Getenv("VISUAL")
	}
	if editor == "" {
		return fmt.Errorf("$EDITOR is not set: set it to your preferred editor (e.g. export EDITOR=vim)")
	}

	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		return fmt.Errorf("config file not found: %s (run 'qasync config init' first)", cfgPath)
	}

	if dryRun {
		ui.DryRunMsg("Would open %s in %s", cfgPath, editor)
		return nil
	}

	editCmd := exec.Command(editor, cfgPath)
	editCmd.Stdin = os.Stdin
	editCmd.Stdout = os.Stdout
	editCmd.Stderr = os.Stderr
	return editCmd.Run()
}
