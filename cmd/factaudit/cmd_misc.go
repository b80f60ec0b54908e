package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"factaudit/internal/config"
	"factaudit/internal/fact"
)

var forceInit bool

// normalizeCmd repairs statements
var normalizeCmd = &cobra.Command{
	Use:   "normalize [statement...]",
	Short: "Normalize statements and report what changed",
	Long: `Repairs encoding damage, stray whitespace, slash-separated predicate names,
unbalanced or nested parentheses and missing terminators. Statements are read from
the arguments, or one per line from stdin when none are given.

Example:
  factaudit normalize "HasPart(cell,  nucleus"`,
	RunE: runNormalize,
}

// configCmd groups config subcommands
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the factaudit.yaml configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default configuration file",
	RunE:  runConfigInit,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	RunE:  runConfigShow,
}

// versionCmd prints the version
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the factaudit version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("factaudit " + version)
	},
}

func init() {
	configInitCmd.Flags().BoolVarP(&forceInit, "force", "f", false, "Overwrite an existing file")
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
}

func runNormalize(cmd *cobra.Command, args []string) error {
	statements := args
	if len(statements) == 0 {
		scanner := bufio.NewScanner(cmd.InOrStdin())
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			if line := strings.TrimSpace(scanner.Text()); line != "" {
				statements = append(statements, line)
			}
		}
		if err := scanner.Err(); err != nil {
			return fmt.Errorf("failed to read stdin: %w", err)
		}
	}

	st := styles()
	changedCount := 0
	for _, s := range statements {
		fixed, changes := fact.Normalize(s)
		if len(changes) == 0 {
			fmt.Println(fixed)
			continue
		}
		changedCount++
		names := make([]string, len(changes))
		for i, c := range changes {
			names[i] = string(c)
		}
		status := st.Status(fact.Valid(fixed))
		fmt.Printf("%s %s  %s\n", status, fixed, st.Muted.Render("("+strings.Join(names, ", ")+")"))
	}
	logger.Debug("Normalized statements", zap.Int("changed", changedCount), zap.Int("total", len(statements)))
	return nil
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	if fileExists(configPath) && !forceInit {
		return fmt.Errorf("%s already exists (use --force to overwrite)", configPath)
	}
	if err := config.DefaultConfig().Save(configPath); err != nil {
		return err
	}
	fmt.Printf("Wrote %s\n", configPath)
	return nil
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	shown := *cfg
	shown.Providers = make([]config.ProviderConfig, len(cfg.Providers))
	for i, p := range cfg.Providers {
		if p.APIKey != "" {
			p.APIKey = "***"
		}
		shown.Providers[i] = p
	}
	data, err := yaml.Marshal(&shown)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	_, err = os.Stdout.Write(data)
	return err
}
