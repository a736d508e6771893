// Package cli provides shared CLI utilities for repomem and repomemd.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// EnvAnnotation names the environment variable a flag falls back to.
const EnvAnnotation = "repomem_env"

type FlagSchema struct {
	Name        string `json:"name"`
	Shorthand   string `json:"shorthand,omitempty"`
	Type        string `json:"type"`
	Default     string `json:"default,omitempty"`
	Description string `json:"description,omitempty"`
	Env         string `json:"env,omitempty"`
	Required    bool   `json:"required"`
}

type ArgSchema struct {
	Name     string `json:"name"`
	Required bool   `json:"required"`
}

// CommandSchema describes a command for agents that drive the CLIs.
type CommandSchema struct {
	Name           string          `json:"name"`
	Use            string          `json:"use,omitempty"`
	Description    string          `json:"description,omitempty"`
	Long           string          `json:"long,omitempty"`
	Args           []ArgSchema     `json:"args,omitempty"`
	Flags          []FlagSchema    `json:"flags,omitempty"`
	InheritedFlags []FlagSchema    `json:"inherited_flags,omitempty"`
	Subcommands    []CommandSchema `json:"subcommands,omitempty"`
}

func GenerateSchema(cmd *cobra.Command) CommandSchema {
	schema := CommandSchema{
		Name:           cmd.Name(),
		Use:            cmd.Use,
		Description:    cmd.Short,
		Long:           cmd.Long,
		Args:           parseArgs(cmd.Use),
		Flags:          collectFlags(cmd.LocalFlags()),
		InheritedFlags: collectFlags(cmd.InheritedFlags()),
	}

	for _, sub := range cmd.Commands() {
		if sub.Name() == "help" || sub.Name() == "completion" || sub.Hidden {
			continue
		}
		schema.Subcommands = append(schema.Subcommands, GenerateSchema(sub))
	}
	return schema
}

// parseArgs reads positional arguments from a use line: <x> is required, [x] optional.
func parseArgs(use string) []ArgSchema {
	fields := strings.Fields(use)
	if len(fields) < 2 {
		return nil
	}
	var args []ArgSchema
	for _, f := range fields[1:] {
		switch {
		case strings.HasPrefix(f, "<") && strings.HasSuffix(f, ">"):
			args = append(args, ArgSchema{Name: strings.Trim(f, "<>"), Required: true})
		case strings.HasPrefix(f, "[") && strings.HasSuffix(f, "]"):
			args = append(args, ArgSchema{Name: strings.Trim(f, "[]")})
		}
	}
	return args
}

func collectFlags(fs *pflag.FlagSet) []FlagSchema {
	var flags []FlagSchema
	fs.VisitAll(func(f *pflag.Flag) {
		if f.Name == "help-json" || f.Name == "help" || f.Hidden {
			return
		}
		flags = append(flags, FlagSchema{
			Name:        f.Name,
			Shorthand:   f.Shorthand,
			Type:        f.Value.Type(),
			Default:     f.DefValue,
			Description: f.Usage,
			Env:         firstAnnotation(f, EnvAnnotation),
			Required:    firstAnnotation(f, cobra.BashCompOneRequiredFlag) == "true",
		})
	})
	sort.Slice(flags, func(i, j int) bool { return flags[i].Name < flags[j].Name })
	return flags
}

func firstAnnotation(f *pflag.Flag, key string) string {
	if vals := f.Annotations[key]; len(vals) > 0 {
		return vals[0]
	}
	return ""
}

// BindEnv records the environment variable a persistent flag falls back to.
func BindEnv(cmd *cobra.Command, flag, env string) {
	_ = cmd.PersistentFlags().SetAnnotation(flag, EnvAnnotation, []string{env})
}

func WriteSchema(w io.Writer, cmd *cobra.Command) error {
	out, err := json.MarshalIndent(GenerateSchema(cmd), "", "  ")
	if err != nil {
		return fmt.Errorf("generate schema: %w", err)
	}
	_, err = fmt.Fprintln(w, string(out))
	return err
}

// AddHelpJSONFlag adds the --help-json flag to a command.
func AddHelpJSONFlag(cmd *cobra.Command) {
	cmd.PersistentFlags().Bool("help-json", false, "Output command schema as JSON")
}

// HelpJSONTarget resolves the command addressed by args when they contain --help-json.
func HelpJSONTarget(root *cobra.Command, args []string) (*cobra.Command, bool) {
	for i, arg := range args {
		if arg == "--help-json" {
			return findTargetCommand(root, args[:i]), true
		}
	}
	return nil, false
}

// CheckHelpJSON prints the schema and exits when --help-json is present.
// It runs before Execute so required positional args do not get in the way.
func CheckHelpJSON(root *cobra.Command) {
	target, ok := HelpJSONTarget(root, os.Args[1:])
	if !ok {
		return
	}
	if err := WriteSchema(os.Stdout, target); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	os.Exit(0)
}

func findTargetCommand(cmd *cobra.Command, args []string) *cobra.Command {
	if len(args) == 0 {
		return cmd
	}
	for _, sub := range cmd.Commands() {
		if sub.Name() == args[0] || sub.HasAlias(args[0]) {
			return findTargetCommand(sub, args[1:])
		}
	}
	return cmd
}
