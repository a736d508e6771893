package cli

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testTree() *cobra.Command {
	root := &cobra.Command{Use: "repomem", Short: "root"}
	root.PersistentFlags().String("api-key", "", "API key")
	BindEnv(root, "api-key", "REPOMEM_API_KEY")
	AddHelpJSONFlag(root)

	project := &cobra.Command{Use: "project", Short: "Manage projects"}
	create := &cobra.Command{Use: "create <name> <repo-url> [extra]", Short: "Register", RunE: func(*cobra.Command, []string) error { return nil }}
	create.Flags().StringP("branch", "b", "main", "Default branch")
	create.Flags().String("id", "", "Project ID")
	_ = create.MarkFlagRequired("id")
	project.AddCommand(create)
	root.AddCommand(project)
	return root
}

func TestGenerateSchema(t *testing.T) {
	schema := GenerateSchema(testTree())

	require.Len(t, schema.Subcommands, 1)
	create := schema.Subcommands[0].Subcommands[0]
	assert.Equal(t, "create", create.Name)
	assert.Equal(t, []ArgSchema{
		{Name: "name", Required: true},
		{Name: "repo-url", Required: true},
		{Name: "extra"},
	}, create.Args)

	require.Len(t, create.Flags, 2)
	assert.Equal(t, "branch", create.Flags[0].Name)
	assert.Equal(t, "b", create.Flags[0].Shorthand)
	assert.Equal(t, "main", create.Flags[0].Default)
	assert.False(t, create.Flags[0].Required)
	assert.Equal(t, "id", create.Flags[1].Name)
	assert.True(t, create.Flags[1].Required)

	require.Len(t, create.InheritedFlags, 1)
	assert.Equal(t, "api-key", create.InheritedFlags[0].Name)
	assert.Equal(t, "REPOMEM_API_KEY", create.InheritedFlags[0].Env)
}

func TestHelpJSONTarget(t *testing.T) {
	root := testTree()

	_, ok := HelpJSONTarget(root, []string{"project", "create"})
	assert.False(t, ok)

	cmd, ok := HelpJSONTarget(root, []string{"project", "create", "--help-json", "--api-key", "x"})
	require.True(t, ok)
	assert.Equal(t, "create", cmd.Name())

	cmd, ok = HelpJSONTarget(root, []string{"--help-json"})
	require.True(t, ok)
	assert.Equal(t, "repomem", cmd.Name())

	cmd, ok = HelpJSONTarget(root, []string{"unknown", "--help-json"})
	require.True(t, ok)
	assert.Equal(t, "repomem", cmd.Name())
}

func TestWriteSchema(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteSchema(&buf, testTree()))

	var decoded CommandSchema
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "repomem", decoded.Name)
	assert.NotContains(t, buf.String(), "help-json")
}
