package client

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthLogin_StoresCredentials(t *testing.T) {
	isolateConfig(t)

	var out bytes.Buffer
	require.NoError(t, runAuthLogin(&out, "secret-key-1234", "http://localhost:9090/"))
	assert.Contains(t, out.String(), "Successfully logged in")

	config, err := LoadGlobalConfig()
	require.NoError(t, err)
	require.NotNil(t, config)
	assert.Equal(t, "secret-key-1234", config.APIKey)
	assert.Equal(t, "http://localhost:9090", config.APIURL)
}

func TestAuthLogin_KeepsSelectedProject(t *testing.T) {
	isolateConfig(t)
	require.NoError(t, SaveGlobalConfig(&GlobalConfig{APIURL: "http://old:8080", ProjectID: "p1"}))

	require.NoError(t, runAuthLogin(&bytes.Buffer{}, "", "http://new:8080"))

	config, err := LoadGlobalConfig()
	require.NoError(t, err)
	assert.Equal(t, "p1", config.ProjectID)
	assert.Equal(t, "http://new:8080", config.APIURL)
	assert.Empty(t, config.APIKey)
}

func TestAuthLogin_RejectsBadURL(t *testing.T) {
	isolateConfig(t)

	assert.Error(t, runAuthLogin(&bytes.Buffer{}, "k", ""))
	assert.Error(t, runAuthLogin(&bytes.Buffer{}, "k", "not a url"))

	config, err := LoadGlobalConfig()
	require.NoError(t, err)
	assert.Nil(t, config)
}

func TestAuthStatus(t *testing.T) {
	isolateConfig(t)

	var out bytes.Buffer
	require.NoError(t, runAuthStatus(&out, "", "", false))
	assert.Contains(t, out.String(), "Not configured")

	require.NoError(t, SaveGlobalConfig(&GlobalConfig{APIKey: "abcdefghijklmnop", APIURL: "http://global:8080"}))

	out.Reset()
	require.NoError(t, runAuthStatus(&out, "", "", true))

	var status map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &status))
	assert.Equal(t, true, status["configured"])
	assert.Equal(t, "global_config", status["source"])
	assert.Equal(t, "abcd...mnop", status["api_key"])
	assert.Equal(t, "http://global:8080", status["api_url"])
}

func TestMaskAPIKey(t *testing.T) {
	assert.Equal(t, "(none)", maskAPIKey(""))
	assert.Equal(t, "***", maskAPIKey("short"))
	assert.Equal(t, "abcd...wxyz", maskAPIKey("abcdefghijklmnopqrstuvwxyz"))
}
