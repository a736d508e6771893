package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloo-solutions/repomem/internal/domain"
)

func TestYAMLParserTopLevelKeys(t *testing.T) {
	content := "# settings\nport: 8080\nhosts:\n  - a\n  - b\n\n# trailing comment\n"
	res := NewFramework(DefaultRegistry()).Parse(content, "config.yml", "")
	require.True(t, res.Success)
	require.False(t, res.FallbackUsed, res.Error)
	assert.Equal(t, "yaml", res.Language)
	assertCoverage(t, content, res.Chunks)

	byName := chunksByName(res.Chunks)
	assert.Equal(t, 2, byName["port"].StartLine)
	assert.Equal(t, 2, byName["port"].EndLine)
	assert.Equal(t, 3, byName["hosts"].StartLine)
	assert.Equal(t, 5, byName["hosts"].EndLine)
}

func TestYAMLParserInvalidDocument(t *testing.T) {
	res := NewFramework(DefaultRegistry()).Parse("key: [unclosed\n", "bad.yaml", "")
	assert.True(t, res.FallbackUsed)
	assert.Contains(t, res.Error, "yaml parser")
}

const composeSample = `version: "3.9"
services:
  web:
    image: nginx:1.25
    ports:
      - "8080:80"
    depends_on:
      - api
  api:
    build: ./api
    environment:
      - MODE=prod
volumes:
  data: {}
`

func TestComposeParserScenario(t *testing.T) {
	res := NewFramework(DefaultRegistry()).Parse(composeSample, "docker-compose.yml", "")
	require.True(t, res.Success)
	require.False(t, res.FallbackUsed, res.Error)
	assert.Equal(t, "compose", res.Language)
	assertCoverage(t, composeSample, res.Chunks)

	byName := chunksByName(res.Chunks)

	services := byName["services"]
	assert.Equal(t, 2, services.StartLine)
	assert.Equal(t, 12, services.EndLine)
	assert.Equal(t, []string{"web", "api"}, services.Metadata.Exports)

	web := byName["web"]
	assert.Equal(t, domain.ChunkTypeService, web.Type)
	assert.Equal(t, 3, web.StartLine)
	assert.Equal(t, 8, web.EndLine)
	assert.Equal(t, "services", web.Metadata.Parent)
	assert.Equal(t, []string{"nginx:1.25", "api"}, web.Metadata.Dependencies)
	assert.Equal(t, []string{"8080:80"}, web.Metadata.Exports)

	api := byName["api"]
	assert.Equal(t, 9, api.StartLine)
	assert.Equal(t, 12, api.EndLine)
	assert.Equal(t, []string{"MODE=prod"}, api.Metadata.Parameters)

	assert.Equal(t, []string{"data"}, byName["volumes"].Metadata.Exports)
}

const kubernetesSample = `apiVersion: apps/v1
kind: Deployment
metadata:
  name: web
  namespace: shop
spec:
  template:
    spec:
      serviceAccountName: web-sa
      containers:
        - name: web
          image: shop/web:2.1
          envFrom:
            - configMapRef:
                name: web-config
---
apiVersion: v1
kind: Service
metadata:
  name: web
spec:
  ports:
    - port: 80
`

func TestKubernetesParserScenario(t *testing.T) {
	res := NewFramework(DefaultRegistry()).Parse(kubernetesSample, "k8s/web.yaml", "")
	require.True(t, res.Success)
	require.False(t, res.FallbackUsed, res.Error)
	assert.Equal(t, "kubernetes", res.Language)
	assertCoverage(t, kubernetesSample, res.Chunks)
	require.Len(t, res.Chunks, 2)

	deployment := res.Chunks[0]
	assert.Equal(t, domain.ChunkTypeResource, deployment.Type)
	assert.Equal(t, "Deployment/web", deployment.Name)
	assert.Equal(t, "Namespace/shop", deployment.Metadata.Parent)
	assert.Equal(t, 1, deployment.StartLine)
	assert.ElementsMatch(t, []string{"ServiceAccount/web-sa", "shop/web:2.1", "ConfigMap/web-config"},
		deployment.Metadata.Dependencies)

	service := res.Chunks[1]
	assert.Equal(t, "Service/web", service.Name)
	assert.Equal(t, 17, service.StartLine)
	assert.Equal(t, 23, service.EndLine)
	assert.Equal(t, []string{"Service/web"}, service.Metadata.Exports)
}

const ansibleSample = `- name: Configure web
  hosts: web
  vars:
    http_port: 80
  roles:
    - common
  tasks:
    - name: Install nginx
      apt:
        name: nginx
      register: nginx_install
    - name: Start nginx
      service:
        name: nginx
        state: started
      notify: reload nginx
- import_playbook: db.yml
`

func TestAnsibleParserPlaybook(t *testing.T) {
	res := NewFramework(DefaultRegistry()).Parse(ansibleSample, "site.yml", "")
	require.True(t, res.Success)
	require.False(t, res.FallbackUsed, res.Error)
	assert.Equal(t, "ansible", res.Language)
	assertCoverage(t, ansibleSample, res.Chunks)

	plays := chunksOfType(res.Chunks, domain.ChunkTypePlay)
	require.Len(t, plays, 2)
	assert.Equal(t, "Configure web", plays[0].Name)
	assert.Equal(t, 1, plays[0].StartLine)
	assert.Equal(t, 16, plays[0].EndLine)
	assert.Equal(t, []string{"web"}, plays[0].Metadata.Parameters)
	assert.Equal(t, []string{"common"}, plays[0].Metadata.Dependencies)
	assert.Equal(t, []string{"http_port"}, plays[0].Metadata.Exports)
	assert.Equal(t, "play[1]", plays[1].Name)
	assert.Equal(t, []string{"db.yml"}, plays[1].Metadata.Dependencies)

	tasks := chunksOfType(res.Chunks, domain.ChunkTypeTask)
	require.Len(t, tasks, 2)
	assert.Equal(t, "Install nginx", tasks[0].Name)
	assert.Equal(t, 8, tasks[0].StartLine)
	assert.Equal(t, 11, tasks[0].EndLine)
	assert.Equal(t, "Configure web", tasks[0].Metadata.Parent)
	assert.Equal(t, []string{"apt"}, tasks[0].Metadata.Dependencies)
	assert.Equal(t, []string{"nginx_install"}, tasks[0].Metadata.Exports)

	assert.Equal(t, 12, tasks[1].StartLine)
	assert.Equal(t, 16, tasks[1].EndLine)
	assert.Equal(t, []string{"reload nginx"}, tasks[1].Metadata.Parameters)
}

func TestAnsibleParserTaskFile(t *testing.T) {
	content := "- name: Copy config\n  template:\n    src: app.j2\n    dest: /etc/app.conf\n- include_tasks: extra.yml\n"
	res := NewFramework(DefaultRegistry()).Parse(content, "roles/web/tasks/main.yml", "")
	require.False(t, res.FallbackUsed, res.Error)
	assert.Equal(t, "ansible", res.Language)
	require.Len(t, res.Chunks, 2)

	assert.Equal(t, "Copy config", res.Chunks[0].Name)
	assert.Equal(t, domain.ChunkTypeTask, res.Chunks[0].Type)
	assert.Equal(t, 4, res.Chunks[0].EndLine)
	assert.Equal(t, []string{"template"}, res.Chunks[0].Metadata.Dependencies)

	assert.Equal(t, "include_tasks", res.Chunks[1].Name)
	assert.Equal(t, []string{"include_tasks", "extra.yml"}, res.Chunks[1].Metadata.Dependencies)
}

const packageJSONSample = `{
  "name": "web",
  "version": "1.0.0",
  "dependencies": {
    "react": "^18.0.0",
    "axios": "^1.6.0"
  },
  "scripts": {
    "build": "vite build"
  }
}
`

func TestJSONParserPackageManifest(t *testing.T) {
	res := NewFramework(DefaultRegistry()).Parse(packageJSONSample, "package.json", "")
	require.True(t, res.Success)
	require.False(t, res.FallbackUsed, res.Error)
	assert.Equal(t, "json", res.Language)
	assertCoverage(t, packageJSONSample, res.Chunks)

	byName := chunksByName(res.Chunks)
	assert.Equal(t, []string{"web"}, byName["name"].Metadata.Exports)
	assert.Equal(t, []string{"react", "axios"}, byName["dependencies"].Metadata.Dependencies)
	assert.Equal(t, 4, byName["dependencies"].StartLine)
	assert.Equal(t, 7, byName["dependencies"].EndLine)
	assert.Contains(t, byName, "scripts")
}

func TestJSONParserTabIndented(t *testing.T) {
	content := "{\n\t\"a\": 1,\n\t\"b\": [\n\t\t2\n\t]\n}\n"
	res := NewFramework(DefaultRegistry()).Parse(content, "data.json", "")
	require.False(t, res.FallbackUsed, res.Error)
	assertCoverage(t, content, res.Chunks)
	assert.Contains(t, chunksByName(res.Chunks)["a"].Content, "\t\"a\": 1")
}
