package repository

import (
	"testing"
	"time"

	"github.com/cloo-solutions/repomem/internal/domain"
	"github.com/stretchr/testify/assert"
)

func TestContentWhere(t *testing.T) {
	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	where, args := contentWhere(KeywordQuery{
		Terms:  []string{"load", "50%_off"},
		Scopes: []domain.Scope{domain.ScopeGlobal, domain.ProjectScope("alpha")},
		Filters: domain.SearchFilters{
			ContentTypes: []domain.ContentType{domain.ContentTypeCode},
			Languages:    []string{"python"},
			WordCount:    &domain.IntRange{Max: 500},
			UpdatedAt:    &domain.TimeRange{From: &from},
		},
	})

	assert.Equal(t,
		"(content ILIKE ANY($1) OR title ILIKE ANY($1)) AND scope = ANY($2) AND content_type = ANY($3)"+
			" AND language = ANY($4) AND word_count <= $5 AND updated_at >= $6",
		where)
	assert.Equal(t, []string{"%load%", `%50\%\_off%`}, args[0])
	assert.Equal(t, []string{"global", "project:alpha"}, args[1])
	assert.Equal(t, []string{"code"}, args[2])
	assert.Equal(t, 500, args[4])
	assert.Equal(t, from, args[5])
}

func TestQueryKey(t *testing.T) {
	assert.Equal(t, "config loader", QueryKey("  Config\tLOADER "))
	assert.Equal(t, "", QueryKey("   "))
}
