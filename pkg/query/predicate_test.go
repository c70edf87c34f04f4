package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRender(t *testing.T) {
	tests := []struct {
		name     string
		p        Predicate
		wantSQL  string
		wantArgs []any
	}{
		{
			name:     "equals",
			p:        TextEquals{Column: "a.family_name", Value: "King"},
			wantSQL:  "a.family_name = ? COLLATE LOCALIZED",
			wantArgs: []any{"King"},
		},
		{
			name:     "like folds and escapes",
			p:        TextLike{Column: "b.title", Value: "100%_DONE"},
			wantSQL:  `fold(b.title) LIKE ? ESCAPE '\'`,
			wantArgs: []any{`%100\%\_done%`},
		},
		{
			name:     "empty and",
			p:        And{},
			wantSQL:  "1",
			wantArgs: nil,
		},
		{
			name:     "empty or",
			p:        Or{},
			wantSQL:  "0",
			wantArgs: nil,
		},
		{
			name:     "single element junction is bare",
			p:        Or{Raw{SQL: "b.read = ?", Args: []any{1}}},
			wantSQL:  "b.read = ?",
			wantArgs: []any{1},
		},
		{
			name: "nested",
			p: And{
				Raw{SQL: "b.read = ?", Args: []any{1}},
				Not{Or{
					TextEquals{Column: "b.genre", Value: "Horror"},
					Exists{From: "loan l2", Where: Raw{SQL: "l2.book = b._id"}},
				}},
			},
			wantSQL:  "(b.read = ? AND NOT ((b.genre = ? COLLATE LOCALIZED OR EXISTS (SELECT 1 FROM loan l2 WHERE l2.book = b._id))))",
			wantArgs: []any{1, "Horror"},
		},
		{
			name:     "exists without where",
			p:        Exists{From: "loan"},
			wantSQL:  "EXISTS (SELECT 1 FROM loan)",
			wantArgs: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sql, args := Render(tt.p)
			assert.Equal(t, tt.wantSQL, sql)
			assert.Equal(t, tt.wantArgs, args)
		})
	}
}

func TestContainsPattern(t *testing.T) {
	assert.Equal(t, "%strasse%", ContainsPattern("Straße"))
	assert.Equal(t, `%c:\\temp%`, ContainsPattern(`C:\Temp`))
	assert.Equal(t, "%%", ContainsPattern(""))
}
