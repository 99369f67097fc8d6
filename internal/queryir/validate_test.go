package queryir

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ivmfnal/metacat-sub001/internal/ir"
)

func TestValidate_Portable(t *testing.T) {
	e := must(Normalize(&And{Children: []BoolExpr{
		cmp("s", OpMatch, ir.String("^raw_[0-9]+$")),
		&InRange{Attr: Attr("i"), Low: ir.Int(1), High: ir.Int(5)},
		&Present{Attr: Attr("x")},
	}}, 0))

	res := Validate(e)
	assert.True(t, res.IsPortable)
	assert.Empty(t, res.Warnings)
}

func TestValidate_Warnings(t *testing.T) {
	tests := []struct {
		name string
		expr BoolExpr
		want string
	}{
		{"word boundary", cmp("s", OpMatch, ir.String(`\bx`)), "word boundaries"},
		{"non-greedy", cmp("s", OpIMatch, ir.String(`a.*?b`)), "non-greedy"},
		{"named group", cmp("s", OpMatch, ir.String(`(?P<n>a)`)), "named group"},
		{"invalid", cmp("s", OpMatch, ir.String(`(`)), "invalid regular expression"},
		{"empty range", &InRange{Attr: Attr("i"), Low: ir.Int(5), High: ir.Int(1)}, "empty range"},
		{"subscripted present", &Present{Attr: Accessor{Name: "m", Kind: AccessKey, Key: "k"}}, "path test"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Validate(must(Normalize(tt.expr, 0)))
			assert.False(t, res.IsPortable)
			if assert.Len(t, res.Warnings, 1) {
				assert.Contains(t, res.Warnings[0], tt.want)
			}
		})
	}
}
