package queryir

import (
	"fmt"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ivmfnal/metacat-sub001/internal/ir"
	"github.com/ivmfnal/metacat-sub001/internal/qerr"
)

func cmp(name string, op Op, v ir.Value) *Cmp {
	return &Cmp{Attr: Attr(name), Op: op, Value: v}
}

func anyCmp(name string, op Op, v ir.Value) *Cmp {
	return &Cmp{Attr: Accessor{Name: name, Kind: AccessAny}, Op: op, Value: v}
}

func TestNormalize_DistributesAndPushesNegation(t *testing.T) {
	e := &And{Children: []BoolExpr{
		&Or{Children: []BoolExpr{cmp("a", OpLT, ir.Int(5)), cmp("b", OpEQ, ir.Int(1))}},
		&Not{Child: cmp("c", OpEQ, ir.Int(2))},
	}}

	got, err := Normalize(e, 0)
	require.NoError(t, err)
	assert.True(t, IsDNF(got))
	assert.Equal(t, "(a < 5 and c != 2) or (b = 1 and c != 2)", Format(got))
}

func TestNormalize_DeMorgan(t *testing.T) {
	e := &Not{Child: &Or{Children: []BoolExpr{
		cmp("a", OpGT, ir.Int(1)),
		&And{Children: []BoolExpr{cmp("b", OpMatch, ir.String("x.*")), cmp("c", OpLE, ir.Float(0.5))}},
	}}}

	got, err := Normalize(e, 0)
	require.NoError(t, err)
	assert.Equal(t, `(a <= 1 and b !~ "x.*") or (a <= 1 and c > 0.5)`, Format(got))
}

func TestNormalize_TermNegation(t *testing.T) {
	tests := []struct {
		name string
		in   BoolExpr
		want string
	}{
		{"double not", &Not{Child: &Not{Child: cmp("a", OpEQ, ir.Int(1))}}, "a = 1"},
		{"range", &Not{Child: &InRange{Attr: Attr("a"), Low: ir.Int(1), High: ir.Int(5)}}, "a not in 1:5"},
		{"set", &Not{Child: &InSet{Attr: Attr("a"), Values: []ir.Value{ir.String("x")}, Not: true}}, `a in ("x")`},
		{"present", &Not{Child: &Present{Attr: Attr("a")}}, "a not present"},
		{"regex fold", &Not{Child: cmp("a", OpIMatch, ir.String("^r"))}, `a !~* "^r"`},
		{"any keeps element test", &Not{Child: anyCmp("x", OpLT, ir.Int(5))}, "!(x[any] < 5)"},
		{"negated any twice", &Not{Child: &Not{Child: anyCmp("x", OpLT, ir.Int(5))}}, "x[any] < 5"},
		{"any range", &Not{Child: &InRange{Attr: Accessor{Name: "x", Kind: AccessAny}, Low: ir.Int(1), High: ir.Int(2)}}, "!(x[any] in 1:2)"},
		{"all", &Cmp{Attr: Accessor{Name: "x", Kind: AccessAll}, Op: OpGT, Value: ir.Int(3)}, "!(x[any] <= 3)"},
		{"not all", &Not{Child: &Cmp{Attr: Accessor{Name: "x", Kind: AccessAll}, Op: OpGT, Value: ir.Int(3)}}, "x[any] <= 3"},
		{"all in set", &InSet{Attr: Accessor{Name: "x", Kind: AccessAll}, Values: []ir.Value{ir.Int(1)}}, "!(x[any] not in (1))"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Normalize(tt.in, 0)
			require.NoError(t, err)
			assert.Equal(t, tt.want, Format(got))
		})
	}
}

func TestNormalize_Idempotent(t *testing.T) {
	e := &Or{Children: []BoolExpr{
		&And{Children: []BoolExpr{
			&Not{Child: &Or{Children: []BoolExpr{cmp("a", OpLT, ir.Int(5)), anyCmp("t", OpEQ, ir.String("x"))}}},
			&Present{Attr: Accessor{Name: "m", Kind: AccessKey, Key: "k"}},
		}},
		&Cmp{Attr: Accessor{Name: "n", Kind: AccessAll}, Op: OpNE, Value: ir.Bool(true)},
	}}

	once, err := Normalize(e, 0)
	require.NoError(t, err)
	twice, err := Normalize(once, 0)
	require.NoError(t, err)
	assert.Equal(t, once, twice)
}

func TestNormalize_TooComplex(t *testing.T) {
	var children []BoolExpr
	for i := 0; i < 11; i++ {
		children = append(children, &Or{Children: []BoolExpr{
			cmp(fmt.Sprintf("a%d", i), OpEQ, ir.Int(1)),
			cmp(fmt.Sprintf("b%d", i), OpEQ, ir.Int(1)),
		}})
	}

	_, err := Normalize(&And{Children: children}, 1024)
	require.Error(t, err)
	assert.Equal(t, qerr.CodeQueryTooComplex, qerr.CodeOf(err))

	got, err := Normalize(&And{Children: children[:10]}, 1024)
	require.NoError(t, err)
	assert.Len(t, got.Children, 1024)
}

func TestConjoin(t *testing.T) {
	a, err := Normalize(cmp("a", OpEQ, ir.Int(1)), 0)
	require.NoError(t, err)
	b, err := Normalize(&Or{Children: []BoolExpr{cmp("b", OpEQ, ir.Int(2)), cmp("c", OpEQ, ir.Int(3))}}, 0)
	require.NoError(t, err)

	assert.Same(t, a, must(Conjoin(a, nil, 0)))
	assert.Same(t, b, must(Conjoin(nil, b, 0)))
	assert.Equal(t, "(a = 1 and b = 2) or (a = 1 and c = 3)", Format(must(Conjoin(a, b, 0))))
}

func TestFormat_Raw(t *testing.T) {
	e := &And{Children: []BoolExpr{
		&Or{Children: []BoolExpr{cmp("a", OpEQ, ir.Int(1)), cmp("b", OpEQ, ir.Int(2))}},
		&Not{Child: &Present{Attr: Accessor{Name: "c", Kind: AccessLength}}},
	}}
	assert.Equal(t, "(a = 1 or b = 2) and !(len(c) present)", Format(e))
}

func must(e *Or, err error) *Or {
	if err != nil {
		panic(err)
	}
	return e
}

// truthTable builds random and/or/not trees over n atoms. Atom i holds on
// a record exactly when bit i of the assignment is set, whatever the
// term form used to express it.
type truthTable struct {
	rng   *rand.Rand
	n     int
	atoms map[Term]int
}

func (tt *truthTable) atom() BoolExpr {
	i := tt.rng.IntN(tt.n)
	a := fmt.Sprintf("a%d", i)
	l := fmt.Sprintf("l%d", i)
	var t Term
	switch tt.rng.IntN(7) {
	case 0:
		t = cmp(a, OpEQ, ir.Int(1))
	case 1:
		t = cmp(a, OpGT, ir.Int(0))
	case 2:
		t = &InRange{Attr: Attr(a), Low: ir.Int(1), High: ir.Int(1)}
	case 3:
		t = &InSet{Attr: Attr(a), Values: []ir.Value{ir.Int(1)}}
	case 4:
		t = &InSet{Attr: Attr(a), Values: []ir.Value{ir.Int(0)}, Not: true}
	case 5:
		t = anyCmp(l, OpEQ, ir.Int(1))
	default:
		t = &Cmp{Attr: Accessor{Name: l, Kind: AccessAll}, Op: OpEQ, Value: ir.Int(1)}
	}
	tt.atoms[t] = i
	return t
}

func (tt *truthTable) tree(depth int) BoolExpr {
	if depth == 0 || tt.rng.IntN(4) == 0 {
		return tt.atom()
	}
	switch tt.rng.IntN(3) {
	case 0:
		return &Not{Child: tt.tree(depth - 1)}
	case 1:
		return &And{Children: tt.children(depth)}
	default:
		return &Or{Children: tt.children(depth)}
	}
}

func (tt *truthTable) children(depth int) []BoolExpr {
	out := make([]BoolExpr, 2+tt.rng.IntN(2))
	for i := range out {
		out[i] = tt.tree(depth - 1)
	}
	return out
}

func (tt *truthTable) eval(e BoolExpr, bits int) bool {
	switch x := e.(type) {
	case *Not:
		return !tt.eval(x.Child, bits)
	case *And:
		for _, c := range x.Children {
			if !tt.eval(c, bits) {
				return false
			}
		}
		return true
	case *Or:
		for _, c := range x.Children {
			if tt.eval(c, bits) {
				return true
			}
		}
		return false
	case Term:
		return bits&(1<<tt.atoms[x]) != 0
	}
	panic(fmt.Sprintf("unexpected %T", e))
}

func (tt *truthTable) record(bits int) ir.File {
	meta := make(map[string]any, 2*tt.n)
	for i := 0; i < tt.n; i++ {
		v := float64(bits >> i & 1)
		meta[fmt.Sprintf("a%d", i)] = v
		meta[fmt.Sprintf("l%d", i)] = []any{v}
	}
	return ir.File{FID: "f", Namespace: "test", Name: "f", Metadata: meta}
}

func TestNormalize_PreservesTruthTable(t *testing.T) {
	const atoms = 4
	tt := &truthTable{rng: rand.New(rand.NewPCG(7, 11)), n: atoms, atoms: make(map[Term]int)}
	m := NewMatcher(FileScope)

	for round := 0; round < 500; round++ {
		e := tt.tree(3)
		pos, err := Normalize(e, 1<<20)
		require.NoError(t, err)
		require.True(t, IsDNF(pos))
		neg, err := Normalize(&Not{Child: e}, 1<<20)
		require.NoError(t, err)

		for bits := 0; bits < 1<<atoms; bits++ {
			rec := tt.record(bits)
			want := tt.eval(e, bits)

			got, err := m.Match(pos, rec)
			require.NoError(t, err)
			require.Equal(t, want, got, "round %d, assignment %04b: %s", round, bits, Format(pos))

			gotNeg, err := m.Match(neg, rec)
			require.NoError(t, err)
			require.Equal(t, !want, gotNeg, "round %d, assignment %04b: not %s", round, bits, Format(neg))
		}
	}
}
