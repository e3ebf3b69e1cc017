package ops

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vinodismyname/datasavant/internal/dataset"
)

func TestParse_Pipeline(t *testing.T) {
	stages, err := Parse(`filter(sex == "male" and age >= 30 or name contains 'an') | sort(age desc, name) | select(name, ` + "`home town`" + `) | head(3)`)
	require.NoError(t, err)
	require.Len(t, stages, 4)

	require.Equal(t, dataset.OpFilter, stages[0].Kind)
	require.Equal(t, [][]dataset.Condition{
		{{Column: "sex", Cmp: dataset.CmpEq, Literal: "male"}, {Column: "age", Cmp: dataset.CmpGe, Literal: "30"}},
		{{Column: "name", Cmp: dataset.CmpContains, Literal: "an"}},
	}, stages[0].Predicate.Any)

	require.Equal(t, []dataset.SortKey{{Column: "age", Desc: true}, {Column: "name"}}, stages[1].Sort)
	require.Equal(t, []string{"name", "home town"}, stages[2].Columns)
	require.Equal(t, 3, stages[3].N)
}

func TestParse_AliasesAndChaining(t *testing.T) {
	tests := []struct {
		in   string
		want []dataset.Op
	}{
		{"mean(age)", []dataset.Op{{Kind: dataset.OpAggregate, Agg: dataset.AggMean, Columns: []string{"age"}}}},
		{"df.avg(age)", []dataset.Op{{Kind: dataset.OpAggregate, Agg: dataset.AggMean, Columns: []string{"age"}}}},
		{"groupby(sex).count()", []dataset.Op{{Kind: dataset.OpGroup, Columns: []string{"sex"}}, {Kind: dataset.OpAggregate, Agg: dataset.AggCount}}},
		{"head", []dataset.Op{{Kind: dataset.OpHead, N: 5}}},
		{"shape()", []dataset.Op{{Kind: dataset.OpShape}}},
		{"where(fare < -1.5e2)", []dataset.Op{{Kind: dataset.OpFilter, Predicate: dataset.Predicate{Any: [][]dataset.Condition{{{Column: "fare", Cmp: dataset.CmpLt, Literal: "-1.5e2"}}}}}}},
		{"filter(a = 1 && b != 'x')", []dataset.Op{{Kind: dataset.OpFilter, Predicate: dataset.Predicate{Any: [][]dataset.Condition{{{Column: "a", Cmp: dataset.CmpEq, Literal: "1"}, {Column: "b", Cmp: dataset.CmpNe, Literal: "x"}}}}}}},
		{"sort(age, desc)", []dataset.Op{{Kind: dataset.OpSort, Sort: []dataset.SortKey{{Column: "age", Desc: true}}}}},
	}
	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			got, err := Parse(tc.in)
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		in   string
		want error
	}{
		{"", ErrSyntax},
		{"   ", ErrSyntax},
		{"mean(age", ErrSyntax},
		{"filter(age >)", ErrSyntax},
		{"filter(age 30)", ErrSyntax},
		{`filter(name == "Ann)`, ErrSyntax},
		{"mean(age) mean(age)", ErrSyntax},
		{"import os", dataset.ErrUnsupported},
		{"pivot(a, b)", dataset.ErrUnsupported},
		{"head(2.5)", ErrSyntax},
		{"mean(age) ; drop", ErrSyntax},
	}
	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			_, err := Parse(tc.in)
			require.ErrorIs(t, err, tc.want)
		})
	}
}
