package ops

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/vinodismyname/datasavant/internal/dataset"
)

func loadCSV(t *testing.T, csv string) *dataset.Dataset {
	t.Helper()
	ds, err := dataset.Load(strings.NewReader(csv), dataset.LoadOptions{Name: "test.csv"})
	require.NoError(t, err)
	return ds
}

func peopleCSV() string {
	return "name,age\nAnn,30\nBob,35\nCid,38\n"
}

func TestExecute_MeanAge(t *testing.T) {
	ds := loadCSV(t, peopleCSV())
	obs := Execute(context.Background(), ds, "mean(age)")
	require.False(t, obs.Failed(), obs.String())
	require.Equal(t, "mean(age) = 34.3333", obs.Text)
}

func TestExecute_ErrorKinds(t *testing.T) {
	ds := loadCSV(t, peopleCSV())
	tests := []struct {
		instruction string
		kind        ErrorKind
	}{
		{"mean(salary)", UnknownColumn},
		{"filter(salary > 10) | count()", UnknownColumn},
		{"select(name) | sort(age)", UnknownColumn},
		{"mean(name)", TypeMismatch},
		{"filter(age contains '3')", TypeMismatch},
		{"filter(age > 'old')", TypeMismatch},
		{"__import__('os')", UnsupportedOperation},
		{"drop(age)", UnsupportedOperation},
		{"count() | head(2)", UnsupportedOperation},
		{"mean(age", UnsupportedOperation},
		{"", UnsupportedOperation},
	}
	for _, tc := range tests {
		t.Run(tc.instruction, func(t *testing.T) {
			obs := Execute(context.Background(), ds, tc.instruction)
			require.True(t, obs.Failed())
			require.Equal(t, tc.kind, obs.Err.Kind, obs.Err.Detail)
			require.NotEmpty(t, obs.Err.Detail)
		})
	}
}

func TestExecute_UnknownColumnListsSchema(t *testing.T) {
	ds := loadCSV(t, peopleCSV())
	obs := Execute(context.Background(), ds, "mean(salary)")
	require.Contains(t, obs.Err.Detail, `"salary"`)
	require.Contains(t, obs.Err.Detail, "age (numeric)")
	require.True(t, strings.HasPrefix(obs.String(), "Error (UnknownColumn): "))
}

func TestExecute_TimeoutIsRuntimeFault(t *testing.T) {
	ds := loadCSV(t, peopleCSV())
	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()
	obs := NewExecutor(time.Second, 0, 0).Execute(ctx, ds, "describe()")
	require.True(t, obs.Failed())
	require.Equal(t, RuntimeFault, obs.Err.Kind)
	require.Contains(t, obs.Err.Detail, "timed out")
}

func TestExecute_NilDataset(t *testing.T) {
	obs := Execute(context.Background(), nil, "count()")
	require.Equal(t, RuntimeFault, obs.Err.Kind)
}

func TestExecute_TruncatesLargeResults(t *testing.T) {
	var b strings.Builder
	b.WriteString("id,value\n")
	for i := 0; i < 250; i++ {
		fmt.Fprintf(&b, "%d,%d\n", i, i*2)
	}
	ds := loadCSV(t, b.String())

	e := NewExecutor(time.Second, 10, 0)
	obs := e.Execute(context.Background(), ds, "filter(value >= 0)")
	require.False(t, obs.Failed())
	require.True(t, obs.Truncated)
	require.True(t, strings.HasPrefix(obs.Text, "250 rows x 2 columns\n"))
	require.True(t, strings.HasSuffix(obs.Text, "...truncated (showing 10 of 250 rows)"))
	// header + 10 rows + count line + marker
	require.Len(t, strings.Split(obs.Text, "\n"), 13)

	small := NewExecutor(time.Second, 1000, 256)
	obs = small.Execute(context.Background(), ds, "select(id, value)")
	require.True(t, obs.Truncated)
	require.LessOrEqual(t, len(obs.Text), 256)
	require.Contains(t, obs.Text, "...truncated (observation exceeded 256 bytes)")
}

func TestExecute_Idempotent(t *testing.T) {
	ds := loadCSV(t, "name,age,sex\nAnn,30,f\nBob,35,m\nCid,38,m\nDee,41,f\n")
	instructions := []string{
		"describe()",
		"group(sex) | mean(age)",
		"sort(age desc) | head(2)",
		"value_counts(sex)",
		"mean(salary)",
		"filter(age > 31 and sex == 'm') | select(name)",
	}
	first := make([]Observation, len(instructions))
	for i, in := range instructions {
		first[i] = Execute(context.Background(), ds, in)
	}
	for round := 0; round < 3; round++ {
		for i, in := range instructions {
			require.Equal(t, first[i], Execute(context.Background(), ds, in), in)
		}
	}
}

func TestExecute_RendersAlignedTable(t *testing.T) {
	ds := loadCSV(t, peopleCSV())
	obs := Execute(context.Background(), ds, "sort(age desc) | head(2)")
	require.False(t, obs.Failed())
	require.Equal(t, "2 rows x 2 columns\nname | age\nCid  | 38\nBob  | 35", obs.Text)
}
