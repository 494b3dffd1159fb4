package harness

import (
	"bytes"
	"context"
	"fmt"
	"testing"

	"github.com/sebdah/goldie/v2"
)

// FormatTrace renders a result's trace as text, one step per line:
//
//	003 write a [2]="x" => ok [PackedGeneric]
//
// The rendering carries no timestamps or addresses, so it is stable across
// runs and suitable for golden comparison.
func FormatTrace(result *Result) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "# %s\n", result.Name)
	for _, e := range result.Trace {
		fmt.Fprintf(&b, "%03d %s %s", e.Seq, e.Op, e.Target)
		if e.Args != "" {
			b.WriteString(" " + e.Args)
		}
		if e.Repeat > 0 {
			fmt.Fprintf(&b, " x%d", e.Repeat)
		}
		b.WriteString(" => " + e.Outcome)
		if e.Kind != "" {
			b.WriteString(" [" + e.Kind + "]")
		}
		b.WriteByte('\n')
	}
	return b.Bytes()
}

// RunWithGolden executes a scenario and compares the trace against
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./pkg/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario, opts Options) (*Result, error) {
	t.Helper()

	result, err := Run(context.Background(), scenario, opts)
	if err != nil {
		return nil, err
	}
	AssertGolden(t, result)
	return result, nil
}

// AssertGolden compares an existing result's trace against its golden file.
func AssertGolden(t *testing.T, result *Result) {
	t.Helper()

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, result.Name, FormatTrace(result))
}
