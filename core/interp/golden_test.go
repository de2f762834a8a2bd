package interp

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/spf13/afero"

	"posh/core/state"
)

type goldenTestSuite map[string]goldenScript

type goldenScript struct {
	Src string
}

// Run executes each script with stdout and stderr combined and asserts
// the output, plus the final exit status, against golden fixtures.
func (gts goldenTestSuite) Run(t *testing.T) {
	t.Helper()

	g := goldie.New(
		t,
		goldie.WithFixtureDir(filepath.Join("testdata", "golden")),
		goldie.WithDiffEngine(goldie.ColoredDiff),
	)

	for tn, tc := range gts {
		t.Run(tn, func(t *testing.T) {
			var combined bytes.Buffer
			r := New(
				Env(state.NewStore()),
				Filesystem(afero.NewMemMapFs()),
				Dir("/"),
				StdIO(strings.NewReader(""), &combined, &combined),
			)
			st := r.Run(context.Background(), parseScript(t, tc.Src))
			fmt.Fprintf(&combined, "exit status %d\n", st.Code)
			g.Assert(t, tn, combined.Bytes())
		})
	}
}

func TestScriptsGolden(t *testing.T) {
	goldenTestSuite{
		"expansion": {Src: `x="hello world"
echo $x
echo "$x"
set -- a b
echo "$#" "$1"
echo ${missing:-default}
echo $((6 * 7))
`},
		"control-flow": {Src: `for i in 1 2 3; do
	case $i in
	2) echo two ;;
	*) echo other $i ;;
	esac
done
f() { return 4; }
f || echo fell to $?
`},
		"redirect-jobs": {Src: `echo first >f.txt
echo second >>f.txt
false & wait $!
echo waited $?
trap 'echo finale' EXIT
`},
	}.Run(t)
}
