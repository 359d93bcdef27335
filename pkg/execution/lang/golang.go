package lang

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cxeteam/cxe/pkg/execution/types"
)

// GoAdapter is a compiled, two-phase adapter. It supports primitive and
// JSON-composite parameter/return types; custom ListNode/TreeNode/GraphNode
// shapes are a Python-only extension for now (DESIGN.md records this as a
// deliberate scope reduction, not an oversight).
type GoAdapter struct{}

// NewGoAdapter constructs a GoAdapter.
func NewGoAdapter() *GoAdapter { return &GoAdapter{} }

// Name implements Adapter.
func (g *GoAdapter) Name() string { return "go" }

// DefaultImage implements Adapter.
func (g *GoAdapter) DefaultImage() string { return "golang:1.22-alpine" }

// CompileArgv implements Adapter.
func (g *GoAdapter) CompileArgv(containerWorkdir string, sources *Sources) []string {
	return []string{"go", "build", "-o", containerWorkdir + "/driver", containerWorkdir + "/" + sources.DriverFileName, containerWorkdir + "/solution.go"}
}

// RunArgv implements Adapter.
func (g *GoAdapter) RunArgv(containerWorkdir string, _ *Sources) []string {
	return []string{containerWorkdir + "/driver"}
}

// GenerateHarness implements Adapter.
func (g *GoAdapter) GenerateHarness(sub *types.Submission) (*Sources, error) {
	testCasesJSON, err := json.Marshal(sub.TestCases)
	if err != nil {
		return nil, fmt.Errorf("lang/go: marshaling test cases: %w", err)
	}
	encoded := base64.StdEncoding.EncodeToString(testCasesJSON)

	pkg := sub.Metadata.PackageOrNamespace
	if pkg == "" {
		pkg = "main"
	}

	var driver strings.Builder
	fmt.Fprintf(&driver, "package %s\n\n", pkg)
	driver.WriteString(goDriverImports)
	fmt.Fprintf(&driver, "\nconst encodedTestCases = %q\n\n", encoded)
	driver.WriteString(goDriverBody)
	fmt.Fprintf(&driver, "\n\tresult := %s(", sub.Metadata.FunctionName)
	for i, param := range sub.Metadata.Parameters {
		if i > 0 {
			driver.WriteString(", ")
		}
		fmt.Fprintf(&driver, "%s(tc, %q)", goDecodeFunc(param.Type), param.Name)
	}
	driver.WriteString(")\n")
	driver.WriteString(goDriverTail)

	return &Sources{
		SolutionFileName: "solution.go",
		SolutionCode:     sub.Code,
		DriverFileName:   "driver_main.go",
		DriverCode:       driver.String(),
	}, nil
}

// goDecodeFunc maps a handful of common declared types to the name of the
// decode* helper (defined in goDriverBody) that converts the JSON-decoded
// map[string]interface{} value into that concrete Go type. json.Unmarshal
// always decodes JSON numbers into float64 regardless of the declared Go
// type, so a direct type assertion to int/int64 would panic; the helpers
// convert instead of asserting. Anything else falls back to decodeArg,
// passed through as interface{} unconverted.
func goDecodeFunc(declared string) string {
	switch declared {
	case "int":
		return "decodeInt"
	case "int64":
		return "decodeInt64"
	case "float64":
		return "decodeFloat64"
	case "bool":
		return "decodeBool"
	case "string":
		return "decodeString"
	case "[]int":
		return "decodeIntSlice"
	case "[]string":
		return "decodeStringSlice"
	case "[]float64":
		return "decodeFloat64Slice"
	default:
		return "decodeArg"
	}
}

const goDriverImports = `import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"time"
)`

// goDriverBody decodes the embedded test cases and runs each one, printing
// one TEST_CASE_RESULT marker line per case. As in the Python driver's
// per-case try/except, a panic during a single test case is recovered
// per-iteration so the rest of the suite still runs.
const goDriverBody = `
type testCase struct {
	Input map[string]interface{} ` + "`json:\"input\"`" + `
}

func decodeArg(tc testCase, name string) interface{} {
	return tc.Input[name]
}

// The decode* helpers below convert a decoded JSON value into a concrete Go
// type. encoding/json always decodes numbers as float64, so int/int64
// fields need an explicit conversion rather than a type assertion.

func decodeInt(tc testCase, name string) int {
	if f, ok := tc.Input[name].(float64); ok {
		return int(f)
	}
	return 0
}

func decodeInt64(tc testCase, name string) int64 {
	if f, ok := tc.Input[name].(float64); ok {
		return int64(f)
	}
	return 0
}

func decodeFloat64(tc testCase, name string) float64 {
	if f, ok := tc.Input[name].(float64); ok {
		return f
	}
	return 0
}

func decodeBool(tc testCase, name string) bool {
	b, _ := tc.Input[name].(bool)
	return b
}

func decodeString(tc testCase, name string) string {
	s, _ := tc.Input[name].(string)
	return s
}

func decodeIntSlice(tc testCase, name string) []int {
	raw, _ := tc.Input[name].([]interface{})
	out := make([]int, len(raw))
	for i, v := range raw {
		if f, ok := v.(float64); ok {
			out[i] = int(f)
		}
	}
	return out
}

func decodeStringSlice(tc testCase, name string) []string {
	raw, _ := tc.Input[name].([]interface{})
	out := make([]string, len(raw))
	for i, v := range raw {
		if s, ok := v.(string); ok {
			out[i] = s
		}
	}
	return out
}

func decodeFloat64Slice(tc testCase, name string) []float64 {
	raw, _ := tc.Input[name].([]interface{})
	out := make([]float64, len(raw))
	for i, v := range raw {
		if f, ok := v.(float64); ok {
			out[i] = f
		}
	}
	return out
}

func emit(index int, actualOutput string, durationMs int64, errorInfo string) {
	// actualOutput is base64 encoded: it is not the last of the 4 comma-
	// separated fields, so a raw comma inside composite JSON output would
	// otherwise spill into durationMs/errorInfo.
	encoded := ""
	if actualOutput != "" {
		encoded = base64.StdEncoding.EncodeToString([]byte(actualOutput))
	}
	fmt.Printf("TEST_CASE_RESULT: %d,%s,%d,%s\n", index, encoded, durationMs, errorInfo)
}

func serializeResult(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return "null"
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprintf("%v", t)
		}
		return string(b)
	}
}

func main() {
	raw, err := base64.StdEncoding.DecodeString(encodedTestCases)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed decoding test cases:", err)
		os.Exit(1)
	}
	var cases []testCase
	if err := json.Unmarshal(raw, &cases); err != nil {
		fmt.Fprintln(os.Stderr, "failed parsing test cases:", err)
		os.Exit(1)
	}

	for i, tc := range cases {
		runCase(i, tc)
	}
}

func runCase(i int, tc testCase) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			emit(i, "", time.Since(start).Milliseconds(), fmt.Sprintf("panic: %v", r))
		}
	}()
`

const goDriverTail = `	emit(i, serializeResult(result), time.Since(start).Milliseconds(), "")
}
`
