package lang

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/cxeteam/cxe/pkg/execution/types"
)

func TestPythonAdapter_GenerateHarness_Algorithm(t *testing.T) {
	sub := &types.Submission{
		Language: "python",
		Code:     "def twoSum(nums, target):\n    return []\n",
		Metadata: types.QuestionMetadata{
			FunctionName: "twoSum",
			ReturnType:   "List[int]",
			Parameters: []types.Parameter{
				{Name: "nums", Type: "List[int]"},
				{Name: "target", Type: "int"},
			},
		},
		TestCases: []types.TestCase{
			{Input: map[string]interface{}{"nums": []int{2, 7, 11, 15}, "target": 9}},
		},
	}

	p := NewPythonAdapter()
	sources, err := p.GenerateHarness(sub)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sources.SolutionFileName != "solution.py" || sources.SolutionCode != sub.Code {
		t.Fatalf("unexpected solution sources: %+v", sources)
	}
	if !strings.Contains(sources.DriverCode, "from solution import twoSum") {
		t.Fatalf("driver missing import: %s", sources.DriverCode)
	}
	if !strings.Contains(sources.DriverCode, "TEST_CASE_RESULT") {
		t.Fatalf("driver missing marker emitter")
	}
	if !strings.Contains(sources.DriverCode, "args['nums'] = case['input']['nums']") {
		t.Fatalf("driver missing arg extraction: %s", sources.DriverCode)
	}
}

func TestPythonAdapter_GenerateHarness_EmbedsTestCasesAsBase64(t *testing.T) {
	sub := &types.Submission{
		Metadata:  types.QuestionMetadata{FunctionName: "f"},
		TestCases: []types.TestCase{{Input: map[string]interface{}{"x": 1}}},
	}
	p := NewPythonAdapter()
	sources, err := p.GenerateHarness(sub)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	start := strings.Index(sources.DriverCode, `base64.b64decode("`)
	if start == -1 {
		t.Fatalf("could not find embedded payload in: %s", sources.DriverCode)
	}
	rest := sources.DriverCode[start+len(`base64.b64decode("`):]
	end := strings.Index(rest, `"`)
	encoded := rest[:end]
	if _, err := base64.StdEncoding.DecodeString(encoded); err != nil {
		t.Fatalf("embedded payload is not valid base64: %v", err)
	}
}

func TestPythonAdapter_GenerateHarness_VoidMutation(t *testing.T) {
	sub := &types.Submission{
		Metadata: types.QuestionMetadata{
			FunctionName:          "reverseInPlace",
			ReturnType:            "void",
			MutationTarget:        "nums",
			SerializationStrategy: "",
			Parameters:            []types.Parameter{{Name: "nums", Type: "List[int]"}},
		},
	}
	p := NewPythonAdapter()
	sources, err := p.GenerateHarness(sub)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(sources.DriverCode, "serialize_value(args['nums']") {
		t.Fatalf("expected mutation-target serialization, got: %s", sources.DriverCode)
	}
}

func TestPythonAdapter_GenerateHarness_DesignClass(t *testing.T) {
	sub := &types.Submission{
		Metadata: types.QuestionMetadata{
			FunctionName: "MinStack",
			QuestionType: types.QuestionTypeDesignClass,
		},
		TestCases: []types.TestCase{
			{Input: map[string]interface{}{"operations": []interface{}{
				map[string]interface{}{"method": "push", "args": []interface{}{1}},
			}}},
		},
	}
	p := NewPythonAdapter()
	sources, err := p.GenerateHarness(sub)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(sources.DriverCode, "instance = MinStack()") {
		t.Fatalf("expected class instantiation, got: %s", sources.DriverCode)
	}
	if !strings.Contains(sources.DriverCode, "getattr(instance, op['method'])") {
		t.Fatalf("expected method dispatch loop, got: %s", sources.DriverCode)
	}
}

func TestPythonAdapter_CompileArgvIsNilNoCompileStep(t *testing.T) {
	p := NewPythonAdapter()
	if argv := p.CompileArgv("/work", &Sources{}); argv != nil {
		t.Fatalf("expected nil compile argv for python, got %v", argv)
	}
}

func TestPythonAdapter_RunArgv(t *testing.T) {
	p := NewPythonAdapter()
	argv := p.RunArgv("/work", &Sources{DriverFileName: "driver.py"})
	if len(argv) != 2 || argv[0] != "python3" || argv[1] != "/work/driver.py" {
		t.Fatalf("unexpected run argv: %v", argv)
	}
}

func TestPythonAdapter_ListNodeBuilder(t *testing.T) {
	sub := &types.Submission{
		Metadata: types.QuestionMetadata{
			FunctionName: "f",
			ReturnType:   "Node",
			Parameters:   []types.Parameter{{Name: "head", Type: "Node"}},
			CustomDataStructures: map[string]string{
				"ListNode": "Node",
			},
		},
	}
	p := NewPythonAdapter()
	sources, err := p.GenerateHarness(sub)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(sources.DriverCode, "build_list(case['input']['head'])") {
		t.Fatalf("expected build_list call, got: %s", sources.DriverCode)
	}
	if !strings.Contains(sources.DriverCode, "serialize_value(result, \"ListNode\")") {
		t.Fatalf("expected ListNode-canonical serialization, got: %s", sources.DriverCode)
	}
}
