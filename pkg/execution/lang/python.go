package lang

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cxeteam/cxe/pkg/execution/types"
)

// PythonAdapter is the reference adapter: interpreted, no compile step, and
// the only one with full ListNode/TreeNode/GraphNode builder support.
type PythonAdapter struct{}

// NewPythonAdapter constructs a PythonAdapter.
func NewPythonAdapter() *PythonAdapter { return &PythonAdapter{} }

// Name implements Adapter.
func (p *PythonAdapter) Name() string { return "python" }

// DefaultImage implements Adapter.
func (p *PythonAdapter) DefaultImage() string { return "python:3.12-slim" }

// CompileArgv implements Adapter: Python has no compile phase.
func (p *PythonAdapter) CompileArgv(string, *Sources) []string { return nil }

// RunArgv implements Adapter.
func (p *PythonAdapter) RunArgv(containerWorkdir string, sources *Sources) []string {
	return []string{"python3", containerWorkdir + "/" + sources.DriverFileName}
}

// GenerateHarness implements Adapter.
func (p *PythonAdapter) GenerateHarness(sub *types.Submission) (*Sources, error) {
	testCasesJSON, err := json.Marshal(sub.TestCases)
	if err != nil {
		return nil, fmt.Errorf("lang/python: marshaling test cases: %w", err)
	}
	encoded := base64.StdEncoding.EncodeToString(testCasesJSON)

	var driver strings.Builder
	driver.WriteString(pythonPrelude)
	driver.WriteString(fmt.Sprintf("\nTEST_CASES = json.loads(base64.b64decode(%q).decode('utf-8'))\n\n", encoded))
	driver.WriteString(fmt.Sprintf("from solution import %s\n\n", sub.Metadata.FunctionName))

	if sub.Metadata.EffectiveQuestionType() == types.QuestionTypeDesignClass {
		driver.WriteString(p.generateDesignClassLoop(sub))
	} else {
		driver.WriteString(p.generateAlgorithmLoop(sub))
	}

	return &Sources{
		SolutionFileName: "solution.py",
		SolutionCode:     sub.Code,
		DriverFileName:   "driver.py",
		DriverCode:       driver.String(),
	}, nil
}

// generateAlgorithmLoop emits the per-test-case call/serialize/print loop
// for an ordinary function-call problem, handling void returns and the
// return-value serialization rules.
func (p *PythonAdapter) generateAlgorithmLoop(sub *types.Submission) string {
	var b strings.Builder

	returnCanonical := ""
	if m, ok := matchShape(sub.Metadata.ReturnType, sub.Metadata.CustomDataStructures); ok {
		returnCanonical = m.canonical
	}

	isVoid := strings.EqualFold(sub.Metadata.ReturnType, "void") || strings.EqualFold(sub.Metadata.ReturnType, "None")

	b.WriteString("for i, case in enumerate(TEST_CASES):\n")
	b.WriteString("    start = time.time()\n")
	b.WriteString("    try:\n")
	b.WriteString("        args = {}\n")
	for _, param := range sub.Metadata.Parameters {
		b.WriteString(fmt.Sprintf("        args['%s'] = %s\n", param.Name, buildArgExpr(param, sub.Metadata.CustomDataStructures)))
	}
	argList := make([]string, len(sub.Metadata.Parameters))
	for i, param := range sub.Metadata.Parameters {
		argList[i] = fmt.Sprintf("args['%s']", param.Name)
	}
	b.WriteString(fmt.Sprintf("        result = %s(%s)\n", sub.Metadata.FunctionName, strings.Join(argList, ", ")))
	b.WriteString("        duration_ms = int((time.time() - start) * 1000)\n")

	switch {
	case isVoid && sub.Metadata.MutationTarget != "":
		b.WriteString(fmt.Sprintf("        output = serialize_value(args['%s'], %q)\n", sub.Metadata.MutationTarget, sub.Metadata.SerializationStrategy))
	case returnCanonical != "":
		b.WriteString(fmt.Sprintf("        output = serialize_value(result, %q)\n", returnCanonical))
	default:
		b.WriteString("        output = serialize_value(result, '')\n")
	}
	b.WriteString("        emit(i, output, duration_ms, '')\n")
	b.WriteString("    except Exception as e:\n")
	b.WriteString("        duration_ms = int((time.time() - start) * 1000)\n")
	b.WriteString("        emit(i, '', duration_ms, f'{type(e).__name__}: {e}')\n")

	return b.String()
}

// generateDesignClassLoop handles DESIGN_CLASS problems: instantiate the
// user's class once per test case, then drive a sequence of method calls,
// collecting one result per call into a single marker line for the whole
// sequence. Each test case's input is expected to carry an "operations"
// list of {"method": ..., "args": [...]} objects.
func (p *PythonAdapter) generateDesignClassLoop(sub *types.Submission) string {
	var b strings.Builder
	b.WriteString("for i, case in enumerate(TEST_CASES):\n")
	b.WriteString("    start = time.time()\n")
	b.WriteString("    try:\n")
	b.WriteString(fmt.Sprintf("        instance = %s()\n", sub.Metadata.FunctionName))
	b.WriteString("        results = []\n")
	b.WriteString("        for op in case['input'].get('operations', []):\n")
	b.WriteString("            method = getattr(instance, op['method'])\n")
	b.WriteString("            call_result = method(*op.get('args', []))\n")
	b.WriteString("            results.append(serialize_value(call_result, ''))\n")
	b.WriteString("        duration_ms = int((time.time() - start) * 1000)\n")
	b.WriteString("        emit(i, json.dumps(results, separators=(',', ':')), duration_ms, '')\n")
	b.WriteString("    except Exception as e:\n")
	b.WriteString("        duration_ms = int((time.time() - start) * 1000)\n")
	b.WriteString("        emit(i, '', duration_ms, f'{type(e).__name__}: {e}')\n")
	return b.String()
}

// buildArgExpr returns the Python expression that extracts and, if needed,
// builds a parameter's value from the current test `case`.
func buildArgExpr(param types.Parameter, customDataStructures map[string]string) string {
	raw := fmt.Sprintf("case['input']['%s']", param.Name)
	m, ok := matchShape(param.Type, customDataStructures)
	if !ok {
		return raw
	}
	switch m.canonical {
	case "ListNode":
		if m.isList {
			return fmt.Sprintf("build_lists(%s)", raw)
		}
		return fmt.Sprintf("build_list(%s)", raw)
	case "TreeNode":
		if m.isList {
			return fmt.Sprintf("[build_tree(v) for v in %s]", raw)
		}
		return fmt.Sprintf("build_tree(%s)", raw)
	case "GraphNode":
		if m.isList {
			return fmt.Sprintf("[build_graph(v) for v in %s]", raw)
		}
		return fmt.Sprintf("build_graph(%s)", raw)
	default:
		return raw
	}
}

// pythonPrelude is the fixed portion of every generated driver: imports,
// the three canonical builders/serializers, the marker emitter, and the
// generic serialize_value dispatcher. Kept in one place so every submission
// gets byte-identical infrastructure code regardless of problem shape.
const pythonPrelude = `import base64
import json
import sys
import time
from collections import deque


class ListNode:
    def __init__(self, val=0, next=None):
        self.val = val
        self.next = next


def build_list(values):
    head = None
    tail = None
    for v in values:
        node = ListNode(v)
        if head is None:
            head = node
        else:
            tail.next = node
        tail = node
    return head


def build_lists(values_of_lists):
    return [build_list(v) for v in values_of_lists]


def serialize_list(node):
    out = []
    while node is not None:
        out.append(node.val)
        node = node.next
    return json.dumps(out, separators=(',', ':'))


class TreeNode:
    def __init__(self, val=0, left=None, right=None):
        self.val = val
        self.left = left
        self.right = right


def build_tree(values):
    if not values:
        return None
    it = iter(values)
    root_val = next(it)
    if root_val is None:
        return None
    root = TreeNode(root_val)
    queue = deque([root])
    while queue:
        node = queue.popleft()
        try:
            lv = next(it)
        except StopIteration:
            break
        if lv is not None:
            node.left = TreeNode(lv)
            queue.append(node.left)
        try:
            rv = next(it)
        except StopIteration:
            break
        if rv is not None:
            node.right = TreeNode(rv)
            queue.append(node.right)
    return root


def serialize_tree(node):
    out = []
    q = deque([node])
    while q:
        cur = q.popleft()
        if cur is None:
            out.append(None)
            continue
        out.append(cur.val)
        q.append(cur.left)
        q.append(cur.right)
    while out and out[-1] is None:
        out.pop()
    return json.dumps(out, separators=(',', ':'))


class GraphNode:
    def __init__(self, val=0, neighbors=None):
        self.val = val
        self.neighbors = neighbors if neighbors is not None else []


def build_graph(adj):
    if not adj:
        return None
    nodes = {i + 1: GraphNode(i + 1) for i in range(len(adj))}
    for i, neighbors in enumerate(adj):
        nodes[i + 1].neighbors = [nodes[n] for n in neighbors]
    return nodes[1]


def serialize_graph(node):
    if node is None:
        return "[]"
    visited = {node.val: node}
    q = deque([node])
    while q:
        cur = q.popleft()
        for nb in cur.neighbors:
            if nb.val not in visited:
                visited[nb.val] = nb
                q.append(nb)
    ordered_ids = sorted(visited.keys())
    adjacency = [sorted(nb.val for nb in visited[v].neighbors) for v in ordered_ids]
    return json.dumps(adjacency, separators=(',', ':'))


def serialize_value(value, canonical):
    if canonical == "ListNode":
        return serialize_list(value)
    if canonical == "TreeNode":
        return serialize_tree(value)
    if canonical == "GraphNode":
        return serialize_graph(value)
    if isinstance(value, bool):
        return "true" if value else "false"
    if isinstance(value, float):
        return repr(value)
    if isinstance(value, int):
        return str(value)
    if isinstance(value, str):
        return value
    if value is None:
        return "null"
    return json.dumps(value, separators=(',', ':'))


def emit(index, actual_output, duration_ms, error_info):
    # One line, 4 logical fields after the prefix, split on comma with a
    # 4-field cap by the orchestrator's parser. actual_output is base64
    # encoded: it is not the last field, so a raw comma inside a composite
    # JSON value (a list, a serialized tree) would otherwise spill into
    # duration_ms/error_info. Never raise past this point -- a malformed
    # marker is a harness bug, not a per-test-case error.
    encoded_output = base64.b64encode(actual_output.encode('utf-8')).decode('ascii') if actual_output else ''
    print(f"TEST_CASE_RESULT: {index},{encoded_output},{duration_ms},{error_info}")
    sys.stdout.flush()
`
