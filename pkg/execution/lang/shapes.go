package lang

import "strings"

// shapeMatch describes how a declared parameter or return type relates to
// one of the three canonical custom data structures.
type shapeMatch struct {
	canonical string // "ListNode" | "TreeNode" | "GraphNode"
	isList    bool   // true when the declared type is "List of canonical"
}

// canonicalNames are the only shapes this module's builders know how to
// construct; anything else passes through as a raw JSON value.
var canonicalNames = []string{"ListNode", "TreeNode", "GraphNode"}

// matchShape inspects declaredType against customDataStructures (canonical
// name -> concrete user-code type name) and reports which canonical, if
// any, it names, and whether it is wrapped as a list of that canonical
// (e.g. "List[Node]") or an optional (e.g. "Optional[Node]").
func matchShape(declaredType string, customDataStructures map[string]string) (shapeMatch, bool) {
	for _, canonical := range canonicalNames {
		concrete, ok := customDataStructures[canonical]
		if !ok || concrete == "" {
			continue
		}
		switch {
		case declaredType == concrete:
			return shapeMatch{canonical: canonical}, true
		case isWrapped(declaredType, "List", concrete), isWrapped(declaredType, "list", concrete):
			return shapeMatch{canonical: canonical, isList: true}, true
		case isWrapped(declaredType, "Optional", concrete):
			return shapeMatch{canonical: canonical}, true
		}
	}
	return shapeMatch{}, false
}

// isWrapped reports whether declaredType is wrapper + "[" + inner + "]",
// tolerating surrounding whitespace.
func isWrapped(declaredType, wrapper, inner string) bool {
	prefix := wrapper + "["
	if !strings.HasPrefix(declaredType, prefix) || !strings.HasSuffix(declaredType, "]") {
		return false
	}
	body := strings.TrimSpace(declaredType[len(prefix) : len(declaredType)-1])
	return body == inner
}
