package lang

import "testing"

func TestMatchShape_Exact(t *testing.T) {
	cds := map[string]string{"ListNode": "Node"}
	m, ok := matchShape("Node", cds)
	if !ok || m.canonical != "ListNode" || m.isList {
		t.Fatalf("got %+v, %v", m, ok)
	}
}

func TestMatchShape_ListWrapped(t *testing.T) {
	cds := map[string]string{"TreeNode": "TreeNode"}
	m, ok := matchShape("List[TreeNode]", cds)
	if !ok || m.canonical != "TreeNode" || !m.isList {
		t.Fatalf("got %+v, %v", m, ok)
	}
}

func TestMatchShape_OptionalWrapped(t *testing.T) {
	cds := map[string]string{"ListNode": "Node"}
	m, ok := matchShape("Optional[Node]", cds)
	if !ok || m.canonical != "ListNode" || m.isList {
		t.Fatalf("got %+v, %v", m, ok)
	}
}

func TestMatchShape_NoMatch(t *testing.T) {
	cds := map[string]string{"ListNode": "Node"}
	_, ok := matchShape("int", cds)
	if ok {
		t.Fatal("expected no match")
	}
}

func TestMatchShape_EmptyCustomDataStructures(t *testing.T) {
	_, ok := matchShape("Node", nil)
	if ok {
		t.Fatal("expected no match with nil customDataStructures")
	}
}
