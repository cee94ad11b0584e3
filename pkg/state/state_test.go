package state

import (
	"reflect"
	"testing"
)

func TestCloneIsIndependent(t *testing.T) {
	base := NewSession()
	if err := base.BindVariable(&VariableRecord{Name: "x", TypeName: "int", Mutable: true, Preserve: true}); err != nil {
		t.Fatalf("BindVariable: %v", err)
	}
	base.AddItem(ItemRecord{Kind: ItemFunc, Name: "f", Source: "func f() {}"})
	base.AddImport(ImportRecord{Path: "fmt"})
	if err := base.AddDependency(DependencySpec{Path: "gopkg.in/yaml.v3", Version: "v3.0.1"}); err != nil {
		t.Fatalf("AddDependency: %v", err)
	}

	clone := base.Clone()
	clone.Variable("x").TypeName = "string"
	clone.DropVariable("x")
	clone.AddItem(ItemRecord{Kind: ItemFunc, Name: "g", Source: "func g() {}"})
	clone.AddImport(ImportRecord{Path: "strings"})

	if got := base.Variable("x"); got == nil || got.TypeName != "int" {
		t.Fatalf("clone mutation leaked into base: %+v", got)
	}
	if len(base.Items()) != 1 || len(base.Imports()) != 1 {
		t.Fatalf("clone append leaked into base: items=%d imports=%d", len(base.Items()), len(base.Imports()))
	}
}

func TestBindVariableShadows(t *testing.T) {
	s := NewSession()
	if err := s.BindVariable(&VariableRecord{Name: "n", TypeName: "int", Preserve: true}); err != nil {
		t.Fatalf("BindVariable: %v", err)
	}
	if err := s.BindVariable(&VariableRecord{Name: "n", TypeName: "string", Preserve: true}); err != nil {
		t.Fatalf("BindVariable: %v", err)
	}
	if got := s.Variable("n").TypeName; got != "string" {
		t.Errorf("shadowed type = %q, want string", got)
	}
	if len(s.Variables()) != 1 {
		t.Errorf("shadowing duplicated the record: %d", len(s.Variables()))
	}
}

func TestBindVariableRejectsUnnamed(t *testing.T) {
	s := NewSession()
	if err := s.BindVariable(&VariableRecord{}); err == nil {
		t.Fatal("want error for unnamed variable")
	}
	if err := s.BindVariable(nil); err == nil {
		t.Fatal("want error for nil record")
	}
}

func TestVariablesSortedByName(t *testing.T) {
	s := NewSession()
	for _, name := range []string{"zeta", "alpha", "mid"} {
		if err := s.BindVariable(&VariableRecord{Name: name, TypeName: "int"}); err != nil {
			t.Fatalf("BindVariable(%s): %v", name, err)
		}
	}
	var got []string
	for _, rec := range s.Variables() {
		got = append(got, rec.Name)
	}
	if want := []string{"alpha", "mid", "zeta"}; !reflect.DeepEqual(got, want) {
		t.Errorf("order = %v, want %v", got, want)
	}
}

func TestAddItemSupersedesInPlace(t *testing.T) {
	s := NewSession()
	s.AddItem(ItemRecord{Kind: ItemFunc, Name: "f", Source: "func f() int { return 1 }"})
	s.AddItem(ItemRecord{Kind: ItemType, Name: "f", Source: "type f int"})
	s.AddItem(ItemRecord{Kind: ItemFunc, Name: "g", Source: "func g() {}"})
	s.AddItem(ItemRecord{Kind: ItemFunc, Name: "f", Source: "func f() int { return 2 }"})

	items := s.Items()
	if len(items) != 3 {
		t.Fatalf("got %d items: %+v", len(items), items)
	}
	// The redefinition replaced the original slot, keeping source order.
	if items[0].Source != "func f() int { return 2 }" {
		t.Errorf("item 0 = %+v", items[0])
	}
	// A type named f is a distinct record from a func named f.
	if items[1].Kind != ItemType {
		t.Errorf("item 1 = %+v", items[1])
	}
}

func TestAddImportDedupAndQualifierSupersede(t *testing.T) {
	s := NewSession()
	s.AddImport(ImportRecord{Path: "math/rand"})
	s.AddImport(ImportRecord{Path: "math/rand"})
	if len(s.Imports()) != 1 {
		t.Fatalf("exact repeat not deduplicated: %+v", s.Imports())
	}

	// rand/v2 claims the same qualifier and supersedes the original.
	s.AddImport(ImportRecord{Path: "math/rand/v2", Alias: "rand"})
	imports := s.Imports()
	if len(imports) != 1 || imports[0].Path != "math/rand/v2" {
		t.Fatalf("qualifier collision not superseded: %+v", imports)
	}

	path, ok := s.ImportPathFor("rand")
	if !ok || path != "math/rand/v2" {
		t.Errorf("ImportPathFor(rand) = %q, %v", path, ok)
	}
}

func TestImportQualifier(t *testing.T) {
	cases := []struct {
		imp  ImportRecord
		want string
	}{
		{ImportRecord{Path: "fmt"}, "fmt"},
		{ImportRecord{Path: "net/http"}, "http"},
		{ImportRecord{Path: "gopkg.in/yaml.v3", Alias: "yaml"}, "yaml"},
		{ImportRecord{Path: "database/sql", Alias: "_"}, ""},
		{ImportRecord{Path: "math", Alias: "."}, ""},
	}
	for _, tc := range cases {
		if got := tc.imp.Qualifier(); got != tc.want {
			t.Errorf("Qualifier(%+v) = %q, want %q", tc.imp, got, tc.want)
		}
	}
}

func TestAddDependencyReplacesSamePath(t *testing.T) {
	s := NewSession()
	if err := s.AddDependency(DependencySpec{Path: "github.com/google/uuid", Version: "v1.5.0"}); err != nil {
		t.Fatalf("AddDependency: %v", err)
	}
	if err := s.AddDependency(DependencySpec{Path: "github.com/google/uuid", Version: "v1.6.0"}); err != nil {
		t.Fatalf("AddDependency: %v", err)
	}
	deps := s.Dependencies()
	if len(deps) != 1 || deps[0].Version != "v1.6.0" {
		t.Fatalf("deps = %+v", deps)
	}
	if err := s.AddDependency(DependencySpec{}); err == nil {
		t.Fatal("want error for empty module path")
	}
}
