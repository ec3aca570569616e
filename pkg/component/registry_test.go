package component

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	xerrors "gisengine/internal/errors"
)

type stubComponent struct {
	meta Metadata
}

func (s stubComponent) Metadata() Metadata          { return s.meta }
func (s stubComponent) Parameters() []ParameterSpec { return nil }
func (s stubComponent) ValidateInputs(Inputs) bool  { return true }
func (s stubComponent) Execute(context.Context, Inputs, *ExecutionContext) (Outputs, error) {
	return Outputs{}, nil
}

func stub(id string, typ Type, category string, tags ...string) Factory {
	return func() Component {
		return stubComponent{meta: Metadata{ID: id, Name: id, Category: category, Type: typ, Tags: tags}}
	}
}

func TestListByTypeReturnsOnlyMatchingIDs(t *testing.T) {
	r := NewRegistry()
	if !r.Register(stub("core.file_reader", TypeReader, "Input/Output")) {
		t.Fatalf("expected reader registration to succeed")
	}
	if !r.Register(stub("core.buffer", TypeTransformer, "Geometry")) {
		t.Fatalf("expected transformer registration to succeed")
	}

	got := r.ListByType(TypeTransformer)
	if len(got) != 1 || got[0] != "core.buffer" {
		t.Fatalf("unexpected transformers %v", got)
	}
	if got := r.ListByType(TypeWriter); len(got) != 0 {
		t.Fatalf("expected no writers, got %v", got)
	}
}

func TestDuplicateRegistrationLeavesStateUnchanged(t *testing.T) {
	r := NewRegistry()
	first := stub("core.file_reader", TypeReader, "Input/Output")
	if !r.Register(first) {
		t.Fatalf("expected first registration to succeed")
	}
	if r.Register(stub("core.file_reader", TypeWriter, "Other")) {
		t.Fatalf("expected duplicate registration to fail")
	}
	err := r.RegisterE(stub("core.file_reader", TypeReader, "x"))
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
	if xerrors.CodeOf(err) != CodeDuplicate || CodeDuplicate != "COMPONENT_DUPLICATE" {
		t.Fatalf("expected COMPONENT_DUPLICATE, got %s", xerrors.CodeOf(err))
	}
	if e, _ := xerrors.From(err); e.Metadata()["component_id"] != "core.file_reader" {
		t.Fatalf("duplicate error lost the component id: %v", e.Metadata())
	}

	if got := r.List(); len(got) != 1 {
		t.Fatalf("expected one component, got %v", got)
	}
	meta, ok := r.Metadata("core.file_reader")
	if !ok || meta.Type != TypeReader || meta.Category != "Input/Output" {
		t.Fatalf("original entry was modified: %+v", meta)
	}
	if got := r.ListByCategory("Other"); len(got) != 0 {
		t.Fatalf("duplicate leaked into category index: %v", got)
	}
	if got := r.ListByType(TypeWriter); len(got) != 0 {
		t.Fatalf("duplicate leaked into type index: %v", got)
	}
}

func TestRegisterRejectsBrokenFactories(t *testing.T) {
	r := NewRegistry()
	cases := map[string]Factory{
		"nil factory":    nil,
		"nil component":  func() Component { return nil },
		"empty id":       stub("", TypeReader, "x"),
		"unknown type":   stub("x.bad", Type("sink"), "x"),
		"panicking ctor": func() Component { panic("boom") },
	}
	for name, f := range cases {
		if r.Register(f) {
			t.Fatalf("%s: expected registration to fail", name)
		}
		err := r.RegisterE(f)
		if !errors.Is(err, ErrInvalid) || xerrors.CodeOf(err) != CodeInvalid {
			t.Fatalf("%s: expected COMPONENT_INVALID, got %v", name, err)
		}
	}
	if r.Len() != 0 {
		t.Fatalf("expected empty registry, got %d entries", r.Len())
	}
}

func TestIndexesStayConsistent(t *testing.T) {
	r := NewRegistry()
	r.Register(stub("a", TypeReader, "io"))
	r.Register(stub("b", TypeTransformer, "geo"))
	r.Register(stub("c", TypeWriter, "io"))
	r.Register(stub("d", TypeTransformer, "geo"))

	if got := r.List(); fmt.Sprint(got) != "[a b c d]" {
		t.Fatalf("unexpected registration order %v", got)
	}
	if got := r.ListByCategory("io"); fmt.Sprint(got) != "[a c]" {
		t.Fatalf("unexpected io category %v", got)
	}
	if got := r.ListByType(TypeTransformer); fmt.Sprint(got) != "[b d]" {
		t.Fatalf("unexpected transformers %v", got)
	}
	if got := r.Categories(); fmt.Sprint(got) != "[geo io]" {
		t.Fatalf("unexpected categories %v", got)
	}

	if !r.Unregister("b") || r.Unregister("b") {
		t.Fatalf("expected single successful unregister")
	}
	if got := r.ListByType(TypeTransformer); fmt.Sprint(got) != "[d]" {
		t.Fatalf("unexpected transformers after unregister %v", got)
	}

	r.Clear()
	if r.Len() != 0 || len(r.List()) != 0 || len(r.ListByCategory("io")) != 0 || len(r.Categories()) != 0 {
		t.Fatalf("expected Clear to empty every index")
	}
}

func TestSearchMatchesTagsCaseInsensitively(t *testing.T) {
	r := NewRegistry()
	r.Register(stub("core.file_reader", TypeReader, "io"))
	r.Register(func() Component {
		return stubComponent{meta: Metadata{
			ID:          "core.zone",
			Name:        "Zone Maker",
			Description: "Creates zones",
			Category:    "Geometry",
			Type:        TypeTransformer,
			Tags:        []string{"Buffer", "zone"},
		}}
	})

	got := r.Search("buffer")
	if len(got) != 1 || got[0] != "core.zone" {
		t.Fatalf("expected tag match, got %v", got)
	}
	if got := r.Search("ZONES"); len(got) != 1 {
		t.Fatalf("expected description match, got %v", got)
	}
	if got := r.Search("nothing"); len(got) != 0 {
		t.Fatalf("expected no match, got %v", got)
	}
	if got := r.Search(""); len(got) != 2 {
		t.Fatalf("expected empty query to match everything, got %v", got)
	}
}

func TestSearchDoesNotTrimBlankQueries(t *testing.T) {
	r := NewRegistry()
	r.Register(stub("core.file_reader", TypeReader, "io"))
	r.Register(func() Component {
		return stubComponent{meta: Metadata{ID: "core.zone", Name: "Zone Maker", Category: "Geometry", Type: TypeTransformer}}
	})
	if got := r.Search(" "); len(got) != 1 || got[0] != "core.zone" {
		t.Fatalf("a single space should only match text containing one, got %v", got)
	}
	if got := r.Search("\t\n"); len(got) != 0 {
		t.Fatalf("expected no match for blank query, got %v", got)
	}
	if got := r.Search(" zone "); len(got) != 0 {
		t.Fatalf("surrounding spaces are part of the query, got %v", got)
	}
}

func TestMetadataIsCopied(t *testing.T) {
	r := NewRegistry()
	r.Register(stub("a", TypeReader, "io", "one"))
	meta, _ := r.Metadata("a")
	meta.Tags[0] = "mutated"
	again, _ := r.Metadata("a")
	if again.Tags[0] != "one" {
		t.Fatalf("registry metadata was mutated through a returned copy")
	}
	ids := r.List()
	ids[0] = "zzz"
	if r.List()[0] != "a" {
		t.Fatalf("registry order was mutated through a returned slice")
	}
}

func TestObserverSeesEveryAttempt(t *testing.T) {
	var mu sync.Mutex
	var seen []string
	r := NewRegistry(WithObserver(func(id string, err error) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, fmt.Sprintf("%s:%v", id, err == nil))
	}))
	r.Register(stub("a", TypeReader, "io"))
	r.Register(stub("a", TypeReader, "io"))
	if fmt.Sprint(seen) != "[a:true a:false]" {
		t.Fatalf("unexpected observations %v", seen)
	}
}

func TestConcurrentRegisterAndLookup(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	var okCount sync.Map
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("c%d", i%10)
			if r.Register(stub(id, TypeReader, "io")) {
				okCount.Store(i, id)
			}
		}(i)
		go func() {
			defer wg.Done()
			_ = r.List()
			_ = r.Search("c")
			_, _ = r.Get("c1")
		}()
	}
	wg.Wait()

	successes := 0
	okCount.Range(func(_, _ any) bool { successes++; return true })
	if successes != 10 || r.Len() != 10 {
		t.Fatalf("expected exactly 10 distinct registrations, got %d (len %d)", successes, r.Len())
	}
}
