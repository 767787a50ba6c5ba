package extension

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

type tenant string

type counter struct {
	n int
}

func TestInsertReplacesSameType(t *testing.T) {
	ext := New()

	if _, replaced := Insert(ext, tenant("a")); replaced {
		t.Fatal("first insert must not report a replacement")
	}
	previous, replaced := Insert(ext, tenant("b"))
	if !replaced || previous != "a" {
		t.Fatalf("expected replacement of %q, got %q (replaced=%v)", "a", previous, replaced)
	}

	got, ok := Get[tenant](ext)
	if !ok || got != "b" {
		t.Fatalf("expected b, got %q", got)
	}
	if ext.Len() != 1 {
		t.Fatalf("expected one value, got %d", ext.Len())
	}
}

func TestDistinctTypesDoNotCollide(t *testing.T) {
	ext := New()
	Insert(ext, tenant("acme"))
	Insert(ext, "plain string")
	Insert(ext, &counter{n: 3})

	if v, _ := Get[tenant](ext); v != "acme" {
		t.Fatalf("tenant lost: %q", v)
	}
	if v, _ := Get[string](ext); v != "plain string" {
		t.Fatalf("string lost: %q", v)
	}
	if v, _ := Get[*counter](ext); v == nil || v.n != 3 {
		t.Fatalf("pointer lost: %#v", v)
	}
	if _, ok := Get[counter](ext); ok {
		t.Fatal("value type must be distinct from pointer type")
	}
}

func TestTakeRemovesValue(t *testing.T) {
	ext := New()
	Insert(ext, tenant("acme"))

	v, err := Take[tenant](ext)
	if err != nil || v != "acme" {
		t.Fatalf("first take: %q, %v", v, err)
	}

	_, err = Take[tenant](ext)
	var missing *MissingError
	if !errors.As(err, &missing) {
		t.Fatalf("second take must fail with MissingError, got %v", err)
	}
	if missing.Type.Name() != "tenant" {
		t.Fatalf("unexpected missing type %v", missing.Type)
	}
}

func (t tenant) Tenant() string { return string(t) }

type tenantNamer interface {
	Tenant() string
}

func TestFindMatchesByInterface(t *testing.T) {
	// Given: a store with one value implementing the interface
	ext := New()
	Insert(ext, counter{n: 1})
	Insert(ext, tenant("acme"))

	// When
	found, ok := Find[tenantNamer](ext)

	// Then: it is returned and stays stored
	if !ok || found.Tenant() != "acme" {
		t.Fatalf("expected acme, got %v (ok=%v)", found, ok)
	}
	if ext.Len() != 2 {
		t.Fatalf("find must not remove values, got %d", ext.Len())
	}
	if _, ok := Find[tenantNamer](New()); ok {
		t.Fatal("expected no match in an empty store")
	}
	if _, ok := Find[tenantNamer](nil); ok {
		t.Fatal("expected no match in a nil store")
	}
}

func TestNilStoreIsSafe(t *testing.T) {
	var ext *Extensions
	Insert(ext, tenant("x"))
	if _, ok := Get[tenant](ext); ok {
		t.Fatal("nil store must be empty")
	}
	if _, err := Take[tenant](ext); err == nil {
		t.Fatal("take from nil store must fail")
	}
	ext.Clear()
	if ext.Len() != 0 {
		t.Fatal("nil store length must be zero")
	}
}

func TestEnsureAttachesOnce(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if FromRequest(req) != nil {
		t.Fatal("fresh request must not carry extensions")
	}

	req, ext := Ensure(req)
	if FromRequest(req) != ext {
		t.Fatal("ensure must attach the returned store")
	}

	again, ext2 := Ensure(req)
	if again != req || ext2 != ext {
		t.Fatal("ensure must reuse an attached store")
	}
}

func TestFromNilContext(t *testing.T) {
	if _, ok := From(nil); ok {
		t.Fatal("nil context must not carry extensions")
	}
	if _, ok := From(context.Background()); ok {
		t.Fatal("background context must not carry extensions")
	}
}

func TestConcurrentAccess(t *testing.T) {
	ext := New()
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			Insert(ext, i)
			_, _ = Get[int](ext)
		}(i)
	}
	wg.Wait()
	if ext.Len() != 1 {
		t.Fatalf("expected a single int slot, got %d", ext.Len())
	}
	ext.Clear()
	if ext.Len() != 0 {
		t.Fatal("clear must drop every value")
	}
}
