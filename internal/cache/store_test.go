package cache

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

type depGraph struct {
	Root  string              `json:"root"`
	Edges map[string][]string `json:"edges"`
}

func TestStore(t *testing.T) {
	c, _ := newMemCache(t, testConfig("cache"))
	store := NewStore[depGraph](c, TypeDeps)

	if store.Type() != TypeDeps {
		t.Errorf("Type() = %v, want deps", store.Type())
	}
	if _, ok := store.Get("package.json"); ok {
		t.Error("Get on an empty store should miss")
	}

	graph := depGraph{Root: "app", Edges: map[string][]string{"app": {"react", "vite"}}}
	if err := store.Set("package.json", graph, WithTTL(time.Minute)); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if !store.Has("package.json") {
		t.Error("Has should report the stored value")
	}

	got, ok := store.Get("package.json")
	if !ok || got.Root != "app" || len(got.Edges["app"]) != 2 {
		t.Errorf("Get = %+v, %v", got, ok)
	}

	store.Delete("package.json")
	if store.Has("package.json") {
		t.Error("value should be gone after Delete")
	}
}

func TestStore_SetUnencodable(t *testing.T) {
	c, _ := newMemCache(t, testConfig("cache"))
	store := NewStore[chan int](c, TypeTemp)

	err := store.Set("k", make(chan int))
	if err == nil {
		t.Fatal("expected an encoding error")
	}
	var unsupported *json.UnsupportedTypeError
	if !errors.As(err, &unsupported) {
		t.Errorf("unexpected error %v", err)
	}
}

func TestStore_MismatchedPayloadIsMiss(t *testing.T) {
	c, _ := newMemCache(t, testConfig("cache"))

	_ = NewStore[string](c, TypeBuild).Set("k", "not a number")

	n, ok := NewStore[int](c, TypeBuild).Get("k")
	if ok || n != 0 {
		t.Errorf("Get = %d, %v; want a miss", n, ok)
	}
}

func TestStore_Clear(t *testing.T) {
	c, _ := newMemCache(t, testConfig("cache"))
	builds := NewStore[int](c, TypeBuild)
	mods := NewStore[int](c, TypeModules)

	_ = builds.Set("a", 1)
	_ = mods.Set("a", 2)
	builds.Clear()

	if builds.Has("a") {
		t.Error("build value should be cleared")
	}
	if !mods.Has("a") {
		t.Error("module value should remain")
	}
}
