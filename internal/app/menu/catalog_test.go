package menu

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestLoad_FiltersUnavailableDishes(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[
			{"id":"x","name":"Pizza","price":1200,"category":"pizza","images":["x.png"],"available":true},
			{"id":"y","name":"Soup","price":500,"category":"soup","images":[],"available":false},
			{"id":"z","name":"Bread","price":200,"category":"sides"}
		]`))
	}))
	defer server.Close()

	catalog := NewCatalog(server.URL, zaptest.NewLogger(t))
	dishes := catalog.Load(context.Background())

	require.Len(t, dishes, 2)
	assert.Equal(t, "x", dishes[0].ID)
	assert.Equal(t, []string{"x.png"}, dishes[0].Images)
	assert.Equal(t, "z", dishes[1].ID)

	dish, ok := catalog.Lookup("x")
	require.True(t, ok)
	item := dish.Item(2, "no basil")
	assert.Equal(t, 1200.0, item.Price)
	assert.Equal(t, 2, item.Quantity)

	_, ok = catalog.Lookup("y")
	assert.False(t, ok)
}

func TestLoad_FallsBackToStaticCatalog(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	catalog := NewCatalog(server.URL, zaptest.NewLogger(t))
	assert.Equal(t, StaticDishes(), catalog.Load(context.Background()))
}

func TestLoad_FallsBackOnMalformedBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"dishes":`))
	}))
	defer server.Close()

	catalog := NewCatalog(server.URL, nil)
	assert.Len(t, catalog.Load(context.Background()), len(StaticDishes()))
}

func TestLoad_WithoutURLUsesStaticCatalog(t *testing.T) {
	catalog := NewCatalog("", nil)
	assert.Equal(t, StaticDishes(), catalog.Load(context.Background()))
	assert.Equal(t, StaticDishes(), catalog.Dishes())
}
