package storage

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clarsbyte/washedmcp/pkg/types"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// unitVec builds a dimension-3 unit vector for similarity tests
func unitVec(x, y, z float32) []float32 {
	return []float32{x, y, z}
}

func testEntity(name, file string, line int, vec []float32) types.Entity {
	e := types.Entity{
		Name:      name,
		Kind:      types.KindFunction,
		Code:      "func " + name + "() {}",
		FilePath:  file,
		LineStart: line,
		LineEnd:   line + 2,
		Vector:    vec,
	}
	e.Normalize()
	return e
}

func TestUpsertAndGetByID(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	ent := testEntity("Login", "auth/login.go", 10, unitVec(1, 0, 0))
	ent.Calls = []string{"hash", "store"}
	require.NoError(t, store.UpsertEntities(ctx, []types.Entity{ent}))

	got, err := store.GetByID(ctx, ent.ID)
	require.NoError(t, err)
	assert.Equal(t, "Login", got.Name)
	assert.Equal(t, []string{"hash", "store"}, got.Calls)
	assert.Equal(t, []string{}, got.CalledBy)
	assert.Equal(t, ent.Vector, got.Vector)
}

func TestGetByIDNotFound(t *testing.T) {
	store := setupTestStore(t)
	_, err := store.GetByID(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpsertDedupesInput(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	a := testEntity("Dup", "a.go", 1, unitVec(1, 0, 0))
	b := testEntity("Dup", "a.go", 1, unitVec(0, 1, 0)) // same ID, different vector
	require.NoError(t, store.UpsertEntities(ctx, []types.Entity{a, b}))

	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// first occurrence wins
	got, err := store.GetByID(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, a.Vector, got.Vector)
}

func TestUpsertRejectsMissingVector(t *testing.T) {
	store := setupTestStore(t)
	ent := testEntity("NoVec", "a.go", 1, nil)
	err := store.UpsertEntities(context.Background(), []types.Entity{ent})
	assert.ErrorIs(t, err, types.ErrInvalidVector)
}

func TestUpsertRejectsEmptyCode(t *testing.T) {
	store := setupTestStore(t)
	ent := testEntity("NoCode", "a.go", 1, unitVec(1, 0, 0))
	ent.Code = ""
	err := store.UpsertEntities(context.Background(), []types.Entity{ent})
	assert.ErrorIs(t, err, types.ErrEmptyContent)
}

func TestUpsertRejectsMixedDimensions(t *testing.T) {
	store := setupTestStore(t)
	err := store.UpsertEntities(context.Background(), []types.Entity{
		testEntity("Three", "a.go", 1, unitVec(1, 0, 0)),
		testEntity("Two", "b.go", 1, []float32{1, 0}),
	})
	assert.ErrorIs(t, err, types.ErrDimensionMatch)
}

func TestClearThenReindexIsIdempotent(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	ents := []types.Entity{
		testEntity("A", "a.go", 1, unitVec(1, 0, 0)),
		testEntity("B", "b.go", 5, unitVec(0, 1, 0)),
	}
	require.NoError(t, store.UpsertEntities(ctx, ents))
	require.NoError(t, store.Clear(ctx))

	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	require.NoError(t, store.UpsertEntities(ctx, ents))
	got, err := store.GetByID(ctx, ents[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "A", got.Name)
}

func TestGetByNameFirstMatch(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	later := testEntity("process", "zz/dup.go", 50, unitVec(0, 1, 0))
	earlier := testEntity("process", "aa/main.go", 10, unitVec(1, 0, 0))
	require.NoError(t, store.UpsertEntities(ctx, []types.Entity{later, earlier}))

	got, err := store.GetByName(ctx, "process")
	require.NoError(t, err)
	assert.Equal(t, "aa/main.go", got.FilePath)

	_, err = store.GetByName(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetByFileOrdered(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertEntities(ctx, []types.Entity{
		testEntity("second", "m.go", 20, unitVec(1, 0, 0)),
		testEntity("first", "m.go", 5, unitVec(0, 1, 0)),
		testEntity("other", "n.go", 1, unitVec(0, 0, 1)),
	}))

	got, err := store.GetByFile(ctx, "m.go")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "first", got[0].Name)
	assert.Equal(t, "second", got[1].Name)
}

func TestQueryRanksBySimilarity(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertEntities(ctx, []types.Entity{
		testEntity("exact", "a.go", 1, unitVec(1, 0, 0)),
		testEntity("close", "b.go", 1, NormalizeForTest([]float32{0.9, 0.1, 0})),
		testEntity("far", "c.go", 1, unitVec(0, 0, 1)),
	}))

	matches, err := store.Query(ctx, unitVec(1, 0, 0), 2)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "exact", matches[0].Entity.Name)
	assert.Equal(t, "close", matches[1].Entity.Name)
	assert.Greater(t, matches[0].Score, matches[1].Score)
	assert.LessOrEqual(t, matches[0].Score, 1.0)
	assert.GreaterOrEqual(t, matches[1].Score, 0.0)
}

func TestQueryZeroTopK(t *testing.T) {
	store := setupTestStore(t)
	matches, err := store.Query(context.Background(), unitVec(1, 0, 0), 0)
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestSearchText(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	auth := testEntity("AuthenticateUser", "auth.go", 1, unitVec(1, 0, 0))
	auth.Code = "func AuthenticateUser(token string) error { return verify(token) }"
	parse := testEntity("ParseConfig", "config.go", 1, unitVec(0, 1, 0))
	parse.Code = "func ParseConfig(path string) (*Config, error) { return nil, nil }"
	require.NoError(t, store.UpsertEntities(ctx, []types.Entity{auth, parse}))

	matches, err := store.SearchText(ctx, "AuthenticateUser", 5)
	require.NoError(t, err)
	require.NotEmpty(t, matches)
	assert.Equal(t, "AuthenticateUser", matches[0].Entity.Name)
}

func TestReplaceCalledBy(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	caller := testEntity("main", "main.go", 1, unitVec(1, 0, 0))
	caller.Calls = []string{"helper"}
	callee := testEntity("helper", "util.go", 1, unitVec(0, 1, 0))
	require.NoError(t, store.UpsertEntities(ctx, []types.Entity{caller, callee}))

	require.NoError(t, store.ReplaceCalledBy(ctx, map[string][]string{
		callee.ID: {"main"},
	}))

	got, err := store.GetByID(ctx, callee.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"main"}, got.CalledBy)

	// a second replace without the edge resets it
	require.NoError(t, store.ReplaceCalledBy(ctx, map[string][]string{}))
	got, err = store.GetByID(ctx, callee.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{}, got.CalledBy)
}

func TestListCallEdges(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	a := testEntity("a", "a.go", 1, unitVec(1, 0, 0))
	a.Calls = []string{"b", "c"}
	b := testEntity("b", "b.go", 1, unitVec(0, 1, 0))
	require.NoError(t, store.UpsertEntities(ctx, []types.Entity{a, b}))

	edges, err := store.ListCallEdges(ctx)
	require.NoError(t, err)
	require.Len(t, edges, 2)
	assert.Equal(t, "a", edges[0].Name)
	assert.Equal(t, []string{"b", "c"}, edges[0].Calls)
}

func TestGetStats(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertEntities(ctx, []types.Entity{
		testEntity("x", "a.go", 1, unitVec(1, 0, 0)),
		testEntity("y", "a.go", 9, unitVec(0, 1, 0)),
		testEntity("z", "b.go", 1, unitVec(0, 0, 1)),
	}))

	stats, err := store.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Entities)
	assert.Equal(t, 2, stats.Files)
	assert.Equal(t, 3, stats.Dimension)
	assert.Equal(t, BuildMode, stats.BuildMode)
}

func TestVectorSerializationRoundTrip(t *testing.T) {
	vec := []float32{0.5, -1.25, 3.75, 0}
	assert.Equal(t, vec, DeserializeVector(SerializeVector(vec)))
}

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, CosineSimilarity([]float32{1, 0}, []float32{1, 0}), 1e-9)
	assert.InDelta(t, 0.0, CosineSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.InDelta(t, -1.0, CosineSimilarity([]float32{1, 0}, []float32{-1, 0}), 1e-9)
	assert.Equal(t, 0.0, CosineSimilarity([]float32{1, 0}, []float32{1}))
	assert.Equal(t, 0.0, CosineSimilarity([]float32{0, 0}, []float32{1, 0}))
}

func TestSanitizeFTSQuery(t *testing.T) {
	assert.Equal(t, `"hello" "world"`, SanitizeFTSQuery("hello world"))
	assert.Equal(t, `"a""b"`, SanitizeFTSQuery(`a"b`))
	assert.Equal(t, `"name:evil"`, SanitizeFTSQuery("name:evil"))
	assert.Equal(t, "", SanitizeFTSQuery("   "))
}

// NormalizeForTest normalizes a vector to unit length
func NormalizeForTest(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	norm := float32(math.Sqrt(sum))
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = x / norm
	}
	return out
}
