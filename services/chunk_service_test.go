package services

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sync"
	"testing"
)

func TestPlanChunks(t *testing.T) {
	tests := []struct {
		class     string
		count     int
		wantSize  int
		wantIDs   []int
		wantChunk int
	}{
		{"polygon", 1200, 500, []int{1, 2, 3}, 3},
		{"MultiPolygon", 500, 500, []int{1}, 1},
		{"polygon", 501, 500, []int{1, 2}, 2},
		{"linestring", 2001, 2000, []int{1, 2}, 2},
		{"multilinestring", 10, 2000, []int{1}, 1},
		{"line", 4000, 2000, []int{1, 2}, 2},
		{"point", 10000, 10000, []int{1}, 1},
		{"", 25000, 10000, []int{1, 2, 3}, 3},
		{"point", 0, 10000, []int{1}, 0},
		{"polygon", -5, 500, []int{1}, 0},
	}
	for _, tc := range tests {
		t.Run(fmt.Sprintf("%s/%d", tc.class, tc.count), func(t *testing.T) {
			p := PlanChunks(tc.class, tc.count)
			if p.ChunkSize != tc.wantSize {
				t.Fatalf("chunk size = %d, want %d", p.ChunkSize, tc.wantSize)
			}
			if !reflect.DeepEqual(p.ChunkIDs, tc.wantIDs) {
				t.Fatalf("chunk ids = %v, want %v", p.ChunkIDs, tc.wantIDs)
			}
			if p.NumChunks() != tc.wantChunk {
				t.Fatalf("NumChunks = %d, want %d", p.NumChunks(), tc.wantChunk)
			}
		})
	}
}

func TestParseChunkID(t *testing.T) {
	if id, err := ParseChunkID(""); err != nil || id != 1 {
		t.Fatalf("empty = %d, %v", id, err)
	}
	if id, err := ParseChunkID(" 7 "); err != nil || id != 7 {
		t.Fatalf("7 = %d, %v", id, err)
	}
	for raw, msg := range map[string]string{
		"abc": "Invalid chunk_id",
		"1.5": "Invalid chunk_id",
		"0":   "chunk_id must be a positive integer",
		"-3":  "chunk_id must be a positive integer",
	} {
		_, err := ParseChunkID(raw)
		if !IsValidation(err) || err.Error() != msg {
			t.Errorf("ParseChunkID(%q) = %v, want %q", raw, err, msg)
		}
	}
}

func decodeChunk(t *testing.T, c *Chunk) FeatureCollection {
	t.Helper()
	var fc FeatureCollection
	if err := json.Unmarshal(c.Body, &fc); err != nil {
		t.Fatalf("decode chunk body: %v", err)
	}
	return fc
}

func TestGetChunkPolygonLayer(t *testing.T) {
	db := newTestDB(t)
	layer := seedLayer(t, db, "polygon", false)
	insertSquares(t, db, layer.ID, 1200)
	cs := NewChunkServer(db, nil)
	ctx := context.Background()

	seen := map[string]bool{}
	for chunkID, want := range map[int]struct {
		count int
		next  *int
	}{
		1: {500, intPtr(2)},
		2: {500, intPtr(3)},
		3: {200, nil},
	} {
		c, err := cs.GetChunk(ctx, layer.ID, fmt.Sprint(chunkID), true)
		if err != nil {
			t.Fatalf("chunk %d: %v", chunkID, err)
		}
		fc := decodeChunk(t, c)
		if len(fc.Features) != want.count || c.Info.FeaturesCount != want.count {
			t.Fatalf("chunk %d has %d features, want %d", chunkID, len(fc.Features), want.count)
		}
		if c.Info.TotalCount != 1200 || fc.ChunkInfo.TotalCount != 1200 {
			t.Fatalf("chunk %d total = %d", chunkID, c.Info.TotalCount)
		}
		if !reflect.DeepEqual(c.Info.NextChunk, want.next) {
			t.Fatalf("chunk %d next = %v, want %v", chunkID, c.Info.NextChunk, want.next)
		}
		for _, f := range fc.Features {
			if seen[f.ID] {
				t.Fatalf("feature %s returned twice", f.ID)
			}
			seen[f.ID] = true
			if f.Type != "Feature" || f.Geometry == nil {
				t.Fatalf("bad feature %+v", f)
			}
		}
	}
	if len(seen) != 1200 {
		t.Fatalf("chunks covered %d features, want 1200", len(seen))
	}

	// 第一块按 id 顺序
	c, _ := cs.GetChunk(ctx, layer.ID, "", true)
	fc := decodeChunk(t, c)
	if fc.Features[0].ID != "0" || fc.Features[499].ID != "499" {
		t.Fatalf("first chunk not ordered: %s..%s", fc.Features[0].ID, fc.Features[499].ID)
	}

	past, err := cs.GetChunk(ctx, layer.ID, "9", true)
	if err != nil {
		t.Fatal(err)
	}
	if n := len(decodeChunk(t, past).Features); n != 0 || past.Info.NextChunk != nil {
		t.Fatalf("chunk beyond end = %d features, next %v", n, past.Info.NextChunk)
	}
}

func TestGetChunkAccess(t *testing.T) {
	db := newTestDB(t)
	private := seedLayer(t, db, "point", false)
	public := seedLayer(t, db, "point", true)
	cs := NewChunkServer(db, nil)
	ctx := context.Background()

	if _, err := cs.GetChunk(ctx, private.ID, "", false); !IsAccessDenied(err) {
		t.Fatalf("anonymous private = %v, want access denied", err)
	}
	c, err := cs.GetChunk(ctx, public.ID, "", false)
	if err != nil {
		t.Fatalf("anonymous public: %v", err)
	}
	fc := decodeChunk(t, c)
	if fc.Type != "FeatureCollection" || len(fc.Features) != 0 || c.Info.NextChunk != nil {
		t.Fatalf("empty layer chunk = %s", c.Body)
	}
	if _, err := cs.GetChunk(ctx, 9999, "", true); !IsNotFound(err) {
		t.Fatalf("missing layer = %v", err)
	}
	if _, err := cs.GetChunk(ctx, public.ID, "x", true); !IsValidation(err) {
		t.Fatalf("bad chunk id = %v", err)
	}
}

type memoryCache struct {
	mu   sync.Mutex
	data map[string][]byte
	hits int
}

func (m *memoryCache) Get(_ context.Context, key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.data[key]
	if ok {
		m.hits++
	}
	return b, ok
}

func (m *memoryCache) Set(_ context.Context, key string, body []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = body
}

func TestGetChunkCache(t *testing.T) {
	db := newTestDB(t)
	layer := seedLayer(t, db, "polygon", true)
	insertSquares(t, db, layer.ID, 3)
	cache := &memoryCache{data: map[string][]byte{}}
	cs := NewChunkServer(db, cache)
	ctx := context.Background()

	first, err := cs.GetChunk(ctx, layer.ID, "1", false)
	if err != nil {
		t.Fatal(err)
	}
	second, err := cs.GetChunk(ctx, layer.ID, "1", false)
	if err != nil {
		t.Fatal(err)
	}
	if cache.hits != 1 {
		t.Fatalf("cache hits = %d, want 1", cache.hits)
	}
	if string(first.Body) != string(second.Body) || second.Info.FeaturesCount != 3 {
		t.Fatalf("cached chunk differs: %+v", second.Info)
	}
	// 访问控制在读缓存之前
	db.Model(layer).Update("is_public", false)
	if _, err := cs.GetChunk(ctx, layer.ID, "1", false); !IsAccessDenied(err) {
		t.Fatalf("cached chunk served to anonymous caller: %v", err)
	}
}

func intPtr(v int) *int { return &v }
