package database

import (
	"bufio"
	"cmp"
	"container/heap"
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"os"
	"slices"
	"sync"
	"time"

	"github.com/kozaktomas/face-matcher/internal/facematch"
)

// HNSWIndexMetadata stores metadata for validating cached HNSW indexes.
type HNSWIndexMetadata struct {
	EmbeddingCount  int64     `json:"embedding_count"`
	LatestCreatedAt time.Time `json:"latest_created_at"`
	Dim             int       `json:"dim"`
	BuildTime       time.Time `json:"build_time"`
	Version         int       `json:"version"`
}

const hnswMetadataVersion = 3

// ErrDuplicateEmbedding is returned when an embedding ID is already indexed.
var ErrDuplicateEmbedding = errors.New("embedding already indexed")

// HNSWParams tunes the graph.
type HNSWParams struct {
	M              int    // links per node on upper layers, twice as many on layer 0
	EfConstruction int    // candidate list size while inserting
	EfSearch       int    // candidate list size while searching
	Seed           uint64 // level generator seed; equal inputs build equal graphs
}

// DefaultHNSWParams returns the parameters used for 512-dim face embeddings.
func DefaultHNSWParams() HNSWParams {
	return HNSWParams{
		M:              HNSWMaxNeighbors,
		EfConstruction: HNSWEfConstruction,
		EfSearch:       HNSWEfSearch,
		Seed:           HNSWSeed,
	}
}

func (p HNSWParams) withDefaults() HNSWParams {
	if p.M < 2 {
		p.M = HNSWMaxNeighbors
	}
	if p.EfConstruction <= 0 {
		p.EfConstruction = HNSWEfConstruction
	}
	if p.EfSearch <= 0 {
		p.EfSearch = HNSWEfSearch
	}
	if p.Seed == 0 {
		p.Seed = HNSWSeed
	}
	return p
}

func (p HNSWParams) maxLinks(layer int) int {
	if layer == 0 {
		return p.M * 2
	}
	return p.M
}

type hnswNode struct {
	emb     *FaceEmbedding
	level   int
	friends [][]uint32 // friends[layer] holds slot numbers of linked nodes
}

// HNSWIndex is an in-process hierarchical navigable small world graph over
// face embeddings, keyed by embedding ID. Candidates found by the graph are
// re-scored with facematch.Similarity so results carry the same similarity
// an exhaustive scan would report.
type HNSWIndex struct {
	mu       sync.RWMutex
	params   HNSWParams
	nodes    []*hnswNode // slot -> node, nil for free slots
	slots    map[string]uint32
	free     []uint32
	entry    int32 // -1 when empty
	maxLevel int
	count    int
	dim      int
	rng      *rand.Rand
	levelMul float64
}

// NewHNSWIndex creates a new empty HNSW index.
func NewHNSWIndex(params HNSWParams) *HNSWIndex {
	h := &HNSWIndex{params: params.withDefaults()}
	h.resetLocked()
	return h
}

func (h *HNSWIndex) resetLocked() {
	h.nodes = nil
	h.slots = make(map[string]uint32)
	h.free = nil
	h.entry = -1
	h.maxLevel = 0
	h.count = 0
	h.dim = 0
	h.rng = rand.New(rand.NewPCG(h.params.Seed, h.params.Seed^0x9e3779b97f4a7c15))
	h.levelMul = 1 / math.Log(float64(h.params.M))
}

// BuildFromEmbeddings replaces the index contents with the given embeddings.
// Nodes are inserted in slice order.
func (h *HNSWIndex) BuildFromEmbeddings(embeddings []FaceEmbedding) error {
	batch := make([]*FaceEmbedding, len(embeddings))
	for i := range embeddings {
		batch[i] = &embeddings[i]
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.resetLocked()
	if err := h.validateLocked(batch); err != nil {
		return err
	}
	for _, emb := range batch {
		h.insertLocked(emb)
	}
	return nil
}

// Add indexes embeddings. Either all of them are added or, on error, none.
func (h *HNSWIndex) Add(embeddings ...*FaceEmbedding) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.validateLocked(embeddings); err != nil {
		return err
	}
	for _, emb := range embeddings {
		h.insertLocked(emb)
	}
	return nil
}

func (h *HNSWIndex) validateLocked(batch []*FaceEmbedding) error {
	dim := h.dim
	seen := make(map[string]struct{}, len(batch))
	for _, emb := range batch {
		if len(emb.Vector) == 0 {
			return facematch.InvalidEmbeddingf("embedding %s has no vector", emb.ID)
		}
		if dim == 0 {
			dim = len(emb.Vector)
		} else if len(emb.Vector) != dim {
			return &facematch.DimensionMismatchError{Want: dim, Got: len(emb.Vector)}
		}
		if _, ok := h.slots[emb.ID]; ok {
			return fmt.Errorf("%w: %s", ErrDuplicateEmbedding, emb.ID)
		}
		if _, ok := seen[emb.ID]; ok {
			return fmt.Errorf("%w: %s", ErrDuplicateEmbedding, emb.ID)
		}
		seen[emb.ID] = struct{}{}
	}
	return nil
}

// randomLevel draws from the exponential distribution P(level >= l) = M^-l.
func (h *HNSWIndex) randomLevel() int {
	r := max(h.rng.Float64(), math.SmallestNonzeroFloat64)
	return min(int(-math.Log(r)*h.levelMul), 31)
}

func (h *HNSWIndex) insertLocked(emb *FaceEmbedding) {
	var slot uint32
	if n := len(h.free); n > 0 {
		slot = h.free[n-1]
		h.free = h.free[:n-1]
	} else {
		slot = uint32(len(h.nodes))
		h.nodes = append(h.nodes, nil)
	}

	level := h.randomLevel()
	node := &hnswNode{emb: emb, level: level, friends: make([][]uint32, level+1)}
	h.nodes[slot] = node
	h.slots[emb.ID] = slot
	h.count++
	if h.dim == 0 {
		h.dim = len(emb.Vector)
	}

	if h.entry < 0 {
		h.entry = int32(slot)
		h.maxLevel = level
		return
	}

	entryPoints := []uint32{h.descend(emb.Vector, level)}
	for layer := min(level, h.maxLevel); layer >= 0; layer-- {
		found := h.searchLayer(emb.Vector, entryPoints, h.params.EfConstruction, layer)
		limit := h.params.maxLinks(layer)

		node.friends[layer] = h.closest(emb.Vector, found, limit)
		for _, friend := range node.friends[layer] {
			fn := h.nodes[friend]
			if fn == nil || layer >= len(fn.friends) {
				continue
			}
			fn.friends[layer] = append(fn.friends[layer], slot)
			if len(fn.friends[layer]) > limit {
				fn.friends[layer] = h.closest(fn.emb.Vector, fn.friends[layer], limit)
			}
		}
		entryPoints = found
	}

	if level > h.maxLevel {
		h.entry = int32(slot)
		h.maxLevel = level
	}
}

// descend walks greedily from the entry point down to layer stop+1 and
// returns the closest node found.
func (h *HNSWIndex) descend(query []float32, stop int) uint32 {
	cur := uint32(h.entry)
	curDist := cosineDistance(query, h.nodes[cur].emb.Vector)

	for layer := h.maxLevel; layer > stop; layer-- {
		for changed := true; changed; {
			changed = false
			node := h.nodes[cur]
			if layer >= len(node.friends) {
				break
			}
			for _, friend := range node.friends[layer] {
				fn := h.nodes[friend]
				if fn == nil {
					continue
				}
				if d := cosineDistance(query, fn.emb.Vector); d < curDist {
					cur, curDist = friend, d
					changed = true
				}
			}
		}
	}
	return cur
}

type distItem struct {
	slot uint32
	dist float32
}

// nearHeap pops the closest item first.
type nearHeap []distItem

func (q nearHeap) Len() int           { return len(q) }
func (q nearHeap) Less(i, j int) bool { return q[i].dist < q[j].dist }
func (q nearHeap) Swap(i, j int)      { q[i], q[j] = q[j], q[i] }
func (q *nearHeap) Push(x any)        { *q = append(*q, x.(distItem)) }
func (q *nearHeap) Pop() any {
	old := *q
	x := old[len(old)-1]
	*q = old[:len(old)-1]
	return x
}

// farHeap pops the farthest item first.
type farHeap []distItem

func (q farHeap) Len() int           { return len(q) }
func (q farHeap) Less(i, j int) bool { return q[i].dist > q[j].dist }
func (q farHeap) Swap(i, j int)      { q[i], q[j] = q[j], q[i] }
func (q *farHeap) Push(x any)        { *q = append(*q, x.(distItem)) }
func (q *farHeap) Pop() any {
	old := *q
	x := old[len(old)-1]
	*q = old[:len(old)-1]
	return x
}

// searchLayer is a beam search on one layer. It returns up to ef slots
// closest to query. With ef at or above the node count it visits every
// node reachable from the entry points.
func (h *HNSWIndex) searchLayer(query []float32, entryPoints []uint32, ef, layer int) []uint32 {
	visited := make(map[uint32]struct{}, ef*2)
	var candidates nearHeap
	var results farHeap

	for _, ep := range entryPoints {
		node := h.nodes[ep]
		if node == nil {
			continue
		}
		if _, ok := visited[ep]; ok {
			continue
		}
		visited[ep] = struct{}{}
		item := distItem{slot: ep, dist: cosineDistance(query, node.emb.Vector)}
		heap.Push(&candidates, item)
		heap.Push(&results, item)
		if results.Len() > ef {
			heap.Pop(&results)
		}
	}

	for candidates.Len() > 0 {
		closest := heap.Pop(&candidates).(distItem)
		if results.Len() >= ef && closest.dist > results[0].dist {
			break
		}

		node := h.nodes[closest.slot]
		if node == nil || layer >= len(node.friends) {
			continue
		}
		for _, friend := range node.friends[layer] {
			if _, ok := visited[friend]; ok {
				continue
			}
			visited[friend] = struct{}{}

			fn := h.nodes[friend]
			if fn == nil {
				continue
			}
			d := cosineDistance(query, fn.emb.Vector)
			if results.Len() < ef || d < results[0].dist {
				heap.Push(&candidates, distItem{slot: friend, dist: d})
				heap.Push(&results, distItem{slot: friend, dist: d})
				if results.Len() > ef {
					heap.Pop(&results)
				}
			}
		}
	}

	out := make([]uint32, results.Len())
	for i := range out {
		out[i] = results[i].slot
	}
	return out
}

// closest returns up to limit slots nearest to query, nearest first.
func (h *HNSWIndex) closest(query []float32, slots []uint32, limit int) []uint32 {
	items := make([]distItem, 0, len(slots))
	for _, s := range slots {
		if node := h.nodes[s]; node != nil {
			items = append(items, distItem{slot: s, dist: cosineDistance(query, node.emb.Vector)})
		}
	}
	slices.SortFunc(items, func(a, b distItem) int {
		if c := cmp.Compare(a.dist, b.dist); c != 0 {
			return c
		}
		return cmp.Compare(a.slot, b.slot)
	})
	if len(items) > limit {
		items = items[:limit]
	}

	out := make([]uint32, len(items))
	for i, item := range items {
		out[i] = item.slot
	}
	return out
}

// Delete removes an embedding from the graph. Nodes that linked to it are
// relinked through its neighbours so the remaining graph stays navigable.
// Deletion walks every node; identities are deleted far less often than queried.
func (h *HNSWIndex) Delete(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	slot, ok := h.slots[id]
	if !ok {
		return
	}
	removed := h.nodes[slot]

	for i, node := range h.nodes {
		if node == nil || uint32(i) == slot {
			continue
		}
		for layer := 0; layer <= min(node.level, removed.level); layer++ {
			if !slices.Contains(node.friends[layer], slot) {
				continue
			}
			merged := slices.DeleteFunc(slices.Clone(node.friends[layer]), func(s uint32) bool { return s == slot })
			for _, s := range removed.friends[layer] {
				if s != uint32(i) && s != slot && !slices.Contains(merged, s) {
					merged = append(merged, s)
				}
			}
			node.friends[layer] = h.closest(node.emb.Vector, merged, h.params.maxLinks(layer))
		}
	}

	h.nodes[slot] = nil
	delete(h.slots, id)
	h.free = append(h.free, slot)
	h.count--

	if h.count == 0 {
		h.resetLocked()
		return
	}
	if h.entry == int32(slot) {
		h.entry, h.maxLevel = -1, -1
		for i, node := range h.nodes {
			if node != nil && node.level > h.maxLevel {
				h.entry, h.maxLevel = int32(i), node.level
			}
		}
	}
}

// Search returns up to k nearest embeddings, most similar first.
func (h *HNSWIndex) Search(query []float32, k int) ([]facematch.Candidate, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.count == 0 || k <= 0 {
		return nil, nil
	}
	if len(query) != h.dim {
		return nil, &facematch.DimensionMismatchError{Want: h.dim, Got: len(query)}
	}

	start := h.descend(query, 0)
	found := h.searchLayer(query, []uint32{start}, max(h.params.EfSearch, k), 0)

	candidates := make([]facematch.Candidate, 0, len(found))
	for _, s := range found {
		emb := h.nodes[s].emb
		sim, err := facematch.Similarity(query, emb.Vector)
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, facematch.Candidate{
			EmbeddingID: emb.ID,
			OwnerID:     emb.OwnerID,
			Similarity:  sim,
		})
	}
	slices.SortStableFunc(candidates, func(a, b facematch.Candidate) int {
		return cmp.Compare(b.Similarity, a.Similarity)
	})
	if len(candidates) > k {
		candidates = candidates[:k]
	}
	return candidates, nil
}

// Nearest returns the embedding closest to query, or nil when the index is empty.
func (h *HNSWIndex) Nearest(query []float32) (*facematch.Candidate, error) {
	candidates, err := h.Search(query, 1)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, nil
	}
	return &candidates[0], nil
}

// Count returns the number of indexed embeddings.
func (h *HNSWIndex) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count
}

// Dim returns the dimension of indexed vectors, 0 when empty.
func (h *HNSWIndex) Dim() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.dim
}

func cosineDistance(a, b []float32) float32 {
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return float32(1 - dot)
}

type savedHNSW struct {
	M              int
	EfConstruction int
	Dim            int
	Entry          int32
	MaxLevel       int
	Nodes          []savedHNSWNode
}

type savedHNSWNode struct {
	Embedding FaceEmbedding
	Level     int
	Friends   [][]uint32
}

// SaveWithMetadata persists the graph and metadata for staleness detection.
// Files: path (gob encoded graph) and path.meta (JSON).
func (h *HNSWIndex) SaveWithMetadata(path string, metadata HNSWIndexMetadata) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.count == 0 {
		// Remove existing files if index is empty (best-effort cleanup).
		_ = os.Remove(path)
		_ = os.Remove(path + ".meta")
		return nil
	}

	// Free slots are squeezed out, so links are renumbered.
	renumber := make(map[uint32]uint32, h.count)
	for i, node := range h.nodes {
		if node != nil {
			renumber[uint32(i)] = uint32(len(renumber))
		}
	}
	saved := savedHNSW{
		M:              h.params.M,
		EfConstruction: h.params.EfConstruction,
		Dim:            h.dim,
		Entry:          int32(renumber[uint32(h.entry)]),
		MaxLevel:       h.maxLevel,
		Nodes:          make([]savedHNSWNode, 0, h.count),
	}
	for _, node := range h.nodes {
		if node == nil {
			continue
		}
		friends := make([][]uint32, len(node.friends))
		for layer, links := range node.friends {
			friends[layer] = make([]uint32, len(links))
			for j, s := range links {
				friends[layer][j] = renumber[s]
			}
		}
		saved.Nodes = append(saved.Nodes, savedHNSWNode{Embedding: *node.emb, Level: node.level, Friends: friends})
	}

	f, err := os.Create(path) //nolint:gosec // path is from trusted config
	if err != nil {
		return fmt.Errorf("failed to create HNSW index file: %w", err)
	}
	w := bufio.NewWriter(f)
	if err := gob.NewEncoder(w).Encode(saved); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to encode HNSW graph: %w", err)
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write HNSW graph: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing HNSW index file: %w", err)
	}

	metadata.Version = hnswMetadataVersion
	metadata.Dim = h.dim
	metadata.BuildTime = time.Now()
	metaData, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	if err := os.WriteFile(path+".meta", metaData, 0600); err != nil {
		return fmt.Errorf("failed to write metadata file: %w", err)
	}

	fmt.Printf("Face index: wrote %d entries to %s\n", len(saved.Nodes), path)
	return nil
}

// LoadHNSWMetadata loads metadata from a separate .meta file.
func LoadHNSWMetadata(path string) (HNSWIndexMetadata, error) {
	var metadata HNSWIndexMetadata

	data, err := os.ReadFile(path + ".meta") //nolint:gosec // path is from trusted config
	if err != nil {
		return metadata, fmt.Errorf("failed to read metadata file: %w", err)
	}
	if err := json.Unmarshal(data, &metadata); err != nil {
		return metadata, fmt.Errorf("failed to unmarshal metadata: %w", err)
	}
	if metadata.Version != hnswMetadataVersion {
		return metadata, fmt.Errorf("unsupported index metadata version %d", metadata.Version)
	}
	return metadata, nil
}

// Load replaces the index contents with a graph saved by SaveWithMetadata.
// The saved link limits are kept; EfSearch comes from the current params.
func (h *HNSWIndex) Load(path string) error {
	if _, err := LoadHNSWMetadata(path); err != nil {
		return err
	}

	f, err := os.Open(path) //nolint:gosec // path is from trusted config
	if err != nil {
		return fmt.Errorf("failed to open HNSW index: %w", err)
	}
	defer f.Close()

	var saved savedHNSW
	if err := gob.NewDecoder(bufio.NewReader(f)).Decode(&saved); err != nil {
		return fmt.Errorf("failed to decode HNSW graph: %w", err)
	}
	if len(saved.Nodes) == 0 || saved.Entry < 0 || int(saved.Entry) >= len(saved.Nodes) ||
		saved.M < 2 || saved.Nodes[saved.Entry].Level != saved.MaxLevel {
		return errors.New("HNSW index file is corrupt")
	}

	nodes := make([]*hnswNode, len(saved.Nodes))
	slots := make(map[string]uint32, len(saved.Nodes))
	for i := range saved.Nodes {
		sn := &saved.Nodes[i]
		if len(sn.Embedding.Vector) != saved.Dim || len(sn.Friends) != sn.Level+1 {
			return fmt.Errorf("HNSW index file is corrupt at node %d", i)
		}
		for _, links := range sn.Friends {
			for _, s := range links {
				if int(s) >= len(saved.Nodes) {
					return fmt.Errorf("HNSW index file is corrupt at node %d", i)
				}
			}
		}
		nodes[i] = &hnswNode{emb: &sn.Embedding, level: sn.Level, friends: sn.Friends}
		slots[sn.Embedding.ID] = uint32(i)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.params.M = saved.M
	h.params.EfConstruction = saved.EfConstruction
	h.resetLocked()
	h.nodes = nodes
	h.slots = slots
	h.entry = saved.Entry
	h.maxLevel = saved.MaxLevel
	h.count = len(nodes)
	h.dim = saved.Dim
	return nil
}
