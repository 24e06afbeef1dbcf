/*
Package downline renders the referral graph below an affiliate as a
bounded-depth tree.

PURPOSE:
  Walks the referral relation downward from a root affiliate, producing a
  nested view for reporting. Strictly read-only: no record it visits is
  ever mutated, and concurrent balance updates underneath a render are
  tolerated (per-node values are copies; no cross-node snapshot).

BOUNDS (all three always on):
  - Depth cap: expansion stops at max depth. This is also the only cycle
    defense - the walk never assumes the sponsor relation is acyclic.
  - Node-visit budget: once the budget is spent, further expansion is cut
    and the result is flagged Truncated. A pathological wide network
    returns a partial tree, never an error.
  - Worker cap: independent subtrees expand concurrently, bounded by an
    errgroup limit so a wide first level cannot storm the store.

DETERMINISM:
  Children appear in the Directory's DirectReferrals order (joined_at,
  then code), so repeated calls over a stable graph produce identical
  trees. Under an active budget the truncation point may differ between
  runs; the Truncated flag is the signal to treat the tree as partial.

WALK SHAPE:
  Explicit iterative queue per subtree, never recursion. A corrupted graph
  costs at most depth x budget visits, not a stack overflow.
*/
package downline

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/netweave/affiliate-engine/affiliate"
)

// Defaults applied when the Builder is configured with zero values.
const (
	DefaultMaxDepth = 5
	DefaultWorkers  = 4
)

// =============================================================================
// TREE - Rendered result
// =============================================================================

// Node is one affiliate in the rendered tree. Counter fields are the
// stored values from the record, not live recounts.
type Node struct {
	Code                affiliate.Code `json:"code"`
	Name                string         `json:"name"`
	Email               string         `json:"email"`
	Depth               int            `json:"depth"`
	TotalEarnings       string         `json:"totalEarnings"`
	DirectReferralCount int            `json:"directReferralCount"`
	DownlineCount       int            `json:"downlineCount"`
	JoinedAt            time.Time      `json:"joinedAt"`
	Children            []*Node        `json:"children"`
}

// Tree is the full render plus its cost accounting.
type Tree struct {
	Root      *Node `json:"root"`
	Truncated bool  `json:"truncated"`
	Visited   int   `json:"visited"`
}

// =============================================================================
// BUILDER
// =============================================================================

type Builder struct {
	Directory affiliate.Directory

	// MaxDepth is the hard cap; per-request depths are clamped to it.
	MaxDepth int

	// Workers bounds concurrent subtree expansion.
	Workers int
}

func NewBuilder(dir affiliate.Directory, maxDepth, workers int) *Builder {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	if workers <= 0 {
		workers = DefaultWorkers
	}
	return &Builder{Directory: dir, MaxDepth: maxDepth, Workers: workers}
}

// Build renders the downline of rootCode down to maxDepth levels below
// the root. budget caps total node visits (<= 0 means unlimited). Returns
// affiliate.ErrNotFound when the root does not resolve; budget or
// deadline exhaustion returns a partial tree with Truncated set, not an
// error.
func (b *Builder) Build(ctx context.Context, rootCode affiliate.Code, maxDepth, budget int) (*Tree, error) {
	if maxDepth < 0 || maxDepth > b.MaxDepth {
		maxDepth = b.MaxDepth
	}

	root, err := b.Directory.ByCode(ctx, rootCode)
	if err != nil {
		return nil, err
	}

	w := &walk{dir: b.Directory, maxDepth: maxDepth}
	if budget > 0 {
		w.budget.Store(int64(budget))
		w.budgeted = true
	}

	rootNode := newNode(root, 0)
	w.visited.Add(1)
	w.consume(1) // root spends budget like any other node

	if maxDepth > 0 {
		if err := b.expandConcurrent(ctx, w, rootNode, root.Code); err != nil {
			return nil, err
		}
	}

	return &Tree{
		Root:      rootNode,
		Truncated: w.truncated.Load(),
		Visited:   int(w.visited.Load()),
	}, nil
}

// expandConcurrent fans the root's direct subtrees out across workers.
// Below the first level each subtree expands sequentially, so the group
// never nests and the worker cap bounds total concurrency.
func (b *Builder) expandConcurrent(ctx context.Context, w *walk, rootNode *Node, rootCode affiliate.Code) error {
	direct, err := b.Directory.DirectReferrals(ctx, rootCode)
	if err != nil {
		return err
	}

	children := make([]*Node, len(direct))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.Workers)

	for i, ref := range direct {
		ref := ref
		if !w.admit(gctx) {
			break
		}
		node := newNode(ref, 1)
		children[i] = node
		w.visited.Add(1)

		g.Go(func() error {
			w.expandSubtree(gctx, node, ref.Code)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	// Slots skipped by budget/deadline stay nil; compact them out so the
	// rendered order stays the query order.
	for _, c := range children {
		if c != nil {
			rootNode.Children = append(rootNode.Children, c)
		}
	}
	return nil
}

// =============================================================================
// WALK STATE - Shared, atomic
// =============================================================================

type walk struct {
	dir      affiliate.Directory
	maxDepth int

	budgeted  bool
	budget    atomic.Int64
	visited   atomic.Int64
	truncated atomic.Bool
}

// admit reports whether one more node may be visited, marking the tree
// truncated when the budget or deadline says no.
func (w *walk) admit(ctx context.Context) bool {
	if ctx.Err() != nil {
		w.truncated.Store(true)
		return false
	}
	if !w.consume(1) {
		w.truncated.Store(true)
		return false
	}
	return true
}

func (w *walk) consume(n int64) bool {
	if !w.budgeted {
		return true
	}
	if w.budget.Add(-n) < 0 {
		return false
	}
	return true
}

// expandSubtree grows one subtree breadth-first with an explicit queue.
// Queue order preserves the per-parent child ordering the Directory
// guarantees.
func (w *walk) expandSubtree(ctx context.Context, node *Node, code affiliate.Code) {
	type frame struct {
		node *Node
		code affiliate.Code
	}
	queue := []frame{{node: node, code: code}}

	for len(queue) > 0 {
		f := queue[0]
		queue = queue[1:]

		if f.node.Depth >= w.maxDepth {
			continue // children stay empty at the depth boundary
		}

		refs, err := w.dir.DirectReferrals(ctx, f.code)
		if err != nil {
			// Read failure mid-walk degrades to a partial tree; the
			// render must never fail a reporting request outright.
			w.truncated.Store(true)
			continue
		}

		for _, ref := range refs {
			if !w.admit(ctx) {
				return
			}
			child := newNode(ref, f.node.Depth+1)
			f.node.Children = append(f.node.Children, child)
			w.visited.Add(1)
			queue = append(queue, frame{node: child, code: ref.Code})
		}
	}
}

func newNode(a *affiliate.Affiliate, depth int) *Node {
	return &Node{
		Code:                a.Code,
		Name:                a.Name,
		Email:               a.Email,
		Depth:               depth,
		TotalEarnings:       a.TotalEarnings.String(),
		DirectReferralCount: a.DirectReferralCount,
		DownlineCount:       a.DownlineCount,
		JoinedAt:            a.JoinedAt,
		Children:            []*Node{},
	}
}
