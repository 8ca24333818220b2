package detectors

import (
	"fmt"
	"sort"

	"github.com/fraudlens/fraudlens/internal/entity"
	"github.com/fraudlens/fraudlens/internal/models"
)

const (
	ringMinComponentSize  = 3
	ringChargebackRateMin = 0.3
)

// LinkRingDetector builds an undirected graph whose nodes are the
// identity facets of each transaction (email, ip subnet, card hash,
// device) and whose edges connect facets appearing on the same
// transaction. Connected components of three or more facets with a
// chargeback rate at or above the threshold are flagged as rings.
type LinkRingDetector struct{}

// NewLinkRingDetector creates the link-analysis ring detector.
func NewLinkRingDetector() *LinkRingDetector {
	return &LinkRingDetector{}
}

// Name implements Detector.
func (d *LinkRingDetector) Name() string { return "link_ring" }

// Detect implements Detector.
func (d *LinkRingDetector) Detect(in Input) Result {
	result := Result{Name: d.Name()}
	if len(in.Transactions) == 0 {
		return result
	}

	uf := newUnionFind()
	txNodes := make([][]string, len(in.Transactions))
	for i, tx := range in.Transactions {
		nodes := facetNodes(tx)
		for _, n := range nodes {
			uf.add(n)
		}
		for j := 1; j < len(nodes); j++ {
			uf.union(nodes[0], nodes[j])
		}
		txNodes[i] = nodes
	}

	// Per-component transaction tallies for chargeback rate.
	type tally struct {
		total int
		fraud int
		size  int
	}
	components := make(map[string]*tally)
	for root := range uf.parent {
		r := uf.find(root)
		if components[r] == nil {
			components[r] = &tally{}
		}
		components[r].size++
	}
	for i, tx := range in.Transactions {
		if len(txNodes[i]) == 0 {
			continue
		}
		r := uf.find(txNodes[i][0])
		t := components[r]
		t.total++
		if tx.ActualLabel != nil && *tx.ActualLabel == 1 {
			t.fraud++
		}
	}

	roots := make([]string, 0, len(components))
	for r := range components {
		roots = append(roots, r)
	}
	sort.Strings(roots)

	for _, r := range roots {
		t := components[r]
		if t.size < ringMinComponentSize || t.total == 0 {
			continue
		}
		rate := float64(t.fraud) / float64(t.total)
		if rate < ringChargebackRateMin {
			continue
		}
		result.Detected = true
		result.Severity = models.SeverityHigh
		result.Evidence = append(result.Evidence, models.Evidence{
			Type:     models.EvidenceLinkRing,
			Severity: models.SeverityHigh,
			Source:   d.Name(),
			Detail: fmt.Sprintf("connected component of %d linked identities, %d tx, chargeback rate %.2f",
				t.size, t.total, rate),
		})
	}

	return result
}

// facetNodes renders the identity facets of one transaction as
// namespaced graph nodes.
func facetNodes(tx models.Transaction) []string {
	var nodes []string
	if tx.EmailNormalized != "" {
		nodes = append(nodes, "email:"+tx.EmailNormalized)
	}
	if tx.IP != "" {
		nodes = append(nodes, "subnet:"+entity.Subnet(tx.IP))
	}
	if h := tx.CardHash(); h != "" {
		nodes = append(nodes, "card:"+h)
	}
	if tx.DeviceID != "" {
		nodes = append(nodes, "device:"+tx.DeviceID)
	}
	return nodes
}

// unionFind is a plain disjoint-set over string nodes.
type unionFind struct {
	parent map[string]string
	rank   map[string]int
}

func newUnionFind() *unionFind {
	return &unionFind{parent: make(map[string]string), rank: make(map[string]int)}
}

func (u *unionFind) add(n string) {
	if _, ok := u.parent[n]; !ok {
		u.parent[n] = n
	}
}

func (u *unionFind) find(n string) string {
	for u.parent[n] != n {
		u.parent[n] = u.parent[u.parent[n]]
		n = u.parent[n]
	}
	return n
}

func (u *unionFind) union(a, b string) {
	ra, rb := u.find(a), u.find(b)
	if ra == rb {
		return
	}
	if u.rank[ra] < u.rank[rb] {
		ra, rb = rb, ra
	}
	u.parent[rb] = ra
	if u.rank[ra] == u.rank[rb] {
		u.rank[ra]++
	}
}
