package model

import (
	"math"
	"math/rand"
)

// Isolation forest parameters. 100 trees over 256-point subsamples is the
// standard configuration; anomaly scores stabilize well before that.
const (
	numTrees      = 100
	subsampleSize = 256
)

type forest struct {
	trees      []*treeNode
	sampleSize int
}

type treeNode struct {
	left       *treeNode
	right      *treeNode
	splitFeat  int
	splitValue float64
	size       int // external node: points isolated here
}

// buildForest fits an isolation forest on standardized feature rows.
// The rng is seeded by the caller, so identical data yields an
// identical forest.
func buildForest(rows [][]float64, rng *rand.Rand) *forest {
	sample := subsampleSize
	if sample > len(rows) {
		sample = len(rows)
	}
	heightLimit := int(math.Ceil(math.Log2(float64(sample))))

	trees := make([]*treeNode, numTrees)
	for i := range trees {
		idx := rng.Perm(len(rows))[:sample]
		subset := make([][]float64, sample)
		for j, k := range idx {
			subset[j] = rows[k]
		}
		trees[i] = buildTree(subset, 0, heightLimit, rng)
	}

	return &forest{trees: trees, sampleSize: sample}
}

func buildTree(rows [][]float64, depth, heightLimit int, rng *rand.Rand) *treeNode {
	if depth >= heightLimit || len(rows) <= 1 {
		return &treeNode{size: len(rows)}
	}

	feat := rng.Intn(len(rows[0]))

	lo, hi := rows[0][feat], rows[0][feat]
	for _, r := range rows[1:] {
		if r[feat] < lo {
			lo = r[feat]
		}
		if r[feat] > hi {
			hi = r[feat]
		}
	}
	if lo == hi {
		return &treeNode{size: len(rows)}
	}

	split := lo + rng.Float64()*(hi-lo)

	var left, right [][]float64
	for _, r := range rows {
		if r[feat] < split {
			left = append(left, r)
		} else {
			right = append(right, r)
		}
	}

	return &treeNode{
		splitFeat:  feat,
		splitValue: split,
		left:       buildTree(left, depth+1, heightLimit, rng),
		right:      buildTree(right, depth+1, heightLimit, rng),
	}
}

// score returns the anomaly score in (0,1); higher means more isolated.
func (f *forest) score(row []float64) float64 {
	var total float64
	for _, tree := range f.trees {
		total += pathLength(tree, row, 0)
	}
	avgPath := total / float64(len(f.trees))
	return math.Pow(2, -avgPath/avgPathLength(f.sampleSize))
}

func pathLength(node *treeNode, row []float64, depth float64) float64 {
	if node.left == nil {
		// External node: add the average path of an unbuilt subtree
		return depth + avgPathLength(node.size)
	}
	if row[node.splitFeat] < node.splitValue {
		return pathLength(node.left, row, depth+1)
	}
	return pathLength(node.right, row, depth+1)
}

// avgPathLength is c(n), the average path length of an unsuccessful BST
// search over n points.
func avgPathLength(n int) float64 {
	if n <= 1 {
		return 0
	}
	h := math.Log(float64(n-1)) + 0.5772156649 // harmonic number approximation
	return 2*h - 2*float64(n-1)/float64(n)
}

// scaler standardizes features with training-set mean and stddev.
type scaler struct {
	means []float64
	stds  []float64
}

func fitScaler(rows [][]float64) *scaler {
	if len(rows) == 0 {
		return &scaler{}
	}
	dims := len(rows[0])
	means := make([]float64, dims)
	stds := make([]float64, dims)

	for _, r := range rows {
		for d, v := range r {
			means[d] += v
		}
	}
	for d := range means {
		means[d] /= float64(len(rows))
	}

	for _, r := range rows {
		for d, v := range r {
			diff := v - means[d]
			stds[d] += diff * diff
		}
	}
	for d := range stds {
		stds[d] = math.Sqrt(stds[d] / float64(len(rows)))
		if stds[d] == 0 {
			stds[d] = 1
		}
	}

	return &scaler{means: means, stds: stds}
}

func (s *scaler) transform(row []float64) []float64 {
	out := make([]float64, len(row))
	for d, v := range row {
		out[d] = (v - s.means[d]) / s.stds[d]
	}
	return out
}

func (s *scaler) transformAll(rows [][]float64) [][]float64 {
	out := make([][]float64, len(rows))
	for i, r := range rows {
		out[i] = s.transform(r)
	}
	return out
}
