package calibration

import (
	"fmt"
	"math"
	"math/rand/v2"
	"slices"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/tensorplex-labs/conformal/internal/conformal"
)

// EmbeddingLevels are the quantile levels used to embed a class's true-class score distribution.
var EmbeddingLevels = []float64{0.5, 0.6, 0.7, 0.8, 0.9}

const maxKMeansIterations = 100

type clusterKind int

const (
	noClusters clusterKind = iota
	explicitClusters
	classClusters
)

type clusterConfig struct {
	kind clusterKind
	k    int
	ids  []int
	seed uint64
}

func (c clusterConfig) validate(numExamples int) error {
	switch c.kind {
	case noClusters:
		return nil
	case explicitClusters:
		if c.k <= 0 {
			return fmt.Errorf("%w: cluster count must be positive, got %d", conformal.ErrInvalidParameter, c.k)
		}
		if len(c.ids) != numExamples {
			return fmt.Errorf("%w: %d cluster ids for %d examples", conformal.ErrInvalidInput, len(c.ids), numExamples)
		}
		for i, id := range c.ids {
			if id < 0 || id >= c.k {
				return fmt.Errorf("%w: cluster id %d of example %d is outside [0, %d)", conformal.ErrInvalidInput, id, i, c.k)
			}
		}
	case classClusters:
		if c.k <= 0 {
			return fmt.Errorf("%w: cluster count must be positive, got %d", conformal.ErrInvalidParameter, c.k)
		}
	}
	return nil
}

// clusterThresholds calibrates each of the k clusters on its own examples.
func clusterThresholds(scores []float64, ids []int, k int, q quantileFn) ([]ClusterThreshold, error) {
	groups := make([][]float64, k)
	for i, id := range ids {
		groups[id] = append(groups[id], scores[i])
	}

	out := make([]ClusterThreshold, k)
	for id, group := range groups {
		if len(group) == 0 {
			return nil, fmt.Errorf("%w: cluster %d has no calibration examples", conformal.ErrInsufficientCalibrationData, id)
		}
		g, err := q(group)
		if err != nil {
			return nil, fmt.Errorf("cluster %d: %w", id, err)
		}
		out[id] = ClusterThreshold{ID: id, GroupThreshold: g}
	}
	return out, nil
}

// ClusterClasses groups the classes of one task by the distribution of their true-class scores
// and returns the cluster of every class (-1 for classes with no calibration examples). Cluster
// IDs are numbered in order of their lowest class index.
func ClusterClasses(trueScores []float64, labels []int, numClasses, k int, seed uint64) ([]int, error) {
	byClass := make([][]float64, numClasses)
	for i, label := range labels {
		byClass[label] = append(byClass[label], trueScores[i])
	}

	observed := make([]int, 0, numClasses)
	points := make([][]float64, 0, numClasses)
	for class, s := range byClass {
		if len(s) == 0 {
			continue
		}
		observed = append(observed, class)
		points = append(points, quantileEmbedding(s))
	}
	if k > len(observed) {
		return nil, fmt.Errorf("%w: %d clusters requested but only %d classes have calibration examples",
			conformal.ErrInvalidParameter, k, len(observed))
	}
	if distinct := distinctPoints(points); k > distinct {
		return nil, fmt.Errorf("%w: %d clusters requested but classes have only %d distinct score distributions",
			conformal.ErrInvalidParameter, k, distinct)
	}

	assign := kMeans(points, k, rand.New(rand.NewPCG(seed, uint64(numClasses))))

	relabel := make(map[int]int, k)
	assignment := make([]int, numClasses)
	for class := range assignment {
		assignment[class] = -1
	}
	for p, class := range observed {
		id, ok := relabel[assign[p]]
		if !ok {
			id = len(relabel)
			relabel[assign[p]] = id
		}
		assignment[class] = id
	}
	if len(relabel) < k {
		return nil, fmt.Errorf("%w: only %d of %d clusters received classes", conformal.ErrInsufficientCalibrationData, len(relabel), k)
	}
	return assignment, nil
}

func quantileEmbedding(scores []float64) []float64 {
	sorted := slices.Clone(scores)
	slices.Sort(sorted)

	embedding := make([]float64, len(EmbeddingLevels))
	for i, level := range EmbeddingLevels {
		embedding[i] = stat.Quantile(level, stat.Empirical, sorted, nil)
	}
	return embedding
}

// kMeans runs k-means++ seeding followed by Lloyd iterations and returns the cluster of every point.
func kMeans(points [][]float64, k int, rng *rand.Rand) []int {
	centroids := seedCentroids(points, k, rng)
	assign := make([]int, len(points))
	for i := range assign {
		assign[i] = -1
	}

	for range maxKMeansIterations {
		changed := false
		for p, point := range points {
			nearest := nearestCentroid(point, centroids)
			if nearest != assign[p] {
				assign[p] = nearest
				changed = true
			}
		}
		if !changed {
			break
		}

		for c := range centroids {
			sum := make([]float64, len(points[0]))
			members := 0
			for p, point := range points {
				if assign[p] == c {
					floats.Add(sum, point)
					members++
				}
			}
			if members > 0 {
				floats.Scale(1/float64(members), sum)
				centroids[c] = sum
			}
		}
	}
	return assign
}

func seedCentroids(points [][]float64, k int, rng *rand.Rand) [][]float64 {
	centroids := make([][]float64, 0, k)
	centroids = append(centroids, slices.Clone(points[rng.IntN(len(points))]))

	dist := make([]float64, len(points))
	for len(centroids) < k {
		for p, point := range points {
			d := floats.Distance(point, centroids[nearestCentroid(point, centroids)], 2)
			dist[p] = d * d
		}

		total := floats.Sum(dist)
		next := rng.IntN(len(points))
		if total > 0 {
			target := rng.Float64() * total
			for p, d := range dist {
				if d == 0 {
					continue
				}
				next = p
				target -= d
				if target < 0 {
					break
				}
			}
		}
		centroids = append(centroids, slices.Clone(points[next]))
	}
	return centroids
}

func distinctPoints(points [][]float64) int {
	distinct := make([][]float64, 0, len(points))
	for _, point := range points {
		if !slices.ContainsFunc(distinct, func(d []float64) bool { return slices.Equal(d, point) }) {
			distinct = append(distinct, point)
		}
	}
	return len(distinct)
}

func nearestCentroid(point []float64, centroids [][]float64) int {
	best, bestDist := 0, math.Inf(1)
	for c, centroid := range centroids {
		if d := floats.Distance(point, centroid, 2); d < bestDist {
			best, bestDist = c, d
		}
	}
	return best
}
