package tracker

import (
	"fmt"
	"sort"

	"github.com/arthurkushman/go-hungarian"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// MatchingAlgorithm is for algorithm type for matching detections to tokens
type MatchingAlgorithm uint16

const (
	// MatchingGreedy processes tokens by ascending nearest distance and takes each token's nearest detection.
	// Ties are broken by lowest token index, then lowest detection index.
	MatchingGreedy MatchingAlgorithm = iota
	// MatchingHungarian uses the Hungarian algorithm (Kuhn-Munkres) for globally optimal assignment
	MatchingHungarian
)

func (algorithm MatchingAlgorithm) String() string {
	switch algorithm {
	case MatchingGreedy:
		return "greedy"
	case MatchingHungarian:
		return "hungarian"
	default:
		return fmt.Sprintf("MatchingAlgorithm(%d)", uint16(algorithm))
	}
}

// ParseMatchingAlgorithm parses "greedy" or "hungarian"
func ParseMatchingAlgorithm(name string) (MatchingAlgorithm, error) {
	switch name {
	case "greedy", "":
		return MatchingGreedy, nil
	case "hungarian":
		return MatchingHungarian, nil
	default:
		return MatchingGreedy, errors.Errorf("unknown matching algorithm %q", name)
	}
}

// distanceMatrix builds D[i][j] = distance between i-th token and j-th detection.
// Both slices must be non-empty.
func distanceMatrix(tokens []*Token, detections []Detection) *mat.Dense {
	dist := mat.NewDense(len(tokens), len(detections), nil)
	for i, token := range tokens {
		for j, detection := range detections {
			dist.Set(i, j, euclideanDistance(token.Centroid, detection.Centroid))
		}
	}
	return dist
}

// match returns (row, col) pairs of the distance matrix
func match(algorithm MatchingAlgorithm, dist *mat.Dense) [][2]int {
	switch algorithm {
	case MatchingHungarian:
		return hungarianMatching(dist)
	default:
		return greedyMatching(dist)
	}
}

// greedyMatching orders rows by their minimum distance and assigns each row
// its nearest column unless the row or the column was taken already.
func greedyMatching(dist *mat.Dense) [][2]int {
	rows, cols := dist.Dims()
	priorityQueue := make(distanceHeap, 0, rows)
	for row := 0; row < rows; row++ {
		rowValues := dist.RawRowView(row)
		// MinIdx returns the first index on ties
		col := floats.MinIdx(rowValues)
		priorityQueue.Push(&rowCandidate{
			row:      row,
			col:      col,
			distance: rowValues[col],
		})
	}

	usedRows := make(map[int]struct{}, rows)
	usedCols := make(map[int]struct{}, cols)
	matches := make([][2]int, 0, rows)
	for priorityQueue.Len() > 0 {
		candidate := priorityQueue.Pop()
		if _, ok := usedRows[candidate.row]; ok {
			continue
		}
		if _, ok := usedCols[candidate.col]; ok {
			continue
		}
		usedRows[candidate.row] = struct{}{}
		usedCols[candidate.col] = struct{}{}
		matches = append(matches, [2]int{candidate.row, candidate.col})
	}
	return matches
}

// hungarianMatching solves the assignment maximizing similarity (maxDistance - distance + 1).
// Rectangular matrices are padded with zero similarity.
func hungarianMatching(dist *mat.Dense) [][2]int {
	rows, cols := dist.Dims()
	maxDistance := mat.Max(dist)
	paddedSize := maxInt(rows, cols)
	paddedMatrix := make([][]float64, paddedSize)
	for i := 0; i < paddedSize; i++ {
		paddedMatrix[i] = make([]float64, paddedSize)
	}
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			paddedMatrix[i][j] = maxDistance - dist.At(i, j) + 1.0
		}
	}
	assignmentsMap := hungarian.SolveMax(paddedMatrix)
	matches := make([][2]int, 0, rows)
	for row, rowMap := range assignmentsMap {
		for col := range rowMap {
			if row < rows && col < cols {
				matches = append(matches, [2]int{row, col})
			}
		}
	}
	sort.Slice(matches, func(i, j int) bool {
		return matches[i][0] < matches[j][0]
	})
	return matches
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
