package cluster

import "strings"

// Gap penalties of the reference scoring scheme.
const (
	GapOpen   = 11
	GapExtend = 1
)

const negInf = -1 << 40

// Alignment summarizes a global alignment of two peptide sequences.
type Alignment struct {
	Score            int
	Length           int     // Number of alignment columns, gaps included
	Identities       int     // Columns with the same residue on both sides
	PercentIdentity  float64 // Identities / Length * 100
	LongestIdentical int     // Longest run of consecutive identical columns
}

// Align runs a Needleman-Wunsch global alignment with affine gaps (Gotoh) over
// BLOSUM62. A gap of length k costs GapOpen + (k-1)*GapExtend.
func Align(a, b string) Alignment {
	a = strings.ToUpper(a)
	b = strings.ToUpper(b)
	n, m := len(a), len(b)
	if n == 0 && m == 0 {
		return Alignment{}
	}

	// mat: residue pair ends the column; gapB: a[i] against a gap; gapA: b[j] against a gap.
	mat := newMatrix(n+1, m+1)
	gapB := newMatrix(n+1, m+1)
	gapA := newMatrix(n+1, m+1)
	mat[0][0] = 0

	for i := 0; i <= n; i++ {
		for j := 0; j <= m; j++ {
			if i == 0 && j == 0 {
				continue
			}
			if i > 0 && j > 0 {
				mat[i][j] = blosum62(a[i-1], b[j-1]) + max3(mat[i-1][j-1], gapB[i-1][j-1], gapA[i-1][j-1])
			}
			if i > 0 {
				gapB[i][j] = max3(mat[i-1][j]-GapOpen, gapB[i-1][j]-GapExtend, gapA[i-1][j]-GapOpen)
			}
			if j > 0 {
				gapA[i][j] = max3(mat[i][j-1]-GapOpen, gapA[i][j-1]-GapExtend, gapB[i][j-1]-GapOpen)
			}
		}
	}

	const (
		inMat = iota
		inGapB
		inGapA
	)

	state := inMat
	score := mat[n][m]
	if gapB[n][m] > score {
		state, score = inGapB, gapB[n][m]
	}
	if gapA[n][m] > score {
		state, score = inGapA, gapA[n][m]
	}

	res := Alignment{Score: score}
	run := 0
	i, j := n, m
	for i > 0 || j > 0 {
		res.Length++
		switch state {
		case inMat:
			if a[i-1] == b[j-1] {
				res.Identities++
				run++
				if run > res.LongestIdentical {
					res.LongestIdentical = run
				}
			} else {
				run = 0
			}
			prev := mat[i][j] - blosum62(a[i-1], b[j-1])
			switch {
			case mat[i-1][j-1] == prev:
				state = inMat
			case gapB[i-1][j-1] == prev:
				state = inGapB
			default:
				state = inGapA
			}
			i--
			j--
		case inGapB:
			run = 0
			cur := gapB[i][j]
			switch {
			case mat[i-1][j]-GapOpen == cur:
				state = inMat
			case gapB[i-1][j]-GapExtend == cur:
				state = inGapB
			default:
				state = inGapA
			}
			i--
		case inGapA:
			run = 0
			cur := gapA[i][j]
			switch {
			case mat[i][j-1]-GapOpen == cur:
				state = inMat
			case gapA[i][j-1]-GapExtend == cur:
				state = inGapA
			default:
				state = inGapB
			}
			j--
		}
	}

	res.PercentIdentity = float64(res.Identities) / float64(res.Length) * 100
	return res
}

func newMatrix(rows, cols int) [][]int {
	cells := make([]int, rows*cols)
	for i := range cells {
		cells[i] = negInf
	}
	m := make([][]int, rows)
	for i := range m {
		m[i] = cells[i*cols : (i+1)*cols]
	}
	return m
}

func max3(a, b, c int) int {
	return max(a, b, c)
}

const blosumOrder = "ARNDCQEGHILKMFPSTWYVBZX*"

var blosumIndex = func() [256]int {
	var idx [256]int
	for i := range idx {
		idx[i] = strings.IndexByte(blosumOrder, 'X')
	}
	for i := 0; i < len(blosumOrder); i++ {
		idx[blosumOrder[i]] = i
	}
	return idx
}()

var blosum62Matrix = [24][24]int{
	{4, -1, -2, -2, 0, -1, -1, 0, -2, -1, -1, -1, -1, -2, -1, 1, 0, -3, -2, 0, -2, -1, 0, -4},
	{-1, 5, 0, -2, -3, 1, 0, -2, 0, -3, -2, 2, -1, -3, -2, -1, -1, -3, -2, -3, -1, 0, -1, -4},
	{-2, 0, 6, 1, -3, 0, 0, 0, 1, -3, -3, 0, -2, -3, -2, 1, 0, -4, -2, -3, 3, 0, -1, -4},
	{-2, -2, 1, 6, -3, 0, 2, -1, -1, -3, -4, -1, -3, -3, -1, 0, -1, -4, -3, -3, 4, 1, -1, -4},
	{0, -3, -3, -3, 9, -3, -4, -3, -3, -1, -1, -3, -1, -2, -3, -1, -1, -2, -2, -1, -3, -3, -2, -4},
	{-1, 1, 0, 0, -3, 5, 2, -2, 0, -3, -2, 1, 0, -3, -1, 0, -1, -2, -1, -2, 0, 3, -1, -4},
	{-1, 0, 0, 2, -4, 2, 5, -2, 0, -3, -3, 1, -2, -3, -1, 0, -1, -3, -2, -2, 1, 4, -1, -4},
	{0, -2, 0, -1, -3, -2, -2, 6, -2, -4, -4, -2, -3, -3, -2, 0, -2, -2, -3, -3, -1, -2, -1, -4},
	{-2, 0, 1, -1, -3, 0, 0, -2, 8, -3, -3, -1, -2, -1, -2, -1, -2, -2, 2, -3, 0, 0, -1, -4},
	{-1, -3, -3, -3, -1, -3, -3, -4, -3, 4, 2, -3, 1, 0, -3, -2, -1, -3, -1, 3, -3, -3, -1, -4},
	{-1, -2, -3, -4, -1, -2, -3, -4, -3, 2, 4, -2, 2, 0, -3, -2, -1, -2, -1, 1, -4, -3, -1, -4},
	{-1, 2, 0, -1, -3, 1, 1, -2, -1, -3, -2, 5, -1, -3, -1, 0, -1, -3, -2, -2, 0, 1, -1, -4},
	{-1, -1, -2, -3, -1, 0, -2, -3, -2, 1, 2, -1, 5, 0, -2, -1, -1, -1, -1, 1, -3, -1, -1, -4},
	{-2, -3, -3, -3, -2, -3, -3, -3, -1, 0, 0, -3, 0, 6, -4, -2, -2, 1, 3, -1, -3, -3, -1, -4},
	{-1, -2, -2, -1, -3, -1, -1, -2, -2, -3, -3, -1, -2, -4, 7, -1, -1, -4, -3, -2, -2, -1, -2, -4},
	{1, -1, 1, 0, -1, 0, 0, 0, -1, -2, -2, 0, -1, -2, -1, 4, 1, -3, -2, -2, 0, 0, 0, -4},
	{0, -1, 0, -1, -1, -1, -1, -2, -2, -1, -1, -1, -1, -2, -1, 1, 5, -2, -2, 0, -1, -1, 0, -4},
	{-3, -3, -4, -4, -2, -2, -3, -2, -2, -3, -2, -3, -1, 1, -4, -3, -2, 11, 2, -3, -4, -3, -2, -4},
	{-2, -2, -2, -3, -2, -1, -2, -3, 2, -1, -1, -2, -1, 3, -3, -2, -2, 2, 7, -1, -3, -2, -1, -4},
	{0, -3, -3, -3, -1, -2, -2, -3, -3, 3, 1, -2, 1, -1, -2, -2, 0, -3, -1, 4, -3, -2, -1, -4},
	{-2, -1, 3, 4, -3, 0, 1, -1, 0, -3, -4, 0, -3, -3, -2, 0, -1, -4, -3, -3, 4, 1, -1, -4},
	{-1, 0, 0, 1, -3, 3, 4, -2, 0, -3, -3, 1, -1, -3, -1, 0, -1, -3, -2, -2, 1, 4, -1, -4},
	{0, -1, -1, -1, -2, -1, -1, -1, -1, -1, -1, -1, -1, -1, -2, 0, 0, -2, -1, -1, -1, -1, -1, -4},
	{-4, -4, -4, -4, -4, -4, -4, -4, -4, -4, -4, -4, -4, -4, -4, -4, -4, -4, -4, -4, -4, -4, -4, 1},
}

func blosum62(x, y byte) int {
	return blosum62Matrix[blosumIndex[x]][blosumIndex[y]]
}
