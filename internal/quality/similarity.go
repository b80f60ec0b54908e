package quality

// Ratio returns the Ratcliff/Obershelp similarity of a and b: twice the number of matching
// characters divided by the total length. Identical strings score 1.
func Ratio(a, b string) float64 {
	ra, rb := []rune(a), []rune(b)
	total := len(ra) + len(rb)
	if total == 0 {
		return 1
	}
	return 2 * float64(matches(ra, rb, 0, len(ra), 0, len(rb))) / float64(total)
}

// quickRatio is an upper bound on Ratio from character counts alone.
func quickRatio(a, b string) float64 {
	ra, rb := []rune(a), []rune(b)
	total := len(ra) + len(rb)
	if total == 0 {
		return 1
	}
	avail := make(map[rune]int, len(rb))
	for _, r := range rb {
		avail[r]++
	}
	n := 0
	for _, r := range ra {
		if avail[r] > 0 {
			avail[r]--
			n++
		}
	}
	return 2 * float64(n) / float64(total)
}

func matches(a, b []rune, alo, ahi, blo, bhi int) int {
	i, j, k := longestMatch(a, b, alo, ahi, blo, bhi)
	if k == 0 {
		return 0
	}
	return k + matches(a, b, alo, i, blo, j) + matches(a, b, i+k, ahi, j+k, bhi)
}

// longestMatch finds the longest common run of a[alo:ahi] and b[blo:bhi]. Ties go to the
// run that starts earliest in a, then earliest in b.
func longestMatch(a, b []rune, alo, ahi, blo, bhi int) (int, int, int) {
	besti, bestj, bestk := alo, blo, 0
	width := bhi - blo + 1
	prev := make([]int, width)
	cur := make([]int, width)
	for x := alo; x < ahi; x++ {
		for y := blo; y < bhi; y++ {
			if a[x] != b[y] {
				cur[y-blo+1] = 0
				continue
			}
			k := prev[y-blo] + 1
			cur[y-blo+1] = k
			if k > bestk {
				besti, bestj, bestk = x-k+1, y-k+1, k
			}
		}
		prev, cur = cur, prev
	}
	return besti, bestj, bestk
}
