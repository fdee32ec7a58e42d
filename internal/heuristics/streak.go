package heuristics

// LongestRun returns the length of the longest run of consecutive true values
// in mask, 0 when there is none.
func LongestRun(mask []bool) int {
	longest, run := 0, 0
	for _, v := range mask {
		if !v {
			run = 0
			continue
		}
		run++
		if run > longest {
			longest = run
		}
	}
	return longest
}
