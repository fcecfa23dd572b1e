package session

// WouldCycle reports whether setting from.Chain = to would close a cycle,
// by walking to's chain forward. Grounded on spec DESIGN NOTES: "the
// implementation must reject chain creation that would close one (detect
// by walking forward during the set)".
func WouldCycle(futures map[int]*Future, from, to int) bool {
	seen := map[int]bool{from: true}
	cur := to
	for {
		if seen[cur] {
			return true
		}
		seen[cur] = true
		f, ok := futures[cur]
		if !ok || f.Chain == NoChain {
			return false
		}
		cur = f.Chain
	}
}
