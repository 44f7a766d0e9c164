// Package decision chooses what autonomous work to do next.
//
// The Engine gathers a Snapshot of the agent's state from optional readers,
// filters the template catalog down to viable candidates (affordable, idle
// requirement met, not just done), scores them on six weighted factors and
// asks an Oracle to make the final pick or to plan a whole day.
//
// The oracle is unreliable by nature. Any oracle error or unusable answer
// falls back to a deterministic choice: the highest-scored candidate for a
// single pick, an empty plan for a day plan. Neither path returns an error.
//
// Factor weights:
//
//	time_fit             0.20
//	growth_alignment     0.25
//	curiosity_alignment  0.20
//	emotional_fit        0.15
//	variety              0.10
//	priority             0.10
package decision
