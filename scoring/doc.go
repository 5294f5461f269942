/*
Package scoring executes closed rounds. For every enabled task it
fetches an observation snapshot for the round window, resolves the
authoritative correct value, scores each miner's prediction against
it, and converts the scores of all instances into a single reward
distribution over the round pool.

A round execution walks an explicit phase machine (awaiting-data,
resolving, scoring, allocating) and terminates complete or failed.
Task instances fail in isolation; the round as a whole fails only when
no instance produces a score set before the round deadline.
*/
package scoring
