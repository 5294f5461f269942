/*
Package registration provides functionality for collecting miner predictions, scheduling rounds,
and serving round results.

Each round starts by being open for receiving prediction payloads from miners, one payload per
(miner, domain) pair. Once the submission window ends (according to the configured schedule),
a hash digest is created from the accepted submissions, and travels with the closed round as a
commitment to exactly what gets scored. The digest is the root of a merkle tree constructed from
the stored submissions iterated in key order.
The scoring is done by a worker, which can be a separate process that communicates with the
registration service.

Once completed, the round result is stored in a database together with the reward distribution
and forwarded to the configured reward sink.
*/
package registration
