// Package broker implements an overlay publish/subscribe network and a
// key-value store replication protocol on top of it.
//
// Endpoints peer with each other over a pluggable transport and exchange
// two kinds of traffic: subscription updates, which propagate topic
// filters through the overlay so that every endpoint learns the shortest
// known path to every subscriber, and node messages, which carry a
// published (topic, data) or (topic, command) pair to a precomputed
// receiver set along that path.
//
// On top of the overlay, any endpoint can attach a master store, which
// owns an authoritative key-value map for a topic, and other endpoints
// can attach clone stores, which mirror a master and stay eventually
// consistent across reconnects and master churn.
package broker
