// Package recommend derives movie recommendations for a user from the
// reviews of peers who rated the same movie similarly.
//
// A request walks a fixed chain of tiers:
//
//	PeerBand → MovieWide → Tally → GlobalFallback → Exhausted
//
// PeerBand and MovieWide choose the peer set, Tally ranks the movies those
// peers rated highest, GlobalFallback fills from the top-rated catalog when the
// tally is empty or short, and Exhausted reports that nothing is left to
// recommend. The engine only reads from the stores.
package recommend
