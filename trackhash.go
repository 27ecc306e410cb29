package trackmodel

import (
	"bytes"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"slices"

	"github.com/google/uuid"
)

// TrackHash is a consistent hash (i.e., content address) over the structure of
// a single track: the identifiers of its spots and the endpoints of its edges.
// Feature values and edge weights are not part of the hash.
//
// Two tracks with the same TrackHash hold the same spots joined by the same
// links, independently of the TrackID they were assigned.
type TrackHash contentAddress

func (h TrackHash) MarshalText() ([]byte, error)     { return contentAddress(h).MarshalText() }
func (h *TrackHash) UnmarshalText(text []byte) error { return (*contentAddress)(h).UnmarshalText(text) }
func (h TrackHash) String() string                   { return "track(" + contentAddress(h).String() + ")" }
func (h TrackHash) IsZero() bool                     { return contentAddress(h).IsZero() }

// GraphHash is a consistent hash over every track of a graph. Observers use it
// to detect gaps in a stream of change records: the GraphBefore of a record
// equals the GraphAfter of the record that preceded it.
//
// Spots that have no link belong to no track and do not contribute.
type GraphHash contentAddress

func (h GraphHash) MarshalText() ([]byte, error)     { return contentAddress(h).MarshalText() }
func (h *GraphHash) UnmarshalText(text []byte) error { return (*contentAddress)(h).UnmarshalText(text) }
func (h GraphHash) String() string                   { return "graph(" + contentAddress(h).String() + ")" }
func (h GraphHash) IsZero() bool                     { return contentAddress(h).IsZero() }

// hashTrack digests the given spots and (source, target) links into a
// TrackHash. The order of the arguments does not matter.
func hashTrack(spots []*Spot, links [][2]*Spot) TrackHash {
	ids := make([]uuid.UUID, len(spots))
	for i, s := range spots {
		ids[i] = s.ID()
	}
	slices.SortFunc(ids, func(a, b uuid.UUID) int { return bytes.Compare(a[:], b[:]) })

	pairs := make([][2]uuid.UUID, len(links))
	for i, l := range links {
		pairs[i] = [2]uuid.UUID{l[0].ID(), l[1].ID()}
	}
	slices.SortFunc(pairs, func(a, b [2]uuid.UUID) int {
		if c := bytes.Compare(a[0][:], b[0][:]); c != 0 {
			return c
		}
		return bytes.Compare(a[1][:], b[1][:])
	})

	h := sha1.New()
	for _, id := range ids {
		h.Write(id[:])
	}
	// separates the spot section from the link section
	h.Write([]byte{'|'})
	for _, p := range pairs {
		h.Write(p[0][:])
		h.Write(p[1][:])
	}
	return TrackHash(h.Sum(nil))
}

// HashTracks digests the given track hashes into a GraphHash. Track
// identifiers are not part of the digest, only the content of the tracks.
func HashTracks(tracks map[TrackID]TrackHash) GraphHash {
	hashes := make([]TrackHash, 0, len(tracks))
	for _, x := range tracks {
		hashes = append(hashes, x)
	}
	// lexicographic sort keeps the digest independent of map iteration order
	slices.SortFunc(hashes, func(a, b TrackHash) int { return bytes.Compare(a[:], b[:]) })

	h := sha1.New()
	for _, x := range hashes {
		h.Write(x[:])
	}
	return GraphHash(h.Sum(nil))
}

// contentAddress is a consistent hash primitive serving as the base for strongly
// typed hashes, like TrackHash and GraphHash.
type contentAddress [sha1.Size]byte

func (h contentAddress) MarshalText() ([]byte, error) {
	text := make([]byte, hex.EncodedLen(len(h)))
	hex.Encode(text, h[:])
	return text, nil
}

func (h *contentAddress) UnmarshalText(text []byte) error {
	n, err := hex.Decode(h[:], text)
	if err != nil {
		return fmt.Errorf("decode hex: %w", err)
	}
	if n != len(h) { // always n <= len(h[:]) (see hex.Decode)
		return fmt.Errorf("not enough bytes: %w", io.ErrUnexpectedEOF)
	}
	return nil
}

func (h contentAddress) String() string {
	return hex.EncodeToString(h[:])
}

// IsZero reports whether h is the zero value of the type.
func (h contentAddress) IsZero() bool {
	return h == contentAddress{}
}
