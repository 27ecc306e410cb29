package trackmodel

import (
	"errors"
	"io"
	"testing"

	"github.com/google/uuid"
)

func TestHashTrack(t *testing.T) {
	s := spots("A", "B", "C")
	ab := [2]*Spot{s[0], s[1]}
	ba := [2]*Spot{s[1], s[0]}
	bc := [2]*Spot{s[1], s[2]}

	tests := []struct {
		Name        string
		Left, Right TrackHash
		Equals      bool
	}{
		{
			Name:   "order=different",
			Left:   hashTrack([]*Spot{s[0], s[1], s[2]}, [][2]*Spot{ab, bc}),
			Right:  hashTrack([]*Spot{s[2], s[0], s[1]}, [][2]*Spot{bc, ab}),
			Equals: true,
		},
		{
			Name:   "direction=different",
			Left:   hashTrack(s[:2], [][2]*Spot{ab}),
			Right:  hashTrack(s[:2], [][2]*Spot{ba}),
			Equals: false,
		},
		{
			Name:   "links=parallel",
			Left:   hashTrack(s[:2], [][2]*Spot{ab}),
			Right:  hashTrack(s[:2], [][2]*Spot{ab, ab}),
			Equals: false,
		},
		{
			Name:   "spots=different",
			Left:   hashTrack(s[:2], [][2]*Spot{ab}),
			Right:  hashTrack(s, [][2]*Spot{ab}),
			Equals: false,
		},
		{
			Name:   "features=ignored",
			Left:   hashTrack(s[:2], [][2]*Spot{ab}),
			Right:  hashTrack([]*Spot{NewSpotWithID(s[0].ID(), nil), NewSpotWithID(s[1].ID(), nil)}, [][2]*Spot{ab}),
			Equals: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.Name, func(t *testing.T) {
			if got := tt.Left == tt.Right; got != tt.Equals {
				t.Errorf("%v == %v is %v, expected %v", tt.Left, tt.Right, got, tt.Equals)
			}
		})
	}
}

func TestHashTracksIgnoresLabels(t *testing.T) {
	x := hashTrack(spots("A"), nil)
	y := hashTrack(spots("B"), nil)
	left := HashTracks(map[TrackID]TrackHash{0: x, 1: y})
	right := HashTracks(map[TrackID]TrackHash{5: y, 9: x})
	if left != right {
		t.Errorf("HashTracks() depends on track labels: %v != %v", left, right)
	}
	if HashTracks(nil).IsZero() {
		t.Error("HashTracks(nil) is the zero hash")
	}
}

func TestTrackHashText(t *testing.T) {
	want := hashTrack([]*Spot{NewSpotWithID(uuid.New(), nil)}, nil)
	text, err := want.MarshalText()
	if err != nil {
		t.Fatalf("MarshalText: %v", err)
	}
	var got TrackHash
	if err := got.UnmarshalText(text); err != nil {
		t.Fatalf("UnmarshalText(%s): %v", text, err)
	}
	if got != want {
		t.Errorf("UnmarshalText(%s) = %v, want %v", text, got, want)
	}

	var short GraphHash
	if err := short.UnmarshalText(text[:10]); !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("UnmarshalText(short) error = %v, want %v", err, io.ErrUnexpectedEOF)
	}
	if err := short.UnmarshalText([]byte("zz")); err == nil {
		t.Error("UnmarshalText(not hex) succeeded")
	}
}
