package models

import "testing"

func TestPositionRoundTrip(t *testing.T) {
	for season := 1; season <= 9; season++ {
		for episode := 1; episode < 100; episode++ {
			pos, err := ToPosition(season, episode)
			if err != nil {
				t.Fatalf("ToPosition(%d, %d) failed: %v", season, episode, err)
			}
			gotSeason, gotEpisode := FromPosition(pos)
			if gotSeason != season || gotEpisode != episode {
				t.Fatalf("FromPosition(ToPosition(%d, %d)) = (%d, %d)", season, episode, gotSeason, gotEpisode)
			}
		}
	}
}

func TestPositionRejectsEpisodeAtOrAbove100(t *testing.T) {
	if _, err := ToPosition(3, 100); err != ErrInvalidPosition {
		t.Fatalf("expected ErrInvalidPosition for episode=100, got %v", err)
	}
	if _, err := ToPosition(3, 0); err != ErrInvalidPosition {
		t.Fatalf("expected ErrInvalidPosition for episode=0, got %v", err)
	}
}

func TestPositionOrdering(t *testing.T) {
	s3e4, _ := ToPosition(3, 4)
	s3e10, _ := ToPosition(3, 10)
	s4e1, _ := ToPosition(4, 1)
	if !(s3e4 < s3e10 && s3e10 < s4e1) {
		t.Fatalf("expected s3e4 < s3e10 < s4e1, got %d %d %d", s3e4, s3e10, s4e1)
	}
}
