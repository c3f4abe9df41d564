package firestore

import (
	"testing"
	"time"
)

func TestListTokenRoundTrip(t *testing.T) {
	ts := time.Date(2026, 8, 31, 12, 30, 45, 123456789, time.UTC)
	token := encodeListToken(ts, "ord_01J5")

	gotTime, gotID, err := decodeListToken(token)
	if err != nil {
		t.Fatalf("decodeListToken: %v", err)
	}
	if !gotTime.Equal(ts) {
		t.Fatalf("expected %v, got %v", ts, gotTime)
	}
	if gotID != "ord_01J5" {
		t.Fatalf("expected ord_01J5, got %q", gotID)
	}
}

func TestDecodeListTokenRejectsGarbage(t *testing.T) {
	cases := map[string]string{
		"not base64":   "%%%",
		"no separator": "b3JkXzAxSjU",
		"bad time":     encodeListToken(time.Time{}, "")[:4],
	}
	for name, token := range cases {
		t.Run(name, func(t *testing.T) {
			if _, _, err := decodeListToken(token); err == nil {
				t.Fatalf("expected error for token %q", token)
			}
		})
	}
}
