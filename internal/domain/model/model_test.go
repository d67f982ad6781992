package model

import (
	"strings"
	"testing"
	"time"
)

func sp(s string) *string { return &s }

func TestNormalize(t *testing.T) {
	t.Run("nil gives all fields absent", func(t *testing.T) {
		r := Normalize(nil)
		if r != (Record{}) {
			t.Errorf("expected empty record, got %+v", r)
		}
	})

	t.Run("non-mapping is treated as empty", func(t *testing.T) {
		if r := Normalize([]any{1, 2}); r != (Record{}) {
			t.Errorf("expected empty record, got %+v", r)
		}
	})

	t.Run("partial mapping", func(t *testing.T) {
		r := Normalize(map[string]any{"first_name": "Ada", "username": nil, "extra": "x"})
		if Deref(r.FirstName) != "Ada" || r.Username != nil || r.LastName != nil || r.UpdatedAt != nil {
			t.Errorf("unexpected record %+v", r)
		}
	})

	t.Run("numeric nip kept as text and capped", func(t *testing.T) {
		r := Normalize(map[string]any{"nip": float64(12345)})
		if Deref(r.NIP) != "12345" {
			t.Errorf("expected \"12345\", got %v", r.NIP)
		}
		r = Normalize(map[string]any{"nip": strings.Repeat("9", 25)})
		if Deref(r.NIP) != strings.Repeat("9", MaxNIPLength) {
			t.Errorf("expected nip capped to %d, got %q", MaxNIPLength, Deref(r.NIP))
		}
	})

	t.Run("wrong types are absent", func(t *testing.T) {
		r := Normalize(map[string]any{"first_name": true, "last_name": map[string]any{}})
		if r.FirstName != nil || r.LastName != nil {
			t.Errorf("expected absent fields, got %+v", r)
		}
	})
}

func TestNormalizeNIP(t *testing.T) {
	cases := []struct {
		in        string
		want      string
		truncated bool
	}{
		{"", "", false},
		{"123456789012345678", "123456789012345678", false},
		{"1234567890123456789", "123456789012345678", true},
		{strings.Repeat("é", 20), strings.Repeat("é", 18), true},
	}
	for _, tc := range cases {
		got, tr := NormalizeNIP(tc.in)
		if got != tc.want || tr != tc.truncated {
			t.Errorf("NormalizeNIP(%q) = %q,%v; want %q,%v", tc.in, got, tr, tc.want, tc.truncated)
		}
	}
}

func TestSubscriber_Apply(t *testing.T) {
	base := func() *Subscriber {
		return &Subscriber{ChatID: 1, FirstName: sp("Ada"), Username: sp("ada"), NIP: sp("42")}
	}

	t.Run("identical update is not a change", func(t *testing.T) {
		s := base()
		if s.Apply(SubscriberUpdate{FirstName: sp("Ada"), Username: sp("ada")}) {
			t.Error("expected no change")
		}
	})

	t.Run("nil fields are ignored without overwrite", func(t *testing.T) {
		s := base()
		if s.Apply(SubscriberUpdate{}) || Deref(s.FirstName) != "Ada" {
			t.Error("nil update must leave the record untouched")
		}
	})

	t.Run("overwrite clears names but never nip", func(t *testing.T) {
		s := base()
		if !s.Apply(SubscriberUpdate{LastName: sp("Lovelace"), Overwrite: true}) {
			t.Fatal("expected a change")
		}
		if s.FirstName != nil || s.Username != nil || Deref(s.LastName) != "Lovelace" {
			t.Errorf("unexpected names %+v", s)
		}
		if Deref(s.NIP) != "42" {
			t.Errorf("nip must survive a profile overwrite, got %v", s.NIP)
		}
	})

	t.Run("timestamps untouched", func(t *testing.T) {
		ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
		s := base()
		s.UpdatedAt = &ts
		s.Apply(SubscriberUpdate{FirstName: sp("Grace")})
		if !s.UpdatedAt.Equal(ts) {
			t.Error("Apply must not bump updated_at")
		}
	})
}

func TestSubscriber_CloneIsDeep(t *testing.T) {
	ts := time.Now()
	s := &Subscriber{ChatID: 1, FirstName: sp("Ada"), SubscribedAt: &ts}
	cp := s.Clone()
	*cp.FirstName = "Grace"
	*cp.SubscribedAt = ts.Add(time.Hour)
	if Deref(s.FirstName) != "Ada" || !s.SubscribedAt.Equal(ts) {
		t.Error("clone shares memory with the original")
	}
	if (*Subscriber)(nil).Clone() != nil {
		t.Error("nil clone should be nil")
	}
}

func TestParseTime(t *testing.T) {
	want := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	for _, in := range []string{
		"2024-01-02T03:04:05Z",
		"2024-01-02T03:04:05+00:00",
		"2024-01-02T05:04:05+02:00",
		"2024-01-02T03:04:05",
		"2024-01-02 03:04:05",
	} {
		got := ParseTime(sp(in))
		if got == nil || !got.Equal(want) {
			t.Errorf("ParseTime(%q) = %v, want %v", in, got, want)
		}
	}
	for _, in := range []string{"", "yesterday", "2024-13-45"} {
		if got := ParseTime(sp(in)); got != nil {
			t.Errorf("ParseTime(%q) = %v, want nil", in, got)
		}
	}
	if ParseTime(nil) != nil {
		t.Error("ParseTime(nil) should be nil")
	}
}

func TestRecordRoundTrip(t *testing.T) {
	ts := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	s := &Subscriber{ChatID: 9, FirstName: sp("Ada"), NIP: sp("1"), SubscribedAt: &ts}
	r := s.Record()
	if Deref(r.SubscribedAt) != "2024-01-02T03:04:05Z" || r.UpdatedAt != nil {
		t.Errorf("unexpected record %+v", r)
	}
	back := r.Subscriber(9)
	if back.ChatID != 9 || !back.SubscribedAt.Equal(ts) || Deref(back.FirstName) != "Ada" {
		t.Errorf("unexpected subscriber %+v", back)
	}
}

func TestProfileUpdate(t *testing.T) {
	u := Profile{ChatID: 1, FirstName: "Ada"}.Update()
	if Deref(u.FirstName) != "Ada" || u.LastName != nil || u.Username != nil || u.Overwrite {
		t.Errorf("unexpected update %+v", u)
	}
}
