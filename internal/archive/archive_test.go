package archive

import "testing"

func TestArchiveSizeForBuckets(t *testing.T) {
	const mib = 1024 * 1024
	const gib = 1024 * mib

	cases := []struct {
		total int64
		want  int64
	}{
		{50 * mib, 5 * mib},
		{500 * mib, 15 * mib},
		{2 * gib, 50 * mib},
		{10 * gib, 100 * mib},
		{20 * gib, 200 * mib},
		{30 * gib, 400 * mib},
	}

	for _, c := range cases {
		if got := ArchiveSizeFor(c.total); got != c.want {
			t.Errorf("ArchiveSizeFor(%d) = %d, want %d", c.total, got, c.want)
		}
	}
}

func TestSanitizeName(t *testing.T) {
	cases := map[string]string{
		"My Movie (2024).mkv":    "My Movie (2024)",
		`bad:chars*in"name<>|.rar`: "bad_chars_in_name___",
	}
	for in, want := range cases {
		if got := SanitizeName(in); got != want {
			t.Errorf("SanitizeName(%q) = %q, want %q", in, got, want)
		}
	}
}
