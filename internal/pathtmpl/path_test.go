package pathtmpl

import (
	"errors"
	"testing"
	"time"
)

func TestDecoratePath(t *testing.T) {
	ts := time.Date(2021, 3, 5, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name       string
		outputDir  string
		fileName   string
		dateFormat string
		prefix     string
		want       string
	}{
		{"full", "logs", "part-0001", "{yyyy/MM/dd}", "run", "logs/2021/03/05/run-part-0001"},
		{"file only", "", "part-0001", "", "", "part-0001"},
		{"prefix only", "", "part-0001", "", "run", "run-part-0001"},
		{"no placeholders", "logs//raw/", "f", "static/./dir", "", "logs/raw/static/dir/f"},
		{"parent segments", "logs/tmp/..", "f", "", "", "logs/f"},
		{"multiple placeholders", "out", "f", "year={yyyy}/month={MM}", "", "out/year=2021/month=03/f"},
		{"invalid placeholder", "out", "f", "{not-a-pattern}", "", "out/not-a-pattern/f"},
		{"mixed placeholders", "out", "f", "{yyyy}/{bogus}/{dd}", "", "out/2021/bogus/05/f"},
		{"nested brace", "out", "f", "{a{b}", "", "out/ab/f"},
		{"quoted literal", "out", "f", "{yyyy'-x'}", "", "out/2021-x/f"},
		{"absolute", "/data", "f", "", "", "/data/f"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DecoratePath(tt.outputDir, tt.fileName, ts, tt.dateFormat, tt.prefix)
			if got != tt.want {
				t.Errorf("DecoratePath() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDecoratePathDeterministic(t *testing.T) {
	ts := time.Date(2023, 12, 31, 23, 59, 58, 123000000, time.UTC)
	first := DecoratePath("out", "f", ts, "{yyyy-MM-dd'T'HH:mm:ss.SSS}", "p")
	for i := 0; i < 10; i++ {
		if got := DecoratePath("out", "f", ts, "{yyyy-MM-dd'T'HH:mm:ss.SSS}", "p"); got != first {
			t.Fatalf("iteration %d: got %q, want %q", i, got, first)
		}
	}
	if first != "out/2023-12-31T23:59:58.123/p-f" {
		t.Errorf("unexpected key %q", first)
	}
}

func TestFormatTemplateUsesUTC(t *testing.T) {
	loc := time.FixedZone("UTC+9", 9*3600)
	ts := time.Date(2021, 3, 5, 3, 0, 0, 0, loc) // 2021-03-04T18:00Z

	if got := FormatTemplate("{yyyy/MM/dd/HH}", ts); got != "2021/03/04/18" {
		t.Errorf("FormatTemplate() = %q, want 2021/03/04/18", got)
	}
}

func TestFormatTemplateMatchesPattern(t *testing.T) {
	ts := time.Date(2020, 2, 29, 13, 7, 9, 45000000, time.UTC)
	patterns := []string{"yyyy", "yy", "MM", "MMM", "MMMM", "d", "dd", "HH", "hh a", "mm", "ss", "SSS", "DDD", "EEE", "EEEE", "QQQ", "uuuu-MM"}

	for _, pat := range patterns {
		p, err := Compile(pat)
		if err != nil {
			t.Fatalf("Compile(%q): %v", pat, err)
		}
		want := p.Format(ts)
		if got := FormatTemplate("{"+pat+"}", ts); got != want {
			t.Errorf("FormatTemplate({%s}) = %q, want %q", pat, got, want)
		}
	}
}

func TestPatternFormat(t *testing.T) {
	ts := time.Date(2020, 2, 29, 13, 7, 9, 45000000, time.UTC)

	tests := []struct {
		pattern string
		want    string
	}{
		{"yyyy", "2020"},
		{"yy", "20"},
		{"M", "2"},
		{"MM", "02"},
		{"MMM", "Feb"},
		{"MMMM", "February"},
		{"d", "29"},
		{"DDD", "060"},
		{"H:m:s", "13:7:9"},
		{"hh a", "01 PM"},
		{"k", "13"},
		{"SSS", "045"},
		{"S", "0"},
		{"EEE", "Sat"},
		{"EEEE", "Saturday"},
		{"QQQ", "Q1"},
		{"'at' HH", "at 13"},
		{"''yy''", "'20'"},
		{"[yyyy]", "2020"},
		{"XXX", "Z"},
		{"Z", "+0000"},
	}

	for _, tt := range tests {
		p, err := Compile(tt.pattern)
		if err != nil {
			t.Errorf("Compile(%q) failed: %v", tt.pattern, err)
			continue
		}
		if got := p.Format(ts); got != tt.want {
			t.Errorf("Format(%q) = %q, want %q", tt.pattern, got, tt.want)
		}
	}
}

func TestCompileInvalid(t *testing.T) {
	invalid := []string{
		"not-a-pattern", // 'o' and 't' are not pattern letters
		"yyyy/MM/ddd",   // too many 'd'
		"ww",            // week-based fields are rejected
		"'unterminated",
		"yyyy]",
		"a{b",
		"#",
		"HHH",
		"aa",
	}

	for _, pat := range invalid {
		if _, err := Compile(pat); !errors.Is(err, ErrInvalidPattern) {
			t.Errorf("Compile(%q) error = %v, want ErrInvalidPattern", pat, err)
		}
	}
}

func TestInvalidPlaceholderIdempotent(t *testing.T) {
	ts := time.Date(2021, 3, 5, 0, 0, 0, 0, time.UTC)
	once := DecoratePath("out", "f", ts, "{not-a-pattern}", "")
	if again := Normalize(once); again != once {
		t.Errorf("Normalize(%q) = %q, want unchanged", once, again)
	}
}

func TestNormalize(t *testing.T) {
	tests := map[string]string{
		"":           "",
		".":          "",
		"a//b":       "a/b",
		"a/./b/":     "a/b",
		"a/b/../c":   "a/c",
		"../a":       "../a",
		"/a/../../b": "/b",
	}
	for in, want := range tests {
		if got := Normalize(in); got != want {
			t.Errorf("Normalize(%q) = %q, want %q", in, got, want)
		}
	}
}
