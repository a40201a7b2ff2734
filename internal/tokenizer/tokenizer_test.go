package tokenizer

import (
	"reflect"
	"testing"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"empty string", "", ""},
		{"whitespace only", "   \t\n ", ""},
		{"simple", "Tarkan - Dudu", "tarkan dudu"},
		{"punctuation collapsed", "AC/DC -- Back.In.Black!!", "ac dc back in black"},
		{"turkish letters", "Şımarık Çılgın Gönül Üzgün Ağla", "simarik cilgin gonul uzgun agla"},
		{"dotted capital I", "İstanbul", "istanbul"},
		{"spanish", "Niño Piñata", "nino pinata"},
		{"german sharp s", "Straße", "strasse"},
		{"ligatures", "Æther Œuvre", "aether oeuvre"},
		{"scandinavian", "Sigur Rós Ágætis Byrjun Ø", "sigur ros agaetis byrjun o"},
		{"decomposed input", "Beyonce\u0301", "beyonce"},
		{"combining mark outside table", "ǖ Ḱ", "u k"},
		{"numbers kept", "Deadmau5 - Strobe (2009)", "deadmau5 strobe 2009"},
		{"non latin dropped", "Кино - Группа крови", ""},
		{"mixed scripts", "Yoko Kanno 菅野よう子 Tank!", "yoko kanno tank"},
		{"underscores", "my_track_name", "my track name"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Normalize(tt.input)
			if got != tt.want {
				t.Errorf("Normalize(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestNormalize_Idempotent(t *testing.T) {
	inputs := []string{
		"",
		"Tarkan - Dudu.m4a",
		"  Şımarık  (Remix) ",
		"ǖ Straße Œuvre",
		"already normalized text",
		"!!!",
		"a  b\tc",
	}
	for _, in := range inputs {
		once := Normalize(in)
		twice := Normalize(once)
		if once != twice {
			t.Errorf("Normalize not idempotent for %q: %q != %q", in, once, twice)
		}
	}
}

func TestWords(t *testing.T) {
	tests := []struct {
		name          string
		input         string
		minWordLength int
		want          []string
	}{
		{"empty", "", 1, []string{}},
		{"default min length", "a bc def", 1, []string{"a", "bc", "def"}},
		{"filter short words", "a bc def", 2, []string{"bc", "def"}},
		{"everything filtered", "a b c", 3, []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Words(tt.input, tt.minWordLength)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Words(%q, %d) = %v, want %v", tt.input, tt.minWordLength, got, tt.want)
			}
		})
	}
}

func TestStemAndExtension(t *testing.T) {
	tests := []struct {
		fileName string
		ext      string
		stem     string
	}{
		{"Tarkan - Dudu.m4a", ".m4a", "Tarkan - Dudu"},
		{"track.flac", ".flac", "track"},
		{"no extension", "", "no extension"},
		{"Mr. Brightside", "", "Mr. Brightside"},
		{"The Killers - Mr. Brightside.mp3", ".mp3", "The Killers - Mr. Brightside"},
		{"weird.trailing.", "", "weird.trailing."},
	}

	for _, tt := range tests {
		t.Run(tt.fileName, func(t *testing.T) {
			if got := Extension(tt.fileName); got != tt.ext {
				t.Errorf("Extension(%q) = %q, want %q", tt.fileName, got, tt.ext)
			}
			if got := Stem(tt.fileName); got != tt.stem {
				t.Errorf("Stem(%q) = %q, want %q", tt.fileName, got, tt.stem)
			}
		})
	}
}

func TestBaseName(t *testing.T) {
	tests := map[string]string{
		"/music/a.mp3":               "a.mp3",
		`C:\Users\me\Music\b.mp3`:    "b.mp3",
		"relative/dir\\mixed/c.flac": "c.flac",
		"plain.mp3":                  "plain.mp3",
	}
	for in, want := range tests {
		if got := BaseName(in); got != want {
			t.Errorf("BaseName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNormalizeFileName(t *testing.T) {
	if got := NormalizeFileName("Tarkan - Dudu.m4a"); got != "tarkan dudu" {
		t.Errorf("NormalizeFileName() = %q, want %q", got, "tarkan dudu")
	}
}
