package domain

import (
	"errors"
	"testing"
)

func TestParsePolicy(t *testing.T) {
	tests := []struct {
		in      string
		want    ExistingFilePolicy
		wantErr bool
	}{
		{in: "", want: PolicyResume},
		{in: "resume", want: PolicyResume},
		{in: "DELETE", want: PolicyDelete},
		{in: " ignore ", want: PolicyIgnore},
		{in: "skip", want: PolicyIgnore},
		{in: "overwrite", want: PolicyResume, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParsePolicy(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParsePolicy(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidPolicy) {
				t.Errorf("ParsePolicy(%q) error = %v, want ErrInvalidPolicy", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("ParsePolicy(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestPolicy_TextRoundTrip(t *testing.T) {
	var p ExistingFilePolicy
	if err := p.UnmarshalText([]byte("delete")); err != nil {
		t.Fatalf("UnmarshalText() error = %v", err)
	}
	text, _ := p.MarshalText()
	if string(text) != "delete" {
		t.Errorf("MarshalText() = %s, want delete", text)
	}
	if err := p.UnmarshalText([]byte("bogus")); err == nil {
		t.Error("UnmarshalText(bogus) should fail")
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "a.zip", want: "a.zip"},
		{in: "../../etc/passwd", want: "passwd"},
		{in: `..\..\windows\win.ini`, want: "win.ini"},
		{in: "..", want: DefaultFilename},
		{in: "", want: DefaultFilename},
		{in: "/", want: DefaultFilename},
	}

	for _, tt := range tests {
		if got := SanitizeFilename(tt.in); got != tt.want {
			t.Errorf("SanitizeFilename(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFilenameFromURL(t *testing.T) {
	if got := FilenameFromURL("https://example.com/files/report.pdf?x=1"); got != "report.pdf" {
		t.Errorf("FilenameFromURL() = %q, want report.pdf", got)
	}
	if got := FilenameFromURL("https://example.com/"); got != DefaultFilename {
		t.Errorf("FilenameFromURL() = %q, want %q", got, DefaultFilename)
	}
}

func TestDestinationDecision_Writes(t *testing.T) {
	if !Proceed("/a").Writes() || !DeleteExistingThenProceed("/a").Writes() {
		t.Error("proceed variants should write")
	}
	if Skip().Writes() || ResumeFrom("/a", 1).Writes() {
		t.Error("skip and resume-from should not write the current transfer")
	}
	if got := ResumeFrom("/tmp/a.zip", 50).String(); got != "resume-from(/tmp/a.zip, 50)" {
		t.Errorf("String() = %q", got)
	}
}
