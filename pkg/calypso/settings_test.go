package calypso

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestLoadSettings(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		want    func() Settings
		wantErr string
	}{
		{
			name: "Empty document keeps defaults",
			yaml: "",
			want: DefaultSettings,
		},
		{
			name: "Overrides",
			yaml: `
sam_revision: S1D
ratification_asked: false
extended_mode: true
buffer_limit: 430
keys:
  debit: {kif: 0x3A, kvc: 0x7A}
`,
			want: func() Settings {
				s := DefaultSettings()
				s.SamRevision = SamS1D
				s.RatificationAsked = false
				s.ExtendedMode = true
				s.BufferLimit = 430
				s.Keys.Debit = KeyReference{KIF: 0x3A, KVC: 0x7A}
				return s
			},
		},
		{
			name:    "Unknown SAM",
			yaml:    "sam_revision: S2\n",
			wantErr: "unknown SAM revision",
		},
		{
			name:    "Unknown field",
			yaml:    "buffer_size: 12\n",
			wantErr: "buffer_size",
		},
		{
			name:    "Negative limit",
			yaml:    "buffer_limit: -1\n",
			wantErr: "buffer_limit",
		},
		{
			name:    "Unset KIF",
			yaml:    "keys:\n  load: {kif: 0, kvc: 0x79}\n",
			wantErr: "keys.LOAD",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := LoadSettings(strings.NewReader(tt.yaml))
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("LoadSettings() error = %v, want containing %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("LoadSettings() error = %v", err)
			}
			if diff := cmp.Diff(tt.want(), got); diff != "" {
				t.Errorf("settings mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestLoadSettingsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "calypso.yaml")
	if err := os.WriteFile(path, []byte("batch_digest: true\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	s, err := LoadSettingsFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !s.BatchDigest || s.SignatureLength() != 4 {
		t.Errorf("unexpected settings %+v", s)
	}
	if s.Key(Debit) != (KeyReference{KIF: 0x30, KVC: 0x79}) {
		t.Errorf("Key(Debit) = %s", s.Key(Debit))
	}

	if _, err := LoadSettingsFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}
