package models

import (
	"testing"
)

func TestSearchQuery_Validate(t *testing.T) {
	tests := []struct {
		name     string
		query    *SearchQuery
		wantErr  bool
		wantK    int
		wantMode string
	}{
		{"empty query", &SearchQuery{Query: ""}, true, 0, ""},
		{"blank query", &SearchQuery{Query: "   "}, true, 0, ""},
		{"valid query", &SearchQuery{Query: "red car"}, false, 0, ModeText},
		{"keeps k", &SearchQuery{Query: "x", K: 3}, false, 3, ModeText},
		{"large k kept", &SearchQuery{Query: "x", K: 500}, false, 500, ModeText},
		{"negative k", &SearchQuery{Query: "x", K: -2}, false, 0, ModeText},
		{"image mode", &SearchQuery{Query: "/tmp/a.jpg", Mode: ModeImage}, false, 0, ModeImage},
		{"unknown mode", &SearchQuery{Query: "x", Mode: "audio"}, true, 0, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.query.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if tt.query.K != tt.wantK {
				t.Errorf("K = %d, want %d", tt.query.K, tt.wantK)
			}
			if tt.query.Mode != tt.wantMode {
				t.Errorf("Mode = %q, want %q", tt.query.Mode, tt.wantMode)
			}
		})
	}
}

func TestImageRecord_Metadata(t *testing.T) {
	r := ImageRecord{ID: "1", Path: "/photos/a.jpg", Name: "a.jpg"}
	md := r.Metadata()
	if md[MetaPath] != "/photos/a.jpg" || md[MetaName] != "a.jpg" {
		t.Errorf("metadata = %v", md)
	}
	back := ImageFromMetadata("1", md)
	if back.ID != r.ID || back.Path != r.Path || back.Name != r.Name {
		t.Errorf("ImageFromMetadata = %+v", back)
	}
}
