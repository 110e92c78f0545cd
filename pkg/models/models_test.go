package models_test

import (
	"encoding/json"
	"reflect"
	"testing"

	"github.com/agentoven/agentoven/pairing-plane/pkg/models"
)

func TestCapabilitiesUnmarshal(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    models.Capabilities
		wantErr bool
	}{
		{name: "list", input: `["z","a","z"," "]`, want: models.Capabilities{"a", "z"}},
		{name: "comma string", input: `"b, a,,a"`, want: models.Capabilities{"a", "b"}},
		{name: "empty string", input: `""`, want: models.Capabilities{}},
		{name: "empty list", input: `[]`, want: models.Capabilities{}},
		{name: "null", input: `null`, want: models.Capabilities{}},
		{name: "number", input: `5`, wantErr: true},
		{name: "object", input: `{"a":1}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var c models.Capabilities
			err := json.Unmarshal([]byte(tt.input), &c)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error for %s, got %v", tt.input, c)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !reflect.DeepEqual(c, tt.want) {
				t.Errorf("got %#v, want %#v", c, tt.want)
			}
		})
	}
}

func TestCapabilitiesInBotCreate(t *testing.T) {
	var req models.BotCreate
	if err := json.Unmarshal([]byte(`{"name":"a","bot_type":"chat","capabilities":"search,nlp"}`), &req); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := req.Capabilities.Key(); got != "nlp,search" {
		t.Errorf("expected nlp,search, got %s", got)
	}
}

func TestCapabilitiesKeyIsSorted(t *testing.T) {
	// Key normalizes even a slice built without NewCapabilities.
	raw := models.Capabilities{"search", "nlp", "search", "code"}
	if got := raw.Key(); got != "code,nlp,search" {
		t.Errorf("expected code,nlp,search, got %s", got)
	}
	if !raw.Equal(models.NewCapabilities("nlp", "code", "search")) {
		t.Error("expected sets to be equal regardless of order and duplicates")
	}
	if n := raw.UnionSize(models.Capabilities{"nlp", "vision"}); n != 4 {
		t.Errorf("expected union size 4, got %d", n)
	}
}

func TestCapabilitiesMarshal(t *testing.T) {
	var nilCaps models.Capabilities
	data, err := json.Marshal(nilCaps)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(data) != "[]" {
		t.Errorf("expected [], got %s", data)
	}

	data, err = json.Marshal(models.Bot{ID: "b1", Capabilities: models.NewCapabilities("b", "a")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(decoded["capabilities"], []any{"a", "b"}) {
		t.Errorf("expected [a b], got %v", decoded["capabilities"])
	}
}

func TestBotStatusValid(t *testing.T) {
	for _, s := range []models.BotStatus{"online", "offline", "paired", "busy", "error"} {
		if !s.Valid() {
			t.Errorf("expected %s to be valid", s)
		}
	}
	if models.BotStatus("sleeping").Valid() {
		t.Error("expected unknown status to be invalid")
	}
}

func TestPairInvolves(t *testing.T) {
	p := &models.Pair{PrimaryBotID: "a", SecondaryBotID: "b"}
	if !p.Involves("a") || !p.Involves("b") || p.Involves("c") {
		t.Errorf("unexpected Involves result for %+v", p)
	}
}
