package models

import (
	"encoding/json"
	"testing"
)

func TestAPIResponseEnvelope(t *testing.T) {
	tests := []struct {
		name string
		resp APIResponse
		want string
	}{
		{"success", Success(map[string]int{"n": 1}), `{"status":"ok","result":{"n":1}}`},
		{"success without result", Success(nil), `{"status":"ok"}`},
		{"accepted", Accepted("queued", "id-1"), `{"status":"accepted","message":"queued","result":"id-1"}`},
		{"error", Error("boom"), `{"status":"error","message":"boom"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.resp)
			if err != nil {
				t.Fatalf("marshal failed: %v", err)
			}
			if string(data) != tt.want {
				t.Errorf("got %s, want %s", data, tt.want)
			}
		})
	}
}

func TestSyncStatus(t *testing.T) {
	for _, s := range AllSyncStatuses {
		if !IsValidSyncStatus(s) {
			t.Errorf("%s should be valid", s)
		}
		if got, want := s.IsTerminal(), s != SyncStatusQueued; got != want {
			t.Errorf("%s.IsTerminal() = %v, want %v", s, got, want)
		}
	}
	if IsValidSyncStatus("PENDING") {
		t.Error("PENDING should not be valid")
	}
}
