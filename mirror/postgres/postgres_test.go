package postgres

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/aschepis/backscratcher/lifebook/mirror"
)

func TestPutQueryIsUpsert(t *testing.T) {
	now := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	query, args, err := putQuery("u1", "memories", mirror.Record{ID: "m1", SortKey: "1990", Payload: json.RawMessage(`{"a":1}`)}, now)
	if err != nil {
		t.Fatalf("putQuery: %v", err)
	}
	if !strings.HasPrefix(query, "INSERT INTO mirror_records (uid,collection,id,sort_key,payload,updated_at) VALUES ($1,$2,$3,$4,$5,$6)") {
		t.Fatalf("unexpected insert: %s", query)
	}
	if !strings.Contains(query, "ON CONFLICT (uid, collection, id) DO UPDATE SET") {
		t.Fatalf("expected upsert clause: %s", query)
	}
	if len(args) != 6 || args[0] != "u1" || args[2] != "m1" || args[4] != `{"a":1}` {
		t.Fatalf("unexpected args: %v", args)
	}
}

func TestListQueryOrdersBySortKey(t *testing.T) {
	query, args, err := listQuery("u1", "memories")
	if err != nil {
		t.Fatalf("listQuery: %v", err)
	}
	want := "SELECT id, sort_key, payload FROM mirror_records WHERE collection = $1 AND uid = $2 ORDER BY sort_key ASC, id ASC"
	if query != want {
		t.Fatalf("query = %q\nwant    %q", query, want)
	}
	if len(args) != 2 || args[0] != "memories" || args[1] != "u1" {
		t.Fatalf("unexpected args: %v", args)
	}
}
