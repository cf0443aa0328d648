package pgstore

import (
	"context"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/flowpbx/dialmobile/internal/pushgw"
)

// openTestStore connects to the database named by PUSHGW_TEST_DSN, skipping
// the test when it is unset.
func openTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("PUSHGW_TEST_DSN")
	if dsn == "" {
		t.Skip("PUSHGW_TEST_DSN not set")
	}
	s, err := New(context.Background(), dsn, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestValidateLicense(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	key := "test-" + time.Now().Format("150405.000000000")
	if _, err := s.db.ExecContext(ctx, `INSERT INTO licenses (key, tier) VALUES ($1, 'standard')`, key); err != nil {
		t.Fatalf("inserting license: %v", err)
	}
	t.Cleanup(func() { s.db.Exec(`DELETE FROM licenses WHERE key = $1`, key) })

	l, err := s.ValidateLicense(ctx, key)
	if err != nil {
		t.Fatalf("ValidateLicense() error: %v", err)
	}
	if l == nil || l.Tier != "standard" {
		t.Fatalf("ValidateLicense() = %+v", l)
	}

	if _, err := s.db.ExecContext(ctx, `UPDATE licenses SET expires_at = NOW() - INTERVAL '1 day' WHERE key = $1`, key); err != nil {
		t.Fatalf("expiring license: %v", err)
	}
	l, err = s.ValidateLicense(ctx, key)
	if err != nil {
		t.Fatalf("ValidateLicense() error: %v", err)
	}
	if l != nil {
		t.Error("expired license must not validate")
	}
}

func TestLogAndPrune(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	callID := "prune-" + time.Now().Format("150405.000000000")
	old := pushgw.PushLogEntry{
		LicenseKey: "k", Kind: pushgw.KindPush, Platform: "fcm", CallID: callID,
		Success: true, Timestamp: time.Now().Add(-48 * time.Hour),
	}
	recent := old
	recent.Kind = pushgw.KindCancel
	recent.Timestamp = time.Now()

	for _, e := range []pushgw.PushLogEntry{old, recent} {
		if err := s.Log(ctx, e); err != nil {
			t.Fatalf("Log() error: %v", err)
		}
	}
	t.Cleanup(func() { s.db.Exec(`DELETE FROM push_logs WHERE call_id = $1`, callID) })

	if _, err := s.PruneLogs(ctx, time.Now().Add(-24*time.Hour)); err != nil {
		t.Fatalf("PruneLogs() error: %v", err)
	}

	var kinds []string
	rows, err := s.db.QueryContext(ctx, `SELECT kind FROM push_logs WHERE call_id = $1`, callID)
	if err != nil {
		t.Fatalf("querying logs: %v", err)
	}
	defer rows.Close()
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			t.Fatal(err)
		}
		kinds = append(kinds, k)
	}
	if len(kinds) != 1 || kinds[0] != pushgw.KindCancel {
		t.Errorf("remaining kinds = %v, want [cancel]", kinds)
	}
}
