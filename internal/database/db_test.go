package database

import (
	"context"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestStatements(t *testing.T) {
	stmts := Statements()
	if len(stmts) == 0 {
		t.Fatal("schema has no statements")
	}
	for _, want := range []string{"passes", "pass_updates", "device_registrations", "bulk_updates", "scan_events", "scanner_links"} {
		found := false
		for _, s := range stmts {
			if strings.Contains(s, "CREATE TABLE IF NOT EXISTS "+want+" ") {
				found = true
			}
		}
		if !found {
			t.Errorf("no CREATE TABLE for %s", want)
		}
	}
}

func TestMigrate(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	for _, s := range Statements() {
		mock.ExpectExec(s).WillReturnResult(sqlmock.NewResult(0, 0))
	}
	if err := Migrate(context.Background(), db); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}
