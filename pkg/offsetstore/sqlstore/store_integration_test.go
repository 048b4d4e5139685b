package sqlstore

import (
	"testing"

	"github.com/nimburion/rabbitqueue/pkg/offsetstore/storetest"
	"github.com/nimburion/rabbitqueue/pkg/testutil"
)

func TestPostgresStore_Integration(t *testing.T) {
	dsn := testutil.StartPostgres(t, "offsets")

	store, err := NewStore(Config{
		Dialect:      DialectPostgres,
		URL:          dsn,
		MaxOpenConns: 5,
		AutoMigrate:  true,
	}, testutil.Logger(t))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	defer store.Close()

	storetest.Run(t, store)
}
