package services

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	redisclient "github.com/coursecraft/coursecraft-backend/internal/clients/redis"
	"github.com/coursecraft/coursecraft-backend/internal/db"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(gdb); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() {
		sqlDB, _ := gdb.DB()
		if sqlDB != nil {
			sqlDB.Close()
		}
	})
	return gdb
}

// fakeCompletion scripts the provider for tests. generateJSON is invoked for
// every GenerateJSON call; a nil func fails the test.
type fakeCompletion struct {
	t            *testing.T
	generateJSON func(system, user, schemaName string) (map[string]any, error)
}

func (f *fakeCompletion) Provider() string { return "fake" }
func (f *fakeCompletion) Model() string    { return "fake-1" }

func (f *fakeCompletion) Generate(ctx context.Context, interactionType, prompt string, contextData map[string]any) (string, error) {
	return "", fmt.Errorf("unexpected Generate call")
}

func (f *fakeCompletion) GenerateJSON(ctx context.Context, system, user, schemaName string, schema map[string]any) (map[string]any, error) {
	if f.generateJSON == nil {
		f.t.Fatalf("unexpected GenerateJSON call for schema %q", schemaName)
	}
	return f.generateJSON(system, user, schemaName)
}

// nopLimiter is an always-open rate-limit coordinator.
type nopLimiter struct{}

func (nopLimiter) Check(ctx context.Context, provider, model string) (redisclient.Window, error) {
	return redisclient.Window{}, nil
}
func (nopLimiter) Set(ctx context.Context, provider, model string, seconds int) error { return nil }
