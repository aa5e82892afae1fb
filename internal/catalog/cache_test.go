package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"restaurant-system/internal/logger"
	"restaurant-system/internal/models"
)

type countingSource struct {
	calls atomic.Int32
	dish  models.Dish
	found bool
	err   error
}

func (s *countingSource) GetDish(ctx context.Context, restaurantID, dishID string) (models.Dish, bool, error) {
	s.calls.Add(1)
	return s.dish, s.found, s.err
}

var tikka = models.Dish{
	ID:           "dish-1",
	RestaurantID: "u_demo",
	Name:         "Paneer Tikka",
	Price:        decimal.RequireFromString("10.00"),
	Available:    true,
}

func encode(t *testing.T, entry cachedDish) []byte {
	t.Helper()
	raw, err := json.Marshal(entry)
	if err != nil {
		t.Fatal(err)
	}
	return raw
}

func testLogger() *logger.Logger {
	return logger.NewWithWriter("catalog-test", io.Discard)
}

func TestCachedCatalog_Hit(t *testing.T) {
	db, mock := redismock.NewClientMock()
	source := &countingSource{}
	c := NewCachedCatalog(source, db, time.Minute, testLogger())

	mock.ExpectGet("dish:u_demo:dish-1").SetVal(string(encode(t, cachedDish{Found: true, Dish: &tikka})))

	dish, found, err := c.GetDish(context.Background(), "u_demo", "dish-1")
	if err != nil || !found {
		t.Fatalf("GetDish() = %v, %v", found, err)
	}
	if dish.Name != "Paneer Tikka" || !dish.Price.Equal(decimal.RequireFromString("10")) {
		t.Errorf("dish = %+v", dish)
	}
	if source.calls.Load() != 0 {
		t.Errorf("cache hit must not reach the source")
	}
}

func TestCachedCatalog_MissLoadsAndStores(t *testing.T) {
	db, mock := redismock.NewClientMock()
	source := &countingSource{dish: tikka, found: true}
	c := NewCachedCatalog(source, db, time.Minute, testLogger())

	mock.ExpectGet("dish:u_demo:dish-1").RedisNil()
	mock.ExpectSet("dish:u_demo:dish-1", encode(t, cachedDish{Found: true, Dish: &tikka}), time.Minute).SetVal("OK")

	dish, found, err := c.GetDish(context.Background(), "u_demo", "dish-1")
	if err != nil || !found || dish.ID != "dish-1" {
		t.Fatalf("GetDish() = %+v, %v, %v", dish, found, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestCachedCatalog_NegativeEntry(t *testing.T) {
	db, mock := redismock.NewClientMock()
	source := &countingSource{found: false}
	c := NewCachedCatalog(source, db, time.Minute, testLogger())

	mock.ExpectGet("dish:u_demo:ghost").RedisNil()
	mock.ExpectSet("dish:u_demo:ghost", encode(t, cachedDish{Found: false}), time.Minute).SetVal("OK")
	mock.ExpectGet("dish:u_demo:ghost").SetVal(string(encode(t, cachedDish{Found: false})))

	for i := 0; i < 2; i++ {
		_, found, err := c.GetDish(context.Background(), "u_demo", "ghost")
		if err != nil || found {
			t.Fatalf("GetDish() = %v, %v", found, err)
		}
	}
	if source.calls.Load() != 1 {
		t.Errorf("source calls = %d, want 1", source.calls.Load())
	}
}

func TestCachedCatalog_RedisDownFallsBack(t *testing.T) {
	db, mock := redismock.NewClientMock()
	source := &countingSource{dish: tikka, found: true}
	c := NewCachedCatalog(source, db, time.Minute, testLogger())

	mock.ExpectGet("dish:u_demo:dish-1").SetErr(errors.New("connection refused"))
	mock.ExpectSet("dish:u_demo:dish-1", encode(t, cachedDish{Found: true, Dish: &tikka}), time.Minute).SetErr(errors.New("connection refused"))

	_, found, err := c.GetDish(context.Background(), "u_demo", "dish-1")
	if err != nil || !found {
		t.Fatalf("GetDish() = %v, %v", found, err)
	}
}

func TestCachedCatalog_SourceErrorNotCached(t *testing.T) {
	db, mock := redismock.NewClientMock()
	source := &countingSource{err: errors.New("db down")}
	c := NewCachedCatalog(source, db, time.Minute, testLogger())

	mock.ExpectGet("dish:u_demo:dish-1").RedisNil()

	if _, _, err := c.GetDish(context.Background(), "u_demo", "dish-1"); err == nil {
		t.Fatal("expected error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestCachedCatalog_Invalidate(t *testing.T) {
	db, mock := redismock.NewClientMock()
	c := NewCachedCatalog(&countingSource{}, db, time.Minute, testLogger())

	mock.ExpectDel("dish:u_demo:dish-1").SetVal(1)

	if err := c.Invalidate(context.Background(), "u_demo", "dish-1"); err != nil {
		t.Fatalf("Invalidate() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

type blockingSource struct {
	calls   atomic.Int32
	started chan struct{}
	release chan struct{}
}

func (s *blockingSource) GetDish(ctx context.Context, restaurantID, dishID string) (models.Dish, bool, error) {
	if s.calls.Add(1) == 1 {
		close(s.started)
	}
	select {
	case <-ctx.Done():
		return models.Dish{}, false, ctx.Err()
	case <-s.release:
		return tikka, true, nil
	}
}

func TestCachedCatalog_CancelledCallerDoesNotFailOthers(t *testing.T) {
	// nothing listens here, so every cache call fails fast and falls back to the source
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 50 * time.Millisecond, MaxRetries: -1})
	defer client.Close()

	source := &blockingSource{started: make(chan struct{}), release: make(chan struct{})}
	c := NewCachedCatalog(source, client, time.Minute, testLogger())

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, _, err := c.GetDish(firstCtx, "u_demo", "dish-1")
		firstErr <- err
	}()
	<-source.started

	type result struct {
		found bool
		err   error
	}
	second := make(chan result, 1)
	go func() {
		_, found, err := c.GetDish(context.Background(), "u_demo", "dish-1")
		second <- result{found, err}
	}()
	time.Sleep(100 * time.Millisecond)

	cancelFirst()
	if err := <-firstErr; !errors.Is(err, context.Canceled) {
		t.Fatalf("cancelled caller error = %v, want context.Canceled", err)
	}

	close(source.release)
	got := <-second
	if got.err != nil || !got.found {
		t.Fatalf("waiting caller = %v, %v; want the dish", got.found, got.err)
	}
	if n := source.calls.Load(); n != 1 {
		t.Errorf("source calls = %d, want 1", n)
	}
}
