package repository

import (
	"fmt"
	"testing"
	"time"

	"github.com/kamicore/internal/models"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func setupRepositoryTest(t *testing.T, migrations ...interface{}) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:repository_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite failed: %v", err)
	}
	if err := db.AutoMigrate(migrations...); err != nil {
		t.Fatalf("auto migrate failed: %v", err)
	}
	return db
}

func TestOldestUnusedReturnsFIFO(t *testing.T) {
	db := setupRepositoryTest(t, &models.CardRecord{})
	repo := NewCardRecordRepository(db)

	cards := []models.CardRecord{
		{ProductID: 1, Content: "C1"},
		{ProductID: 1, Content: "C2"},
		{ProductID: 1, Content: "C3"},
		{ProductID: 2, Content: "OTHER"},
	}
	if err := repo.BatchCreate(cards); err != nil {
		t.Fatalf("batch create failed: %v", err)
	}

	got, err := repo.OldestUnused(1, 2)
	if err != nil {
		t.Fatalf("oldest unused failed: %v", err)
	}
	if len(got) != 2 || got[0].Content != "C1" || got[1].Content != "C2" {
		t.Fatalf("expected [C1 C2], got %+v", got)
	}

	count, err := repo.CountUnused(1)
	if err != nil {
		t.Fatalf("count unused failed: %v", err)
	}
	if count != 3 {
		t.Fatalf("expected 3 unused, got %d", count)
	}
}

func TestMarkUsedIsConditional(t *testing.T) {
	db := setupRepositoryTest(t, &models.CardRecord{})
	repo := NewCardRecordRepository(db)

	if err := repo.BatchCreate([]models.CardRecord{
		{ProductID: 1, Content: "C1"},
		{ProductID: 1, Content: "C2"},
	}); err != nil {
		t.Fatalf("batch create failed: %v", err)
	}
	cards, err := repo.OldestUnused(1, 2)
	if err != nil {
		t.Fatalf("oldest unused failed: %v", err)
	}
	ids := []uint{cards[0].ID, cards[1].ID}

	affected, err := repo.MarkUsed(ids, 10, time.Now())
	if err != nil {
		t.Fatalf("mark used failed: %v", err)
	}
	if affected != 2 {
		t.Fatalf("expected 2 affected, got %d", affected)
	}

	// 同一批卡密再次标记：条件 used=false 不再命中
	affected, err = repo.MarkUsed(ids, 11, time.Now())
	if err != nil {
		t.Fatalf("second mark used failed: %v", err)
	}
	if affected != 0 {
		t.Fatalf("expected 0 affected on contention, got %d", affected)
	}

	bound, err := repo.ListByOrder(10)
	if err != nil {
		t.Fatalf("list by order failed: %v", err)
	}
	if len(bound) != 2 {
		t.Fatalf("expected 2 cards bound to order 10, got %d", len(bound))
	}
}

func TestReleaseByOrderUnbindsCards(t *testing.T) {
	db := setupRepositoryTest(t, &models.CardRecord{})
	repo := NewCardRecordRepository(db)

	if err := repo.BatchCreate([]models.CardRecord{{ProductID: 1, Content: "C1"}}); err != nil {
		t.Fatalf("batch create failed: %v", err)
	}
	cards, _ := repo.OldestUnused(1, 1)
	if _, err := repo.MarkUsed([]uint{cards[0].ID}, 10, time.Now()); err != nil {
		t.Fatalf("mark used failed: %v", err)
	}

	affected, err := repo.ReleaseByOrder(10)
	if err != nil {
		t.Fatalf("release failed: %v", err)
	}
	if affected != 1 {
		t.Fatalf("expected 1 released, got %d", affected)
	}

	var card models.CardRecord
	db.First(&card, cards[0].ID)
	if card.Used || card.OrderID != nil || card.UsedAt != nil {
		t.Fatalf("expected card fully unbound, got %+v", card)
	}

	// 无绑定订单时为空操作
	affected, err = repo.ReleaseByOrder(999)
	if err != nil || affected != 0 {
		t.Fatalf("expected no-op release, got affected=%d err=%v", affected, err)
	}
}
