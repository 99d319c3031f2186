// workers/presence_sync_worker.go
package workers

import (
	"context"
	"log"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"pet-companion-system/models"
	"pet-companion-system/services"
)

// PresenceSyncWorker mirrors the remote users collection into the local
// user_mirrors table on an interval. The mirror backs the invite picker and
// the leaderboard's outage fallback, so a stale mirror degrades those
// features but never blocks them.
type PresenceSyncWorker struct {
	db       *gorm.DB
	docs     services.DocumentService
	interval time.Duration
}

func NewPresenceSyncWorker(db *gorm.DB, docs services.DocumentService) *PresenceSyncWorker {
	return &PresenceSyncWorker{
		db:       db,
		docs:     docs,
		interval: 1 * time.Minute,
	}
}

func (w *PresenceSyncWorker) Start(ctx context.Context) {
	log.Println("🔁 Starting Presence Sync Worker (document store → user_mirrors)…")
	go w.run(ctx)
}

func (w *PresenceSyncWorker) run(ctx context.Context) {
	// Initial backfill regardless of what the mirror already holds.
	if err := w.syncBatch(ctx, time.Time{}); err != nil {
		log.Printf("⚠️ Initial presence sync failed: %v", err)
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := w.syncBatch(ctx, w.getLastSyncTime()); err != nil {
				log.Printf("❌ Presence sync batch failed: %v", err)
			}
		case <-ctx.Done():
			log.Println("⏹️ Presence Sync Worker stopped")
			return
		}
	}
}

// getLastSyncTime finds the most recent UpdatedAt in the local mirror. The
// watermark only advances through successful upserts, so a failed batch is
// retried on the next tick.
func (w *PresenceSyncWorker) getLastSyncTime() time.Time {
	var lastTime time.Time
	err := w.db.Raw("SELECT MAX(updated_at) FROM user_mirrors WHERE deleted_at IS NULL").Scan(&lastTime).Error
	if err != nil || lastTime.IsZero() {
		return time.Unix(0, 0)
	}
	return lastTime
}

// syncBatch pulls the remote users and upserts everything updated after
// since into the mirror.
func (w *PresenceSyncWorker) syncBatch(ctx context.Context, since time.Time) error {
	log.Printf("[SYNC] 📡 Fetching remote users since=%s", since.UTC().Format(time.RFC3339))

	snaps, err := w.docs.List(ctx, services.UsersCollection)
	if err != nil {
		return err
	}

	var upsertCount, errorCount, skipped int
	for _, snap := range snaps {
		doc := snap.Data

		updatedAt, ok := doc.Time("updatedAt")
		if ok && !updatedAt.After(since) {
			skipped++
			continue
		}
		if !ok {
			updatedAt = time.Now().UTC()
		}

		mirror := models.UserMirror{
			ID:          snap.ID,
			DisplayName: doc.String("displayName"),
			Status:      doc.String("status"),
			PetName:     doc.String("petName"),
			HasPet:      doc.Bool("hasPet"),
			UpdatedAt:   updatedAt,
		}
		if sel, found := doc.Int64("petSelection"); found {
			v := int(sel)
			mirror.PetSelection = &v
		}
		if tokens, found := doc.Int64("tokens"); found {
			mirror.Tokens = tokens
		}
		if lastActive, found := doc.Time("lastActive"); found {
			mirror.LastActive = lastActive
		}
		if createdAt, found := doc.Time("createdAt"); found {
			mirror.CreatedAt = createdAt
		}

		if err := w.db.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"display_name", "status", "pet_name", "pet_selection",
				"has_pet", "tokens", "last_active", "updated_at",
			}),
		}).Create(&mirror).Error; err != nil {
			errorCount++
			log.Printf("[SYNC] ⚠️ Failed to upsert user_mirror (id=%q): %v", snap.ID, err)
		} else {
			upsertCount++
		}
	}

	if upsertCount == 0 && errorCount == 0 {
		log.Printf("[SYNC] ✅ No user changes since %s", since.UTC().Format(time.RFC3339))
		return nil
	}

	log.Printf("[SYNC] ✅ Mirrored %d user(s) (%d upserted, %d errors, %d unchanged)",
		len(snaps), upsertCount, errorCount, skipped)
	return nil
}
