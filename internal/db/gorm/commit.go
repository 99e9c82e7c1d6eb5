package gorm

import (
	"context"
	"fmt"
	"hash/fnv"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/thebtf/threadline/pkg/models"
	"github.com/thebtf/threadline/pkg/similarity"
)

// ThreadUpdate carries the regenerated thread content applied on attachment.
type ThreadUpdate struct {
	Title     string
	Summary   string
	Embedding []float32
	Resolved  bool // external signal that the story has concluded
	Blocked   bool
	Reason    string
}

// AssignmentPlan is the outcome of an assignment decision, handed to the
// transaction layer for atomic commit. The engine stays side-effect free
// until this point, so a retried assign never duplicates state.
type AssignmentPlan struct {
	Article *models.Article

	// CreateThread selects between seeding a new thread from the article and
	// attaching to Thread.
	CreateThread bool
	Thread       *models.Thread

	// Revision is the regenerated title/summary/embedding for the attach
	// case. Nil keeps the thread's current content (e.g. when the revision
	// call was blocked).
	Revision *ThreadUpdate

	// Linkage evidence; ThreadID and ArticleID are filled in by the commit.
	Linkage *models.Linkage

	// CosineThreshold guards the create path: inside the partition lock the
	// search is re-run, and a concurrently created thread above this
	// threshold absorbs the article instead of gaining a sibling.
	CosineThreshold float64

	// Examined lists the thread IDs the decision procedure already retrieved
	// and declined. The recheck skips them, so only threads that appeared
	// after the search can convert a create into an attach; a candidate the
	// judge rejected stays rejected.
	Examined []string

	// Advance computes the post-attachment status from the current status
	// and the total number of attachments, keeping lifecycle policy out of
	// the storage layer.
	Advance func(current models.ThreadStatus, attachments int64) models.ThreadStatus
}

// CommitResult reports what a commit actually did.
type CommitResult struct {
	Duplicate bool
	Created   bool
	ThreadID  string
	Status    models.ThreadStatus
}

// CommitAssignment commits the (article, thread, linkage) triple as one
// transaction. Duplicate URLs and duplicate linkage keys are absorbed as
// idempotent no-ops. Thread creation is serialized per partition via a
// Postgres advisory lock so concurrent near-duplicate articles converge on a
// single thread (SQLite relies on its single-writer transactions instead).
func (s *Store) CommitAssignment(ctx context.Context, plan *AssignmentPlan) (*CommitResult, error) {
	if plan.Article == nil || plan.Linkage == nil {
		return nil, fmt.Errorf("incomplete assignment plan")
	}
	if err := plan.Linkage.Validate(); err != nil {
		return nil, err
	}

	result := &CommitResult{}

	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if s.IsPostgres() {
			key := partitionLockKey(plan.Article.Partition())
			if err := tx.Exec("SELECT pg_advisory_xact_lock(?)", key).Error; err != nil {
				return fmt.Errorf("acquire partition lock: %w", err)
			}
		}

		// Article insert; a URL conflict means this article was already
		// ingested and the whole pass is a no-op.
		dbArticle := fromModelArticle(plan.Article)
		res := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "url"}},
			DoNothing: true,
		}).Create(dbArticle)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			result.Duplicate = true
			return nil
		}
		plan.Article.ID = dbArticle.ID

		if plan.CreateThread {
			// Inside the lock, a sibling may have appeared since the engine
			// ran its search. Attach instead of creating when one is close
			// enough.
			if sibling, cos, err := s.recheckSibling(tx, plan); err != nil {
				return err
			} else if sibling != "" {
				return s.attach(tx, plan, result, sibling, &models.Linkage{
					Cosine:        cos,
					Score:         models.SeedScore,
					Justification: "absorbed by thread created concurrently in the same partition",
				})
			}
			return s.createThread(tx, plan, result)
		}

		return s.attach(tx, plan, result, plan.Thread.ID, plan.Linkage)
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// createThread seeds a new thread from the article and writes the seed
// linkage (cosine 1.0, score 101, empty justification).
func (s *Store) createThread(tx *gorm.DB, plan *AssignmentPlan, result *CommitResult) error {
	seed := plan.Thread
	dbThread := &Thread{
		Category:      seed.Category,
		Country:       seed.Country,
		Language:      seed.Language,
		Title:         seed.Title,
		Summary:       seed.Summary,
		Embedding:     fromModelArticle(plan.Article).Embedding,
		Status:        string(models.StatusStarted),
		Blocked:       seed.Blocked,
		BlockedReason: seed.BlockedReason,
		CreatedAt:     plan.Article.PublishedAt.UTC(),
		UpdatedAt:     plan.Article.PublishedAt.UTC(),
	}
	if dbThread.CreatedAt.IsZero() {
		dbThread.CreatedAt = time.Now().UTC()
		dbThread.UpdatedAt = dbThread.CreatedAt
	}
	if err := tx.Create(dbThread).Error; err != nil {
		return err
	}

	link := &Linkage{
		ThreadID:      dbThread.ID,
		ArticleID:     plan.Article.ID,
		Cosine:        1.0,
		Score:         models.SeedScore,
		Justification: "",
		AttachedAt:    dbThread.CreatedAt,
	}
	if err := tx.Create(link).Error; err != nil {
		return err
	}

	result.Created = true
	result.ThreadID = dbThread.ID
	result.Status = models.StatusStarted
	return nil
}

// attach links the article to an existing thread, applies the content
// revision and advances the lifecycle status.
func (s *Store) attach(tx *gorm.DB, plan *AssignmentPlan, result *CommitResult, threadID string, evidence *models.Linkage) error {
	query := tx.Model(&Thread{})
	if s.IsPostgres() {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}

	var current Thread
	if err := query.First(&current, "id = ?", threadID).Error; err != nil {
		return err
	}

	link := &Linkage{
		ThreadID:      threadID,
		ArticleID:     plan.Article.ID,
		Cosine:        evidence.Cosine,
		Score:         evidence.Score,
		Justification: evidence.Justification,
		AttachedAt:    time.Now().UTC(),
	}
	res := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "thread_id"}, {Name: "article_id"}},
		DoNothing: true,
	}).Create(link)
	if res.Error != nil {
		return res.Error
	}

	var attachments int64
	if err := tx.Model(&Linkage{}).Where("thread_id = ?", threadID).Count(&attachments).Error; err != nil {
		return err
	}

	updates := map[string]any{
		"updated_at": time.Now().UTC(),
	}
	if plan.Revision != nil && !plan.Revision.Blocked {
		updates["title"] = plan.Revision.Title
		updates["summary"] = plan.Revision.Summary
		if len(plan.Revision.Embedding) > 0 {
			updates["embedding"] = fromModelArticle(&models.Article{Embedding: plan.Revision.Embedding}).Embedding
		}
	}
	if plan.Revision != nil && plan.Revision.Blocked {
		updates["blocked"] = true
		updates["blocked_reason"] = plan.Revision.Reason
	}

	status := models.ThreadStatus(current.Status)
	resolved := plan.Revision != nil && plan.Revision.Resolved
	if plan.Advance != nil {
		status = plan.Advance(status, attachments)
	}
	if resolved {
		status = models.StatusLikelyResolved
	}
	updates["status"] = string(status)

	if err := tx.Model(&Thread{}).Where("id = ?", threadID).Updates(updates).Error; err != nil {
		return err
	}

	result.ThreadID = threadID
	result.Status = status
	return nil
}

// recheckSibling re-runs the nearest-neighbor search inside the partition
// lock, ignoring threads the caller already examined. Returns the closest
// new thread's ID and cosine when it clears the threshold, or empty when
// the create decision stands.
func (s *Store) recheckSibling(tx *gorm.DB, plan *AssignmentPlan) (string, float64, error) {
	p := plan.Article.Partition()
	emb := plan.Article.Embedding
	if similarity.IsZero(emb) {
		return "", 0, nil
	}

	if s.IsPostgres() {
		var row struct {
			ID     string
			Cosine float64
		}
		vec := fromModelArticle(plan.Article).Embedding
		query := `SELECT id, 1 - (embedding::halfvec(3072) <=> ?::halfvec(3072)) AS cosine
			 FROM threads
			 WHERE category = ? AND country = ? AND language = ?`
		args := []any{vec, p.Category, p.Country, p.Language}
		if len(plan.Examined) > 0 {
			query += ` AND id NOT IN ?`
			args = append(args, plan.Examined)
		}
		query += ` ORDER BY cosine DESC, updated_at DESC LIMIT 1`
		if err := tx.Raw(query, args...).Scan(&row).Error; err != nil {
			return "", 0, err
		}
		if row.ID != "" && row.Cosine >= plan.CosineThreshold {
			return row.ID, row.Cosine, nil
		}
		return "", 0, nil
	}

	// SQLite path: exact scan in Go.
	var threads []Thread
	if err := tx.
		Where("category = ? AND country = ? AND language = ?", p.Category, p.Country, p.Language).
		Find(&threads).Error; err != nil {
		return "", 0, err
	}

	examined := make(map[string]struct{}, len(plan.Examined))
	for _, id := range plan.Examined {
		examined[id] = struct{}{}
	}

	bestID, bestCos := "", -1.0
	var bestUpdated time.Time
	for i := range threads {
		if _, skip := examined[threads[i].ID]; skip {
			continue
		}
		cos, err := similarity.Cosine(emb, threads[i].Embedding.Slice())
		if err != nil {
			continue
		}
		if cos > bestCos || (cos == bestCos && threads[i].UpdatedAt.After(bestUpdated)) {
			bestID, bestCos, bestUpdated = threads[i].ID, cos, threads[i].UpdatedAt
		}
	}
	if bestID != "" && bestCos >= plan.CosineThreshold {
		return bestID, bestCos, nil
	}
	return "", 0, nil
}

// partitionLockKey hashes a partition to the advisory-lock keyspace.
func partitionLockKey(p models.Partition) int64 {
	h := fnv.New64a()
	h.Write([]byte(p.Category))
	h.Write([]byte{0})
	h.Write([]byte(p.Country))
	h.Write([]byte{0})
	h.Write([]byte(p.Language))
	return int64(h.Sum64())
}
