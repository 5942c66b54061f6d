package usecase

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"ragchat/config"
	"ragchat/internal/adapter/store"
	"ragchat/internal/domain"
)

// ReindexUseCase repairs or regenerates the vector index.
type ReindexUseCase struct {
	store   *store.BoltStore
	vectors *store.BoltVectorStore
	ingest  *IngestUseCase
	cfg     *config.Config
	log     logrus.FieldLogger

	// OnReset runs after the index is cleared, e.g. to drop cached query vectors.
	OnReset func()
}

// NewReindexUseCase creates a new reindex use case.
func NewReindexUseCase(
	st *store.BoltStore,
	vectors *store.BoltVectorStore,
	ingest *IngestUseCase,
	cfg *config.Config,
	log logrus.FieldLogger,
) *ReindexUseCase {
	return &ReindexUseCase{
		store:   st,
		vectors: vectors,
		ingest:  ingest,
		cfg:     cfg,
		log:     log,
	}
}

// ReindexResult contains the results of a rebuild or full reindex.
type ReindexResult struct {
	Documents  int
	Chunks     int
	Reingested int
	Failed     []string
}

// Progress is called after each document a reindex ingests.
type Progress func(doc domain.Document, err error)

// Check reports whether the stored schema or vectors are out of date.
func (u *ReindexUseCase) Check() (*store.MigrationResult, error) {
	return u.store.CheckMigration(u.cfg)
}

// Prepare runs schema migrations on a database whose vectors still match
// the configuration. It reports whether a full reindex is required instead.
func (u *ReindexUseCase) Prepare() (needsReindex bool, err error) {
	res, err := u.Check()
	if err != nil {
		return false, err
	}
	if res.NeedsReindex {
		u.log.WithField("reason", res.Reason).Warn("stored vectors do not match configuration, run `ragchat reindex --all`")
		return true, nil
	}
	if res.NeedsMigration {
		u.log.WithFields(logrus.Fields{"from": res.OldVersion, "to": res.NewVersion}).Info(res.Reason)
		return false, u.store.Migrate(u.cfg)
	}
	return false, nil
}

// Rebuild regenerates the derived index from persisted chunk records and
// re-ingests documents whose vectors were lost.
func (u *ReindexUseCase) Rebuild(ctx context.Context, progress Progress) (ReindexResult, error) {
	report, err := u.vectors.Rebuild()
	if err != nil {
		return ReindexResult{}, fmt.Errorf("rebuild index: %w", err)
	}
	u.log.WithFields(logrus.Fields{
		"documents":  report.Documents,
		"chunks":     report.Chunks,
		"unembedded": len(report.Unembedded),
	}).Info("index rebuilt from chunk records")

	result := ReindexResult{Documents: report.Documents}
	for _, id := range report.Unembedded {
		if err := u.reingest(ctx, id, &result, progress); err != nil {
			return result, err
		}
	}
	result.Chunks = u.vectors.Count()
	return result, nil
}

// ReindexAll drops every vector and re-ingests the whole corpus with the
// current configuration, then records the new index fingerprint.
func (u *ReindexUseCase) ReindexAll(ctx context.Context, progress Progress) (ReindexResult, error) {
	docs, err := u.store.ListDocuments("")
	if err != nil {
		return ReindexResult{}, err
	}
	if err := u.vectors.Clear(); err != nil {
		return ReindexResult{}, fmt.Errorf("clear index: %w", err)
	}
	if u.OnReset != nil {
		u.OnReset()
	}

	result := ReindexResult{Documents: len(docs)}
	for _, doc := range docs {
		if err := u.reingest(ctx, doc.ID, &result, progress); err != nil {
			return result, err
		}
	}
	result.Chunks = u.vectors.Count()

	if len(result.Failed) > 0 {
		// Keep the old fingerprint so the reindex is asked for again.
		return result, nil
	}
	return result, u.store.Migrate(u.cfg)
}

func (u *ReindexUseCase) reingest(ctx context.Context, id string, result *ReindexResult, progress Progress) error {
	doc, err := u.ingest.Ingest(ctx, id)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err != nil {
		result.Failed = append(result.Failed, id)
	} else {
		result.Reingested++
	}
	if progress != nil {
		progress(doc, err)
	}
	return nil
}
