package postgres

import (
	"github.com/google/uuid"

	"github.com/sunil55999/autoforwardx/internal/domain"
)

// FilterRepo persists blocked-phrase and blocked-image rules.
type FilterRepo struct{ Pool PgxPool }

// NewFilterRepo constructs a FilterRepo with the given pool.
func NewFilterRepo(p PgxPool) *FilterRepo { return &FilterRepo{Pool: p} }

// PhrasesFor returns active phrase rules applying to the pair. Pair-scoped
// rules sort before user-wide rules so the filter reports the tighter match.
func (r *FilterRepo) PhrasesFor(ctx domain.Context, userID, pairID string) ([]domain.BlockedPhrase, error) {
	q := `SELECT id, user_id, pair_id, text, active FROM blocked_sentences
		WHERE user_id=$1 AND active AND (pair_id=$2 OR pair_id IS NULL)
		ORDER BY pair_id NULLS LAST, id`
	rows, err := r.Pool.Query(ctx, q, userID, pairID)
	if err != nil {
		return nil, mapErr("filter.phrases_for", err)
	}
	defer rows.Close()
	var out []domain.BlockedPhrase
	for rows.Next() {
		var p domain.BlockedPhrase
		if err := rows.Scan(&p.ID, &p.UserID, &p.PairID, &p.Text, &p.Active); err != nil {
			return nil, mapErr("filter.phrases_for", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ImagesFor returns active image rules applying to the pair, same ordering.
func (r *FilterRepo) ImagesFor(ctx domain.Context, userID, pairID string) ([]domain.BlockedImage, error) {
	q := `SELECT id, user_id, pair_id, image_hash, active FROM blocked_images
		WHERE user_id=$1 AND active AND (pair_id=$2 OR pair_id IS NULL)
		ORDER BY pair_id NULLS LAST, id`
	rows, err := r.Pool.Query(ctx, q, userID, pairID)
	if err != nil {
		return nil, mapErr("filter.images_for", err)
	}
	defer rows.Close()
	var out []domain.BlockedImage
	for rows.Next() {
		var im domain.BlockedImage
		if err := rows.Scan(&im.ID, &im.UserID, &im.PairID, &im.ImageHash, &im.Active); err != nil {
			return nil, mapErr("filter.images_for", err)
		}
		out = append(out, im)
	}
	return out, rows.Err()
}

// AddPhrase inserts a phrase rule and returns its id.
func (r *FilterRepo) AddPhrase(ctx domain.Context, p domain.BlockedPhrase) (string, error) {
	id := p.ID
	if id == "" {
		id = uuid.New().String()
	}
	q := `INSERT INTO blocked_sentences (id, user_id, pair_id, text, active) VALUES ($1,$2,$3,$4,$5)`
	if _, err := r.Pool.Exec(ctx, q, id, p.UserID, p.PairID, p.Text, p.Active); err != nil {
		return "", mapErr("filter.add_phrase", err)
	}
	return id, nil
}

// DeletePhrase removes a phrase rule.
func (r *FilterRepo) DeletePhrase(ctx domain.Context, id string) error {
	tag, err := r.Pool.Exec(ctx, `DELETE FROM blocked_sentences WHERE id=$1`, id)
	if err != nil {
		return mapErr("filter.delete_phrase", err)
	}
	if tag.RowsAffected() == 0 {
		return mapErr("filter.delete_phrase", domain.ErrNotFound)
	}
	return nil
}

// ListPhrases returns every phrase rule owned by the user.
func (r *FilterRepo) ListPhrases(ctx domain.Context, userID string) ([]domain.BlockedPhrase, error) {
	rows, err := r.Pool.Query(ctx, `SELECT id, user_id, pair_id, text, active FROM blocked_sentences WHERE user_id=$1 ORDER BY id`, userID)
	if err != nil {
		return nil, mapErr("filter.list_phrases", err)
	}
	defer rows.Close()
	var out []domain.BlockedPhrase
	for rows.Next() {
		var p domain.BlockedPhrase
		if err := rows.Scan(&p.ID, &p.UserID, &p.PairID, &p.Text, &p.Active); err != nil {
			return nil, mapErr("filter.list_phrases", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// AddImage inserts an image rule and returns its id.
func (r *FilterRepo) AddImage(ctx domain.Context, im domain.BlockedImage) (string, error) {
	id := im.ID
	if id == "" {
		id = uuid.New().String()
	}
	q := `INSERT INTO blocked_images (id, user_id, pair_id, image_hash, active) VALUES ($1,$2,$3,$4,$5)`
	if _, err := r.Pool.Exec(ctx, q, id, im.UserID, im.PairID, im.ImageHash, im.Active); err != nil {
		return "", mapErr("filter.add_image", err)
	}
	return id, nil
}

// DeleteImage removes an image rule.
func (r *FilterRepo) DeleteImage(ctx domain.Context, id string) error {
	tag, err := r.Pool.Exec(ctx, `DELETE FROM blocked_images WHERE id=$1`, id)
	if err != nil {
		return mapErr("filter.delete_image", err)
	}
	if tag.RowsAffected() == 0 {
		return mapErr("filter.delete_image", domain.ErrNotFound)
	}
	return nil
}

// ListImages returns every image rule owned by the user.
func (r *FilterRepo) ListImages(ctx domain.Context, userID string) ([]domain.BlockedImage, error) {
	rows, err := r.Pool.Query(ctx, `SELECT id, user_id, pair_id, image_hash, active FROM blocked_images WHERE user_id=$1 ORDER BY id`, userID)
	if err != nil {
		return nil, mapErr("filter.list_images", err)
	}
	defer rows.Close()
	var out []domain.BlockedImage
	for rows.Next() {
		var im domain.BlockedImage
		if err := rows.Scan(&im.ID, &im.UserID, &im.PairID, &im.ImageHash, &im.Active); err != nil {
			return nil, mapErr("filter.list_images", err)
		}
		out = append(out, im)
	}
	return out, rows.Err()
}
