package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/theoren0108/TweetDigest/pkg/models"
)

// SaveResult reports what SavePosts changed
type SaveResult struct {
	Inserted   []string
	Duplicates int
	MediaRows  int
	Compaction CompactResult
}

// SavePosts stores a batch in one transaction. An existing post id wins over
// the new record. Media rows are upserted and compacted before commit; files
// left without a referencing row are removed afterwards.
func (s *Store) SavePosts(ctx context.Context, batch []models.NewPost) (SaveResult, error) {
	var res SaveResult

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return res, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	insertedAt := models.FormatTime(s.now())
	for _, np := range batch {
		p := np.Post
		account := models.NormalizeHandle(p.Account)
		if account == "" {
			account = models.NormalizeHandle(p.Author)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO accounts(handle) VALUES (?)`, account); err != nil {
			return res, fmt.Errorf("ensure account %s: %w", account, err)
		}

		raw := string(p.Raw)
		if raw == "" {
			raw = "{}"
		}
		r, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO posts(id, author, account, created_at, text, url, raw, media_manifest, is_summarized, inserted_at)
			VALUES (?, ?, ?, NULLIF(?, ''), ?, ?, ?, '[]', 0, ?)`,
			p.ID, p.Author, account, p.CreatedAt, p.Text, p.URL, raw, insertedAt)
		if err != nil {
			return res, fmt.Errorf("insert post %s: %w", p.ID, err)
		}
		if n, _ := r.RowsAffected(); n == 0 {
			res.Duplicates++
			continue
		}
		res.Inserted = append(res.Inserted, p.ID)

		manifest, err := upsertMedia(ctx, tx, p.ID, np.Media)
		if err != nil {
			return res, err
		}
		res.MediaRows += len(manifest)
		if err := writeManifest(ctx, tx, p.ID, manifest); err != nil {
			return res, err
		}
	}

	compaction, err := compact(ctx, tx)
	if err != nil {
		return res, err
	}
	res.Compaction = compaction

	if err := tx.Commit(); err != nil {
		return res, fmt.Errorf("commit posts: %w", err)
	}
	s.reclaim(compaction.Reclaimed)
	return res, nil
}

// UpsertMedia records media for an existing post and returns the manifest
// entries. Only null path, remote url and hash values are filled in.
func (s *Store) UpsertMedia(ctx context.Context, postID string, items []models.Media) ([]models.MediaRef, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	refs, err := upsertMedia(ctx, tx, postID, items)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return refs, nil
}

func upsertMedia(ctx context.Context, tx *sql.Tx, postID string, items []models.Media) ([]models.MediaRef, error) {
	refs := make([]models.MediaRef, 0, len(items))
	for _, m := range items {
		if m.SourceURL == "" {
			continue
		}
		mediaType := m.Type
		if mediaType == "" {
			mediaType = "photo"
		}
		var (
			id        int64
			localPath sql.NullString
			hash      sql.NullString
		)
		err := tx.QueryRowContext(ctx, `
			INSERT INTO media(post_id, media_key, media_type, source_url, local_path, remote_url, hash)
			VALUES (?, NULLIF(?, ''), ?, ?, ?, NULLIF(?, ''), ?)
			ON CONFLICT(post_id, source_url) DO UPDATE SET
				media_key = COALESCE(media.media_key, excluded.media_key),
				local_path = COALESCE(media.local_path, excluded.local_path),
				remote_url = COALESCE(media.remote_url, excluded.remote_url),
				hash = COALESCE(media.hash, excluded.hash)
			RETURNING id, local_path, hash`,
			postID, m.Key, mediaType, m.SourceURL, m.LocalPath, m.RemoteURL, m.Hash).
			Scan(&id, &localPath, &hash)
		if err != nil {
			return nil, fmt.Errorf("upsert media %s for %s: %w", m.SourceURL, postID, err)
		}

		ref := models.MediaRef{MediaID: id, Key: m.Key, Type: mediaType, SourceURL: m.SourceURL}
		if localPath.Valid {
			ref.LocalPath = &localPath.String
		}
		if hash.Valid {
			ref.Hash = &hash.String
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

func writeManifest(ctx context.Context, tx *sql.Tx, postID string, refs []models.MediaRef) error {
	if refs == nil {
		refs = []models.MediaRef{}
	}
	data, err := json.Marshal(refs)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE posts SET media_manifest = ? WHERE id = ?`, string(data), postID); err != nil {
		return fmt.Errorf("write manifest for %s: %w", postID, err)
	}
	return nil
}

// WindowOptions narrows PostsInWindow
type WindowOptions struct {
	OnlyUnsummarized bool
}

// PostsInWindow returns posts created within [now-window, now], oldest first.
// Posts whose timestamp cannot be parsed are left out.
func (s *Store) PostsInWindow(ctx context.Context, now time.Time, window time.Duration, opts WindowOptions) ([]models.Post, error) {
	query := postColumns + ` FROM posts WHERE created_at IS NOT NULL AND created_at <> ''`
	if opts.OnlyUnsummarized {
		query += ` AND is_summarized = 0`
	}
	// Legacy rows carry several timestamp formats, so the window is applied
	// after parsing rather than in SQL.
	posts, err := s.queryPosts(ctx, query)
	if err != nil {
		return nil, err
	}

	lower := now.Add(-window)
	inWindow := posts[:0]
	for _, p := range posts {
		t, ok := p.Time()
		if !ok || t.Before(lower) || t.After(now) {
			continue
		}
		inWindow = append(inWindow, p)
	}

	sort.SliceStable(inWindow, func(i, j int) bool {
		ti, _ := inWindow[i].Time()
		tj, _ := inWindow[j].Time()
		if !ti.Equal(tj) {
			return ti.Before(tj)
		}
		return inWindow[i].ID < inWindow[j].ID
	})
	return inWindow, nil
}

// Post returns one post by id
func (s *Store) Post(ctx context.Context, id string) (models.Post, error) {
	posts, err := s.queryPosts(ctx, postColumns+` FROM posts WHERE id = ?`, id)
	if err != nil {
		return models.Post{}, err
	}
	if len(posts) == 0 {
		return models.Post{}, notFound("post", id)
	}
	return posts[0], nil
}

// MarkSummarized flags posts as included in a summary
func (s *Store) MarkSummarized(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	marked := 0
	for _, id := range ids {
		r, err := tx.ExecContext(ctx, `UPDATE posts SET is_summarized = 1 WHERE id = ? AND is_summarized = 0`, id)
		if err != nil {
			return 0, fmt.Errorf("mark %s summarized: %w", id, err)
		}
		n, _ := r.RowsAffected()
		marked += int(n)
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return marked, nil
}

const postColumns = `SELECT id, COALESCE(author, ''), COALESCE(account, ''), COALESCE(created_at, ''),
	COALESCE(text, ''), COALESCE(url, ''), COALESCE(raw, '{}'), COALESCE(media_manifest, '[]'), is_summarized`

func (s *Store) queryPosts(ctx context.Context, query string, args ...any) ([]models.Post, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query posts: %w", err)
	}
	defer rows.Close()

	var out []models.Post
	for rows.Next() {
		var (
			p        models.Post
			raw      string
			manifest string
		)
		if err := rows.Scan(&p.ID, &p.Author, &p.Account, &p.CreatedAt, &p.Text, &p.URL, &raw, &manifest, &p.IsSummarized); err != nil {
			return nil, err
		}
		p.Raw = []byte(raw)
		if err := json.Unmarshal([]byte(manifest), &p.Media); err != nil {
			s.logger.WarnWithFields("Unreadable media manifest", map[string]interface{}{
				"post_id": p.ID,
				"error":   err.Error(),
			})
			p.Media = nil
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
