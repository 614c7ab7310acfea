package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/theoren0108/TweetDigest/pkg/models"
)

// CompactResult reports a media compaction pass
type CompactResult struct {
	Removed   int
	Remapped  int
	Reclaimed []string
}

// CompactMedia collapses media rows sharing a content hash onto the row with
// the lowest id, remapping manifests and removing orphaned files
func (s *Store) CompactMedia(ctx context.Context) (CompactResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return CompactResult{}, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	res, err := compact(ctx, tx)
	if err != nil {
		return CompactResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return CompactResult{}, fmt.Errorf("commit compaction: %w", err)
	}
	s.reclaim(res.Reclaimed)
	return res, nil
}

type canonicalMedia struct {
	id   int64
	hash string
	path sql.NullString
}

func compact(ctx context.Context, tx *sql.Tx) (CompactResult, error) {
	var res CompactResult

	rows, err := tx.QueryContext(ctx, `
		SELECT id, hash, local_path FROM media
		WHERE hash IS NOT NULL AND hash IN (
			SELECT hash FROM media WHERE hash IS NOT NULL GROUP BY hash HAVING COUNT(*) > 1
		)
		ORDER BY hash, id`)
	if err != nil {
		return res, fmt.Errorf("scan duplicate media: %w", err)
	}

	canonical := make(map[string]*canonicalMedia)
	remap := make(map[int64]*canonicalMedia)
	var dupPaths []string
	for rows.Next() {
		var m canonicalMedia
		if err := rows.Scan(&m.id, &m.hash, &m.path); err != nil {
			rows.Close()
			return res, err
		}
		c, ok := canonical[m.hash]
		if !ok {
			canonical[m.hash] = &m
			continue
		}
		if !c.path.Valid && m.path.Valid {
			c.path = m.path
		}
		remap[m.id] = c
		if m.path.Valid {
			dupPaths = append(dupPaths, m.path.String)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return res, err
	}
	if len(remap) == 0 {
		return res, nil
	}

	for _, c := range canonical {
		if c.path.Valid {
			if _, err := tx.ExecContext(ctx,
				`UPDATE media SET local_path = ? WHERE id = ? AND local_path IS NULL`, c.path.String, c.id); err != nil {
				return res, err
			}
		}
	}

	remapped, err := remapManifests(ctx, tx, remap)
	if err != nil {
		return res, err
	}
	res.Remapped = remapped

	for id := range remap {
		if _, err := tx.ExecContext(ctx, `DELETE FROM media WHERE id = ?`, id); err != nil {
			return res, fmt.Errorf("delete duplicate media %d: %w", id, err)
		}
		res.Removed++
	}

	seen := make(map[string]bool)
	for _, path := range dupPaths {
		if seen[path] {
			continue
		}
		seen[path] = true
		var refs int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM media WHERE local_path = ?`, path).Scan(&refs); err != nil {
			return res, err
		}
		if refs == 0 {
			res.Reclaimed = append(res.Reclaimed, path)
		}
	}
	return res, nil
}

func remapManifests(ctx context.Context, tx *sql.Tx, remap map[int64]*canonicalMedia) (int, error) {
	rows, err := tx.QueryContext(ctx, `SELECT id, media_manifest FROM posts WHERE media_manifest IS NOT NULL AND media_manifest <> '[]'`)
	if err != nil {
		return 0, fmt.Errorf("scan manifests: %w", err)
	}
	type update struct {
		postID   string
		manifest []byte
	}
	var updates []update
	for rows.Next() {
		var id, raw string
		if err := rows.Scan(&id, &raw); err != nil {
			rows.Close()
			return 0, err
		}
		var refs []models.MediaRef
		if err := json.Unmarshal([]byte(raw), &refs); err != nil {
			continue
		}
		changed := false
		for i := range refs {
			c, ok := remap[refs[i].MediaID]
			if !ok {
				continue
			}
			hash := c.hash
			refs[i].MediaID = c.id
			refs[i].Hash = &hash
			if c.path.Valid {
				path := c.path.String
				refs[i].LocalPath = &path
			}
			changed = true
		}
		if changed {
			data, err := json.Marshal(refs)
			if err != nil {
				rows.Close()
				return 0, err
			}
			updates = append(updates, update{postID: id, manifest: data})
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	for _, u := range updates {
		if _, err := tx.ExecContext(ctx, `UPDATE posts SET media_manifest = ? WHERE id = ?`, string(u.manifest), u.postID); err != nil {
			return 0, fmt.Errorf("remap manifest for %s: %w", u.postID, err)
		}
	}
	return len(updates), nil
}

func (s *Store) reclaim(paths []string) {
	for _, path := range paths {
		if err := s.remove(path); err != nil {
			s.logger.WarnWithFields("Failed to remove orphaned media file", map[string]interface{}{
				"path":  path,
				"error": err.Error(),
			})
		}
	}
}
