package mysql

// Re-hosted image bytes. id is the deterministic storage key derived from
// the place cache key and a content hash, so repeated ingests of the same
// bytes collapse to one row.
const upsertMediaSQL = `
INSERT INTO media
  (id, tier, content_type, bytes, origin_url)
VALUES
  (?, ?, ?, ?, ?)
ON DUPLICATE KEY UPDATE
  tier         = VALUES(tier),
  content_type = VALUES(content_type),
  bytes        = VALUES(bytes),
  origin_url   = VALUES(origin_url),
  updated_at   = CURRENT_TIMESTAMP
`

const getMediaSQL = `
SELECT content_type, bytes
FROM media
WHERE id = ?
`
