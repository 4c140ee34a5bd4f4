package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/MeKo-Tech/defectscan/internal/detector"
)

// Record is one stored detection run.
type Record struct {
	ID               int64                `json:"id"`
	UserID           int64                `json:"-"`
	OriginalImageURL string               `json:"original_image_url"`
	DetectedImageURL string               `json:"detected_image_url"`
	Detections       []detector.Detection `json:"detection_data"`
	TotalDefects     int                  `json:"total_defects"`
	DefectTypes      []string             `json:"defect_types"`
	ModelVersion     string               `json:"model_version"`
	CreatedAt        time.Time            `json:"-"`
}

// MarshalJSON renders created_at in TimeLayout.
func (r Record) MarshalJSON() ([]byte, error) {
	type plain Record
	return json.Marshal(struct {
		plain
		CreatedAt string `json:"created_at"`
	}{plain: plain(r), CreatedAt: r.CreatedAt.Format(TimeLayout)})
}

// UnmarshalJSON accepts created_at in TimeLayout.
func (r *Record) UnmarshalJSON(data []byte) error {
	type plain Record
	var aux struct {
		plain
		CreatedAt string `json:"created_at"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*r = Record(aux.plain)
	if aux.CreatedAt != "" {
		t, err := time.Parse(TimeLayout, aux.CreatedAt)
		if err != nil {
			return fmt.Errorf("invalid created_at: %w", err)
		}
		r.CreatedAt = t
	}
	return nil
}

// RecordRepository reads and writes detection records.
type RecordRepository struct {
	db *DB
}

// NewRecordRepository creates a record repository on db.
func NewRecordRepository(db *DB) *RecordRepository {
	return &RecordRepository{db: db}
}

// Insert stores rec and sets its id. A zero CreatedAt is set to now.
func (r *RecordRepository) Insert(ctx context.Context, rec *Record) error {
	dets := rec.Detections
	if dets == nil {
		dets = []detector.Detection{}
	}
	detJSON, err := json.Marshal(dets)
	if err != nil {
		return fmt.Errorf("failed to encode detections: %w", err)
	}
	types := rec.DefectTypes
	if types == nil {
		types = []string{}
	}
	typesJSON, err := json.Marshal(types)
	if err != nil {
		return fmt.Errorf("failed to encode defect types: %w", err)
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	rec.CreatedAt = rec.CreatedAt.UTC()

	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	res, err := r.db.conn.ExecContext(ctx, `
		INSERT INTO detection_records
			(user_id, original_image_url, detected_image_url, detection_data,
			 total_defects, defect_types, model_version, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.UserID, rec.OriginalImageURL, rec.DetectedImageURL, string(detJSON),
		rec.TotalDefects, string(typesJSON), rec.ModelVersion, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert record: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	rec.ID = id
	return nil
}

// ListByUser returns one page of the user's records, newest first, and the
// user's total record count.
func (r *RecordRepository) ListByUser(ctx context.Context, userID int64, page, perPage int) ([]Record, int, error) {
	page, perPage = NormalizePage(page, perPage)

	r.db.mu.RLock()
	defer r.db.mu.RUnlock()

	var total int
	if err := r.db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM detection_records WHERE user_id = ?`, userID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count records: %w", err)
	}

	rows, err := r.db.conn.QueryContext(ctx, `
		SELECT id, user_id, original_image_url, detected_image_url, detection_data,
		       total_defects, defect_types, model_version, created_at
		FROM detection_records
		WHERE user_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?
	`, userID, perPage, (page-1)*perPage)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	records := make([]Record, 0, perPage)
	for rows.Next() {
		var (
			rec       Record
			detJSON   string
			typesJSON string
		)
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.OriginalImageURL, &rec.DetectedImageURL, &detJSON,
			&rec.TotalDefects, &typesJSON, &rec.ModelVersion, &rec.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("failed to scan record: %w", err)
		}
		if err := json.Unmarshal([]byte(detJSON), &rec.Detections); err != nil {
			return nil, 0, fmt.Errorf("record %d: invalid detection data: %w", rec.ID, err)
		}
		if err := json.Unmarshal([]byte(typesJSON), &rec.DefectTypes); err != nil {
			return nil, 0, fmt.Errorf("record %d: invalid defect types: %w", rec.ID, err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate records: %w", err)
	}
	return records, total, nil
}

// Delete removes the record if it belongs to userID and reports whether a
// row was removed.
func (r *RecordRepository) Delete(ctx context.Context, id, userID int64) (bool, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	res, err := r.db.conn.ExecContext(ctx,
		`DELETE FROM detection_records WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return false, fmt.Errorf("failed to delete record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return n > 0, nil
}
