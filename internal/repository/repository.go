package repository

import (
	"context"
	"time"

	"gorm.io/gorm"
)

// compareAndSet moves the row identified by keyCol=key from any of the from
// states to `to`, writing extra fields in the same statement. It reports
// false when the row was not in one of the from states.
func compareAndSet[S ~string](
	ctx context.Context,
	tx *gorm.DB,
	row interface{},
	keyCol, key, stateCol string,
	from []S,
	to S,
	fields map[string]interface{},
) (bool, error) {
	updates := map[string]interface{}{
		stateCol:     to,
		"updated_at": time.Now().UTC(),
	}
	for k, v := range fields {
		updates[k] = v
	}

	result := tx.WithContext(ctx).Model(row).
		Where(keyCol+" = ?", key).
		Where(stateCol+" IN ?", from).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// page applies limit/offset when set.
func page(q *gorm.DB, limit, offset int) *gorm.DB {
	if limit > 0 {
		q = q.Limit(limit)
	}
	if offset > 0 {
		q = q.Offset(offset)
	}
	return q
}
