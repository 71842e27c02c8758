// Package quota implements the dual (private/public) storage accounting
// engine: pre-check admission control and additive-only counter updates,
// using a raw-SQL `UPDATE ... SET used = used + ?` idiom specifically to
// avoid the read-modify-write that GORM's change-tracking would otherwise
// tempt.
package quota

import (
	"context"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/jackc/pgx/v5"
	"gorm.io/gorm"

	"github.com/kohakuhub/kohakuhub/internal/huberr"
	"github.com/kohakuhub/kohakuhub/internal/metadata"
)

// Bucket is a privacy-partitioned quota bucket.
type Bucket string

const (
	Private Bucket = "private"
	Public  Bucket = "public"
)

func (b Bucket) usedColumn() string  { return string(b) + "_used_bytes" }
func (b Bucket) quotaColumn() string { return string(b) + "_quota_bytes" }

// Owner identifies the namespace a quota check/update applies to.
type Owner struct {
	UserID         *uint64
	OrganizationID *uint64
}

func (o Owner) table() (string, uint64, error) {
	switch {
	case o.UserID != nil:
		return "users", *o.UserID, nil
	case o.OrganizationID != nil:
		return "organizations", *o.OrganizationID, nil
	default:
		return "", 0, fmt.Errorf("quota: owner has neither UserID nor OrganizationID set")
	}
}

// Check reports whether delta_bytes can be admitted into the owner's bucket
// without exceeding its quota; NULL quota means unlimited. It is a
// non-reserving, point-in-time check: the actual delta is applied later,
// inside the same transaction that writes the File/Commit rows.
func Check(ctx context.Context, db *gorm.DB, owner Owner, bucket Bucket, deltaBytes int64) error {
	table, id, err := owner.table()
	if err != nil {
		return err
	}
	var used int64
	var quotaPtr *int64
	row := db.WithContext(ctx).Table(table).
		Select(bucket.usedColumn()+", "+bucket.quotaColumn()).
		Where("id = ?", id).Row()
	if err := row.Scan(&used, &quotaPtr); err != nil {
		return fmt.Errorf("quota: loading counters: %w", err)
	}
	if quotaPtr == nil {
		return nil
	}
	if used+deltaBytes > *quotaPtr {
		return huberr.QuotaExceeded(fmt.Sprintf(
			"quota exceeded: %s bucket has %s used of %s quota, requested %s more",
			bucket, humanize.Bytes(uint64(used)), humanize.Bytes(uint64(*quotaPtr)), humanize.Bytes(uint64(deltaBytes)),
		))
	}
	return nil
}

// Update applies an atomic additive delta to the owner's bucket, inside tx.
// deltaBytes may be negative. This issues a raw
// `UPDATE ... SET used = used + $1` statement rather than a GORM
// load-mutate-save round trip, so concurrent writers never clobber
// each other's counter update.
func Update(ctx context.Context, tx *gorm.DB, owner Owner, bucket Bucket, deltaBytes int64) error {
	table, id, err := owner.table()
	if err != nil {
		return err
	}
	col := pgx.Identifier{bucket.usedColumn()}.Sanitize()
	sql := fmt.Sprintf("UPDATE %s SET %s = %s + ? WHERE id = ?", pgx.Identifier{table}.Sanitize(), col, col)
	return tx.WithContext(ctx).Exec(sql, deltaBytes, id).Error
}

// VisibilityChange moves a repository's accounted storage from one bucket
// to the other, pre-checking the destination quota first.
func VisibilityChange(ctx context.Context, db *gorm.DB, owner Owner, sizeBytes int64, newPrivate bool) error {
	from, to := Public, Private
	if !newPrivate {
		from, to = Private, Public
	}
	if err := Check(ctx, db, owner, to, sizeBytes); err != nil {
		return err
	}
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := Update(ctx, tx, owner, from, -sizeBytes); err != nil {
			return err
		}
		return Update(ctx, tx, owner, to, sizeBytes)
	})
}

// Recompute authoritatively recounts an owner's used-bytes in both buckets
// from the current File rows, and writes the result with a plain
// (non-additive) SET since this is the single writer establishing ground
// truth, not an incremental delta.
func Recompute(ctx context.Context, db *gorm.DB, store *metadata.Store, owner Owner) error {
	table, id, err := owner.table()
	if err != nil {
		return err
	}
	for _, bucket := range []Bucket{Private, Public} {
		ids, err := store.RepositoryIDsByOwner(ctx, owner.UserID, owner.OrganizationID, bucket == Private)
		if err != nil {
			return err
		}
		total, err := store.SumFileSizes(ctx, ids)
		if err != nil {
			return err
		}
		sql := fmt.Sprintf("UPDATE %s SET %s = ? WHERE id = ?", pgx.Identifier{table}.Sanitize(), pgx.Identifier{bucket.usedColumn()}.Sanitize())
		if err := db.WithContext(ctx).Exec(sql, total, id).Error; err != nil {
			return err
		}
	}
	return nil
}
