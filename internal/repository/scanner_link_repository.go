package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/iliyamo/wallet-pass-engine/internal/model"
)

// ScannerLinkRepo resolves scanner credentials. Tokens are stored hashed.
type ScannerLinkRepo struct {
	db *sql.DB
}

// NewScannerLinkRepo returns a new ScannerLinkRepo bound to the given database.
func NewScannerLinkRepo(db *sql.DB) *ScannerLinkRepo { return &ScannerLinkRepo{db: db} }

// FindScannerLinkByTokenHash returns the active link with the given token
// hash or ErrNotFound.
func (r *ScannerLinkRepo) FindScannerLinkByTokenHash(ctx context.Context, tokenHash string) (*model.ScannerLink, error) {
	const q = `SELECT id, user_id, name, token_hash, is_active FROM scanner_links WHERE token_hash = ? AND is_active = TRUE`
	var l model.ScannerLink
	err := r.db.QueryRowContext(ctx, q, tokenHash).Scan(&l.ID, &l.UserID, &l.Name, &l.TokenHash, &l.IsActive)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &l, nil
}

// TemplateRepo answers ownership questions about pass templates.
type TemplateRepo struct {
	db *sql.DB
}

// NewTemplateRepo returns a new TemplateRepo bound to the given database.
func NewTemplateRepo(db *sql.DB) *TemplateRepo { return &TemplateRepo{db: db} }

// TemplateExists reports whether the template exists within scope.
func (r *TemplateRepo) TemplateExists(ctx context.Context, scope Scope, id uint64) (bool, error) {
	var one int
	err := r.db.QueryRowContext(ctx, `SELECT 1 FROM pass_templates WHERE id = ? AND user_id = ?`, id, scope.UserID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}
