package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
)

var ErrPengadaanNotFound = errors.New("pengadaan not found")

// PengadaanRepository reads ownership from the procurement table. The table
// belongs to the procurement CRUD service; only created_by is consumed here.
type PengadaanRepository struct {
	pool Querier
}

func NewPengadaanRepository(pool Querier) *PengadaanRepository {
	return &PengadaanRepository{pool: pool}
}

func (r *PengadaanRepository) GetOwner(ctx context.Context, pengadaanID string) (string, error) {
	const query = `SELECT created_by FROM pengadaan WHERE id = $1`

	var owner string
	if err := r.pool.QueryRow(ctx, query, pengadaanID).Scan(&owner); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrPengadaanNotFound
		}
		return "", err
	}
	return owner, nil
}
