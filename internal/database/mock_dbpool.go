package database

import (
	"github.com/pashagolub/pgxmock/v4"
)

// MockDBPool runs the Postgres code paths of the bar store against pgxmock expectations.
type MockDBPool struct {
	pgxAdapter
	mock pgxmock.PgxPoolIface
}

var _ DBPool = (*MockDBPool)(nil)

// NewMockDBPoolFromNewPool returns the adapter together with the mock to program.
func NewMockDBPoolFromNewPool() (*MockDBPool, pgxmock.PgxPoolIface, error) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		return nil, nil, err
	}
	return &MockDBPool{pgxAdapter: pgxAdapter{q: mock}, mock: mock}, mock, nil
}

func (m *MockDBPool) Close() { m.mock.Close() }

func (m *MockDBPool) ExpectationsWereMet() error { return m.mock.ExpectationsWereMet() }
