package sqlite

import "database/sql"

// RecoveryRepository implements storage.RecoveryRepository.
type RecoveryRepository struct {
	*RecoveryReadRepository
	*RecoveryWriteRepository
}

func NewRecoveryRepository(dbConn *sql.DB) *RecoveryRepository {
	return &RecoveryRepository{
		RecoveryReadRepository:  NewRecoveryReadRepository(dbConn),
		RecoveryWriteRepository: NewRecoveryWriteRepository(dbConn),
	}
}
