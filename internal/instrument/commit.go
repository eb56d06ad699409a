package instrument

import (
	"database/sql"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/goatkit/tickettransfer/internal/logger"
)

// SafeCommit commits tx. On failure it attempts a rollback, logs both and
// returns the commit error.
func SafeCommit(tx *sql.Tx, name string, log logrus.FieldLogger) error {
	err := tx.Commit()
	if err == nil {
		return nil
	}
	entry := logger.Component(log, "commit").WithField("operation", name)
	entry.WithError(err).Error("commit failed")
	if rbErr := tx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
		entry.WithError(rbErr).Error("rollback after failed commit also failed")
	}
	return fmt.Errorf("commit %s: %w", name, err)
}
