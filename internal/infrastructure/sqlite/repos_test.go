package sqlite_test

import (
	"testing"

	"github.com/polyhost/polyhost-server/internal/domain"
	"github.com/polyhost/polyhost-server/internal/domain/instancerepotest"
	"github.com/polyhost/polyhost-server/internal/infrastructure/sqlite"
)

func TestInstanceRepo(t *testing.T) {
	instancerepotest.Run(t, func(t *testing.T) domain.InstanceRepository {
		db := sqlite.OpenTestDB(t)
		return &sqlite.InstanceRepo{DB: db}
	})
}
