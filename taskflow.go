package taskflow

import (
	"github.com/juju/errors"

	"github.com/oabdelmaksoud/taskflow/runtime"
	"github.com/oabdelmaksoud/taskflow/store"
	"github.com/oabdelmaksoud/taskflow/store/mem"
	"github.com/oabdelmaksoud/taskflow/store/postgres"
	"github.com/oabdelmaksoud/taskflow/types"
)

// NewEngine creates a task sequence execution engine with the given
// collaborators and options. taskRunner executes TASK nodes, publisher
// receives SIGNAL emissions and terminal events; either may be nil.
func NewEngine(taskRunner types.TaskRunner, publisher types.Publisher, opts ...types.EngineOption) (types.Engine, error) {
	options := types.NewEngineOptions()
	for _, opt := range opts {
		opt(options)
	}

	var s store.Store
	var err error

	// PostgresConfig takes precedence over MemStore
	if options.PostgresConfig != nil {
		pgConfig := &postgres.Config{
			Host:     options.PostgresConfig.Host,
			Port:     options.PostgresConfig.Port,
			User:     options.PostgresConfig.User,
			Password: options.PostgresConfig.Password,
			Database: options.PostgresConfig.Database,
			SSLMode:  options.PostgresConfig.SSLMode,
		}

		s, err = postgres.NewPostgresStore(pgConfig)
		if err != nil {
			return nil, errors.Annotatef(err, "failed to create PostgreSQL store")
		}
	} else {
		// default to the in-memory store when nothing is configured
		s = mem.NewMemStore()
	}

	return runtime.NewEngine(s, taskRunner, publisher, options), nil
}
