package test

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/ory/dockertest/v3"
	"github.com/ory/dockertest/v3/docker"
	"github.com/pkg/errors"

	"github.com/code-payments/code-server/pkg/retry"
	"github.com/code-payments/code-server/pkg/retry/backoff"

	_ "github.com/jackc/pgx/v4/stdlib"
)

const (
	containerName     = "postgres"
	containerVersion  = "16-alpine"
	containerAutoKill = 120 // seconds

	port     = 5432
	user     = "billing"
	password = "billing"
	database = "billing"
)

// StartPostgresDB starts a throwaway postgres container. It returns the
// connection URL and a cleanup function.
func StartPostgresDB(pool *dockertest.Pool) (databaseUrl string, cleanup func(), err error) {
	resource, err := pool.RunWithOptions(&dockertest.RunOptions{
		Repository: containerName,
		Tag:        containerVersion,
		Env: []string{
			"POSTGRES_USER=" + user,
			"POSTGRES_PASSWORD=" + password,
			"POSTGRES_DB=" + database,
		},
		ExposedPorts: []string{fmt.Sprintf("%d/tcp", port)},
	}, func(config *docker.HostConfig) {
		// Enable AutoRemove and disable Restart
		config.AutoRemove = true
		config.RestartPolicy = docker.RestartPolicy{Name: "no"}
	})
	if err != nil {
		return "", nil, errors.Wrap(err, "could not start postgres container")
	}

	// Set a timeout to automatically kill the container
	if err := resource.Expire(containerAutoKill); err != nil {
		return "", nil, errors.Wrap(err, "could not set container expiry")
	}

	hostAndPort := resource.GetHostPort(fmt.Sprintf("%d/tcp", port))
	databaseUrl = fmt.Sprintf("postgres://%s:%s@%s/%s?sslmode=disable", user, password, hostAndPort, database)

	cleanup = func() {
		if err := pool.Purge(resource); err != nil {
			fmt.Printf("Could not purge resource: %s\n", err)
		}
	}

	return databaseUrl, cleanup, nil
}

// WaitForConnection waits until the database accepts connections and returns
// an open handle along with a function closing it.
func WaitForConnection(databaseUrl string, verbose bool) (*sql.DB, func(), error) {
	var db *sql.DB

	_, err := retry.Retry(
		func() error {
			var err error
			db, err = sql.Open("pgx", databaseUrl)
			if err != nil {
				return err
			}

			if err := db.Ping(); err != nil {
				if verbose {
					fmt.Printf("Database not ready yet: %v\n", err)
				}
				_ = db.Close()
				return err
			}
			return nil
		},
		retry.Limit(50),
		retry.Backoff(backoff.Constant(500*time.Millisecond), 500*time.Second),
	)
	if err != nil {
		return nil, nil, errors.Wrap(err, "database never became ready")
	}

	disconnect := func() {
		_ = db.Close()
	}

	return db, disconnect, nil
}
