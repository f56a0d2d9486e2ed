package main

import (
	"path/filepath"
	"strings"
	"testing"

	"devtool-desktop/internal/config"
	"devtool-desktop/internal/database"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenStorage(t *testing.T) {
	t.Run("Should keep running without a database", func(t *testing.T) {
		log, hook := test.NewNullLogger()

		db, jobLog := openStorage(config.DatabaseConfig{URL: "mysql://localhost/devtool", MaxOpenConns: 1}, log)

		assert.Nil(t, db)
		assert.Nil(t, jobLog)
		require.NotNil(t, hook.LastEntry())
		assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
		assert.True(t, strings.HasPrefix(hook.LastEntry().Message, "WARNING: "))
	})

	t.Run("Should open the job log on a working database", func(t *testing.T) {
		log, _ := test.NewNullLogger()

		db, jobLog := openStorage(config.DatabaseConfig{
			URL:          "sqlite://" + filepath.Join(t.TempDir(), "devtool.db"),
			MaxOpenConns: 1,
		}, log)
		require.NotNil(t, db)
		defer database.Close(db)

		assert.NotNil(t, jobLog)
	})
}

func TestListJobsWithoutDatabase(t *testing.T) {
	log, _ := test.NewNullLogger()
	app := NewApp(&config.Config{}, log, nil)

	jobs, err := app.ListJobs(10)

	assert.ErrorIs(t, err, errJobLogUnavailable)
	assert.Nil(t, jobs)
}
