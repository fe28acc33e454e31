package bigquery

import (
	"context"
	"crypto/sha256"
	"embed"
	"fmt"
	"io/fs"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/iterator"

	"github.com/dvloznov/sheet-ledger/internal/logger"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Migration is one numbered SQL file, 0001_name.sql.
type Migration struct {
	Version  int
	Name     string
	SQL      string
	Checksum string
}

// AppliedMigration is a row of <dataset>.schema_migrations.
type AppliedMigration struct {
	Version   int
	Name      string
	AppliedAt time.Time
	Checksum  string
	AppliedBy string
}

var migrationPattern = regexp.MustCompile(`^(\d{4})_(.+)\.sql$`)

// Migrations returns the bundled warehouse migrations with the project and
// dataset filled in, ordered by version.
func Migrations(projectID, dataset string) ([]Migration, error) {
	sub, err := fs.Sub(migrationFiles, "migrations")
	if err != nil {
		return nil, err
	}
	return ReadMigrations(sub, projectID, dataset)
}

// ReadMigrations reads every 0001_name.sql file at the root of fsys. Files
// with other names are skipped. The checksum covers the file before the
// placeholders are replaced, so applying it to another dataset is not a
// change.
func ReadMigrations(fsys fs.FS, projectID, dataset string) ([]Migration, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("reading migrations: %w", err)
	}

	seen := make(map[int]string)
	var out []Migration
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		m := migrationPattern.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		version, _ := strconv.Atoi(m[1])
		if prev, dup := seen[version]; dup {
			return nil, fmt.Errorf("migration version %04d used by %s and %s", version, prev, e.Name())
		}
		seen[version] = e.Name()

		content, err := fs.ReadFile(fsys, e.Name())
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", e.Name(), err)
		}
		sql := strings.NewReplacer("{{PROJECT_ID}}", projectID, "{{DATASET_ID}}", dataset).Replace(string(content))
		out = append(out, Migration{
			Version:  version,
			Name:     m[2],
			SQL:      sql,
			Checksum: fmt.Sprintf("%x", sha256.Sum256(content)),
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

// Pending returns the migrations not yet applied. A migration whose file
// changed after it was applied is an error.
func Pending(all []Migration, applied []AppliedMigration) ([]Migration, error) {
	done := make(map[int]AppliedMigration, len(applied))
	for _, a := range applied {
		done[a.Version] = a
	}
	var pending []Migration
	for _, m := range all {
		a, ok := done[m.Version]
		if !ok {
			pending = append(pending, m)
			continue
		}
		if a.Checksum != "" && a.Checksum != m.Checksum {
			return nil, fmt.Errorf("migration %04d_%s changed after it was applied", m.Version, m.Name)
		}
	}
	return pending, nil
}

// Migrate applies the pending bundled migrations and records each one in
// schema_migrations. It returns the number applied.
func (r *BigQueryLedgerRepository) Migrate(ctx context.Context, projectID, appliedBy string) (int, error) {
	log := logger.FromContext(ctx)

	if err := r.run(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS `+"`%s.%s.schema_migrations`"+` (
			version    INT64 NOT NULL,
			name       STRING NOT NULL,
			applied_at TIMESTAMP NOT NULL,
			checksum   STRING,
			applied_by STRING
		)`, projectID, r.dataset), nil); err != nil {
		return 0, fmt.Errorf("Migrate: ensuring schema_migrations: %w", err)
	}

	all, err := Migrations(projectID, r.dataset)
	if err != nil {
		return 0, fmt.Errorf("Migrate: %w", err)
	}
	applied, err := r.appliedMigrations(ctx, projectID)
	if err != nil {
		return 0, fmt.Errorf("Migrate: %w", err)
	}
	pending, err := Pending(all, applied)
	if err != nil {
		return 0, fmt.Errorf("Migrate: %w", err)
	}

	for i, m := range pending {
		log.Info().Int("version", m.Version).Str("name", m.Name).Msg("applying migration")
		if err := r.run(ctx, m.SQL, nil); err != nil {
			return i, fmt.Errorf("Migrate: %04d_%s: %w", m.Version, m.Name, err)
		}
		err := r.run(ctx, fmt.Sprintf(`
			INSERT INTO `+"`%s.%s.schema_migrations`"+`
			(version, name, applied_at, checksum, applied_by)
			VALUES (@version, @name, CURRENT_TIMESTAMP(), @checksum, @applied_by)`, projectID, r.dataset),
			[]bigquery.QueryParameter{
				{Name: "version", Value: m.Version},
				{Name: "name", Value: m.Name},
				{Name: "checksum", Value: m.Checksum},
				{Name: "applied_by", Value: appliedBy},
			})
		if err != nil {
			return i, fmt.Errorf("Migrate: recording %04d_%s: %w", m.Version, m.Name, err)
		}
	}
	return len(pending), nil
}

func (r *BigQueryLedgerRepository) appliedMigrations(ctx context.Context, projectID string) ([]AppliedMigration, error) {
	q := r.client.Query(fmt.Sprintf(`
		SELECT version, name, applied_at, checksum, applied_by
		FROM `+"`%s.%s.schema_migrations`"+`
		ORDER BY version`, projectID, r.dataset))
	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading applied migrations: %w", err)
	}

	var applied []AppliedMigration
	for {
		var row struct {
			Version   int64
			Name      string
			AppliedAt time.Time
			Checksum  bigquery.NullString
			AppliedBy bigquery.NullString
		}
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("iterating applied migrations: %w", err)
		}
		applied = append(applied, AppliedMigration{
			Version:   int(row.Version),
			Name:      row.Name,
			AppliedAt: row.AppliedAt,
			Checksum:  row.Checksum.StringVal,
			AppliedBy: row.AppliedBy.StringVal,
		})
	}
	return applied, nil
}

func (r *BigQueryLedgerRepository) run(ctx context.Context, sql string, params []bigquery.QueryParameter) error {
	q := r.client.Query(sql)
	q.Parameters = params
	job, err := q.Run(ctx)
	if err != nil {
		return fmt.Errorf("running query: %w", err)
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return fmt.Errorf("waiting for job: %w", err)
	}
	return status.Err()
}
