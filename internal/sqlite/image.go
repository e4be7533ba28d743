package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/afero"

	"github.com/mesh-intelligence/ledgerkeep/pkg/types"
)

// restoreSchema is the alias under which a backup image is attached while
// it is copied into the live store.
const restoreSchema = "restore_src"

// osFs backs the temporary image files. The engine needs real paths for
// ATTACH and open, so this is always the OS filesystem.
var osFs = afero.NewOsFs()

type serializer interface {
	Serialize() ([]byte, error)
}

// Export serializes the entire main database into a byte image. Drivers
// without a serialize hook fall back to VACUUM INTO a temporary file.
func (e *Engine) Export(ctx context.Context) ([]byte, error) {
	conn, err := e.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquiring connection: %w", err)
	}

	var image []byte
	e.trace("SERIALIZE main")
	err = conn.Raw(func(dc any) error {
		s, ok := dc.(serializer)
		if !ok {
			return types.ErrSerializeUnsupported
		}
		var serr error
		image, serr = s.Serialize()
		return serr
	})
	conn.Close()

	if errors.Is(err, types.ErrSerializeUnsupported) {
		return e.exportViaVacuum(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("serializing database: %w", err)
	}
	return image, nil
}

func (e *Engine) exportViaVacuum(ctx context.Context) ([]byte, error) {
	dir, err := afero.TempDir(osFs, "", "ledgerkeep-export-")
	if err != nil {
		return nil, fmt.Errorf("creating export dir: %w", err)
	}
	defer osFs.RemoveAll(dir)

	path := dir + "/image.db"
	if _, err := e.Exec(ctx, "VACUUM INTO ?", path); err != nil {
		return nil, fmt.Errorf("vacuum into: %w", err)
	}
	image, err := afero.ReadFile(osFs, path)
	if err != nil {
		return nil, fmt.Errorf("reading exported image: %w", err)
	}
	return image, nil
}

// writeTempImage writes image to a temporary file and returns its path and
// a cleanup func removing the file and its journal side files.
func writeTempImage(image []byte) (string, func(), error) {
	f, err := afero.TempFile(osFs, "", "ledgerkeep-image-*.db")
	if err != nil {
		return "", nil, fmt.Errorf("creating image file: %w", err)
	}
	path := f.Name()
	cleanup := func() {
		for _, suffix := range []string{"", "-wal", "-shm", "-journal"} {
			_ = osFs.Remove(path + suffix)
		}
	}
	if _, err := f.Write(image); err != nil {
		f.Close()
		cleanup()
		return "", nil, fmt.Errorf("writing image file: %w", err)
	}
	if err := f.Close(); err != nil {
		cleanup()
		return "", nil, fmt.Errorf("closing image file: %w", err)
	}
	return path, cleanup, nil
}

// OpenImage opens a throwaway engine over a copy of image. Closing the
// engine removes the copy.
func OpenImage(ctx context.Context, image []byte) (*Engine, error) {
	path, cleanup, err := writeTempImage(image)
	if err != nil {
		return nil, err
	}
	e, err := open(ctx, path, path)
	if err != nil {
		cleanup()
		return nil, err
	}
	e.cleanup = cleanup

	// A non-database image fails on first read, not on open.
	if _, err := e.CountTables(ctx); err != nil {
		e.Close()
		return nil, fmt.Errorf("%w: %v", types.ErrBackupInvalid, err)
	}
	return e, nil
}

// RestoreImage replaces the main schema's objects and rows with those of
// image inside a single transaction. verify runs inside that transaction
// after the copy; if it returns an error the transaction rolls back and the
// store keeps its previous contents. Enforcement is disabled for the copy
// and restored afterwards.
func (e *Engine) RestoreImage(ctx context.Context, image []byte, verify func(ctx context.Context, tx *Tx) error) error {
	path, cleanup, err := writeTempImage(image)
	if err != nil {
		return err
	}
	defer cleanup()

	fkOn, err := e.ForeignKeys(ctx)
	if err != nil {
		return err
	}
	if err := e.SetForeignKeys(ctx, false); err != nil {
		return err
	}
	defer e.SetForeignKeys(context.WithoutCancel(ctx), fkOn)

	if _, err := e.Exec(ctx, "ATTACH DATABASE ? AS "+restoreSchema, path); err != nil {
		return fmt.Errorf("attaching image: %w", err)
	}
	defer e.Exec(context.WithoutCancel(ctx), "DETACH DATABASE "+restoreSchema)

	src, err := listObjects(ctx, e, restoreSchema)
	if err != nil {
		return err
	}
	hasSequence, err := e.hasSequence(ctx, restoreSchema)
	if err != nil {
		return err
	}

	return e.InTx(ctx, func(tx *Tx) error {
		if _, err := tx.DropUserObjects(ctx); err != nil {
			return err
		}
		if err := copyObjects(ctx, tx, src); err != nil {
			return err
		}
		if hasSequence {
			if err := copySequence(ctx, tx); err != nil {
				return err
			}
		}
		if verify != nil {
			return verify(ctx, tx)
		}
		return nil
	})
}

// copyObjects recreates tables, copies their rows, then recreates the
// remaining objects (indexes, views, triggers) so they see populated tables.
func copyObjects(ctx context.Context, tx *Tx, src []types.SchemaObject) error {
	for _, o := range src {
		if o.Type != types.ObjectTable || o.SQL == "" {
			continue
		}
		if _, err := tx.Exec(ctx, o.SQL); err != nil {
			return fmt.Errorf("creating table %s: %w", o.Name, err)
		}
		copyRows := fmt.Sprintf("INSERT INTO main.%s SELECT * FROM %s.%s",
			quoteIdent(o.Name), restoreSchema, quoteIdent(o.Name))
		if _, err := tx.Exec(ctx, copyRows); err != nil {
			return fmt.Errorf("copying rows of %s: %w", o.Name, err)
		}
	}
	for _, o := range src {
		if o.Type == types.ObjectTable || o.SQL == "" {
			continue
		}
		if _, err := tx.Exec(ctx, o.SQL); err != nil {
			return fmt.Errorf("creating %s %s: %w", o.Type, o.Name, err)
		}
	}
	return nil
}

func copySequence(ctx context.Context, tx *Tx) error {
	// main.sqlite_sequence exists only once an AUTOINCREMENT table was created.
	var n int
	err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM main.sqlite_master WHERE name = 'sqlite_sequence'`).Scan(&n)
	if err != nil {
		return fmt.Errorf("probing sqlite_sequence: %w", err)
	}
	if n == 0 {
		return nil
	}
	if _, err := tx.Exec(ctx, "DELETE FROM main.sqlite_sequence"); err != nil {
		return fmt.Errorf("clearing sqlite_sequence: %w", err)
	}
	if _, err := tx.Exec(ctx, "INSERT INTO main.sqlite_sequence SELECT * FROM "+restoreSchema+".sqlite_sequence"); err != nil {
		return fmt.Errorf("copying sqlite_sequence: %w", err)
	}
	return nil
}

func (e *Engine) hasSequence(ctx context.Context, schema string) (bool, error) {
	var name string
	err := e.QueryRow(ctx,
		fmt.Sprintf(`SELECT name FROM %s.sqlite_master WHERE name = 'sqlite_sequence'`, quoteIdent(schema)),
	).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("probing %s.sqlite_sequence: %w", schema, err)
	}
	return strings.EqualFold(name, "sqlite_sequence"), nil
}
