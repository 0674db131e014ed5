// Package container reads and writes the measurement interchange file.
//
// A container is a single SQLite database holding two named arrays: Images,
// a stack of float64 intensity planes in which every consecutive block of five
// forms one acquisition set, and Masks, a stack of boolean planes. All planes
// in a container share one shape.
package container

import (
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"net/url"
	"path/filepath"
	"strings"

	pkgerrors "github.com/pkg/errors"
	_ "modernc.org/sqlite"

	"wavefront/internal/models"
)

var (
	// ErrBadDepth is returned when the Images stack is not a whole number of sets.
	ErrBadDepth = errors.New("container: images depth is not a multiple of 5")

	// ErrNoMask is returned when a requested mask plane does not exist.
	ErrNoMask = errors.New("container: mask not found")

	// ErrCorruptPlane is returned when a stored plane does not match its shape.
	ErrCorruptPlane = errors.New("container: corrupt plane")
)

const (
	imagesTable = "images"
	masksTable  = "masks"
)

// Container is an open interchange file.
type Container struct {
	db   *sql.DB
	path string
}

// Info summarises the contents of a container.
type Info struct {
	Path   string `yaml:"path"`
	Depth  int    `yaml:"depth"`
	Sets   int    `yaml:"sets"`
	Masks  int    `yaml:"masks"`
	Width  int    `yaml:"width"`
	Height int    `yaml:"height"`
}

// Create opens path for writing, creating it if needed, and ensures the schema.
func Create(path string) (*Container, error) {
	dsn, err := fileURI(path, nil)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to open container %s", path)
	}
	c := &Container{db: db, path: path}
	if err := c.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return c, nil
}

// Open opens an existing container.
func Open(path string) (*Container, error) {
	dsn, err := fileURI(path, url.Values{"mode": {"ro"}})
	if err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to open container %s", path)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, pkgerrors.Wrapf(err, "failed to open container %s", path)
	}
	return &Container{db: db, path: path}, nil
}

// fileURI builds an SQLite file: URI for path. The path is percent-escaped so
// that '?', '#' and '%' in a file name are not read as URI syntax.
func fileURI(path string, query url.Values) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", pkgerrors.Wrapf(err, "failed to resolve container path %s", path)
	}
	abs = filepath.ToSlash(abs)
	if !strings.HasPrefix(abs, "/") {
		abs = "/" + abs
	}
	u := url.URL{Scheme: "file", Path: abs, RawQuery: query.Encode()}
	return u.String(), nil
}

// Close closes the underlying database.
func (c *Container) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}

func (c *Container) ensureSchema() error {
	for _, table := range []string{imagesTable, masksTable} {
		stmt := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
            plane INTEGER PRIMARY KEY,
            width INTEGER NOT NULL,
            height INTEGER NOT NULL,
            data BLOB NOT NULL
        );`, table)
		if _, err := c.db.Exec(stmt); err != nil {
			return pkgerrors.Wrapf(err, "failed to create table %s", table)
		}
	}
	return nil
}

// WriteImages replaces the Images stack. len(planes) must be a multiple of 5.
func (c *Container) WriteImages(planes []*models.Grid) error {
	if len(planes)%models.FramesPerSet != 0 {
		return fmt.Errorf("%w: got %d planes", ErrBadDepth, len(planes))
	}
	if err := checkPlaneShapes(planes); err != nil {
		return err
	}
	if len(planes) > 0 {
		if err := c.checkTableShape(masksTable, planes[0].Width, planes[0].Height); err != nil {
			return err
		}
	}

	blobs := make([][]byte, len(planes))
	for i, p := range planes {
		blobs[i] = encodeFloats(p.Data)
	}
	return c.replace(imagesTable, planes, blobs)
}

// AppendSet adds one acquisition set at the end of the Images stack.
func (c *Container) AppendSet(set models.AcquisitionSet) error {
	w, h, err := set.Shape()
	if err != nil {
		return err
	}
	if err := c.checkShape(w, h); err != nil {
		return err
	}

	var depth int
	if err := c.db.QueryRow(`SELECT COUNT(*) FROM ` + imagesTable).Scan(&depth); err != nil {
		return pkgerrors.Wrap(err, "failed to count images")
	}

	tx, err := c.db.Begin()
	if err != nil {
		return pkgerrors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	for k, f := range set.Frames {
		if _, err := tx.Exec(`INSERT INTO `+imagesTable+` (plane, width, height, data) VALUES (?, ?, ?, ?)`,
			depth+k, f.Width, f.Height, encodeFloats(f.Data)); err != nil {
			return pkgerrors.Wrapf(err, "failed to insert plane %d", depth+k)
		}
	}
	return pkgerrors.Wrap(tx.Commit(), "failed to commit set")
}

// ReadImages returns the whole Images stack in plane order.
func (c *Container) ReadImages() ([]*models.Grid, error) {
	if err := c.checkFootprint(); err != nil {
		return nil, err
	}
	rows, err := c.db.Query(`SELECT plane, width, height, data FROM ` + imagesTable + ` ORDER BY plane`)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "failed to query images")
	}
	defer rows.Close()

	var planes []*models.Grid
	for rows.Next() {
		var plane, w, h int
		var data []byte
		if err := rows.Scan(&plane, &w, &h, &data); err != nil {
			return nil, pkgerrors.Wrap(err, "failed to scan image plane")
		}
		values, err := decodeFloats(data, w*h)
		if err != nil {
			return nil, fmt.Errorf("image plane %d: %w", plane, err)
		}
		planes = append(planes, &models.Grid{Data: values, Width: w, Height: h})
	}
	if err := rows.Err(); err != nil {
		return nil, pkgerrors.Wrap(err, "failed to read images")
	}
	return planes, nil
}

// AcquisitionSets validates that the Images depth is a multiple of 5 and splits
// the stack into sets of five frames.
func (c *Container) AcquisitionSets() ([]models.AcquisitionSet, error) {
	planes, err := c.ReadImages()
	if err != nil {
		return nil, err
	}
	return SplitSets(planes)
}

// SplitSets groups planes into consecutive blocks of five.
func SplitSets(planes []*models.Grid) ([]models.AcquisitionSet, error) {
	if len(planes)%models.FramesPerSet != 0 {
		return nil, fmt.Errorf("%w: got %d planes", ErrBadDepth, len(planes))
	}
	sets := make([]models.AcquisitionSet, len(planes)/models.FramesPerSet)
	for i := range sets {
		sets[i].Index = i
		copy(sets[i].Frames[:], planes[i*models.FramesPerSet:(i+1)*models.FramesPerSet])
	}
	return sets, nil
}

// WriteMasks replaces the Masks stack.
func (c *Container) WriteMasks(masks []*models.Mask) error {
	grids := make([]*models.Grid, len(masks))
	blobs := make([][]byte, len(masks))
	for i, m := range masks {
		if len(m.Data) != m.Width*m.Height {
			return fmt.Errorf("%w: mask %d", models.ErrShapeMismatch, i)
		}
		grids[i] = &models.Grid{Width: m.Width, Height: m.Height}
		blobs[i] = encodeBools(m.Data)
	}
	if err := checkPlaneShapes(grids); err != nil {
		return err
	}
	if len(grids) > 0 {
		if err := c.checkTableShape(imagesTable, grids[0].Width, grids[0].Height); err != nil {
			return err
		}
	}
	return c.replace(masksTable, grids, blobs)
}

// ReadMasks returns every mask plane.
func (c *Container) ReadMasks() ([]*models.Mask, error) {
	if err := c.checkFootprint(); err != nil {
		return nil, err
	}
	rows, err := c.db.Query(`SELECT plane, width, height, data FROM ` + masksTable + ` ORDER BY plane`)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "failed to query masks")
	}
	defer rows.Close()

	var masks []*models.Mask
	for rows.Next() {
		var plane, w, h int
		var data []byte
		if err := rows.Scan(&plane, &w, &h, &data); err != nil {
			return nil, pkgerrors.Wrap(err, "failed to scan mask plane")
		}
		if len(data) != w*h {
			return nil, fmt.Errorf("%w: mask plane %d holds %d bytes for %dx%d", ErrCorruptPlane, plane, len(data), w, h)
		}
		masks = append(masks, &models.Mask{Data: decodeBools(data), Width: w, Height: h})
	}
	if err := rows.Err(); err != nil {
		return nil, pkgerrors.Wrap(err, "failed to read masks")
	}
	return masks, nil
}

// Mask returns mask plane index.
func (c *Container) Mask(index int) (*models.Mask, error) {
	masks, err := c.ReadMasks()
	if err != nil {
		return nil, err
	}
	if index < 0 || index >= len(masks) {
		return nil, fmt.Errorf("%w: index %d of %d", ErrNoMask, index, len(masks))
	}
	return masks[index], nil
}

// Describe reports the stack depths and the plane shape.
func (c *Container) Describe() (Info, error) {
	info := Info{Path: c.path}
	if err := c.db.QueryRow(`SELECT COUNT(*) FROM ` + imagesTable).Scan(&info.Depth); err != nil {
		return info, pkgerrors.Wrap(err, "failed to count images")
	}
	if err := c.db.QueryRow(`SELECT COUNT(*) FROM ` + masksTable).Scan(&info.Masks); err != nil {
		return info, pkgerrors.Wrap(err, "failed to count masks")
	}
	info.Sets = info.Depth / models.FramesPerSet

	w, h, ok, err := c.firstShape()
	if err != nil {
		return info, err
	}
	if ok {
		info.Width, info.Height = w, h
	}
	return info, nil
}

// replace swaps the contents of table for the given planes in one transaction.
func (c *Container) replace(table string, planes []*models.Grid, blobs [][]byte) error {
	tx, err := c.db.Begin()
	if err != nil {
		return pkgerrors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM ` + table); err != nil {
		return pkgerrors.Wrapf(err, "failed to clear %s", table)
	}
	for i, p := range planes {
		if _, err := tx.Exec(`INSERT INTO `+table+` (plane, width, height, data) VALUES (?, ?, ?, ?)`,
			i, p.Width, p.Height, blobs[i]); err != nil {
			return pkgerrors.Wrapf(err, "failed to insert %s plane %d", table, i)
		}
	}
	return pkgerrors.Wrapf(tx.Commit(), "failed to commit %s", table)
}

// checkShape verifies width x height against planes already stored.
func (c *Container) checkShape(width, height int) error {
	w, h, ok, err := c.firstShape()
	if err != nil {
		return err
	}
	if ok && (w != width || h != height) {
		return fmt.Errorf("%w: container planes are %dx%d, got %dx%d", models.ErrShapeMismatch, w, h, width, height)
	}
	return nil
}

// checkTableShape verifies width x height against the planes stored in table.
func (c *Container) checkTableShape(table string, width, height int) error {
	w, h, ok, err := c.tableShape(table)
	if err != nil {
		return err
	}
	if ok && (w != width || h != height) {
		return fmt.Errorf("%w: %s planes are %dx%d, got %dx%d", models.ErrShapeMismatch, table, w, h, width, height)
	}
	return nil
}

// checkFootprint fails when the stored planes of both stacks do not all share
// one shape, as happens with files written by other tools.
func (c *Container) checkFootprint() error {
	rows, err := c.db.Query(`SELECT width, height FROM ` + imagesTable +
		` UNION SELECT width, height FROM ` + masksTable)
	if err != nil {
		return pkgerrors.Wrap(err, "failed to query plane shapes")
	}
	defer rows.Close()

	var shapes []string
	for rows.Next() {
		var w, h int
		if err := rows.Scan(&w, &h); err != nil {
			return pkgerrors.Wrap(err, "failed to scan plane shape")
		}
		shapes = append(shapes, fmt.Sprintf("%dx%d", w, h))
	}
	if err := rows.Err(); err != nil {
		return pkgerrors.Wrap(err, "failed to read plane shapes")
	}
	if len(shapes) > 1 {
		return fmt.Errorf("%w: stored planes have shapes %s", models.ErrShapeMismatch, strings.Join(shapes, ", "))
	}
	return nil
}

func (c *Container) firstShape() (width, height int, ok bool, err error) {
	for _, table := range []string{imagesTable, masksTable} {
		width, height, ok, err = c.tableShape(table)
		if err != nil || ok {
			return width, height, ok, err
		}
	}
	return 0, 0, false, nil
}

func (c *Container) tableShape(table string) (width, height int, ok bool, err error) {
	err = c.db.QueryRow(`SELECT width, height FROM ` + table + ` ORDER BY plane LIMIT 1`).Scan(&width, &height)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, 0, false, nil
	}
	if err != nil {
		return 0, 0, false, pkgerrors.Wrapf(err, "failed to read %s shape", table)
	}
	return width, height, true, nil
}

func checkPlaneShapes(planes []*models.Grid) error {
	for i, p := range planes {
		if p == nil {
			return fmt.Errorf("%w: plane %d is nil", models.ErrShapeMismatch, i)
		}
		if p.Width != planes[0].Width || p.Height != planes[0].Height {
			return fmt.Errorf("%w: plane %d is %dx%d, plane 0 is %dx%d",
				models.ErrShapeMismatch, i, p.Width, p.Height, planes[0].Width, planes[0].Height)
		}
	}
	return nil
}

func encodeFloats(values []float64) []byte {
	buf := make([]byte, 8*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint64(buf[8*i:], math.Float64bits(v))
	}
	return buf
}

func decodeFloats(buf []byte, n int) ([]float64, error) {
	if len(buf) != 8*n {
		return nil, fmt.Errorf("%w: %d bytes for %d samples", ErrCorruptPlane, len(buf), n)
	}
	values := make([]float64, n)
	for i := range values {
		values[i] = math.Float64frombits(binary.LittleEndian.Uint64(buf[8*i:]))
	}
	return values, nil
}

func encodeBools(values []bool) []byte {
	buf := make([]byte, len(values))
	for i, v := range values {
		if v {
			buf[i] = 1
		}
	}
	return buf
}

func decodeBools(buf []byte) []bool {
	values := make([]bool, len(buf))
	for i, b := range buf {
		values[i] = b != 0
	}
	return values
}
